package httpapi

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request bodies are validated against JSON Schemas compiled once at server
// construction, so malformed mutations fail with a 400 before any store
// logic runs.

const productCreateSchema = `{
	"type": "object",
	"required": ["name"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"category": {"type": "string"},
		"in_stock": {"type": "boolean"},
		"wishlist": {"type": "boolean"},
		"quantity": {"type": ["string", "null"]},
		"unit": {"type": ["string", "null"]}
	}
}`

const productPatchSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"category": {"type": "string"},
		"in_stock": {"type": "boolean"},
		"wishlist": {"type": "boolean"},
		"quantity": {"type": ["string", "null"]},
		"unit": {"type": ["string", "null"]}
	}
}`

const recipeCreateSchema = `{
	"type": "object",
	"required": ["name"],
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"product_ids": {"type": "array", "items": {"type": "string"}},
		"notes": {"type": ["string", "null"]}
	}
}`

const recipePatchSchema = `{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"product_ids": {"type": "array", "items": {"type": "string"}},
		"notes": {"type": ["string", "null"]}
	}
}`

const baseBasketPutSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["name"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"category": {"type": "string"},
			"in_stock": {"type": "boolean"}
		}
	}
}`

const priceSetSchema = `{
	"type": "object",
	"required": ["product_name", "price"],
	"additionalProperties": false,
	"properties": {
		"product_name": {"type": "string", "minLength": 1},
		"price": {"type": "number", "exclusiveMinimum": 0},
		"store_id": {"type": "string"}
	}
}`

type requestSchemas struct {
	productCreate *jsonschema.Schema
	productPatch  *jsonschema.Schema
	recipeCreate  *jsonschema.Schema
	recipePatch   *jsonschema.Schema
	baseBasketPut *jsonschema.Schema
	priceSet      *jsonschema.Schema
}

func compileRequestSchemas() (*requestSchemas, error) {
	compiler := jsonschema.NewCompiler()
	sources := map[string]string{
		"product_create.json":  productCreateSchema,
		"product_patch.json":   productPatchSchema,
		"recipe_create.json":   recipeCreateSchema,
		"recipe_patch.json":    recipePatchSchema,
		"base_basket_put.json": baseBasketPutSchema,
		"price_set.json":       priceSetSchema,
	}
	for name, source := range sources {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(source)))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		if err := compiler.AddResource(name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	rs := &requestSchemas{}
	targets := map[string]**jsonschema.Schema{
		"product_create.json":  &rs.productCreate,
		"product_patch.json":   &rs.productPatch,
		"recipe_create.json":   &rs.recipeCreate,
		"recipe_patch.json":    &rs.recipePatch,
		"base_basket_put.json": &rs.baseBasketPut,
		"price_set.json":       &rs.priceSet,
	}
	for name, target := range targets {
		sch, err := compiler.Compile(name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		*target = sch
	}
	return rs, nil
}

// validateBody checks raw JSON against a schema. The decoded instance is
// discarded: handlers re-decode into their own types afterwards.
func validateBody(sch *jsonschema.Schema, body []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json body")
	}
	if err := sch.Validate(instance); err != nil {
		return err
	}
	return nil
}

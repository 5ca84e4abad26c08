package pantry

import "strings"

// DefaultCategory is assigned when a product carries no category at all.
const DefaultCategory = "Other"

// categorySlugs maps the machine-readable category keys that older clients
// wrote to their canonical display labels. Input that is not a known slug is
// assumed to already be a display label and passes through unchanged.
var categorySlugs = map[string]string{
	"dairy":      "Dairy",
	"meat":       "Meat & Poultry",
	"fish":       "Fish & Seafood",
	"vegetables": "Vegetables",
	"fruits":     "Fruits",
	"bakery":     "Bakery",
	"grocery":    "Grocery",
	"frozen":     "Frozen",
	"drinks":     "Drinks",
	"snacks":     "Snacks",
	"spices":     "Spices & Sauces",
	"household":  "Household",
	"other":      DefaultCategory,
}

// categoryOrder fixes the enumeration order exposed by GET /categories.
var categoryOrder = []string{
	"dairy", "meat", "fish", "vegetables", "fruits", "bakery", "grocery",
	"frozen", "drinks", "snacks", "spices", "household", "other",
}

type Category struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// NormalizeCategory resolves a stored category value to its display label.
// Newly created products always round-trip through this unchanged.
func NormalizeCategory(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DefaultCategory
	}
	if label, ok := categorySlugs[strings.ToLower(trimmed)]; ok {
		return label
	}
	return trimmed
}

func Categories() []Category {
	out := make([]Category, 0, len(categoryOrder))
	for _, slug := range categoryOrder {
		out = append(out, Category{ID: slug, Label: categorySlugs[slug]})
	}
	return out
}

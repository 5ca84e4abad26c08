package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/pantrylab/pantryd/internal/pantry"
)

type ServerConfig struct {
	MaxBodyBytes int64
}

// Server routes the pantry HTTP API. Every mutating route runs the same
// pipeline: access gate, schema validation, store mutation (which persists
// and broadcasts), response.
type Server struct {
	store   *pantry.Store
	hub     *Hub
	cfg     ServerConfig
	schemas *requestSchemas
}

func NewServer(store *pantry.Store, hub *Hub) *Server {
	return NewServerWithConfig(store, hub, ServerConfig{})
}

func NewServerWithConfig(store *pantry.Store, hub *Hub, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if hub == nil {
		hub = NewHub()
	}
	schemas, err := compileRequestSchemas()
	if err != nil {
		// The schemas are compile-time constants; failing to compile them
		// is a programming error, not a runtime condition.
		panic(err)
	}
	store.SetEventSink(hub)
	return &Server{
		store:   store,
		hub:     hub,
		cfg:     cfg,
		schemas: schemas,
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/ws" && r.Method == http.MethodGet {
		s.handleWebsocket(w, r)
		return
	}
	if r.URL.Path == "/categories" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"categories": pantry.Categories()})
		return
	}
	if r.URL.Path == "/stores" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"stores": s.store.Registry().List()})
		return
	}
	if r.URL.Path == "/export/json" && r.Method == http.MethodGet {
		s.handleExport(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 3 && parts[0] == "workspace":
		s.routeWorkspace(w, r, parts[1], parts[2])
	case len(parts) >= 1 && parts[0] == "products":
		s.routeProducts(w, r, parts)
	case len(parts) >= 1 && parts[0] == "recipes":
		s.routeRecipes(w, r, parts)
	case len(parts) >= 1 && parts[0] == "prices":
		s.routePrices(w, r, parts)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) routeWorkspace(w http.ResponseWriter, r *http.Request, workspaceID, action string) {
	switch {
	case action == "join" && r.Method == http.MethodPost:
		s.handleJoin(w, workspaceID)
	case action == "state" && r.Method == http.MethodGet:
		s.handleState(w, r, workspaceID)
	case action == "base-basket" && r.Method == http.MethodGet:
		s.handleGetBaseBasket(w, r, workspaceID)
	case action == "base-basket" && r.Method == http.MethodPut:
		s.handlePutBaseBasket(w, r, workspaceID)
	case action == "init-basket" && r.Method == http.MethodPost:
		s.handleInitBasket(w, r, workspaceID)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleJoin(w http.ResponseWriter, workspaceID string) {
	resp, err := s.store.Join(workspaceID)
	if err != nil {
		if errors.Is(err, pantry.ErrWorkspaceFull) {
			writeJSON(w, http.StatusForbidden, map[string]any{
				"error":      "workspace is full",
				"can_access": false,
			})
			return
		}
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, workspaceID string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, workspaceID)
	if !ok {
		return
	}
	snapshot, err := s.store.State(workspaceID, clientToken)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetBaseBasket(w http.ResponseWriter, r *http.Request, workspaceID string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, workspaceID)
	if !ok {
		return
	}
	basket, err := s.store.BaseBasket(workspaceID, clientToken)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"base_basket": basket})
}

func (s *Server) handlePutBaseBasket(w http.ResponseWriter, r *http.Request, workspaceID string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, workspaceID)
	if !ok {
		return
	}
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}
	if err := validateBody(s.schemas.baseBasketPut, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var entries []pantry.BasketEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if entries == nil {
		entries = []pantry.BasketEntry{}
	}
	saved, err := s.store.SetBaseBasket(workspaceID, clientToken, entries)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"base_basket": saved})
}

func (s *Server) handleInitBasket(w http.ResponseWriter, r *http.Request, workspaceID string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, workspaceID)
	if !ok {
		return
	}
	added, err := s.store.InitBasket(workspaceID, clientToken)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"added": added})
}

func (s *Server) routeProducts(w http.ResponseWriter, r *http.Request, parts []string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, "")
	if !ok {
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		products, err := s.store.ListProducts(workspaceID, clientToken)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case len(parts) == 1 && r.Method == http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := validateBody(s.schemas.productCreate, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var input pantry.ProductInput
		if err := json.Unmarshal(body, &input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		product, err := s.store.CreateProduct(workspaceID, clientToken, input)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, product)
	case len(parts) == 2 && r.Method == http.MethodPatch:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := validateBody(s.schemas.productPatch, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		product, err := s.store.PatchProduct(workspaceID, clientToken, parts[1], patch)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, product)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.store.DeleteProduct(workspaceID, clientToken, parts[1]); err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": parts[1]})
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) routeRecipes(w http.ResponseWriter, r *http.Request, parts []string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, "")
	if !ok {
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		recipes, err := s.store.ListRecipes(workspaceID, clientToken)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipes": recipes})
	case len(parts) == 1 && r.Method == http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := validateBody(s.schemas.recipeCreate, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var input pantry.RecipeInput
		if err := json.Unmarshal(body, &input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		recipe, err := s.store.CreateRecipe(workspaceID, clientToken, input)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, recipe)
	case len(parts) == 2 && r.Method == http.MethodPatch:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := validateBody(s.schemas.recipePatch, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var patch map[string]any
		if err := json.Unmarshal(body, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		recipe, err := s.store.PatchRecipe(workspaceID, clientToken, parts[1], patch)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, recipe)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		if err := s.store.DeleteRecipe(workspaceID, clientToken, parts[1]); err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": parts[1]})
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) routePrices(w http.ResponseWriter, r *http.Request, parts []string) {
	workspaceID, clientToken, ok := s.authenticate(w, r, "")
	if !ok {
		return
	}
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		prices, err := s.store.Prices(workspaceID, clientToken, r.URL.Query().Get("q"))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
	case len(parts) == 1 && r.Method == http.MethodPost:
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := validateBody(s.schemas.priceSet, body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var input struct {
			ProductName string  `json:"product_name"`
			Price       float64 `json:"price"`
			StoreID     string  `json:"store_id"`
		}
		if err := json.Unmarshal(body, &input); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		update, err := s.store.SetPrice(workspaceID, clientToken, input.ProductName, input.Price, input.StoreID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, update)
	case len(parts) == 2 && r.Method == http.MethodGet:
		record, err := s.store.PriceFor(workspaceID, clientToken, parts[1])
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && r.Method == http.MethodDelete:
		deletion, err := s.store.DeletePrice(workspaceID, clientToken, parts[1], r.URL.Query().Get("store_id"))
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deletion)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	workspaceID, clientToken, ok := s.authenticate(w, r, "")
	if !ok {
		return
	}
	export, err := s.store.Export(workspaceID, clientToken)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, export)
}

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

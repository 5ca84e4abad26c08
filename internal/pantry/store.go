package pantry

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrAccessDenied      = errors.New("access denied")
	ErrWorkspaceFull     = errors.New("workspace is full")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnknownStore      = errors.New("unknown store")
)

const DefaultMaxClients = 10

type Product struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Category string  `json:"category"`
	InStock  bool    `json:"in_stock"`
	Wishlist bool    `json:"wishlist"`
	Quantity *string `json:"quantity"`
	Unit     *string `json:"unit"`
}

type Recipe struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
	Notes      *string  `json:"notes"`
}

// BasketEntry is one template line of a base basket. in_stock is always
// false: the template only ever represents things to acquire.
type BasketEntry struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	InStock  bool   `json:"in_stock"`
}

type workspaceState struct {
	Products []Product `json:"products"`
	Recipes  []Recipe  `json:"recipes"`
	Clients  []string  `json:"clients"`
	// nil means the workspace uses the global default basket; an explicit
	// empty list is a deliberate "no template".
	BaseBasket []BasketEntry           `json:"base_basket"`
	Prices     map[string]*PriceRecord `json:"prices"`
}

type JoinResponse struct {
	ClientToken string `json:"client_token"`
	WorkspaceID string `json:"workspace_id"`
	CanAccess   bool   `json:"can_access"`
}

type StateSnapshot struct {
	WorkspaceID string    `json:"workspace_id"`
	Products    []Product `json:"products"`
	Recipes     []Recipe  `json:"recipes"`
}

type WorkspaceExport struct {
	WorkspaceID string                 `json:"workspace_id"`
	Products    []Product              `json:"products"`
	Recipes     []Recipe               `json:"recipes"`
	BaseBasket  []BasketEntry          `json:"base_basket"`
	Prices      map[string]PriceRecord `json:"prices"`
}

type ProductInput struct {
	Name     string  `json:"name"`
	Category string  `json:"category"`
	InStock  bool    `json:"in_stock"`
	Wishlist bool    `json:"wishlist"`
	Quantity *string `json:"quantity"`
	Unit     *string `json:"unit"`
}

type RecipeInput struct {
	Name       string   `json:"name"`
	ProductIDs []string `json:"product_ids"`
	Notes      *string  `json:"notes"`
}

// defaultBaseBasket seeds new workspaces that never configured a template.
var defaultBaseBasket = []BasketEntry{
	{Name: "Milk", Category: "Dairy"},
	{Name: "Butter", Category: "Dairy"},
	{Name: "Eggs", Category: "Dairy"},
	{Name: "Cheese", Category: "Dairy"},
	{Name: "Bread", Category: "Bakery"},
	{Name: "Potatoes", Category: "Vegetables"},
	{Name: "Onions", Category: "Vegetables"},
	{Name: "Tomatoes", Category: "Vegetables"},
	{Name: "Apples", Category: "Fruits"},
	{Name: "Chicken", Category: "Meat & Poultry"},
	{Name: "Rice", Category: "Grocery"},
	{Name: "Pasta", Category: "Grocery"},
	{Name: "Sugar", Category: "Grocery"},
	{Name: "Salt", Category: "Grocery"},
	{Name: "Tea", Category: "Drinks"},
	{Name: "Coffee", Category: "Drinks"},
}

// Store owns the canonical copy of every workspace. Each operation loads the
// full document from the backend, mutates it, and writes it back whole; the
// mutex serializes those cycles the way the original's single-threaded event
// loop did.
type Store struct {
	mu         sync.Mutex
	backend    StateBackend
	registry   *StoreRegistry
	events     EventSink
	maxClients int
	now        func() time.Time
	newID      func() string
}

type StoreOptions struct {
	StateBackend StateBackend
	StateFile    string
	Registry     *StoreRegistry
	Events       EventSink
	MaxClients   int
	Now          func() time.Time
}

func NewStore() *Store {
	return NewStoreWithOptions(StoreOptions{})
}

func NewStoreWithOptions(opts StoreOptions) *Store {
	backend := opts.StateBackend
	if backend == nil && strings.TrimSpace(opts.StateFile) != "" {
		backend = NewJSONFileStateBackend(opts.StateFile)
	}
	if backend == nil {
		backend = NewInMemoryStateBackend()
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewStoreRegistry()
	}
	var events EventSink = noopSink{}
	if opts.Events != nil {
		events = opts.Events
	}
	maxClients := opts.MaxClients
	if maxClients <= 0 {
		maxClients = DefaultMaxClients
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		backend:    backend,
		registry:   registry,
		events:     events,
		maxClients: maxClients,
		now:        now,
		newID:      uuid.NewString,
	}
}

// SetEventSink wires the broadcast hub in after construction. The hub needs
// the HTTP layer's connection types, so it cannot exist before the store.
func (s *Store) SetEventSink(sink EventSink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = sink
}

func (s *Store) Registry() *StoreRegistry {
	return s.registry
}

func (s *Store) Close() error {
	if closer, ok := s.backend.(stateBackendCloser); ok {
		return closer.Close()
	}
	return nil
}

// foldName is the caseless key for product-name matching. Unicode case
// folding rather than ASCII lowering: pantry entries are frequently not
// English.
func foldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func (s *Store) load() (persistedState, error) {
	snapshot, err := s.backend.Load()
	if err != nil {
		return nil, err
	}
	state := persistedState{}
	if snapshot != nil && *snapshot != nil {
		state = *snapshot
	}
	normalizeState(state, s.registry.DefaultStore())
	return state, nil
}

func (s *Store) save(state persistedState) error {
	return s.backend.Save(&state)
}

// authorizedWorkspace loads fresh state and proves token membership. Callers
// hold s.mu.
func (s *Store) authorizedWorkspace(workspaceID, clientToken string) (persistedState, *workspaceState, error) {
	state, err := s.load()
	if err != nil {
		return nil, nil, err
	}
	ws, ok := state[workspaceID]
	if !ok {
		return nil, nil, ErrWorkspaceNotFound
	}
	if clientToken == "" || !containsString(ws.Clients, clientToken) {
		return nil, nil, ErrAccessDenied
	}
	return state, ws, nil
}

// Authorize re-proves (workspace, token) membership. There is no session
// concept: every request and every socket upgrade goes through here.
func (s *Store) Authorize(workspaceID, clientToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _, err := s.authorizedWorkspace(workspaceID, clientToken)
	return err
}

// Join admits one more seat into the workspace, creating it on first join.
// A full workspace rejects without mutating the stored client list.
func (s *Store) Join(workspaceID string) (JoinResponse, error) {
	if strings.TrimSpace(workspaceID) == "" {
		return JoinResponse{}, fmt.Errorf("%w: workspace id is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, err := s.load()
	if err != nil {
		return JoinResponse{}, err
	}
	ws, ok := state[workspaceID]
	if !ok {
		ws = &workspaceState{
			Products: []Product{},
			Recipes:  []Recipe{},
			Clients:  []string{},
			Prices:   map[string]*PriceRecord{},
		}
		state[workspaceID] = ws
	}
	if len(ws.Clients) >= s.maxClients {
		return JoinResponse{}, ErrWorkspaceFull
	}
	token := s.newID()
	ws.Clients = append(ws.Clients, token)
	if err := s.save(state); err != nil {
		return JoinResponse{}, err
	}
	return JoinResponse{ClientToken: token, WorkspaceID: workspaceID, CanAccess: true}, nil
}

// State is the full catch-up snapshot: what a freshly connected client needs.
func (s *Store) State(workspaceID, clientToken string) (StateSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return StateSnapshot{}, err
	}
	return snapshotOf(workspaceID, ws), nil
}

func snapshotOf(workspaceID string, ws *workspaceState) StateSnapshot {
	return StateSnapshot{
		WorkspaceID: workspaceID,
		Products:    normalizedProducts(ws.Products),
		Recipes:     append([]Recipe{}, ws.Recipes...),
	}
}

// normalizedProducts maps stored category values (possibly pre-localization
// slugs) to display labels without touching the persisted document.
func normalizedProducts(products []Product) []Product {
	out := make([]Product, len(products))
	for i, p := range products {
		p.Category = NormalizeCategory(p.Category)
		out[i] = p
	}
	return out
}

func (s *Store) ListProducts(workspaceID, clientToken string) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	return normalizedProducts(ws.Products), nil
}

func (s *Store) CreateProduct(workspaceID, clientToken string, input ProductInput) (Product, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Product{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return Product{}, err
	}
	product := Product{
		ID:       s.newID(),
		Name:     strings.TrimSpace(input.Name),
		Category: NormalizeCategory(input.Category),
		InStock:  input.InStock,
		Wishlist: input.Wishlist,
		Quantity: input.Quantity,
		Unit:     input.Unit,
	}
	ws.Products = append(ws.Products, product)
	if err := s.save(state); err != nil {
		return Product{}, err
	}
	s.events.Publish(workspaceID, Event{Type: EventProductCreated, Data: product})
	return product, nil
}

// PatchProduct applies a partial update; only keys present in the patch
// change. Field types are re-checked here because the store is also reached
// from tests and future non-HTTP callers.
func (s *Store) PatchProduct(workspaceID, clientToken, productID string, patch map[string]any) (Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return Product{}, err
	}
	idx := productIndex(ws.Products, productID)
	if idx < 0 {
		return Product{}, ErrNotFound
	}
	product := ws.Products[idx]
	if raw, ok := patch["name"]; ok {
		name, ok := raw.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return Product{}, fmt.Errorf("%w: name must be a non-empty string", ErrInvalidInput)
		}
		product.Name = strings.TrimSpace(name)
	}
	if raw, ok := patch["category"]; ok {
		category, ok := raw.(string)
		if !ok {
			return Product{}, fmt.Errorf("%w: category must be a string", ErrInvalidInput)
		}
		product.Category = NormalizeCategory(category)
	}
	if raw, ok := patch["in_stock"]; ok {
		inStock, ok := raw.(bool)
		if !ok {
			return Product{}, fmt.Errorf("%w: in_stock must be a boolean", ErrInvalidInput)
		}
		product.InStock = inStock
	}
	if raw, ok := patch["wishlist"]; ok {
		wishlist, ok := raw.(bool)
		if !ok {
			return Product{}, fmt.Errorf("%w: wishlist must be a boolean", ErrInvalidInput)
		}
		product.Wishlist = wishlist
	}
	if raw, ok := patch["quantity"]; ok {
		value, err := optionalString(raw, "quantity")
		if err != nil {
			return Product{}, err
		}
		product.Quantity = value
	}
	if raw, ok := patch["unit"]; ok {
		value, err := optionalString(raw, "unit")
		if err != nil {
			return Product{}, err
		}
		product.Unit = value
	}
	ws.Products[idx] = product
	if err := s.save(state); err != nil {
		return Product{}, err
	}
	normalized := product
	normalized.Category = NormalizeCategory(normalized.Category)
	s.events.Publish(workspaceID, Event{Type: EventProductUpdated, Data: normalized})
	return normalized, nil
}

func (s *Store) DeleteProduct(workspaceID, clientToken, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return err
	}
	idx := productIndex(ws.Products, productID)
	if idx < 0 {
		return ErrNotFound
	}
	ws.Products = append(ws.Products[:idx], ws.Products[idx+1:]...)
	if err := s.save(state); err != nil {
		return err
	}
	s.events.Publish(workspaceID, Event{Type: EventProductDeleted, Data: map[string]string{"id": productID}})
	return nil
}

func (s *Store) ListRecipes(workspaceID, clientToken string) ([]Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	return append([]Recipe{}, ws.Recipes...), nil
}

func (s *Store) CreateRecipe(workspaceID, clientToken string, input RecipeInput) (Recipe, error) {
	if strings.TrimSpace(input.Name) == "" {
		return Recipe{}, fmt.Errorf("%w: recipe name is required", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return Recipe{}, err
	}
	productIDs := input.ProductIDs
	if productIDs == nil {
		productIDs = []string{}
	}
	recipe := Recipe{
		ID:         s.newID(),
		Name:       strings.TrimSpace(input.Name),
		ProductIDs: productIDs,
		Notes:      input.Notes,
	}
	ws.Recipes = append(ws.Recipes, recipe)
	if err := s.save(state); err != nil {
		return Recipe{}, err
	}
	s.events.Publish(workspaceID, Event{Type: EventRecipeCreated, Data: recipe})
	return recipe, nil
}

func (s *Store) PatchRecipe(workspaceID, clientToken, recipeID string, patch map[string]any) (Recipe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return Recipe{}, err
	}
	idx := recipeIndex(ws.Recipes, recipeID)
	if idx < 0 {
		return Recipe{}, ErrNotFound
	}
	recipe := ws.Recipes[idx]
	if raw, ok := patch["name"]; ok {
		name, ok := raw.(string)
		if !ok || strings.TrimSpace(name) == "" {
			return Recipe{}, fmt.Errorf("%w: name must be a non-empty string", ErrInvalidInput)
		}
		recipe.Name = strings.TrimSpace(name)
	}
	if raw, ok := patch["product_ids"]; ok {
		ids, err := stringList(raw, "product_ids")
		if err != nil {
			return Recipe{}, err
		}
		recipe.ProductIDs = ids
	}
	if raw, ok := patch["notes"]; ok {
		value, err := optionalString(raw, "notes")
		if err != nil {
			return Recipe{}, err
		}
		recipe.Notes = value
	}
	ws.Recipes[idx] = recipe
	if err := s.save(state); err != nil {
		return Recipe{}, err
	}
	s.events.Publish(workspaceID, Event{Type: EventRecipeUpdated, Data: recipe})
	return recipe, nil
}

func (s *Store) DeleteRecipe(workspaceID, clientToken, recipeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return err
	}
	idx := recipeIndex(ws.Recipes, recipeID)
	if idx < 0 {
		return ErrNotFound
	}
	ws.Recipes = append(ws.Recipes[:idx], ws.Recipes[idx+1:]...)
	if err := s.save(state); err != nil {
		return err
	}
	s.events.Publish(workspaceID, Event{Type: EventRecipeDeleted, Data: map[string]string{"id": recipeID}})
	return nil
}

// BaseBasket returns the effective template: the workspace's own when it has
// one, the global default otherwise.
func (s *Store) BaseBasket(workspaceID, clientToken string) ([]BasketEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	return append([]BasketEntry{}, effectiveBasket(ws)...), nil
}

// SetBaseBasket replaces the workspace template. Every entry is category-
// normalized and forced to in_stock=false so the template can only ever mean
// "things to acquire".
func (s *Store) SetBaseBasket(workspaceID, clientToken string, entries []BasketEntry) ([]BasketEntry, error) {
	if entries == nil {
		return nil, fmt.Errorf("%w: base_basket must be an array", ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	cleaned := make([]BasketEntry, 0, len(entries))
	for _, entry := range entries {
		name := strings.TrimSpace(entry.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: basket entry name is required", ErrInvalidInput)
		}
		cleaned = append(cleaned, BasketEntry{
			Name:     name,
			Category: NormalizeCategory(entry.Category),
			InStock:  false,
		})
	}
	ws.BaseBasket = cleaned
	if err := s.save(state); err != nil {
		return nil, err
	}
	return cleaned, nil
}

// InitBasket seeds the product list from the effective base basket, skipping
// entries whose name matches an existing product case-insensitively. Repeat
// calls add nothing new.
func (s *Store) InitBasket(workspaceID, clientToken string) ([]Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	existing := make(map[string]struct{}, len(ws.Products))
	for _, p := range ws.Products {
		existing[foldName(p.Name)] = struct{}{}
	}
	added := []Product{}
	for _, entry := range effectiveBasket(ws) {
		key := foldName(entry.Name)
		if _, dup := existing[key]; dup {
			continue
		}
		existing[key] = struct{}{}
		product := Product{
			ID:       s.newID(),
			Name:     entry.Name,
			Category: NormalizeCategory(entry.Category),
			InStock:  false,
		}
		ws.Products = append(ws.Products, product)
		added = append(added, product)
	}
	if len(added) > 0 {
		if err := s.save(state); err != nil {
			return nil, err
		}
		for _, product := range added {
			s.events.Publish(workspaceID, Event{Type: EventProductCreated, Data: product})
		}
	}
	return added, nil
}

// Export round-trips the persisted workspace document.
func (s *Store) Export(workspaceID, clientToken string) (WorkspaceExport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return WorkspaceExport{}, err
	}
	prices := make(map[string]PriceRecord, len(ws.Prices))
	for name, rec := range ws.Prices {
		prices[name] = *rec
	}
	return WorkspaceExport{
		WorkspaceID: workspaceID,
		Products:    normalizedProducts(ws.Products),
		Recipes:     append([]Recipe{}, ws.Recipes...),
		BaseBasket:  ws.BaseBasket,
		Prices:      prices,
	}, nil
}

func effectiveBasket(ws *workspaceState) []BasketEntry {
	if ws.BaseBasket != nil {
		return ws.BaseBasket
	}
	return defaultBaseBasket
}

func productIndex(products []Product, id string) int {
	for i, p := range products {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func recipeIndex(recipes []Recipe, id string) int {
	for i, r := range recipes {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func optionalString(raw any, field string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	value, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string or null", ErrInvalidInput, field)
	}
	return &value, nil
}

func stringList(raw any, field string) ([]string, error) {
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array of strings", ErrInvalidInput, field)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		value, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be an array of strings", ErrInvalidInput, field)
		}
		out = append(out, value)
	}
	return out, nil
}

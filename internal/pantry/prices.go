package pantry

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// StorePrice is one observation: what a product costs in one retail store.
type StorePrice struct {
	Price     float64 `json:"price"`
	UpdatedAt string  `json:"updated_at"`
}

// PriceRecord aggregates per-store observations for one product. BestPrice
// and BestStore are derived; setStorePrice/removeStore are the only mutation
// paths and both recompute them, so the derived fields can never go stale
// relative to the store map.
type PriceRecord struct {
	Stores    map[string]StorePrice `json:"stores"`
	BestPrice *float64              `json:"best_price"`
	BestStore *string               `json:"best_store"`

	// Pre-multi-store records carried a single price at the top level.
	// Populated only during decode; cleared by migratePriceRecord.
	LegacyPrice     *float64 `json:"price,omitempty"`
	LegacyUpdatedAt string   `json:"updated_at,omitempty"`
}

func (rec *PriceRecord) setStorePrice(storeID string, price float64, now time.Time) {
	if rec.Stores == nil {
		rec.Stores = map[string]StorePrice{}
	}
	rec.Stores[storeID] = StorePrice{
		Price:     price,
		UpdatedAt: now.UTC().Format(time.RFC3339),
	}
	rec.recomputeBest()
}

func (rec *PriceRecord) removeStore(storeID string) bool {
	if _, ok := rec.Stores[storeID]; !ok {
		return false
	}
	delete(rec.Stores, storeID)
	rec.recomputeBest()
	return true
}

// recomputeBest scans all current store prices and selects the minimum.
// Ties keep the first minimum encountered; map iteration order is not part
// of the contract.
func (rec *PriceRecord) recomputeBest() {
	var bestStore *string
	var bestPrice *float64
	for storeID, observation := range rec.Stores {
		if bestPrice == nil || observation.Price < *bestPrice {
			price := observation.Price
			id := storeID
			bestPrice = &price
			bestStore = &id
		}
	}
	rec.BestPrice = bestPrice
	rec.BestStore = bestStore
}

// PriceUpdate is the payload broadcast after a successful price upsert.
type PriceUpdate struct {
	ProductName string      `json:"product_name"`
	Prices      PriceRecord `json:"prices"`
}

// PriceDeletion carries enough for clients to apply the same reduction
// locally: the product plus the removed store, or null when the whole record
// went away.
type PriceDeletion struct {
	ProductName string  `json:"product_name"`
	StoreID     *string `json:"store_id"`
}

// SetPrice records what productName costs in storeID and recomputes the best
// price. The store must exist in the configured registry.
func (s *Store) SetPrice(workspaceID, clientToken, productName string, price float64, storeID string) (PriceUpdate, error) {
	name := foldName(productName)
	if name == "" {
		return PriceUpdate{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}
	if price <= 0 || math.IsInf(price, 0) || math.IsNaN(price) {
		return PriceUpdate{}, fmt.Errorf("%w: price must be a positive number", ErrInvalidInput)
	}
	if storeID == "" {
		storeID = s.registry.DefaultStore()
	}
	if !s.registry.Has(storeID) {
		return PriceUpdate{}, fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return PriceUpdate{}, err
	}
	rec := ws.Prices[name]
	if rec == nil {
		rec = &PriceRecord{Stores: map[string]StorePrice{}}
		ws.Prices[name] = rec
	}
	rec.setStorePrice(storeID, price, s.now())
	if err := s.save(state); err != nil {
		return PriceUpdate{}, err
	}
	update := PriceUpdate{ProductName: name, Prices: *rec}
	s.events.Publish(workspaceID, Event{Type: EventPriceUpdated, Data: update})
	return update, nil
}

// DeletePrice removes one store's observation, or the whole record when
// storeID is empty. A record whose last store is removed disappears.
func (s *Store) DeletePrice(workspaceID, clientToken, productName, storeID string) (PriceDeletion, error) {
	name := foldName(productName)
	if name == "" {
		return PriceDeletion{}, fmt.Errorf("%w: product name is required", ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	state, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return PriceDeletion{}, err
	}
	rec, ok := ws.Prices[name]
	if !ok {
		return PriceDeletion{}, ErrNotFound
	}

	deletion := PriceDeletion{ProductName: name}
	if storeID != "" {
		if !rec.removeStore(storeID) {
			return PriceDeletion{}, ErrNotFound
		}
		if len(rec.Stores) == 0 {
			delete(ws.Prices, name)
		}
		id := storeID
		deletion.StoreID = &id
	} else {
		delete(ws.Prices, name)
	}
	if err := s.save(state); err != nil {
		return PriceDeletion{}, err
	}
	s.events.Publish(workspaceID, Event{Type: EventPriceDeleted, Data: deletion})
	return deletion, nil
}

// Prices returns the workspace price table, optionally filtered by a
// substring query over product names.
func (s *Store) Prices(workspaceID, clientToken, query string) (map[string]PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return nil, err
	}
	query = foldName(query)
	out := make(map[string]PriceRecord, len(ws.Prices))
	for name, rec := range ws.Prices {
		if query != "" && !strings.Contains(name, query) {
			continue
		}
		out[name] = *rec
	}
	return out, nil
}

// PriceFor returns one product's record, ErrNotFound when absent.
func (s *Store) PriceFor(workspaceID, clientToken, productName string) (PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ws, err := s.authorizedWorkspace(workspaceID, clientToken)
	if err != nil {
		return PriceRecord{}, err
	}
	rec, ok := ws.Prices[foldName(productName)]
	if !ok {
		return PriceRecord{}, ErrNotFound
	}
	return *rec, nil
}

// SortedPriceNames exists for deterministic rendering in exports and tests.
func SortedPriceNames(prices map[string]PriceRecord) []string {
	names := make([]string, 0, len(prices))
	for name := range prices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package pantry

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// persistedState is the entire on-disk document: workspace id -> workspace.
type persistedState map[string]*workspaceState

// StateBackend persists the whole workspace collection as one document.
// The narrow load-all/replace-all contract keeps call sites unchanged if the
// storage ever moves to per-workspace files or a real datastore.
type StateBackend interface {
	Load() (*persistedState, error)
	Save(state *persistedState) error
}

type stateBackendCloser interface {
	Close() error
}

type JSONFileStateBackend struct {
	Path string
}

func NewJSONFileStateBackend(path string) *JSONFileStateBackend {
	return &JSONFileStateBackend{Path: strings.TrimSpace(path)}
}

func (b *JSONFileStateBackend) Load() (*persistedState, error) {
	if b == nil || strings.TrimSpace(b.Path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(b.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var snapshot persistedState
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (b *JSONFileStateBackend) Save(state *persistedState) error {
	if b == nil || strings.TrimSpace(b.Path) == "" || state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := b.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, b.Path)
}

type InMemoryStateBackend struct {
	mu       sync.Mutex
	snapshot *persistedState
}

func NewInMemoryStateBackend() *InMemoryStateBackend {
	return &InMemoryStateBackend{}
}

func (b *InMemoryStateBackend) Load() (*persistedState, error) {
	if b == nil {
		return nil, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.snapshot == nil {
		return nil, nil
	}
	data, err := json.Marshal(b.snapshot)
	if err != nil {
		return nil, err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}

func (b *InMemoryStateBackend) Save(state *persistedState) error {
	if b == nil || state == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	var clone persistedState
	if err := json.Unmarshal(data, &clone); err != nil {
		return err
	}
	b.snapshot = &clone
	return nil
}

// normalizeState is the single backfill point for schema evolution: every
// optional field a workspace predates gets its zero value here, and legacy
// single-store price records are migrated to the per-store layout.
func normalizeState(state persistedState, defaultStore string) {
	for _, ws := range state {
		if ws == nil {
			continue
		}
		if ws.Products == nil {
			ws.Products = []Product{}
		}
		if ws.Recipes == nil {
			ws.Recipes = []Recipe{}
		}
		if ws.Clients == nil {
			ws.Clients = []string{}
		}
		// A nil base basket means "use the global default"; an explicit
		// empty list stays empty.
		if ws.Prices == nil {
			ws.Prices = map[string]*PriceRecord{}
		}
		for name, rec := range ws.Prices {
			if rec == nil {
				delete(ws.Prices, name)
				continue
			}
			migratePriceRecord(rec, defaultStore)
		}
	}
}

// migratePriceRecord upgrades a record written before multi-store support:
// a bare {price, updated_at} becomes a per-store entry under the default
// store. Best price is recomputed in either case so the derived fields never
// disagree with the store map they came from.
func migratePriceRecord(rec *PriceRecord, defaultStore string) {
	if rec.Stores == nil {
		rec.Stores = map[string]StorePrice{}
	}
	if rec.LegacyPrice != nil && defaultStore != "" {
		if _, exists := rec.Stores[defaultStore]; !exists {
			rec.Stores[defaultStore] = StorePrice{
				Price:     *rec.LegacyPrice,
				UpdatedAt: rec.LegacyUpdatedAt,
			}
		}
	}
	rec.LegacyPrice = nil
	rec.LegacyUpdatedAt = ""
	rec.recomputeBest()
}

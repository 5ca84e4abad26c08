package pantry

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// RetailStore is one entry of the configured store registry that price
// observations are validated against.
type RetailStore struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Priority    int    `json:"priority"`
	Description string `json:"description,omitempty"`
}

type storesFile struct {
	Stores       []RetailStore `json:"stores"`
	DefaultStore string        `json:"default_store"`
}

// StoreRegistry holds the set of known retail stores. When constructed from
// a config file it can watch that file and reload on change, so operators can
// add a store without restarting the server.
type StoreRegistry struct {
	mu           sync.RWMutex
	byID         map[string]RetailStore
	ordered      []RetailStore
	defaultStore string

	watcher *fsnotify.Watcher
	done    chan struct{}
	once    sync.Once
}

func defaultRetailStores() storesFile {
	return storesFile{
		Stores: []RetailStore{
			{ID: "store1", Name: "Main Grocery", Priority: 1},
			{ID: "store2", Name: "Farmers Market", Priority: 2},
			{ID: "store3", Name: "Hypermarket", Priority: 3},
		},
		DefaultStore: "store1",
	}
}

// NewStoreRegistry builds a registry from the built-in defaults.
func NewStoreRegistry() *StoreRegistry {
	r := &StoreRegistry{}
	r.apply(defaultRetailStores())
	return r
}

// NewStoreRegistryFromFile loads the registry from path. A missing file is
// not an error; the built-in defaults apply until the file shows up.
func NewStoreRegistryFromFile(path string) (*StoreRegistry, error) {
	r := NewStoreRegistry()
	if strings.TrimSpace(path) == "" {
		return r, nil
	}
	if err := r.loadFile(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return r, nil
}

// Watch reloads the registry whenever the config file is rewritten. Errors
// during reload keep the previous registry contents.
func (r *StoreRegistry) Watch(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and atomic writers replace the file,
	// which drops a watch registered on the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}
	r.watcher = watcher
	r.done = make(chan struct{})
	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := r.loadFile(path); err != nil {
					if !errors.Is(err, os.ErrNotExist) {
						log.Printf("store registry reload failed: %v", err)
					}
					continue
				}
				log.Printf("store registry reloaded from %s", path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("store registry watcher: %v", err)
			case <-r.done:
				return
			}
		}
	}()
	return nil
}

func (r *StoreRegistry) Close() error {
	var err error
	r.once.Do(func() {
		if r.done != nil {
			close(r.done)
		}
		if r.watcher != nil {
			err = r.watcher.Close()
		}
	})
	return err
}

func (r *StoreRegistry) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var cfg storesFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	if len(cfg.Stores) == 0 {
		return errors.New("store registry config has no stores")
	}
	r.apply(cfg)
	return nil
}

func (r *StoreRegistry) apply(cfg storesFile) {
	byID := make(map[string]RetailStore, len(cfg.Stores))
	ordered := make([]RetailStore, 0, len(cfg.Stores))
	for _, store := range cfg.Stores {
		store.ID = strings.TrimSpace(store.ID)
		if store.ID == "" {
			continue
		}
		if _, dup := byID[store.ID]; dup {
			continue
		}
		byID[store.ID] = store
		ordered = append(ordered, store)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	defaultStore := strings.TrimSpace(cfg.DefaultStore)
	if _, ok := byID[defaultStore]; !ok {
		defaultStore = ""
		if len(ordered) > 0 {
			defaultStore = ordered[0].ID
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID = byID
	r.ordered = ordered
	r.defaultStore = defaultStore
}

func (r *StoreRegistry) Has(storeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[storeID]
	return ok
}

// List returns the stores sorted by ascending priority.
func (r *StoreRegistry) List() []RetailStore {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RetailStore, len(r.ordered))
	copy(out, r.ordered)
	return out
}

func (r *StoreRegistry) DefaultStore() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultStore
}

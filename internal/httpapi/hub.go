package httpapi

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pantrylab/pantryd/internal/pantry"
)

// session is the minimal surface the hub needs from a live connection,
// narrowed so tests can register fakes instead of real sockets.
type session interface {
	WriteText(ctx context.Context, data []byte) error
}

// Hub maps workspace ids to their currently open connections and fans
// mutation events out to them. A connection belongs to at most one workspace;
// a workspace whose last connection leaves is dropped from the map entirely.
// Delivery is best effort, at most once: write failures are skipped silently.
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]map[session]struct{}
	writeTimeout time.Duration
}

func NewHub() *Hub {
	return &Hub{
		sessions:     map[string]map[session]struct{}{},
		writeTimeout: 5 * time.Second,
	}
}

func (h *Hub) Register(workspaceID string, sess session) {
	if sess == nil || workspaceID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[workspaceID]
	if !ok {
		set = map[session]struct{}{}
		h.sessions[workspaceID] = set
	}
	set[sess] = struct{}{}
}

func (h *Hub) Unregister(workspaceID string, sess session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.sessions[workspaceID]
	if !ok {
		return
	}
	delete(set, sess)
	if len(set) == 0 {
		delete(h.sessions, workspaceID)
	}
}

// Publish implements pantry.EventSink.
func (h *Hub) Publish(workspaceID string, event pantry.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.mu.RLock()
	targets := make([]session, 0, len(h.sessions[workspaceID]))
	for sess := range h.sessions[workspaceID] {
		targets = append(targets, sess)
	}
	h.mu.RUnlock()

	for _, sess := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), h.writeTimeout)
		_ = sess.WriteText(ctx, data)
		cancel()
	}
}

// ConnectionCount reports how many sockets a workspace currently has.
func (h *Hub) ConnectionCount(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[workspaceID])
}

// WorkspaceCount reports how many workspaces hold at least one connection.
func (h *Hub) WorkspaceCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

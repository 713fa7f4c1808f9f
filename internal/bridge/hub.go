package bridge

import (
	"sort"
	"sync"
	"time"
)

// Hub tracks connected cockpits so other surfaces (MCP tools, the chat
// relay) can reach them.
type Hub struct {
	mu       sync.RWMutex
	cockpits map[string]*Cockpit
}

func NewHub() *Hub {
	return &Hub{cockpits: make(map[string]*Cockpit)}
}

func (h *Hub) add(c *Cockpit) {
	h.mu.Lock()
	h.cockpits[c.ID] = c
	h.mu.Unlock()
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	delete(h.cockpits, id)
	h.mu.Unlock()
}

// Lookup returns the cockpit with id.
func (h *Hub) Lookup(id string) (*Cockpit, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.cockpits[id]
	return c, ok
}

// Latest returns the most recently connected cockpit.
func (h *Hub) Latest() (*Cockpit, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var latest *Cockpit
	for _, c := range h.cockpits {
		if latest == nil || c.ConnectedAt.After(latest.ConnectedAt) {
			latest = c
		}
	}
	return latest, latest != nil
}

// Resolve returns the cockpit named by id, or the latest one when id is
// empty.
func (h *Hub) Resolve(id string) (*Cockpit, bool) {
	if id == "" {
		return h.Latest()
	}
	return h.Lookup(id)
}

// SessionInfo summarises a connected cockpit.
type SessionInfo struct {
	ID          string    `json:"id"`
	Remote      string    `json:"remote"`
	Recognition string    `json:"recognition"`
	ConnectedAt time.Time `json:"connected_at"`
}

// List returns every connected cockpit, oldest first.
func (h *Hub) List() []SessionInfo {
	h.mu.RLock()
	out := make([]SessionInfo, 0, len(h.cockpits))
	for _, c := range h.cockpits {
		out = append(out, c.Info())
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(out[j].ConnectedAt) })
	return out
}

// Len returns the number of connected cockpits.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.cockpits)
}

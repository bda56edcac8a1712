// Package realtime tracks live websocket connections and pushes events to them.
package realtime

import (
	"sort"
	"sync"

	"chatapp/models"
)

// Handle is one live connection that events can be pushed to.
type Handle interface {
	// ID is unique per connection, not per user.
	ID() string
	UserID() string
	// Deliver enqueues ev without blocking and reports whether it was accepted.
	Deliver(ev models.WebSocketMessage) bool
	Close()
}

// Registry maps a user id to that user's current connection.
// A user has at most one registered handle; the last Register wins.
type Registry struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]Handle)}
}

// Register stores h for userID and returns the handle it replaced, if any.
func (r *Registry) Register(userID string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.handles[userID]
	r.handles[userID] = h
	return previous
}

// Lookup returns the current handle for userID.
func (r *Registry) Lookup(userID string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.handles[userID]
	return h, ok
}

// Unregister removes userID only while h is still the registered handle.
// A disconnect from a connection that was already replaced is ignored.
func (r *Registry) Unregister(userID string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.handles[userID]
	if !ok || current.ID() != h.ID() {
		return false
	}
	delete(r.handles, userID)
	return true
}

// IsOnline reports whether userID has a registered handle.
func (r *Registry) IsOnline(userID string) bool {
	_, ok := r.Lookup(userID)
	return ok
}

// OnlineUsers returns the ids of all registered users, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Len returns the number of registered users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// others snapshots every handle except the one registered for userID.
func (r *Registry) others(userID string) []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	handles := make([]Handle, 0, len(r.handles))
	for id, h := range r.handles {
		if id != userID {
			handles = append(handles, h)
		}
	}
	return handles
}

package session

import (
	"errors"
	"sync"
)

var (
	// ErrDuplicateSession rejects a start request for an id that is still
	// registered. State is left untouched.
	ErrDuplicateSession = errors.New("session already active")
	ErrNotFound         = errors.New("session not found")
)

// Registry is the process-wide map from session id to its live controller.
// It is the single source of truth for "is this session active": an entry
// exists from the start request until the session's unit of work is terminal
// and cleanup has run.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Handle
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Handle)}
}

func (r *Registry) Register(id string, h Handle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return ErrDuplicateSession
	}
	r.entries[id] = h
	return nil
}

// Unregister removes the entry unconditionally. Removing an absent id is a
// no-op.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}

func (r *Registry) Get(id string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}

func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// List returns the live handles in no particular order.
func (r *Registry) List() []Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Handle, 0, len(r.entries))
	for _, h := range r.entries {
		out = append(out, h)
	}
	return out
}

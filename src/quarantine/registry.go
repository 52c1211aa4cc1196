// Package quarantine tracks files that are isolated and waiting for a user
// decision.
package quarantine

import "sync"

// PendingFile is one isolated file awaiting a decision. Values are copied
// out of the registry, so holders get an immutable snapshot.
type PendingFile struct {
	OriginalPath   string
	IsolatedPath   string
	Filename       string
	NotificationID string
}

// Registry maps notification IDs to pending files. Every access takes the
// same lock. No iteration is exposed.
type Registry struct {
	mu      sync.Mutex
	pending map[string]PendingFile
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{pending: make(map[string]PendingFile)}
}

// Insert stores rec under id. An existing record with the same id is
// overwritten; it is returned with replaced=true so the caller can report
// the collision.
func (r *Registry) Insert(id string, rec PendingFile) (previous PendingFile, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	previous, replaced = r.pending[id]
	r.pending[id] = rec
	return previous, replaced
}

// Take removes and returns the record for id.
func (r *Registry) Take(id string) (PendingFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	return rec, ok
}

// Get returns the record for id without removing it.
func (r *Registry) Get(id string) (PendingFile, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.pending[id]
	return rec, ok
}

// Contains reports whether id has a pending record.
func (r *Registry) Contains(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// Len returns the number of pending records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

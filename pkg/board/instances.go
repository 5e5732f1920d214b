package board

import "sync"

// InstanceRegistry tracks which adapter holds the single valid slot of each
// singleton-constrained vendor.
type InstanceRegistry struct {
	mu      sync.Mutex
	holders map[string]string // vendor -> owning session ID
}

// DefaultInstances is the process-wide registry used unless an adapter is
// given its own through WithInstanceRegistry.
var DefaultInstances = NewInstanceRegistry()

// NewInstanceRegistry creates an empty registry
func NewInstanceRegistry() *InstanceRegistry {
	return &InstanceRegistry{holders: make(map[string]string)}
}

// Acquire claims the vendor slot for owner. It returns false when another
// owner already holds it.
func (r *InstanceRegistry) Acquire(vendor, owner string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, ok := r.holders[vendor]; ok {
		return holder == owner
	}
	r.holders[vendor] = owner
	return true
}

// Release frees the vendor slot if owner holds it
func (r *InstanceRegistry) Release(vendor, owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.holders[vendor] == owner {
		delete(r.holders, vendor)
	}
}

// Holder returns the owner of the vendor slot
func (r *InstanceRegistry) Holder(vendor string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.holders[vendor]
	return owner, ok
}

// Len returns the number of held slots
func (r *InstanceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}

// Reset clears every slot (mainly for testing)
func (r *InstanceRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holders = make(map[string]string)
}

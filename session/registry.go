package session

import (
	"context"
	"sync"
	"time"
)

// Registry records which token IDs are live. A token whose ID is not
// registered is rejected even if its signature is valid, which is how
// logout revokes it.
type Registry interface {
	// Add registers id for ttl. A zero ttl never expires.
	Add(ctx context.Context, id string, ttl time.Duration) error
	Contains(ctx context.Context, id string) (bool, error)
	// Remove succeeds for unknown ids.
	Remove(ctx context.Context, id string) error
}

// MemoryRegistry keeps token IDs for the life of the process.
type MemoryRegistry struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{expires: make(map[string]time.Time), now: time.Now}
}

var _ Registry = (*MemoryRegistry)(nil)

func (r *MemoryRegistry) Add(_ context.Context, id string, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune()
	var exp time.Time
	if ttl > 0 {
		exp = r.now().Add(ttl)
	}
	r.expires[id] = exp
	return nil
}

func (r *MemoryRegistry) Contains(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	exp, ok := r.expires[id]
	if !ok {
		return false, nil
	}
	if !exp.IsZero() && !r.now().Before(exp) {
		delete(r.expires, id)
		return false, nil
	}
	return true, nil
}

func (r *MemoryRegistry) Remove(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.expires, id)
	return nil
}

// Len returns the number of registered ids, expired ones included.
func (r *MemoryRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.expires)
}

// prune drops expired ids. Caller holds mu.
func (r *MemoryRegistry) prune() {
	now := r.now()
	for id, exp := range r.expires {
		if !exp.IsZero() && !now.Before(exp) {
			delete(r.expires, id)
		}
	}
}

// Sweep drops expired ids and returns how many were removed.
func (r *MemoryRegistry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := len(r.expires)
	r.prune()
	return before - len(r.expires)
}

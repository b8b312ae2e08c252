// Package revocation records revoked token families so every instance rejects
// them until their refresh tokens would have expired anyway.
package revocation

import (
	"context"
	"sync"
	"time"
)

type Registry interface {
	Revoke(ctx context.Context, familyID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, familyID string) (bool, error)
}

// MemoryRegistry is the single-instance registry used in dev and tests.
type MemoryRegistry struct {
	mu      sync.RWMutex
	revoked map[string]time.Time
	now     func() time.Time
}

func NewMemory() *MemoryRegistry {
	return &MemoryRegistry{revoked: map[string]time.Time{}, now: time.Now}
}

func (r *MemoryRegistry) Revoke(_ context.Context, familyID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for id, until := range r.revoked {
		if !now.Before(until) {
			delete(r.revoked, id)
		}
	}
	if until, ok := r.revoked[familyID]; !ok || until.Before(now.Add(ttl)) {
		r.revoked[familyID] = now.Add(ttl)
	}
	return nil
}

func (r *MemoryRegistry) IsRevoked(_ context.Context, familyID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.revoked[familyID]
	return ok && r.now().Before(until), nil
}

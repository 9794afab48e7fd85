package pms

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Factory builds a Service for one integration.
type Factory func(ctx context.Context, integrationID string) (Service, error)

type registryEntry struct {
	svc     Service
	expires time.Time
}

// Registry hands out one Service per integration and caches it so token state
// and in-flight refreshes are shared between requests.
type Registry struct {
	factory Factory
	ttl     time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	entries map[string]registryEntry
}

// NewRegistry creates a registry. ttl <= 0 caches forever.
func NewRegistry(factory Factory, ttl time.Duration) *Registry {
	if factory == nil {
		panic("pms: registry factory cannot be nil")
	}
	return &Registry{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]registryEntry),
	}
}

// Get returns the Service for integrationID, building it on first use.
func (r *Registry) Get(ctx context.Context, integrationID string) (Service, error) {
	integrationID = strings.TrimSpace(integrationID)
	if integrationID == "" {
		return nil, Invalid("integration id is required")
	}

	r.mu.RLock()
	entry, ok := r.entries[integrationID]
	r.mu.RUnlock()
	if ok && (r.ttl <= 0 || r.now().Before(entry.expires)) {
		return entry.svc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.entries[integrationID]; ok && (r.ttl <= 0 || r.now().Before(entry.expires)) {
		return entry.svc, nil
	}
	svc, err := r.factory(ctx, integrationID)
	if err != nil {
		return nil, err
	}
	if svc == nil {
		return nil, errors.New("pms: factory returned nil service")
	}
	r.entries[integrationID] = registryEntry{svc: svc, expires: r.now().Add(r.ttl)}
	return svc, nil
}

// Forget drops a cached service, e.g. after its credentials were rotated.
func (r *Registry) Forget(integrationID string) {
	r.mu.Lock()
	delete(r.entries, integrationID)
	r.mu.Unlock()
}

// Len reports how many services are cached.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

package credentials

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps state in process. Used in development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states: make(map[string]State),
		now:    time.Now,
	}
}

func (m *MemoryStore) Load(ctx context.Context, integrationID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[integrationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MemoryStore) Save(ctx context.Context, state *State) error {
	if state == nil || state.IntegrationID == "" {
		return errMissingIntegration
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st := *state
	st.UpdatedAt = m.now().UTC()
	m.states[st.IntegrationID] = st
	state.UpdatedAt = st.UpdatedAt
	return nil
}

func (m *MemoryStore) ListExpiring(ctx context.Context, within time.Duration) ([]State, error) {
	threshold := m.now().Add(within)
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []State
	for _, st := range m.states {
		if st.RefreshKey != "" && st.TokenExpiry.Before(threshold) {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenExpiry.Before(out[j].TokenExpiry) })
	return out, nil
}

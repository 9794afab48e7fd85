package writebacks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/parlae/pms-gateway/internal/pms/sikka"
)

// MemoryStore tracks writebacks in process. Used when no database is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record), now: time.Now}
}

func (m *MemoryStore) Begin(ctx context.Context, integrationID, writebackID, operation string, payload any) error {
	data, err := marshalPayload(payload)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[writebackID]; ok {
		return nil
	}
	now := m.now().UTC()
	m.records[writebackID] = Record{
		WritebackID:   writebackID,
		IntegrationID: integrationID,
		Operation:     operation,
		Status:        sikka.WritebackPending,
		Payload:       data,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	return nil
}

func (m *MemoryStore) Attempt(ctx context.Context, writebackID string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[writebackID]
	if !ok || rec.Terminal() {
		return nil
	}
	if attempts > rec.Attempts {
		rec.Attempts = attempts
	}
	rec.UpdatedAt = m.now().UTC()
	m.records[writebackID] = rec
	return nil
}

func (m *MemoryStore) Finish(ctx context.Context, writebackID, status, errorMessage string, attempts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[writebackID]
	if !ok || rec.Terminal() {
		return nil
	}
	now := m.now().UTC()
	rec.Status = status
	rec.ErrorMessage = errorMessage
	if attempts > rec.Attempts {
		rec.Attempts = attempts
	}
	rec.UpdatedAt = now
	rec.ResolvedAt = &now
	m.records[writebackID] = rec
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, writebackID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[writebackID]
	if !ok {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, before time.Time, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.records {
		if !rec.Terminal() && rec.UpdatedAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

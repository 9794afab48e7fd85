package writebacks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parlae/pms-gateway/internal/pms/sikka"
	"github.com/parlae/pms-gateway/pkg/logging"
)

type stubChecker struct {
	statuses map[string]sikka.WritebackStatus
	errs     map[string]error
	calls    []string
}

func (s *stubChecker) CheckWriteback(ctx context.Context, id string) (sikka.WritebackStatus, error) {
	s.calls = append(s.calls, id)
	if err := s.errs[id]; err != nil {
		return sikka.WritebackStatus{}, err
	}
	if st, ok := s.statuses[id]; ok {
		return st, nil
	}
	return sikka.WritebackStatus{ID: id, Result: sikka.WritebackPending}, nil
}

func TestResumerRunOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	for _, id := range []string{"done", "failed", "pending", "flaky"} {
		require.NoError(t, store.Begin(ctx, "int-1", id, "appointment.create", nil))
	}
	require.NoError(t, store.Begin(ctx, "int-gone", "orphan", "patient.create", nil))

	checker := &stubChecker{
		statuses: map[string]sikka.WritebackStatus{
			"done":   {Result: sikka.WritebackCompleted},
			"failed": {Result: sikka.WritebackFailed, ErrorMessage: "Duplicate appointment"},
		},
		errs: map[string]error{"flaky": errors.New("bad gateway")},
	}
	resolve := func(ctx context.Context, id string) (Checker, error) {
		if id == "int-gone" {
			return nil, errors.New("integration removed")
		}
		return checker, nil
	}

	r := NewResumer(store, resolve, logging.Discard()).WithStaleAfter(time.Minute)
	r.now = func() time.Time { return clock.Add(5 * time.Minute) }

	assert.Equal(t, 2, r.RunOnce(ctx))
	assert.ElementsMatch(t, []string{"done", "failed", "pending", "flaky"}, checker.calls)

	rec, _ := store.Get(ctx, "done")
	assert.Equal(t, sikka.WritebackCompleted, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	rec, _ = store.Get(ctx, "failed")
	assert.Equal(t, "Duplicate appointment", rec.ErrorMessage)

	for _, id := range []string{"pending", "flaky"} {
		rec, _ = store.Get(ctx, id)
		assert.Equal(t, sikka.WritebackPending, rec.Status, id)
		assert.Equal(t, 1, rec.Attempts, id)
	}
	rec, _ = store.Get(ctx, "orphan")
	assert.Equal(t, 0, rec.Attempts)
}

func TestResumerTimesOutAbandonedWritebacks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }
	require.NoError(t, store.Begin(ctx, "int-1", "W-old", "payment.create", nil))
	require.NoError(t, store.Attempt(ctx, "W-old", 10))

	checker := &stubChecker{}
	r := NewResumer(store, func(ctx context.Context, id string) (Checker, error) { return checker, nil }, logging.Discard()).
		WithMaxAge(time.Hour)
	r.now = func() time.Time { return clock.Add(2 * time.Hour) }

	assert.Equal(t, 1, r.RunOnce(ctx))
	assert.Empty(t, checker.calls)

	rec, _ := store.Get(ctx, "W-old")
	assert.Equal(t, sikka.WritebackTimeout, rec.Status)
	assert.Equal(t, 10, rec.Attempts)
}

func TestResumerSkipsFreshWritebacks(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Begin(ctx, "int-1", "W1", "note.create", nil))

	checker := &stubChecker{}
	r := NewResumer(store, func(ctx context.Context, id string) (Checker, error) { return checker, nil }, logging.Discard())

	assert.Equal(t, 0, r.RunOnce(ctx))
	assert.Empty(t, checker.calls)
}

package credentials

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.Load(ctx, "int-1")
	assert.ErrorIs(t, err, ErrNotFound)

	st := &State{IntegrationID: "int-1", OfficeID: "D1", SecretKey: "s"}
	require.NoError(t, store.Save(ctx, st))
	assert.False(t, st.UpdatedAt.IsZero())

	st.RequestKey = "mutated"
	loaded, err := store.Load(ctx, "int-1")
	require.NoError(t, err)
	assert.Equal(t, "", loaded.RequestKey, "stored copy must not alias caller state")
	assert.True(t, loaded.HasOfficeCredentials())
}

func TestMemoryStoreListExpiring(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore()
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, &State{IntegrationID: "late", RequestKey: "a", RefreshKey: "r", TokenExpiry: now.Add(50 * time.Minute)}))
	require.NoError(t, store.Save(ctx, &State{IntegrationID: "soon", RequestKey: "b", RefreshKey: "r", TokenExpiry: now.Add(5 * time.Minute)}))
	require.NoError(t, store.Save(ctx, &State{IntegrationID: "fresh", RequestKey: "c", RefreshKey: "r", TokenExpiry: now.Add(5 * time.Hour)}))
	require.NoError(t, store.Save(ctx, &State{IntegrationID: "no-refresh", RequestKey: "d", TokenExpiry: now}))

	states, err := store.ListExpiring(ctx, time.Hour)
	require.NoError(t, err)
	require.Len(t, states, 2)
	assert.Equal(t, "soon", states[0].IntegrationID)
	assert.Equal(t, "late", states[1].IntegrationID)
}

func TestStateValidFor(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		state State
		want  bool
	}{
		{"no key", State{TokenExpiry: now.Add(5 * time.Hour)}, false},
		{"no expiry", State{RequestKey: "rk"}, false},
		{"inside margin", State{RequestKey: "rk", TokenExpiry: now.Add(59 * time.Minute)}, false},
		{"exactly margin", State{RequestKey: "rk", TokenExpiry: now.Add(time.Hour)}, false},
		{"outside margin", State{RequestKey: "rk", TokenExpiry: now.Add(61 * time.Minute)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.ValidFor(now, time.Hour))
		})
	}

	st := State{OfficeID: "D1", SecretKey: "s", RequestKey: "rk", RefreshKey: "fk", TokenExpiry: now}
	st.ClearToken()
	assert.Empty(t, st.RequestKey)
	assert.Empty(t, st.RefreshKey)
	assert.True(t, st.TokenExpiry.IsZero())
	assert.True(t, st.HasOfficeCredentials())
}

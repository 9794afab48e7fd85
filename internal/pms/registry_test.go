package pms

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubService struct {
	Service
	id string
}

func TestRegistryCachesPerIntegration(t *testing.T) {
	var builds int32
	reg := NewRegistry(func(ctx context.Context, id string) (Service, error) {
		atomic.AddInt32(&builds, 1)
		return &stubService{id: id}, nil
	}, 0)

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := reg.Get(ctx, "int-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	svc, err := reg.Get(ctx, "int-2")
	require.NoError(t, err)
	assert.Equal(t, "int-2", svc.(*stubService).id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
	assert.Equal(t, 2, reg.Len())
}

func TestRegistryExpiresEntries(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var builds int
	reg := NewRegistry(func(ctx context.Context, id string) (Service, error) {
		builds++
		return &stubService{id: id}, nil
	}, time.Minute)
	reg.now = func() time.Time { return now }

	_, err := reg.Get(context.Background(), "int-1")
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	_, err = reg.Get(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	now = now.Add(time.Minute)
	_, err = reg.Get(context.Background(), "int-1")
	require.NoError(t, err)
	assert.Equal(t, 2, builds)

	reg.Forget("int-1")
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryErrors(t *testing.T) {
	reg := NewRegistry(func(ctx context.Context, id string) (Service, error) {
		return nil, NewError(CodeCredentials, "integration "+id+" has no credentials")
	}, 0)

	_, err := reg.Get(context.Background(), "  ")
	assert.Equal(t, CodeInvalidRequest, CodeOf(err))

	_, err = reg.Get(context.Background(), "int-9")
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, CodeCredentials, pe.Code)
	assert.Equal(t, 0, reg.Len())
}

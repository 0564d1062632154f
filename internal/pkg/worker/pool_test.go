package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

func newTestPools(t *testing.T, cfg PoolConfig) *Pools {
	t.Helper()
	pools, err := NewPools(context.Background(), cfg)
	require.NoError(t, err)
	return pools
}

func TestNewPools(t *testing.T) {
	pools := newTestPools(t, DefaultPoolConfig())
	defer pools.Shutdown()

	assert.NotNil(t, pools.General)
	assert.NotNil(t, pools.Sync)
	assert.NotNil(t, pools.Notify)
	assert.Equal(t, PoolSync, pools.Sync.Name())
}

func TestPool_Submit(t *testing.T) {
	pools := newTestPools(t, PoolConfig{GeneralPoolSize: 10, SyncPoolSize: 2, NotifyPoolSize: 2})
	defer pools.Shutdown()

	var executed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)

	err := pools.General.Submit(context.Background(), func(ctx context.Context) {
		executed.Store(true)
		wg.Done()
	})
	require.NoError(t, err)

	wg.Wait()
	assert.True(t, executed.Load())
}

func TestPool_Submit_CancelledContext(t *testing.T) {
	pools := newTestPools(t, DefaultPoolConfig())
	defer pools.Shutdown()

	cancelledCtx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pools.General.Submit(cancelledCtx, func(ctx context.Context) {
		t.Error("task should not execute with cancelled context")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPool_Do(t *testing.T) {
	pools := newTestPools(t, DefaultPoolConfig())
	defer pools.Shutdown()

	t.Run("returns task result", func(t *testing.T) {
		want := errors.New("target rejected")
		err := pools.Sync.Do(context.Background(), func(ctx context.Context) error {
			return want
		})
		assert.ErrorIs(t, err, want)
	})

	t.Run("stops waiting when context ends", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		start := time.Now()
		err := pools.Sync.Do(ctx, func(ctx context.Context) error {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return nil
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestPools_Get(t *testing.T) {
	pools := newTestPools(t, DefaultPoolConfig())
	defer pools.Shutdown()

	tests := []struct {
		name string
		want *Pool
	}{
		{PoolGeneral, pools.General},
		{PoolSync, pools.Sync},
		{PoolNotify, pools.Notify},
		{"unknown", pools.General},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Same(t, tt.want, pools.Get(tt.name))
		})
	}
}

func TestPools_SubmitDetached(t *testing.T) {
	tests := []struct {
		name     string
		poolName string
	}{
		{"general pool", PoolGeneral},
		{"sync pool", PoolSync},
		{"notify pool", PoolNotify},
		{"default fallback", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pools := newTestPools(t, DefaultPoolConfig())

			var executed atomic.Bool
			var wg sync.WaitGroup
			wg.Add(1)

			err := pools.SubmitDetached(tt.poolName, func(ctx context.Context) {
				executed.Store(true)
				wg.Done()
			})
			require.NoError(t, err)

			wg.Wait()
			pools.Shutdown()
			assert.True(t, executed.Load())
		})
	}
}

func TestPools_SubmitAfterShutdown(t *testing.T) {
	pools := newTestPools(t, DefaultPoolConfig())
	pools.Shutdown()

	err := pools.SubmitDetached(PoolNotify, func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestPools_Metrics(t *testing.T) {
	pools := newTestPools(t, PoolConfig{GeneralPoolSize: 10, SyncPoolSize: 4, NotifyPoolSize: 6})
	defer pools.Shutdown()

	metrics := pools.Metrics()
	for name, wantCap := range map[string]int{PoolGeneral: 10, PoolSync: 4, PoolNotify: 6} {
		m, ok := metrics[name].(map[string]int)
		require.True(t, ok, name)
		assert.Equal(t, wantCap, m["cap"], name)
	}
}

// Package worker provides bounded goroutine pools.
//
// Background work never starts naked goroutines; it is submitted to one of
// the named pools so that a slow dependency can only exhaust its own pool.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Pool names accepted by Pools.Get and Pools.SubmitDetached.
const (
	PoolGeneral = "general"
	PoolSync    = "sync"
	PoolNotify  = "notify"
)

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
//
// Sync runs blocking calls to the target accounting system, Notify runs
// best-effort notification delivery, General takes everything else.
type Pools struct {
	General *Pool
	Sync    *Pool
	Notify  *Pool

	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizes.
type PoolConfig struct {
	GeneralPoolSize int
	SyncPoolSize    int
	NotifyPoolSize  int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize: 50,
		SyncPoolSize:    8,
		NotifyPoolSize:  16,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("Worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	specs := []struct {
		name   string
		size   int
		expiry time.Duration
	}{
		{PoolGeneral, cfg.GeneralPoolSize, 10 * time.Second},
		{PoolSync, cfg.SyncPoolSize, 60 * time.Second},
		{PoolNotify, cfg.NotifyPoolSize, 30 * time.Second},
	}

	created := make([]*Pool, 0, len(specs))
	for _, spec := range specs {
		a, err := ants.NewPool(spec.size,
			ants.WithPanicHandler(panicHandler),
			ants.WithNonblocking(false),
			ants.WithExpiryDuration(spec.expiry),
		)
		if err != nil {
			for _, p := range created {
				p.pool.Release()
			}
			serviceCancel()
			return nil, fmt.Errorf("create %s pool: %w", spec.name, err)
		}
		created = append(created, &Pool{pool: a, name: spec.name})
	}

	return &Pools{
		General:       created[0],
		Sync:          created[1],
		Notify:        created[2],
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.name }

// Submit submits a context-aware task.
// If ctx is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	err := p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("Task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Do runs fn on the pool and waits for its result or for ctx to end,
// whichever comes first. When ctx ends first the caller gets ctx.Err()
// and fn keeps running with a cancelled context until it returns.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	if err := p.Submit(ctx, func(ctx context.Context) {
		done <- fn(ctx)
	}); err != nil {
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns the named pool, falling back to General.
func (p *Pools) Get(name string) *Pool {
	switch name {
	case PoolSync:
		return p.Sync
	case PoolNotify:
		return p.Notify
	default:
		return p.General
	}
}

// SubmitDetached submits a task bound to the service lifecycle context
// instead of a request context. It survives request cancellation but stops
// on shutdown.
func (p *Pools) SubmitDetached(poolName string, task Task) error {
	pool := p.Get(poolName)

	err := pool.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("Detached task skipped: service shutting down",
				zap.String("pool", pool.name),
			)
			return
		default:
		}
		task(p.serviceCtx)
	})
	if errors.Is(err, ants.ErrPoolClosed) {
		return ErrPoolClosed
	}
	return err
}

// Shutdown cancels the service context, then waits for running tasks (max 30s per pool).
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	for _, pool := range []*Pool{p.General, p.Sync, p.Notify} {
		if err := pool.pool.ReleaseTimeout(shutdownTimeout); err != nil {
			logger.Warn("Pool shutdown timeout", zap.String("pool", pool.name), zap.Error(err))
		}
	}
}

// Metrics returns pool occupancy keyed by pool name.
func (p *Pools) Metrics() map[string]interface{} {
	out := make(map[string]interface{}, 3)
	for _, pool := range []*Pool{p.General, p.Sync, p.Notify} {
		out[pool.name] = map[string]int{
			"running": pool.pool.Running(),
			"free":    pool.pool.Free(),
			"cap":     pool.pool.Cap(),
		}
	}
	return out
}

package provider

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// TargetStatus represents target connectivity.
type TargetStatus string

const (
	TargetStatusUnknown     TargetStatus = "UNKNOWN"
	TargetStatusHealthy     TargetStatus = "HEALTHY"
	TargetStatusUnreachable TargetStatus = "UNREACHABLE"
)

// TargetHealth contains health check results.
type TargetHealth struct {
	Target      string        `json:"target"`
	Status      TargetStatus  `json:"status"`
	Latency     time.Duration `json:"latency"`
	LastChecked time.Time     `json:"last_checked"`
	Error       string        `json:"error,omitempty"`
}

// TargetHealthChecker pings the target periodically and caches the result
// for readiness probes.
type TargetHealthChecker struct {
	target   TargetSystem
	interval time.Duration
	mu       sync.RWMutex
	last     *TargetHealth
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewTargetHealthChecker creates a new TargetHealthChecker.
func NewTargetHealthChecker(target TargetSystem, interval time.Duration) *TargetHealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &TargetHealthChecker{
		target:   target,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Check performs a single health check and caches it.
func (c *TargetHealthChecker) Check(ctx context.Context) *TargetHealth {
	start := time.Now()
	health := &TargetHealth{Target: c.target.Name(), LastChecked: start}

	if err := c.target.Ping(ctx); err != nil {
		health.Status = TargetStatusUnreachable
		health.Error = err.Error()
		logger.Warn("Target health check failed",
			zap.String("target", health.Target),
			zap.Error(err),
		)
	} else {
		health.Status = TargetStatusHealthy
	}
	health.Latency = time.Since(start)

	c.mu.Lock()
	c.last = health
	c.mu.Unlock()
	return health
}

// Current returns the cached result.
func (c *TargetHealthChecker) Current() TargetHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return TargetHealth{Target: c.target.Name(), Status: TargetStatusUnknown}
	}
	return *c.last
}

// Start begins periodic checking.
// nolint:naked-goroutine // health checker ticker loop; doesn't fit worker pool pattern.
func (c *TargetHealthChecker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		c.Check(ctx)

		for {
			select {
			case <-ticker.C:
				c.Check(ctx)
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts periodic checking. Safe to call more than once.
func (c *TargetHealthChecker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
}

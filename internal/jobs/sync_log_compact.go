package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// DefaultSyncLogRetention is how long sync logs keep their XML bodies.
const DefaultSyncLogRetention = 90 * 24 * time.Hour

// SyncLogCompactor drops the bodies of sync logs created before a cutoff.
type SyncLogCompactor interface {
	CompactSyncLogs(ctx context.Context, before time.Time) (int64, error)
}

// SyncLogCompactWorker strips request and response XML from old sync logs.
// The rows themselves stay; requests keep pointing at them.
type SyncLogCompactWorker struct {
	river.WorkerDefaults[SyncLogCompactArgs]
	store     SyncLogCompactor
	retention time.Duration
	now       func() time.Time
}

// NewSyncLogCompactWorker creates a compaction worker. Non-positive retention
// falls back to DefaultSyncLogRetention.
func NewSyncLogCompactWorker(store SyncLogCompactor, retention time.Duration) *SyncLogCompactWorker {
	if retention <= 0 {
		retention = DefaultSyncLogRetention
	}
	return &SyncLogCompactWorker{
		store:     store,
		retention: retention,
		now:       time.Now,
	}
}

// Work compacts expired sync logs.
func (w *SyncLogCompactWorker) Work(ctx context.Context, _ *river.Job[SyncLogCompactArgs]) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("sync log compact worker is not initialized")
	}

	cutoff := w.now().UTC().Add(-w.retention)
	compacted, err := w.store.CompactSyncLogs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("compact sync logs before %s: %w", cutoff.Format(time.RFC3339), err)
	}

	logger.Info("sync log compaction completed",
		zap.Int64("compacted_rows", compacted),
		zap.String("cutoff", cutoff.Format(time.RFC3339)),
		zap.Duration("retention", w.retention),
	)
	return nil
}

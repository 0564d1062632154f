package jobs

import (
	"context"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// MasterCreator creates the master of an approved request.
// *usecase.SyncGateway satisfies it.
type MasterCreator interface {
	CreateMaster(ctx context.Context, requestID string) (string, error)
}

// MasterCreateWorker runs approved requests against the target system.
//
// Target failures are written to the request by the creator and end the
// job; the request then waits in Failed for an operator retry, which queues a
// new job. Only failures that happened before the outcome was recorded are
// returned to River.
type MasterCreateWorker struct {
	river.WorkerDefaults[MasterCreateArgs]
	creator MasterCreator
}

// NewMasterCreateWorker creates a MasterCreateWorker.
func NewMasterCreateWorker(creator MasterCreator) *MasterCreateWorker {
	return &MasterCreateWorker{creator: creator}
}

// Work creates the master.
func (w *MasterCreateWorker) Work(ctx context.Context, job *river.Job[MasterCreateArgs]) error {
	fields := []zap.Field{
		logger.RequestID(job.Args.RequestID),
		zap.Int("dispatch", job.Args.Attempt),
		zap.Int("job_attempt", job.Attempt),
	}
	logger.Info("Processing master creation job", fields...)

	logID, err := w.creator.CreateMaster(ctx, job.Args.RequestID)
	switch {
	case err == nil:
		logger.Info("Master creation job completed", append(fields, logger.SyncLogID(logID))...)
		return nil
	case apperrors.IsSyncFailure(err):
		return nil
	}
	return cancelOrRetry(err, job.Kind, fields...)
}

package jobs

import (
	"context"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// TransactionPusher posts a source transaction to the target system.
// *usecase.SyncGateway satisfies it.
type TransactionPusher interface {
	PushTransaction(ctx context.Context, ref domain.DocumentRef, company string) error
}

// TransactionPushWorker posts transactions whose masters were just created.
// A push still waiting for other masters returns nil; the completion of the
// last one queues another job. Target failures are retried by River up to
// the job's MaxAttempts.
type TransactionPushWorker struct {
	river.WorkerDefaults[TransactionPushArgs]
	pusher TransactionPusher
}

// NewTransactionPushWorker creates a TransactionPushWorker.
func NewTransactionPushWorker(pusher TransactionPusher) *TransactionPushWorker {
	return &TransactionPushWorker{pusher: pusher}
}

// Work pushes the transaction.
func (w *TransactionPushWorker) Work(ctx context.Context, job *river.Job[TransactionPushArgs]) error {
	ref := domain.DocumentRef{Doctype: job.Args.Doctype, Name: job.Args.Document}
	fields := []zap.Field{
		logger.Document(ref.Doctype, ref.Name),
		logger.Company(job.Args.Company),
		zap.Int("job_attempt", job.Attempt),
	}
	logger.Info("Processing transaction push job", fields...)

	if err := w.pusher.PushTransaction(ctx, ref, job.Args.Company); err != nil {
		return cancelOrRetry(err, job.Kind, fields...)
	}
	return nil
}

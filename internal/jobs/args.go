// Package jobs defines River Queue job types for async processing.
//
// Jobs carry only identifiers; workers load current state from the store.
package jobs

import (
	"time"

	"github.com/riverqueue/river"
)

// Queues used by the workers in this package.
const (
	QueueMasters      = "master_sync"
	QueueTransactions = "transaction_push"
)

// ---------------------------------------------------------------------------
// Job Args
// ---------------------------------------------------------------------------

// MasterCreateArgs asks the sync gateway to create the master of one approved
// request. Attempt is the dispatch number, so a retry is a distinct job.
type MasterCreateArgs struct {
	RequestID string `json:"request_id"`
	Attempt   int    `json:"attempt"`
}

// Kind returns the job kind identifier for master creation.
func (MasterCreateArgs) Kind() string { return "master_create" }

// InsertOpts returns default insert options for master creation jobs.
// River re-runs a job only when it failed before the target call was
// recorded; target failures are final and wait for an operator retry.
func (MasterCreateArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueMasters,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

// TransactionPushArgs asks the sync gateway to post a transaction whose
// masters have been created.
type TransactionPushArgs struct {
	Doctype  string `json:"doctype"`
	Document string `json:"document"`
	Company  string `json:"company"`
}

// Kind returns the job kind identifier for transaction push.
func (TransactionPushArgs) Kind() string { return "transaction_push" }

// InsertOpts returns default insert options for transaction push jobs.
// Callers override MaxAttempts with sync.push_max_attempts.
func (TransactionPushArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueTransactions,
		MaxAttempts: 5,
	}
}

// CatalogRefreshArgs refreshes the master catalog of every configured company.
type CatalogRefreshArgs struct{}

// Kind returns the job kind identifier for the periodic catalog refresh.
func (CatalogRefreshArgs) Kind() string { return "catalog_refresh" }

// InsertOpts keeps at most one refresh queued per minute.
func (CatalogRefreshArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// SyncLogCompactArgs is a periodic maintenance job that drops request and
// response bodies from old sync logs.
type SyncLogCompactArgs struct{}

// Kind returns the job kind identifier for sync log compaction.
func (SyncLogCompactArgs) Kind() string { return "sync_log_compact" }

// InsertOpts ensures at most one compaction job is enqueued within the same day.
func (SyncLogCompactArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

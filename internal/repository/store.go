// Package repository persists master creation requests, sync logs and
// transaction push state.
package repository

import (
	"context"
	"time"

	"github.com/riverqueue/river"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

// Tx is handed to an UpdateFunc. Jobs enqueued through it are committed
// together with the request row, or not at all.
type Tx interface {
	Enqueue(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) error
}

// UpdateFunc computes the next state of a request from a private copy of
// the current one. Returning nil leaves the request untouched.
type UpdateFunc func(ctx context.Context, current *domain.MasterCreationRequest, tx Tx) (*domain.MasterCreationRequest, error)

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Company    string
	Status     []domain.Status
	MasterType domain.MasterType
	AssignedTo string
	Limit      int
	Offset     int
}

// RequestStore is the durable home of master creation requests.
//
// Implementations guarantee at most one active request per identity, refuse
// updates whose notification history does not extend the stored one, and
// bump Version on every write.
type RequestStore interface {
	// CreateOrGetActive inserts req unless an active request with the same
	// identity exists, in which case that one is returned with created=false.
	CreateOrGetActive(ctx context.Context, req *domain.MasterCreationRequest) (got *domain.MasterCreationRequest, created bool, err error)
	Get(ctx context.Context, id string) (*domain.MasterCreationRequest, error)
	// FindActive returns nil when no active request exists.
	FindActive(ctx context.Context, id domain.Identity) (*domain.MasterCreationRequest, error)
	// List orders by priority, then creation time.
	List(ctx context.Context, filter ListFilter) ([]*domain.MasterCreationRequest, error)
	// Update applies fn under a row lock and persists its result
	// conditionally on the status and version it was computed from.
	Update(ctx context.Context, id string, fn UpdateFunc) (*domain.MasterCreationRequest, error)
}

// SyncLogStore records calls to the target system.
type SyncLogStore interface {
	InsertSyncLog(ctx context.Context, log *domain.SyncLog) error
	ListSyncLogs(ctx context.Context, requestID string) ([]domain.SyncLog, error)
	// CompactSyncLogs drops request and response bodies of logs older than
	// before and returns how many rows changed.
	CompactSyncLogs(ctx context.Context, before time.Time) (int64, error)
}

// PushStore records transaction push state.
type PushStore interface {
	UpsertPush(ctx context.Context, push domain.TransactionPush) error
	GetPush(ctx context.Context, ref domain.DocumentRef) (*domain.TransactionPush, error)
}

// Store combines every persistence concern.
type Store interface {
	RequestStore
	SyncLogStore
	PushStore
}

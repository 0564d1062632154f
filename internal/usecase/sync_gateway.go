// Package usecase provides application use cases.
//
// SyncGateway is the only caller of the target system's write operations.
// Request transitions and the jobs they queue commit in one store
// transaction; target calls happen outside any transaction.
package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/provider"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

// Catalog is the part of the master catalog the gateway uses.
type Catalog interface {
	ForceRefresh(ctx context.Context, company string) (*catalog.Snapshot, error)
	Record(company string, t domain.MasterType, name string)
}

// Resolver re-checks a transaction's dependencies before it is pushed.
type Resolver interface {
	Resolve(ctx context.Context, doc domain.TransactionDocument) (resolver.Resolution, error)
}

// Notifier resolves the history entries a transition appends.
type Notifier interface {
	Entries(ctx context.Context, event domain.NotificationEvent, req *domain.MasterCreationRequest) ([]domain.NotificationEntry, error)
}

// EventPublisher receives events after they are committed.
type EventPublisher interface {
	DispatchAll(ctx context.Context, events []*domain.DomainEvent)
}

// Pool runs target calls in isolation. *worker.Pool satisfies it.
type Pool interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// SyncConfig holds gateway settings.
type SyncConfig struct {
	// Timeout bounds every target call.
	Timeout         time.Duration
	MaxNameLength   int
	PushMaxAttempts int
	TargetCompany   func(company string) string
}

// SyncGateway creates approved masters and pushes their transactions.
type SyncGateway struct {
	store    repository.Store
	target   provider.TargetSystem
	catalog  Catalog
	docs     source.Documents
	resolver Resolver
	notifier Notifier
	events   EventPublisher
	pool     Pool
	locks    *keylock.Locker
	cfg      SyncConfig
	now      func() time.Time

	// OnSync observes every recorded target call. Optional.
	OnSync func(log domain.SyncLog)
}

// SyncDeps groups the collaborators of a SyncGateway.
type SyncDeps struct {
	Store    repository.Store
	Target   provider.TargetSystem
	Catalog  Catalog
	Docs     source.Documents
	Resolver Resolver
	Notifier Notifier
	Events   EventPublisher
	// Pool is optional; without one calls run on the caller's goroutine.
	Pool  Pool
	Locks *keylock.Locker
}

// NewSyncGateway creates a SyncGateway.
func NewSyncGateway(deps SyncDeps, cfg SyncConfig) *SyncGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 100
	}
	if cfg.PushMaxAttempts <= 0 {
		cfg.PushMaxAttempts = 5
	}
	if cfg.TargetCompany == nil {
		cfg.TargetCompany = func(c string) string { return c }
	}
	locks := deps.Locks
	if locks == nil {
		locks = keylock.New()
	}
	return &SyncGateway{
		store:    deps.Store,
		target:   deps.Target,
		catalog:  deps.Catalog,
		docs:     deps.Docs,
		resolver: deps.Resolver,
		notifier: deps.Notifier,
		events:   deps.Events,
		pool:     deps.Pool,
		locks:    locks,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides time.Now.
func (g *SyncGateway) SetClock(now func() time.Time) { g.now = now }

// IsRecordedFailure reports whether err is a target failure that has
// already been written to the request. Such failures wait for an operator
// retry and must not be retried by the job queue.
func IsRecordedFailure(err error) bool {
	return apperrors.IsSyncFailure(err)
}

// CreateMaster creates the master of an approved (or retried) request and
// returns the sync log ID of the call.
//
// Structural problems with the payload fail with VALIDATION_FAILED before
// any transition. When the previous dispatch ended without a known outcome
// the catalog is refreshed first, and a master that now exists completes the
// request without a second submission.
func (g *SyncGateway) CreateMaster(ctx context.Context, requestID string) (string, error) {
	req, err := g.store.Get(ctx, requestID)
	if err != nil {
		return "", err
	}
	unlock, err := g.locks.Lock(ctx, req.Identity().Key())
	if err != nil {
		return "", err
	}
	defer unlock()

	req, err = g.store.Get(ctx, requestID)
	if err != nil {
		return "", err
	}
	switch req.Status {
	case domain.StatusCompleted:
		return req.SyncLogID, nil
	case domain.StatusApproved, domain.StatusInProgress:
	default:
		return "", apperrors.ErrInvalidTransition(string(req.Status), string(domain.StatusInProgress))
	}

	payload := req.BuildPayload(g.cfg.TargetCompany(req.Company))
	if req.CreationPayload != nil {
		payload = *req.CreationPayload
	}
	if payload.TargetCompany == "" {
		payload.TargetCompany = g.cfg.TargetCompany(req.Company)
	}
	if err := payload.Validate(g.cfg.MaxNameLength); err != nil {
		return "", err
	}

	unknown := req.Attempts > 0 && (req.SyncErrorKind == "" || req.SyncErrorKind.OutcomeUnknown())

	dispatched, err := g.store.Update(ctx, requestID, func(_ context.Context, cur *domain.MasterCreationRequest, _ repository.Tx) (*domain.MasterCreationRequest, error) {
		if cur.Status != domain.StatusApproved && cur.Status != domain.StatusInProgress {
			return nil, apperrors.ErrInvalidTransition(string(cur.Status), string(domain.StatusInProgress))
		}
		cur.Status = domain.StatusInProgress
		cur.Attempts++
		cur.SyncError = ""
		cur.SyncErrorKind = ""
		return cur, nil
	})
	if err != nil {
		return "", err
	}
	if req.Status == domain.StatusApproved {
		g.publish(ctx, g.event(domain.EventRequestInProgress, req.Status, dispatched, "", nil))
	}

	log := &domain.SyncLog{
		RequestID: requestID,
		Operation: domain.OperationCreateMaster,
		Target:    g.target.Name(),
		Company:   payload.TargetCompany,
	}

	var callErr error
	if unknown {
		exists, verifyErr := g.existsAfterRefresh(ctx, req.Company, payload)
		switch {
		case verifyErr != nil:
			callErr = &provider.SyncError{Kind: domain.SyncUnreachable, Message: "verify previous attempt", Err: verifyErr}
		case exists:
			logger.Info("Master found in target after an unknown outcome; not resubmitting",
				logger.RequestID(requestID),
				logger.MasterName(payload.Name),
			)
			return g.finish(ctx, dispatched, log, nil)
		}
	}
	if callErr == nil {
		callErr = g.call(ctx, func(ctx context.Context) (*provider.Result, error) {
			return g.target.CreateMaster(ctx, payload.TargetCompany, payload)
		}, log)
	}
	return g.finish(ctx, dispatched, log, callErr)
}

func (g *SyncGateway) existsAfterRefresh(ctx context.Context, company string, payload domain.CreationPayload) (bool, error) {
	snap, err := g.catalog.ForceRefresh(ctx, company)
	if err != nil {
		return false, err
	}
	return snap.Has(payload.MasterType.Kind(), payload.Name), nil
}

// call runs fn on the sync pool under the configured timeout and fills log
// with the exchange.
func (g *SyncGateway) call(ctx context.Context, fn func(ctx context.Context) (*provider.Result, error), log *domain.SyncLog) error {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type outcome struct {
		res *provider.Result
		err error
	}
	out := make(chan outcome, 1)
	run := func(ctx context.Context) error {
		res, err := fn(ctx)
		out <- outcome{res: res, err: err}
		return nil
	}

	start := time.Now()
	var runErr error
	if g.pool != nil {
		runErr = g.pool.Do(callCtx, run)
	} else {
		runErr = run(callCtx)
	}

	var o outcome
	select {
	case o = <-out:
	default:
		o.err = runErr
	}
	log.Duration = time.Since(start)

	if o.err == nil {
		if o.res != nil {
			log.RequestXML = o.res.RequestXML
			log.ResponseXML = o.res.ResponseXML
			log.StatusCode = o.res.StatusCode
		}
		return nil
	}

	se, ok := provider.AsSyncError(o.err)
	if !ok {
		kind := domain.SyncUnreachable
		if errors.Is(o.err, context.DeadlineExceeded) {
			kind = domain.SyncTimeout
		}
		se = &provider.SyncError{Kind: kind, Message: o.err.Error(), Err: o.err}
	}
	log.RequestXML = se.Exchange.RequestXML
	log.ResponseXML = se.Exchange.ResponseXML
	log.StatusCode = se.Exchange.StatusCode
	return se
}

// finish records the outcome of a dispatch and moves the request to
// Completed or Failed.
func (g *SyncGateway) finish(ctx context.Context, req *domain.MasterCreationRequest, log *domain.SyncLog, callErr error) (string, error) {
	log.ID = newID()
	log.CreatedAt = g.now().UTC()
	log.Success = callErr == nil
	var se *provider.SyncError
	if callErr != nil {
		se, _ = provider.AsSyncError(callErr)
		log.ErrorKind = se.Kind
		log.ErrorMessage = se.Error()
	}
	if err := g.store.InsertSyncLog(ctx, log); err != nil {
		return "", fmt.Errorf("record sync log: %w", err)
	}
	if g.OnSync != nil {
		g.OnSync(*log)
	}

	to := domain.StatusCompleted
	notify := domain.NotifyCompleted
	if callErr != nil {
		to = domain.StatusFailed
		notify = domain.NotifyFailed
	}

	updated, err := g.store.Update(ctx, req.ID, func(ctx context.Context, cur *domain.MasterCreationRequest, tx repository.Tx) (*domain.MasterCreationRequest, error) {
		if cur.Status != domain.StatusInProgress {
			return nil, apperrors.ErrInvalidTransition(string(cur.Status), string(to))
		}
		cur.Status = to
		cur.SyncLogID = log.ID
		if callErr != nil {
			cur.SyncError = log.ErrorMessage
			cur.SyncErrorKind = log.ErrorKind
		} else {
			now := g.now().UTC()
			cur.CompletedAt = &now
			cur.SyncError = ""
			cur.SyncErrorKind = ""
		}

		entries, err := g.notifier.Entries(ctx, notify, cur)
		if err != nil {
			return nil, err
		}
		cur.NotificationHistory = cur.NotificationHistory.Append(entries...)

		if callErr == nil && cur.LinkedTransaction != nil {
			args := jobs.TransactionPushArgs{
				Doctype:  cur.LinkedTransaction.Doctype,
				Document: cur.LinkedTransaction.Name,
				Company:  cur.Company,
			}
			if err := tx.Enqueue(ctx, args, &river.InsertOpts{MaxAttempts: g.cfg.PushMaxAttempts}); err != nil {
				return nil, err
			}
		}
		return cur, nil
	})
	if err != nil {
		return log.ID, err
	}

	if callErr != nil {
		logger.Warn("Master creation failed",
			logger.RequestID(updated.ID),
			logger.Company(updated.Company),
			logger.MasterType(string(updated.MasterType)),
			logger.MasterName(updated.EffectiveName()),
			zap.String("error_kind", string(log.ErrorKind)),
			zap.String("error", log.ErrorMessage),
			zap.Int("attempts", updated.Attempts),
		)
		g.publish(ctx, g.event(domain.EventRequestFailed, req.Status, updated, log.ID, updated.NotificationHistory.Since(req.NotificationHistory.Len())))
		return log.ID, syncAppError(se)
	}

	g.catalog.Record(updated.Company, updated.MasterType, updated.EffectiveName())
	logger.Info("Master created in target",
		logger.RequestID(updated.ID),
		logger.Company(updated.Company),
		logger.MasterType(string(updated.MasterType)),
		logger.MasterName(updated.EffectiveName()),
		zap.Duration("duration", log.Duration),
	)
	g.publish(ctx, g.event(domain.EventRequestCompleted, req.Status, updated, log.ID, updated.NotificationHistory.Since(req.NotificationHistory.Len())))
	return log.ID, nil
}

// PushTransaction posts ref to the target once every master it needs
// exists. A transaction still waiting for masters is recorded as Pending and
// left for the next completion to push.
func (g *SyncGateway) PushTransaction(ctx context.Context, ref domain.DocumentRef, company string) error {
	existing, err := g.store.GetPush(ctx, ref)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == domain.PushCompleted {
		return nil
	}
	push := domain.TransactionPush{Doctype: ref.Doctype, Document: ref.Name, Company: company}
	if existing != nil {
		push = *existing
	}

	doc, err := g.docs.Fetch(ctx, ref)
	if err != nil {
		return source.AsAppError(ref, err)
	}
	if doc.Company != "" {
		push.Company = doc.Company
	}

	res, err := g.resolver.Resolve(ctx, doc)
	if err != nil {
		return err
	}
	if !res.Ready() {
		missing := make([]string, len(res.Missing))
		for i, m := range res.Missing {
			missing[i] = fmt.Sprintf("%s %q", m.Type, m.Name)
		}
		push.Status = domain.PushPending
		push.LastError = "waiting for masters: " + strings.Join(missing, ", ")
		push.UpdatedAt = g.now().UTC()
		logger.Info("Transaction push deferred",
			logger.Document(ref.Doctype, ref.Name),
			zap.Int("missing", len(res.Missing)),
		)
		return g.store.UpsertPush(ctx, push)
	}

	voucher, err := provider.VoucherFromDocument(doc)
	if err != nil {
		push.Status = domain.PushFailed
		push.LastError = err.Error()
		push.UpdatedAt = g.now().UTC()
		if upErr := g.store.UpsertPush(ctx, push); upErr != nil {
			return upErr
		}
		return apperrors.ErrValidation("document", err.Error())
	}

	targetCompany := g.cfg.TargetCompany(push.Company)
	log := &domain.SyncLog{
		Operation: domain.OperationPushTransaction,
		Target:    g.target.Name(),
		Company:   targetCompany,
	}
	callErr := g.call(ctx, func(ctx context.Context) (*provider.Result, error) {
		return g.target.PostVoucher(ctx, targetCompany, voucher)
	}, log)

	log.ID = newID()
	log.CreatedAt = g.now().UTC()
	log.Success = callErr == nil
	if callErr != nil {
		se, _ := provider.AsSyncError(callErr)
		log.ErrorKind = se.Kind
		log.ErrorMessage = se.Error()
	}
	if err := g.store.InsertSyncLog(ctx, log); err != nil {
		return fmt.Errorf("record sync log: %w", err)
	}
	if g.OnSync != nil {
		g.OnSync(*log)
	}

	push.Attempts++
	push.SyncLogID = log.ID
	push.UpdatedAt = g.now().UTC()
	if callErr == nil {
		push.Status = domain.PushCompleted
		push.LastError = ""
	} else {
		push.Status = domain.PushFailed
		push.LastError = log.ErrorMessage
	}
	if err := g.store.UpsertPush(ctx, push); err != nil {
		return err
	}

	eventType := domain.EventTransactionPushed
	if callErr != nil {
		eventType = domain.EventTransactionPushFailed
	}
	payload, _ := domain.PushPayload{
		Doctype:   ref.Doctype,
		Document:  ref.Name,
		Company:   push.Company,
		Attempt:   push.Attempts,
		SyncLogID: log.ID,
		Error:     push.LastError,
	}.ToJSON()
	g.publish(ctx, &domain.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: domain.AggregateTransaction,
		AggregateID:   ref.String(),
		Payload:       payload,
		CreatedBy:     domain.SystemActor.UserID,
		CreatedAt:     g.now().UTC(),
	})

	if callErr != nil {
		logger.Warn("Transaction push failed",
			logger.Document(ref.Doctype, ref.Name),
			zap.Int("attempt", push.Attempts),
			zap.String("error", push.LastError),
		)
		se, _ := provider.AsSyncError(callErr)
		return syncAppError(se)
	}
	logger.Info("Transaction pushed",
		logger.Document(ref.Doctype, ref.Name),
		logger.Company(push.Company),
		zap.Duration("duration", log.Duration),
	)
	return nil
}

func (g *SyncGateway) event(eventType domain.EventType, from domain.Status, req *domain.MasterCreationRequest, syncLogID string, entries []domain.NotificationEntry) *domain.DomainEvent {
	payload, _ := domain.TransitionPayload{
		RequestID:  req.ID,
		Company:    req.Company,
		MasterType: req.MasterType,
		MasterName: req.MasterName,
		From:       from,
		To:         req.Status,
		Actor:      domain.SystemActor.UserID,
		SyncLogID:  syncLogID,
		ErrorKind:  req.SyncErrorKind,
	}.ToJSON()
	return &domain.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: domain.AggregateMasterRequest,
		AggregateID:   req.ID,
		Payload:       payload,
		CreatedBy:     domain.SystemActor.UserID,
		CreatedAt:     g.now().UTC(),
		Request:       req,
		Notifications: entries,
	}
}

func (g *SyncGateway) publish(ctx context.Context, events ...*domain.DomainEvent) {
	if g.events == nil || len(events) == 0 {
		return
	}
	g.events.DispatchAll(ctx, events)
}

// syncAppError maps a classified target failure to the API taxonomy.
func syncAppError(se *provider.SyncError) *apperrors.AppError {
	code, status := apperrors.CodeSyncRejected, http.StatusBadGateway
	switch se.Kind {
	case domain.SyncUnreachable:
		code = apperrors.CodeSyncUnreachable
	case domain.SyncDuplicateConflict:
		code = apperrors.CodeSyncDuplicateConflict
	case domain.SyncTimeout:
		code, status = apperrors.CodeSyncTimeout, http.StatusGatewayTimeout
	}
	return apperrors.Wrap(se, code, se.Message, status).WithParam("error_kind", string(se.Kind))
}

func newID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

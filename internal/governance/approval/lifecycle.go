// Package approval drives master creation requests through their approval
// lifecycle: Pending Approval → Approved or Rejected, Failed → In Progress.
//
// Every transition runs under a per-identity lock, persists in one store
// transaction together with its history entries and queued jobs, and emits
// domain events after commit.
package approval

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/authz"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

// Store is the part of the request store the lifecycle uses.
type Store interface {
	Get(ctx context.Context, id string) (*domain.MasterCreationRequest, error)
	Update(ctx context.Context, id string, fn repository.UpdateFunc) (*domain.MasterCreationRequest, error)
	ListSyncLogs(ctx context.Context, requestID string) ([]domain.SyncLog, error)
}

// Notifier resolves the history entries a transition appends.
type Notifier interface {
	Entries(ctx context.Context, event domain.NotificationEvent, req *domain.MasterCreationRequest) ([]domain.NotificationEntry, error)
}

// Authorizer decides whether an actor holds a permission.
type Authorizer interface {
	Authorize(actor domain.Actor, perm string) error
}

// EventPublisher receives events after they are committed.
type EventPublisher interface {
	DispatchAll(ctx context.Context, events []*domain.DomainEvent)
}

// Auditor records approval decisions. Optional.
type Auditor interface {
	LogDecision(ctx context.Context, requestID, decision, actor string, details map[string]interface{}) error
}

// Catalog reports what the target system already holds.
type Catalog interface {
	Snapshot(ctx context.Context, company string) (*catalog.Snapshot, error)
	ForceRefresh(ctx context.Context, company string) (*catalog.Snapshot, error)
}

// TargetCheck says whether the requested master already exists in the
// target system, and how old the catalog answer is.
type TargetCheck struct {
	Exists   bool       `json:"exists"`
	LoadedAt *time.Time `json:"loaded_at,omitempty"`
	// Refreshed is set when the catalog was exported for this check.
	Refreshed bool   `json:"refreshed"`
	Error     string `json:"error,omitempty"`
}

// ApproveInput carries an approver's decision.
type ApproveInput struct {
	Notes          string `json:"notes"`
	ModifiedName   string `json:"modified_name"`
	ModifiedParent string `json:"modified_parent"`
	// ConfirmDrift proceeds even though the source changed since the
	// request was raised.
	ConfirmDrift bool `json:"confirm_drift"`
}

// Details is the approver's view of a request.
type Details struct {
	Request *domain.MasterCreationRequest `json:"request"`
	// Current is the live source state, nil when it could not be read.
	Current *domain.SourceSnapshot `json:"current,omitempty"`
	Drift   domain.DriftReport     `json:"drift"`
	// SourceError explains why Current is missing.
	SourceError string `json:"source_error,omitempty"`
	// SuggestedName is a name the target system accepts; empty when the
	// requested name is already acceptable.
	SuggestedName string `json:"suggested_name,omitempty"`
	// Target is nil when the lifecycle has no catalog.
	Target   *TargetCheck               `json:"target,omitempty"`
	Allowed  []domain.Status            `json:"allowed_transitions"`
	SyncLogs []domain.SyncLog           `json:"sync_logs"`
	History  []domain.NotificationEntry `json:"history"`
}

// Config holds lifecycle settings.
type Config struct {
	// TargetCompany maps a source company to its target company name.
	TargetCompany func(company string) string
	// MaxNameLength is the longest master name the target accepts, in runes.
	MaxNameLength int
}

// Lifecycle implements approve, reject and retry.
type Lifecycle struct {
	store    Store
	docs     source.Documents
	notifier Notifier
	authz    Authorizer
	events   EventPublisher
	auditor  Auditor
	catalog  Catalog
	locks    *keylock.Locker
	cfg      Config
	now      func() time.Time
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Lifecycle) { l.now = now }
}

// WithLocker shares a per-identity locker with the resolver and the sync gateway.
func WithLocker(locks *keylock.Locker) Option {
	return func(l *Lifecycle) { l.locks = locks }
}

// WithAuditor records decisions in the audit log.
func WithAuditor(a Auditor) Option {
	return func(l *Lifecycle) { l.auditor = a }
}

// WithCatalog lets Details report whether the master already exists in the
// target system.
func WithCatalog(c Catalog) Option {
	return func(l *Lifecycle) { l.catalog = c }
}

// NewLifecycle creates a Lifecycle. events may be nil.
func NewLifecycle(store Store, docs source.Documents, notifier Notifier, authorizer Authorizer, events EventPublisher, cfg Config, opts ...Option) *Lifecycle {
	if cfg.TargetCompany == nil {
		cfg.TargetCompany = func(c string) string { return c }
	}
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = 100
	}
	l := &Lifecycle{
		store:    store,
		docs:     docs,
		notifier: notifier,
		authz:    authorizer,
		events:   events,
		locks:    keylock.New(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// approvedOrLater are the states in which an approve call is a no-op.
var approvedOrLater = map[domain.Status]bool{
	domain.StatusApproved:   true,
	domain.StatusInProgress: true,
	domain.StatusCompleted:  true,
	domain.StatusFailed:     true,
}

// Approve approves a pending request, freezes its creation payload and
// queues master creation in the same transaction.
//
// The effective name and parent are checked before anything else changes,
// so a request that reaches Approved can always be dispatched. When the
// source document changed since the request was raised, Approve fails with
// DRIFT_DETECTED unless in.ConfirmDrift is set.
func (l *Lifecycle) Approve(ctx context.Context, actor domain.Actor, id string, in ApproveInput) (*domain.MasterCreationRequest, error) {
	if err := l.authz.Authorize(actor, authz.PermRequestApprove); err != nil {
		return nil, err
	}
	in.Notes = strings.TrimSpace(in.Notes)
	in.ModifiedName = strings.TrimSpace(in.ModifiedName)
	in.ModifiedParent = strings.TrimSpace(in.ModifiedParent)
	if in.ModifiedName != "" {
		if err := l.validateName("modified_name", in.ModifiedName); err != nil {
			return nil, err
		}
	}

	req, unlock, err := l.lockRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if approvedOrLater[req.Status] {
		return req, nil
	}
	if req.Status != domain.StatusPendingApproval {
		return nil, apperrors.ErrInvalidTransition(string(req.Status), string(domain.StatusApproved))
	}

	preview := req.Clone()
	applyOverrides(preview, in)
	if err := preview.BuildPayload(l.cfg.TargetCompany(preview.Company)).Validate(l.cfg.MaxNameLength); err != nil {
		return nil, err
	}

	drift, _, err := l.checkDrift(ctx, req)
	if err != nil {
		return nil, err
	}
	if drift.HasDrift() && !in.ConfirmDrift {
		logger.Info("Approval blocked by source drift",
			logger.RequestID(req.ID),
			logger.Actor(actor.UserID),
			zap.Strings("changed_fields", drift.Fields()),
		)
		return nil, apperrors.ErrDriftDetected(drift.Fields())
	}

	updated, err := l.store.Update(ctx, id, func(ctx context.Context, cur *domain.MasterCreationRequest, tx repository.Tx) (*domain.MasterCreationRequest, error) {
		if approvedOrLater[cur.Status] {
			return nil, nil
		}
		if cur.Status != domain.StatusPendingApproval {
			return nil, apperrors.ErrInvalidTransition(string(cur.Status), string(domain.StatusApproved))
		}

		now := l.now().UTC()
		cur.Status = domain.StatusApproved
		cur.ApprovedBy = actor.UserID
		cur.ApprovedAt = &now
		cur.ApproverNotes = in.Notes
		applyOverrides(cur, in)
		if drift.HasDrift() {
			cur.DriftAcknowledged = drift.Fields()
		}
		payload := cur.BuildPayload(l.cfg.TargetCompany(cur.Company))
		cur.CreationPayload = &payload

		entries, err := l.notifier.Entries(ctx, domain.NotifyApproved, cur)
		if err != nil {
			return nil, err
		}
		cur.NotificationHistory = cur.NotificationHistory.Append(entries...)

		if err := tx.Enqueue(ctx, jobs.MasterCreateArgs{RequestID: cur.ID, Attempt: cur.Attempts + 1}, nil); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Version == req.Version {
		return updated, nil
	}

	logger.Info("Master creation request approved",
		logger.RequestID(updated.ID),
		logger.Company(updated.Company),
		logger.MasterType(string(updated.MasterType)),
		logger.MasterName(updated.EffectiveName()),
		logger.Actor(actor.UserID),
	)
	l.audit(ctx, updated.ID, "approved", actor, map[string]interface{}{
		"notes":              updated.ApproverNotes,
		"modified_name":      updated.ModifiedName,
		"modified_parent":    updated.ModifiedParent,
		"drift_acknowledged": updated.DriftAcknowledged,
	})

	events := []*domain.DomainEvent{l.event(domain.EventRequestApproved, req.Status, updated, actor, "", updated.NotificationHistory.Since(req.NotificationHistory.Len()))}
	if drift.HasDrift() {
		events = append(events, l.event(domain.EventDriftAcknowledged, req.Status, updated, actor, "", nil, drift.Fields()...))
	}
	l.publish(ctx, events)
	return updated, nil
}

// Reject rejects a pending request. reason is required.
func (l *Lifecycle) Reject(ctx context.Context, actor domain.Actor, id, reason string) (*domain.MasterCreationRequest, error) {
	if err := l.authz.Authorize(actor, authz.PermRequestReject); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.ErrValidation("reason", "rejection reason is required")
	}

	req, unlock, err := l.lockRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := l.store.Update(ctx, id, func(ctx context.Context, cur *domain.MasterCreationRequest, _ repository.Tx) (*domain.MasterCreationRequest, error) {
		if cur.Status == domain.StatusRejected {
			return nil, nil
		}
		if !domain.CanTransition(cur.Status, domain.StatusRejected) {
			return nil, apperrors.ErrInvalidTransition(string(cur.Status), string(domain.StatusRejected))
		}

		now := l.now().UTC()
		cur.Status = domain.StatusRejected
		cur.RejectedBy = actor.UserID
		cur.RejectedAt = &now
		cur.RejectionReason = reason

		entries, err := l.notifier.Entries(ctx, domain.NotifyRejected, cur)
		if err != nil {
			return nil, err
		}
		cur.NotificationHistory = cur.NotificationHistory.Append(entries...)
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Version == req.Version {
		return updated, nil
	}

	logger.Info("Master creation request rejected",
		logger.RequestID(updated.ID),
		logger.MasterName(updated.MasterName),
		logger.Actor(actor.UserID),
		zap.String("reason", reason),
	)
	l.audit(ctx, updated.ID, "rejected", actor, map[string]interface{}{"reason": reason})
	l.publish(ctx, []*domain.DomainEvent{l.event(domain.EventRequestRejected, req.Status, updated, actor, reason, updated.NotificationHistory.Since(req.NotificationHistory.Len()))})
	return updated, nil
}

// Retry re-dispatches a failed request with its frozen payload. A payload
// the target would refuse fails with VALIDATION_FAILED and leaves the
// request Failed.
func (l *Lifecycle) Retry(ctx context.Context, actor domain.Actor, id string) (*domain.MasterCreationRequest, error) {
	if err := l.authz.Authorize(actor, authz.PermRequestRetry); err != nil {
		return nil, err
	}

	req, unlock, err := l.lockRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	updated, err := l.store.Update(ctx, id, func(ctx context.Context, cur *domain.MasterCreationRequest, tx repository.Tx) (*domain.MasterCreationRequest, error) {
		if cur.Status == domain.StatusInProgress {
			return nil, nil
		}
		if cur.Status != domain.StatusFailed {
			return nil, apperrors.ErrInvalidTransition(string(cur.Status), string(domain.StatusInProgress))
		}

		payload := cur.BuildPayload(l.cfg.TargetCompany(cur.Company))
		if cur.CreationPayload != nil {
			payload = *cur.CreationPayload
		}
		if err := payload.Validate(l.cfg.MaxNameLength); err != nil {
			return nil, err
		}
		cur.Status = domain.StatusInProgress
		cur.CreationPayload = &payload

		entries, err := l.notifier.Entries(ctx, domain.NotifyRetried, cur)
		if err != nil {
			return nil, err
		}
		cur.NotificationHistory = cur.NotificationHistory.Append(entries...)

		if err := tx.Enqueue(ctx, jobs.MasterCreateArgs{RequestID: cur.ID, Attempt: cur.Attempts + 1}, nil); err != nil {
			return nil, err
		}
		return cur, nil
	})
	if err != nil {
		return nil, err
	}
	if updated.Version == req.Version {
		return updated, nil
	}

	logger.Info("Master creation retried",
		logger.RequestID(updated.ID),
		logger.MasterName(updated.EffectiveName()),
		logger.Actor(actor.UserID),
		zap.Int("attempts", updated.Attempts),
		zap.String("last_error_kind", string(updated.SyncErrorKind)),
	)
	l.audit(ctx, updated.ID, "retried", actor, map[string]interface{}{"attempts": updated.Attempts})
	l.publish(ctx, []*domain.DomainEvent{l.event(domain.EventRequestRetried, req.Status, updated, actor, "", updated.NotificationHistory.Since(req.NotificationHistory.Len()))})
	return updated, nil
}

// Details returns the request with its live source state, drift, sync logs,
// a name suggestion and whether the master already exists in the target. A source that cannot be read is reported in
// SourceError rather than failing the call.
func (l *Lifecycle) Details(ctx context.Context, actor domain.Actor, id string) (*Details, error) {
	if err := l.authz.Authorize(actor, authz.PermRequestRead); err != nil {
		return nil, err
	}
	req, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d := &Details{
		Request: req,
		Allowed: domain.AllowedFrom(req.Status),
		History: req.NotificationHistory.Entries(),
	}
	drift, current, err := l.checkDrift(ctx, req)
	if err != nil {
		d.SourceError = err.Error()
	} else {
		d.Drift = drift
		d.Current = current
	}
	if suggested := domain.SuggestName(req.EffectiveName(), l.cfg.MaxNameLength); suggested != req.EffectiveName() {
		d.SuggestedName = suggested
	}
	if l.catalog != nil {
		d.Target = l.checkTarget(ctx, req)
	}
	logs, err := l.store.ListSyncLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}
	d.SyncLogs = logs
	return d, nil
}

// History returns the request's notification history.
func (l *Lifecycle) History(ctx context.Context, actor domain.Actor, id string) (domain.NotificationHistory, error) {
	if err := l.authz.Authorize(actor, authz.PermRequestRead); err != nil {
		return domain.NotificationHistory{}, err
	}
	req, err := l.store.Get(ctx, id)
	if err != nil {
		return domain.NotificationHistory{}, err
	}
	return req.NotificationHistory, nil
}

// lockRequest loads id and takes its identity lock.
func (l *Lifecycle) lockRequest(ctx context.Context, id string) (*domain.MasterCreationRequest, func(), error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, apperrors.ErrValidation("id", "request id is required")
	}
	req, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	unlock, err := l.locks.Lock(ctx, req.Identity().Key())
	if err != nil {
		return nil, nil, err
	}
	// re-read: another holder of the lock may have moved it
	req, err = l.store.Get(ctx, id)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return req, unlock, nil
}

// checkDrift compares the request's snapshot with the live source document.
func (l *Lifecycle) checkDrift(ctx context.Context, req *domain.MasterCreationRequest) (domain.DriftReport, *domain.SourceSnapshot, error) {
	ref, ok := req.SourceRef()
	if !ok || req.SourceSnapshot == nil || l.docs == nil {
		return domain.DriftReport{ChangedFields: []string{}}, nil, nil
	}

	doc, err := l.docs.Fetch(ctx, ref)
	if errors.Is(err, source.ErrDocumentNotFound) {
		return domain.DriftReport{ChangedFields: []string{}, ReferenceMissing: true, Checked: true}, nil, nil
	}
	if err != nil {
		return domain.DriftReport{}, nil, source.AsAppError(ref, err)
	}

	live, found := resolver.Find(doc, domain.MasterRef{Type: req.MasterType, Name: req.MasterName})
	if !found {
		return domain.DriftReport{ChangedFields: []string{}, ReferenceMissing: true, Checked: true}, nil, nil
	}
	current := &domain.SourceSnapshot{
		Doctype:  ref.Doctype,
		Document: ref.Name,
		Modified: doc.Modified,
		TakenAt:  l.now().UTC(),
		Fields:   live.Fields,
	}
	changed, err := domain.CompareSnapshots(req.SourceSnapshot.Fields, live.Fields)
	if err != nil {
		return domain.DriftReport{}, nil, apperrors.Wrap(err, apperrors.CodeInternal, "compare source snapshot", http.StatusInternalServerError)
	}
	return domain.DriftReport{ChangedFields: changed, Checked: true}, current, nil
}

// applyOverrides records the approver's name and parent when they differ
// from the requested ones.
func applyOverrides(req *domain.MasterCreationRequest, in ApproveInput) {
	if in.ModifiedName != "" && in.ModifiedName != req.MasterName {
		req.ModifiedName = in.ModifiedName
	}
	if in.ModifiedParent != "" && in.ModifiedParent != req.ParentGroup {
		req.ModifiedParent = in.ModifiedParent
	}
}

// checkTarget looks the effective name up in the catalog, exporting a new
// snapshot when the current one is missing or stale.
func (l *Lifecycle) checkTarget(ctx context.Context, req *domain.MasterCreationRequest) *TargetCheck {
	check := &TargetCheck{}
	snap, err := l.catalog.Snapshot(ctx, req.Company)
	if apperrors.HasCode(err, apperrors.CodeCatalogUnavailable) {
		check.Refreshed = true
		snap, err = l.catalog.ForceRefresh(ctx, req.Company)
	}
	if err != nil {
		check.Error = err.Error()
		return check
	}
	loaded := snap.LoadedAt()
	check.LoadedAt = &loaded
	check.Exists = snap.Has(req.MasterType.Kind(), req.EffectiveName())
	return check
}

func (l *Lifecycle) validateName(field, name string) error {
	if utf8.RuneCountInString(name) > l.cfg.MaxNameLength {
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "name is longer than the target system allows").
			WithParam("field", field).
			WithParam("max_length", l.cfg.MaxNameLength).
			WithParam("suggested_name", domain.SuggestName(name, l.cfg.MaxNameLength))
	}
	if domain.SanitizeName(name) != name {
		return apperrors.BadRequest(apperrors.CodeNameInvalid, "name contains characters the target system refuses").
			WithParam("field", field).
			WithParam("suggested_name", domain.SuggestName(name, l.cfg.MaxNameLength))
	}
	return nil
}

func (l *Lifecycle) audit(ctx context.Context, requestID, decision string, actor domain.Actor, details map[string]interface{}) {
	if l.auditor == nil {
		return
	}
	if err := l.auditor.LogDecision(ctx, requestID, decision, actor.UserID, details); err != nil {
		logger.Warn("failed to write audit log",
			logger.RequestID(requestID),
			zap.String("decision", decision),
			zap.Error(err),
		)
	}
}

func (l *Lifecycle) event(
	eventType domain.EventType,
	from domain.Status,
	req *domain.MasterCreationRequest,
	actor domain.Actor,
	reason string,
	entries []domain.NotificationEntry,
	fields ...string,
) *domain.DomainEvent {
	payload, _ := domain.TransitionPayload{
		RequestID:  req.ID,
		Company:    req.Company,
		MasterType: req.MasterType,
		MasterName: req.MasterName,
		From:       from,
		To:         req.Status,
		Actor:      actor.UserID,
		Reason:     reason,
		Fields:     fields,
	}.ToJSON()
	return &domain.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: domain.AggregateMasterRequest,
		AggregateID:   req.ID,
		Payload:       payload,
		CreatedBy:     actor.UserID,
		CreatedAt:     l.now().UTC(),
		Request:       req,
		Notifications: entries,
	}
}

func (l *Lifecycle) publish(ctx context.Context, events []*domain.DomainEvent) {
	if l.events == nil || len(events) == 0 {
		return
	}
	l.events.DispatchAll(ctx, events)
}

package resolver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

// Catalog answers whether a master exists in the target system.
type Catalog interface {
	Exists(ctx context.Context, company string, t domain.MasterType, name string) (bool, error)
}

// Store is the part of the request store the resolver writes to.
type Store interface {
	CreateOrGetActive(ctx context.Context, req *domain.MasterCreationRequest) (*domain.MasterCreationRequest, bool, error)
	FindActive(ctx context.Context, id domain.Identity) (*domain.MasterCreationRequest, error)
}

// Notifier resolves who hears about a new request.
type Notifier interface {
	// Assign picks the approver a new request is assigned to. It may
	// return "" when no approver is known.
	Assign(ctx context.Context, req *domain.MasterCreationRequest) (string, error)
	Entries(ctx context.Context, event domain.NotificationEvent, req *domain.MasterCreationRequest) ([]domain.NotificationEntry, error)
}

// EventPublisher receives events after they are committed.
type EventPublisher interface {
	DispatchAll(ctx context.Context, events []*domain.DomainEvent)
}

// Resolution is the outcome of a dependency check.
type Resolution struct {
	Document domain.DocumentRef `json:"document"`
	Company  string             `json:"company"`
	Required []domain.MasterRef `json:"required"`
	// Missing is a subset of Required, in the same order.
	Missing []domain.MasterRef `json:"missing"`
}

// Ready reports whether the transaction can be posted now.
func (r Resolution) Ready() bool { return len(r.Missing) == 0 }

// Resolver implements the dependency check and request creation.
type Resolver struct {
	catalog  Catalog
	store    Store
	notifier Notifier
	events   EventPublisher
	locks    *keylock.Locker
	now      func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLocker shares a per-identity locker with the approval lifecycle.
func WithLocker(l *keylock.Locker) Option {
	return func(r *Resolver) { r.locks = l }
}

// New creates a Resolver. events may be nil.
func New(catalog Catalog, store Store, notifier Notifier, events EventPublisher, opts ...Option) *Resolver {
	r := &Resolver{
		catalog:  catalog,
		store:    store,
		notifier: notifier,
		events:   events,
		locks:    keylock.New(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns every master doc needs and the ones the catalog lacks.
// When the catalog cannot answer it fails with CATALOG_UNAVAILABLE rather
// than reporting nothing missing.
func (r *Resolver) Resolve(ctx context.Context, doc domain.TransactionDocument) (Resolution, error) {
	if err := doc.Validate(); err != nil {
		return Resolution{}, err
	}
	res := Resolution{
		Document: doc.Ref(),
		Company:  doc.Company,
		Required: Extract(doc),
		Missing:  []domain.MasterRef{},
	}
	for _, ref := range res.Required {
		exists, err := r.catalog.Exists(ctx, doc.Company, ref.Type, ref.Name)
		if err != nil {
			return Resolution{}, err
		}
		if !exists {
			res.Missing = append(res.Missing, ref)
		}
	}

	logger.Debug("Dependencies resolved",
		logger.Document(doc.Doctype, doc.Name),
		logger.Company(doc.Company),
		zap.Int("required", len(res.Required)),
		zap.Int("missing", len(res.Missing)),
	)
	return res, nil
}

// CreateRequests raises a Pending Approval request for every missing ref,
// or returns the active request that already covers it. Calling it twice
// for the same document creates nothing new.
func (r *Resolver) CreateRequests(
	ctx context.Context,
	actor domain.Actor,
	doc domain.TransactionDocument,
	missing []domain.MasterRef,
	classifier Classifier,
) ([]domain.RequestRef, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return nil, apperrors.ErrValidation("actor", "actor is required")
	}
	if classifier == nil {
		classifier = ClassifierFunc(func(domain.TransactionDocument, domain.MasterRef) domain.Priority {
			return domain.PriorityNormal
		})
	}

	linked := doc.Ref()
	refs := make([]domain.RequestRef, 0, len(missing))
	var events []*domain.DomainEvent
	for _, ref := range missing {
		req, created, err := r.createOne(ctx, actor, NewRequestInput{
			Company:     doc.Company,
			Ref:         ref,
			Priority:    classifier.Classify(doc, ref),
			Source:      &linked,
			SourceAt:    doc.Modified,
			LinkedTx:    &linked,
			RequestedBy: actor.UserID,
		})
		if err != nil {
			r.publish(ctx, events)
			return refs, err
		}
		refs = append(refs, req.Ref(created))
		events = append(events, r.event(req, created, actor))
	}
	r.publish(ctx, events)
	return refs, nil
}

// NewRequestInput describes one request to raise.
type NewRequestInput struct {
	Company  string
	Ref      domain.MasterRef
	Priority domain.Priority
	// Source is the document the request was raised from, if any.
	Source   *domain.DocumentRef
	SourceAt time.Time
	// LinkedTx is pushed once the master exists.
	LinkedTx    *domain.DocumentRef
	Reason      string
	RequestedBy string
}

// CreateManual raises a request that did not come from a dependency check.
func (r *Resolver) CreateManual(ctx context.Context, actor domain.Actor, in NewRequestInput) (domain.RequestRef, error) {
	if strings.TrimSpace(actor.UserID) == "" {
		return domain.RequestRef{}, apperrors.ErrValidation("actor", "actor is required")
	}
	if !in.Ref.Type.Valid() {
		return domain.RequestRef{}, apperrors.ErrValidation("master_type", fmt.Sprintf("unsupported master type %q", in.Ref.Type))
	}
	if strings.TrimSpace(in.Company) == "" {
		return domain.RequestRef{}, apperrors.ErrValidation("company", "company is required")
	}
	if strings.TrimSpace(in.Ref.Name) == "" {
		return domain.RequestRef{}, apperrors.ErrValidation("master_name", "master name is required")
	}
	if !in.Priority.Valid() {
		in.Priority = domain.PriorityNormal
	}
	in.RequestedBy = actor.UserID

	set := newRefSet()
	set.add(in.Ref)
	in.Ref = set.refs[0]

	req, created, err := r.createOne(ctx, actor, in)
	if err != nil {
		return domain.RequestRef{}, err
	}
	r.publish(ctx, []*domain.DomainEvent{r.event(req, created, actor)})
	return req.Ref(created), nil
}

func (r *Resolver) createOne(ctx context.Context, actor domain.Actor, in NewRequestInput) (*domain.MasterCreationRequest, bool, error) {
	identity := in.Ref.Identity(in.Company)

	unlock, err := r.locks.Lock(ctx, identity.Key())
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	existing, err := r.store.FindActive(ctx, identity)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, false, fmt.Errorf("generate request id: %w", err)
	}
	now := r.now().UTC()

	req := &domain.MasterCreationRequest{
		ID:          id.String(),
		Company:     in.Company,
		MasterType:  in.Ref.Type,
		MasterName:  in.Ref.Name,
		Status:      domain.StatusPendingApproval,
		Priority:    in.Priority,
		ParentGroup: in.Ref.ParentGroup,
		Reason:      in.Reason,
		RequestedBy: in.RequestedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
		Version:     1,
	}
	if in.Source != nil {
		req.SourceDoctype = in.Source.Doctype
		req.SourceDocument = in.Source.Name
		req.SourceSnapshot = &domain.SourceSnapshot{
			Doctype:  in.Source.Doctype,
			Document: in.Source.Name,
			Modified: in.SourceAt,
			TakenAt:  now,
			Fields:   in.Ref.Fields,
		}
	} else {
		req.SourceSnapshot = &domain.SourceSnapshot{TakenAt: now, Fields: in.Ref.Fields}
	}
	if in.LinkedTx != nil {
		l := *in.LinkedTx
		req.LinkedTransaction = &l
	}

	assignee, err := r.notifier.Assign(ctx, req)
	if err != nil {
		logger.Warn("Approver assignment failed", logger.MasterName(req.MasterName), zap.Error(err))
	}
	req.AssignedTo = assignee

	entries, err := r.notifier.Entries(ctx, domain.NotifyCreated, req)
	if err != nil {
		return nil, false, fmt.Errorf("resolve notification recipients: %w", err)
	}
	req.NotificationHistory = req.NotificationHistory.Append(entries...)

	got, created, err := r.store.CreateOrGetActive(ctx, req)
	if err != nil {
		return nil, false, err
	}
	if created {
		logger.Info("Master creation request created",
			logger.RequestID(got.ID),
			logger.Company(got.Company),
			logger.MasterType(string(got.MasterType)),
			logger.MasterName(got.MasterName),
			logger.Actor(actor.UserID),
			zap.String("priority", string(got.Priority)),
		)
	}
	return got, created, nil
}

func (r *Resolver) event(req *domain.MasterCreationRequest, created bool, actor domain.Actor) *domain.DomainEvent {
	eventType := domain.EventRequestReused
	var entries []domain.NotificationEntry
	if created {
		eventType = domain.EventRequestCreated
		entries = req.NotificationHistory.Entries()
	}
	payload, _ := domain.TransitionPayload{
		RequestID:  req.ID,
		Company:    req.Company,
		MasterType: req.MasterType,
		MasterName: req.MasterName,
		To:         req.Status,
		Actor:      actor.UserID,
	}.ToJSON()
	return &domain.DomainEvent{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		AggregateType: domain.AggregateMasterRequest,
		AggregateID:   req.ID,
		Payload:       payload,
		CreatedBy:     actor.UserID,
		CreatedAt:     r.now().UTC(),
		Request:       req,
		Notifications: entries,
	}
}

func (r *Resolver) publish(ctx context.Context, events []*domain.DomainEvent) {
	if r.events == nil || len(events) == 0 {
		return
	}
	r.events.DispatchAll(ctx, events)
}

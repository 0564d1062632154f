package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/catalog"
	"github.com/Data-Analyst4/tally-connect/internal/domain"
	"github.com/Data-Analyst4/tally-connect/internal/governance/approval"
	"github.com/Data-Analyst4/tally-connect/internal/governance/authz"
	"github.com/Data-Analyst4/tally-connect/internal/jobs"
	"github.com/Data-Analyst4/tally-connect/internal/notification"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/keylock"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/worker"
	"github.com/Data-Analyst4/tally-connect/internal/provider"
	"github.com/Data-Analyst4/tally-connect/internal/repository"
	"github.com/Data-Analyst4/tally-connect/internal/resolver"
	"github.com/Data-Analyst4/tally-connect/internal/source"
)

func init() {
	_ = logger.Init("error", "json")
}

const company = "Acme Ltd"

var (
	clerk    = domain.Actor{UserID: "clerk@acme.test", Roles: []string{"Accounts User"}}
	approver = domain.Actor{UserID: "asha@acme.test", Name: "Asha", Roles: []string{"tally_approver"}}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.DomainEvent
}

func (p *recordingPublisher) DispatchAll(_ context.Context, events []*domain.DomainEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
}

func (p *recordingPublisher) types() []domain.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

type fixture struct {
	target    *provider.MockTarget
	catalog   *catalog.Catalog
	docs      *source.MemoryDocuments
	store     *repository.MemoryStore
	publisher *recordingPublisher
	resolver  *resolver.Resolver
	lifecycle *approval.Lifecycle
	gateway   *SyncGateway
	syncs     []domain.SyncLog
}

// newFixture builds a gateway whose target already holds every master of
// the invoice except the ones named in missing.
func newFixture(t *testing.T, timeout time.Duration, missing ...domain.MasterType) *fixture {
	t.Helper()

	target := provider.NewMockTarget()
	seed := map[domain.MasterType][]string{
		domain.MasterCustomer:   {"Acme Corp"},
		domain.MasterItem:       {"BOLT-M8"},
		domain.MasterStockGroup: {"Raw Materials"},
		domain.MasterUnit:       {"Nos"},
		domain.MasterGodown:     {"Main Store"},
	}
	for _, m := range missing {
		delete(seed, m)
	}
	for mt, names := range seed {
		target.Seed(company, mt.Kind(), names...)
	}
	target.Seed(company, domain.KindLedger, provider.DefaultSalesLedger)

	cat := catalog.New(target, catalog.Options{})
	_, err := cat.ForceRefresh(context.Background(), company)
	require.NoError(t, err)

	enforcer, err := authz.NewEnforcer(authz.Options{})
	require.NoError(t, err)

	directory := notification.NewStaticDirectory([]notification.Approver{
		{UserID: "asha@acme.test", Name: "Asha", Active: true},
	})
	dispatcher := notification.NewDispatcher(directory, notification.NewLogSender(), nil)
	locks := keylock.New()

	pools, err := worker.NewPools(context.Background(), worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)

	f := &fixture{
		target:    target,
		catalog:   cat,
		docs:      source.NewMemoryDocuments(invoice()),
		store:     repository.NewMemoryStore(),
		publisher: &recordingPublisher{},
	}
	f.resolver = resolver.New(cat, f.store, dispatcher, nil, resolver.WithLocker(locks))
	f.lifecycle = approval.NewLifecycle(f.store, f.docs, dispatcher, enforcer, f.publisher,
		approval.Config{MaxNameLength: 30}, approval.WithLocker(locks))
	f.gateway = NewSyncGateway(SyncDeps{
		Store:    f.store,
		Target:   target,
		Catalog:  cat,
		Docs:     f.docs,
		Resolver: f.resolver,
		Notifier: dispatcher,
		Events:   f.publisher,
		Pool:     pools.Sync,
		Locks:    locks,
	}, SyncConfig{Timeout: timeout, MaxNameLength: 30, PushMaxAttempts: 4})
	f.gateway.OnSync = func(log domain.SyncLog) { f.syncs = append(f.syncs, log) }
	return f
}

func invoice() domain.TransactionDocument {
	return domain.TransactionDocument{
		Doctype:     domain.DoctypeSalesInvoice,
		Name:        "SINV-0001",
		Company:     company,
		PostingDate: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		Modified:    time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
		Party:       "Acme Corp",
		Territory:   "West",
		Items: []domain.DocumentItem{{
			ItemCode:  "BOLT-M8",
			ItemGroup: "Raw Material",
			StockUOM:  "Nos",
			Warehouse: "Main Store",
			Qty:       decimal.NewFromInt(10),
			Rate:      decimal.NewFromInt(500),
		}},
		GrandTotal: decimal.NewFromInt(5000),
	}
}

// raise resolves the invoice and returns the requests it raised, in
// document order.
func (f *fixture) raise(t *testing.T) []*domain.MasterCreationRequest {
	t.Helper()
	ctx := context.Background()
	doc := invoice()
	res, err := f.resolver.Resolve(ctx, doc)
	require.NoError(t, err)
	refs, err := f.resolver.CreateRequests(ctx, clerk, doc, res.Missing, nil)
	require.NoError(t, err)

	out := make([]*domain.MasterCreationRequest, len(refs))
	for i, ref := range refs {
		out[i], err = f.store.Get(ctx, ref.ID)
		require.NoError(t, err)
	}
	return out
}

func (f *fixture) approve(t *testing.T, id string, in approval.ApproveInput) {
	t.Helper()
	_, err := f.lifecycle.Approve(context.Background(), approver, id, in)
	require.NoError(t, err)
}

func (f *fixture) pushJobs() []jobs.TransactionPushArgs {
	var out []jobs.TransactionPushArgs
	for _, j := range f.store.Jobs() {
		if args, ok := j.Args.(jobs.TransactionPushArgs); ok {
			out = append(out, args)
		}
	}
	return out
}

func TestCreateMaster_CompletesAndPushesTransaction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)

	reqs := f.raise(t)
	require.Len(t, reqs, 1)
	id := reqs[0].ID
	f.approve(t, id, approval.ApproveInput{})

	logID, err := f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, logID)

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, req.Status)
	assert.Equal(t, 1, req.Attempts)
	assert.Equal(t, logID, req.SyncLogID)
	assert.NotNil(t, req.CompletedAt)
	assert.Empty(t, req.SyncError)
	assert.True(t, f.target.Has(company, domain.KindLedger, "Acme Corp"))

	logs, err := f.store.ListSyncLogs(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.True(t, logs[0].Success)
	assert.Equal(t, domain.OperationCreateMaster, logs[0].Operation)
	require.Len(t, f.syncs, 1)

	last, ok := req.NotificationHistory.Last()
	require.True(t, ok)
	assert.Equal(t, domain.NotifyCompleted, last.Event)

	assert.Equal(t, []domain.EventType{
		domain.EventRequestApproved,
		domain.EventRequestInProgress,
		domain.EventRequestCompleted,
	}, f.publisher.types())

	exists, err := f.catalog.Exists(ctx, company, domain.MasterCustomer, "acme corp")
	require.NoError(t, err)
	assert.True(t, exists, "completion must be visible before the next refresh")

	pushes := f.pushJobs()
	require.Len(t, pushes, 1)
	assert.Equal(t, jobs.TransactionPushArgs{Doctype: domain.DoctypeSalesInvoice, Document: "SINV-0001", Company: company}, pushes[0])
	var pushOpts int
	for _, j := range f.store.Jobs() {
		if _, ok := j.Args.(jobs.TransactionPushArgs); ok && j.Opts != nil {
			pushOpts = j.Opts.MaxAttempts
		}
	}
	assert.Equal(t, 4, pushOpts)

	ref := domain.DocumentRef{Doctype: pushes[0].Doctype, Name: pushes[0].Document}
	require.NoError(t, f.gateway.PushTransaction(ctx, ref, company))
	vouchers := f.target.Vouchers(company)
	require.Len(t, vouchers, 1)
	assert.Equal(t, "SINV-0001", vouchers[0].Number)
	assert.Equal(t, "Sales", vouchers[0].Type)

	push, err := f.store.GetPush(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, push)
	assert.Equal(t, domain.PushCompleted, push.Status)
	assert.Equal(t, 1, push.Attempts)

	// pushing again does nothing
	require.NoError(t, f.gateway.PushTransaction(ctx, ref, company))
	assert.Len(t, f.target.Vouchers(company), 1)
	assert.Contains(t, f.publisher.types(), domain.EventTransactionPushed)
}

func TestCreateMaster_CompletedIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{})

	first, err := f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)
	second, err := f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.target.CreateCalls())
}

func TestCreateMaster_RecordsTargetFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind domain.SyncErrorKind
		code string
	}{
		{"rejected", domain.SyncRejected, apperrors.CodeSyncRejected},
		{"unreachable", domain.SyncUnreachable, apperrors.CodeSyncUnreachable},
		{"duplicate", domain.SyncDuplicateConflict, apperrors.CodeSyncDuplicateConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			f := newFixture(t, time.Second, domain.MasterCustomer)
			id := f.raise(t)[0].ID
			f.approve(t, id, approval.ApproveInput{})
			f.target.FailNext(tt.kind, "target said no", false)

			logID, err := f.gateway.CreateMaster(ctx, id)
			require.Error(t, err)
			assert.NotEmpty(t, logID)
			assert.Equal(t, tt.code, apperrors.CodeOf(err))
			assert.True(t, IsRecordedFailure(err))

			req, err := f.store.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFailed, req.Status)
			assert.Equal(t, tt.kind, req.SyncErrorKind)
			assert.Contains(t, req.SyncError, "target said no")
			assert.Equal(t, logID, req.SyncLogID)

			last, ok := req.NotificationHistory.Last()
			require.True(t, ok)
			assert.Equal(t, domain.NotifyFailed, last.Event)
			assert.Equal(t, "asha@acme.test", last.Recipient)

			logs, err := f.store.ListSyncLogs(ctx, id)
			require.NoError(t, err)
			require.Len(t, logs, 1)
			assert.False(t, logs[0].Success)
			assert.Equal(t, tt.kind, logs[0].ErrorKind)

			assert.Empty(t, f.pushJobs())
			assert.Contains(t, f.publisher.types(), domain.EventRequestFailed)
		})
	}
}

func TestCreateMaster_Timeout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, 50*time.Millisecond, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{})
	f.target.SetDelay(5 * time.Second)

	start := time.Now()
	_, err := f.gateway.CreateMaster(ctx, id)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, apperrors.CodeSyncTimeout, apperrors.CodeOf(err))

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, req.Status)
	assert.Equal(t, domain.SyncTimeout, req.SyncErrorKind)
}

func TestCreateMaster_UnknownOutcomeIsVerifiedBeforeResubmitting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{})

	// the target stores the master but the response never arrives
	f.target.FailNext(domain.SyncTimeout, "no response", true)
	_, err := f.gateway.CreateMaster(ctx, id)
	require.Error(t, err)

	_, err = f.lifecycle.Retry(ctx, approver, id)
	require.NoError(t, err)
	_, err = f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, req.Status)
	assert.Equal(t, 2, req.Attempts)
	assert.Equal(t, 1, f.target.CreateCalls(), "a master found after refresh is not resubmitted")
}

func TestCreateMaster_RetryAfterKnownFailureResubmits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{})

	f.target.FailNext(domain.SyncRejected, "parent missing", false)
	_, err := f.gateway.CreateMaster(ctx, id)
	require.Error(t, err)

	_, err = f.lifecycle.Retry(ctx, approver, id)
	require.NoError(t, err)
	_, err = f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, 2, f.target.CreateCalls())
	logs, err := f.store.ListSyncLogs(ctx, id)
	require.NoError(t, err)
	assert.Len(t, logs, 2)
}

func TestCreateMaster_UsesApprovedOverrides(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{ModifiedName: "Acme Corporation"})

	logID, err := f.gateway.CreateMaster(ctx, id)
	require.NoError(t, err)

	sent := f.target.Payloads()
	require.Len(t, sent, 1)
	assert.Equal(t, "Acme Corporation", sent[0].Name)
	assert.Equal(t, domain.ParentSundryDebtors, sent[0].ParentGroup)
	assert.Equal(t, domain.MasterCustomer, sent[0].MasterType)
	assert.True(t, f.target.Has(company, domain.KindLedger, "Acme Corporation"))
	assert.False(t, f.target.Has(company, domain.KindLedger, "Acme Corp"))

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, req.Status)
	assert.Equal(t, logID, req.SyncLogID)
	assert.NotEmpty(t, req.SyncLogID)
	assert.Equal(t, "Acme Corp", req.MasterName)
	assert.Equal(t, "Acme Corporation", req.ModifiedName)
	assert.Empty(t, req.ModifiedParent)
}

func TestApprove_OverlongNameNeverReachesTheGateway(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second)
	long := "Pallets of Forty Kilograms Each"

	ref, err := f.resolver.CreateManual(ctx, clerk, resolver.NewRequestInput{
		Company: company,
		Ref:     domain.MasterRef{Type: domain.MasterUnit, Name: long},
	})
	require.NoError(t, err)

	_, err = f.lifecycle.Approve(ctx, approver, ref.ID, approval.ApproveInput{})
	require.Error(t, err)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
	suggested, _ := appErr.Params["suggested_name"].(string)
	require.NotEmpty(t, suggested)

	req, err := f.store.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, req.Status)
	assert.Empty(t, f.store.Jobs())

	f.approve(t, ref.ID, approval.ApproveInput{ModifiedName: suggested})
	_, err = f.gateway.CreateMaster(ctx, ref.ID)
	require.NoError(t, err)

	req, err = f.store.Get(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, req.Status)
	assert.True(t, f.target.Has(company, domain.KindUnit, suggested))
}

func TestCreateMaster_InvalidPayload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID
	f.approve(t, id, approval.ApproveInput{})

	// payload frozen under a longer limit than the gateway now allows
	_, err := f.store.Update(ctx, id, func(_ context.Context, cur *domain.MasterCreationRequest, _ repository.Tx) (*domain.MasterCreationRequest, error) {
		cur.CreationPayload.Name = "Acme Corporation International Trading"
		return cur, nil
	})
	require.NoError(t, err)

	_, err = f.gateway.CreateMaster(ctx, id)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeValidationFailed, apperrors.CodeOf(err))
	assert.False(t, IsRecordedFailure(err))

	req, err := f.store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)
	assert.Zero(t, req.Attempts)
	assert.Zero(t, f.target.CreateCalls())
	logs, err := f.store.ListSyncLogs(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestCreateMaster_RequiresApproval(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second, domain.MasterCustomer)
	id := f.raise(t)[0].ID

	_, err := f.gateway.CreateMaster(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidStateTransition, apperrors.CodeOf(err))
	assert.Zero(t, f.target.CreateCalls())
}

func TestPushTransaction_WaitsForRemainingMasters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second, domain.MasterCustomer, domain.MasterItem)
	reqs := f.raise(t)
	require.Len(t, reqs, 2)

	customer := reqs[0]
	require.Equal(t, domain.MasterCustomer, customer.MasterType)
	f.approve(t, customer.ID, approval.ApproveInput{})
	_, err := f.gateway.CreateMaster(ctx, customer.ID)
	require.NoError(t, err)

	ref := invoice().Ref()
	require.NoError(t, f.gateway.PushTransaction(ctx, ref, company))
	push, err := f.store.GetPush(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, push)
	assert.Equal(t, domain.PushPending, push.Status)
	assert.Zero(t, push.Attempts)
	assert.True(t, strings.HasPrefix(push.LastError, "waiting for masters"))
	assert.Contains(t, push.LastError, "BOLT-M8")
	assert.Empty(t, f.target.Vouchers(company))

	item := reqs[1]
	f.approve(t, item.ID, approval.ApproveInput{})
	_, err = f.gateway.CreateMaster(ctx, item.ID)
	require.NoError(t, err)
	assert.Len(t, f.pushJobs(), 2)

	require.NoError(t, f.gateway.PushTransaction(ctx, ref, company))
	push, err = f.store.GetPush(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PushCompleted, push.Status)
	assert.Len(t, f.target.Vouchers(company), 1)
}

func TestPushTransaction_FailureThenSuccess(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t, time.Second)
	ref := invoice().Ref()

	f.target.FailNext(domain.SyncRejected, "voucher date outside period", false)
	err := f.gateway.PushTransaction(ctx, ref, company)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeSyncRejected, apperrors.CodeOf(err))

	push, err := f.store.GetPush(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, push)
	assert.Equal(t, domain.PushFailed, push.Status)
	assert.Equal(t, 1, push.Attempts)
	assert.Contains(t, push.LastError, "outside period")

	require.NoError(t, f.gateway.PushTransaction(ctx, ref, company))
	push, err = f.store.GetPush(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PushCompleted, push.Status)
	assert.Equal(t, 2, push.Attempts)
	assert.Empty(t, push.LastError)
	assert.Equal(t, []domain.EventType{
		domain.EventTransactionPushFailed,
		domain.EventTransactionPushed,
	}, f.publisher.types())
}

func TestPushTransaction_SourceMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, time.Second)

	err := f.gateway.PushTransaction(context.Background(),
		domain.DocumentRef{Doctype: domain.DoctypeSalesInvoice, Name: "SINV-9999"}, company)
	require.Error(t, err)
	assert.NotEmpty(t, apperrors.CodeOf(err))
	assert.Empty(t, f.target.Vouchers(company))
}

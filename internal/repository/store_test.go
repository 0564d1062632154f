package repository

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
	"github.com/Data-Analyst4/tally-connect/internal/pkg/logger"
)

func init() {
	_ = logger.Init("error", "json")
}

type testJobArgs struct {
	RequestID string `json:"request_id"`
}

func (testJobArgs) Kind() string { return "test_job" }

func newRequest(company string, t domain.MasterType, name string) *domain.MasterCreationRequest {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.MasterCreationRequest{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Company:     company,
		MasterType:  t,
		MasterName:  name,
		Status:      domain.StatusPendingApproval,
		Priority:    domain.PriorityNormal,
		ParentGroup: t.DefaultParent(),
		SourceSnapshot: &domain.SourceSnapshot{
			Doctype:  domain.DoctypeSalesInvoice,
			Document: "SINV-0001",
			TakenAt:  now,
			Fields:   domain.SnapshotFields{MasterName: name, ParentGroup: t.DefaultParent()},
		},
		SourceDoctype:  domain.DoctypeSalesInvoice,
		SourceDocument: "SINV-0001",
		NotificationHistory: domain.NotificationHistory{}.Append(domain.NotificationEntry{
			Event: domain.NotifyCreated, Timestamp: now, Recipient: "approver@acme.test",
		}),
		RequestedBy: "clerk",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// runStoreContract exercises the behavior every Store must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create then reuse active", func(t *testing.T) {
		s := newStore(t)
		first := newRequest("Acme Ltd", domain.MasterCustomer, "Acme Corp")
		got, created, err := s.CreateOrGetActive(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, int64(1), got.Version)

		dup := newRequest("Acme Ltd", domain.MasterCustomer, "  ACME   corp ")
		got, created, err = s.CreateOrGetActive(ctx, dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, got.ID)
	})

	t.Run("concurrent creates yield one active", func(t *testing.T) {
		s := newStore(t)
		const n = 10
		ids := make(chan string, n)
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				got, _, err := s.CreateOrGetActive(ctx, newRequest("Acme Ltd", domain.MasterItem, "Widget"))
				if err == nil {
					ids <- got.ID
				}
			}()
		}
		wg.Wait()
		close(ids)

		seen := map[string]struct{}{}
		for id := range ids {
			seen[id] = struct{}{}
		}
		assert.Len(t, seen, 1)
	})

	t.Run("get missing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "nope")
		assert.True(t, apperrors.HasCode(err, apperrors.CodeRequestNotFound))
	})

	t.Run("update bumps version and enqueues", func(t *testing.T) {
		s := newStore(t)
		req := newRequest("Acme Ltd", domain.MasterSupplier, "Globex")
		_, _, err := s.CreateOrGetActive(ctx, req)
		require.NoError(t, err)

		got, err := s.Update(ctx, req.ID, func(ctx context.Context, cur *domain.MasterCreationRequest, tx Tx) (*domain.MasterCreationRequest, error) {
			cur.Status = domain.StatusApproved
			cur.ApprovedBy = "approver"
			cur.NotificationHistory = cur.NotificationHistory.Append(domain.NotificationEntry{
				Event: domain.NotifyApproved, Timestamp: time.Now(), Recipient: "clerk",
			})
			return cur, tx.Enqueue(ctx, testJobArgs{RequestID: cur.ID}, nil)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, got.Status)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, 2, got.NotificationHistory.Len())

		reloaded, err := s.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, reloaded.Status)
		assert.Equal(t, "approver", reloaded.ApprovedBy)
	})

	t.Run("update error leaves request untouched", func(t *testing.T) {
		s := newStore(t)
		req := newRequest("Acme Ltd", domain.MasterUnit, "Nos")
		_, _, err := s.CreateOrGetActive(ctx, req)
		require.NoError(t, err)

		boom := fmt.Errorf("boom")
		_, err = s.Update(ctx, req.ID, func(_ context.Context, cur *domain.MasterCreationRequest, _ Tx) (*domain.MasterCreationRequest, error) {
			cur.Status = domain.StatusRejected
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		got, err := s.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingApproval, got.Status)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("history rewrite refused", func(t *testing.T) {
		s := newStore(t)
		req := newRequest("Acme Ltd", domain.MasterGodown, "Main Store")
		_, _, err := s.CreateOrGetActive(ctx, req)
		require.NoError(t, err)

		_, err = s.Update(ctx, req.ID, func(_ context.Context, cur *domain.MasterCreationRequest, _ Tx) (*domain.MasterCreationRequest, error) {
			cur.NotificationHistory = domain.NotificationHistory{}
			cur.Status = domain.StatusRejected
			return cur, nil
		})
		require.Error(t, err)
		got, err := s.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.NotificationHistory.Len())
	})

	t.Run("terminal status frees identity", func(t *testing.T) {
		s := newStore(t)
		req := newRequest("Acme Ltd", domain.MasterCostCentre, "North")
		_, _, err := s.CreateOrGetActive(ctx, req)
		require.NoError(t, err)

		_, err = s.Update(ctx, req.ID, func(_ context.Context, cur *domain.MasterCreationRequest, _ Tx) (*domain.MasterCreationRequest, error) {
			cur.Status = domain.StatusRejected
			cur.RejectionReason = "duplicate of South"
			return cur, nil
		})
		require.NoError(t, err)

		active, err := s.FindActive(ctx, req.Identity())
		require.NoError(t, err)
		assert.Nil(t, active)

		again := newRequest("Acme Ltd", domain.MasterCostCentre, "North")
		_, created, err := s.CreateOrGetActive(ctx, again)
		require.NoError(t, err)
		assert.True(t, created)
	})

	t.Run("list orders by priority then age", func(t *testing.T) {
		s := newStore(t)
		base := time.Now().UTC().Truncate(time.Microsecond)
		mk := func(name string, p domain.Priority, age time.Duration) *domain.MasterCreationRequest {
			r := newRequest("Acme Ltd", domain.MasterLedger, name)
			r.Priority = p
			r.CreatedAt = base.Add(-age)
			return r
		}
		for _, r := range []*domain.MasterCreationRequest{
			mk("old normal", domain.PriorityNormal, 3*time.Hour),
			mk("new urgent", domain.PriorityUrgent, time.Minute),
			mk("high", domain.PriorityHigh, time.Hour),
			mk("old urgent", domain.PriorityUrgent, 2*time.Hour),
		} {
			_, _, err := s.CreateOrGetActive(ctx, r)
			require.NoError(t, err)
		}

		got, err := s.List(ctx, ListFilter{Company: "Acme Ltd"})
		require.NoError(t, err)
		names := make([]string, len(got))
		for i, r := range got {
			names[i] = r.MasterName
		}
		assert.Equal(t, []string{"old urgent", "new urgent", "high", "old normal"}, names)

		limited, err := s.List(ctx, ListFilter{Status: []domain.Status{domain.StatusPendingApproval}, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, limited, 2)
		assert.Equal(t, "new urgent", limited[0].MasterName)
	})

	t.Run("sync logs and compaction", func(t *testing.T) {
		s := newStore(t)
		old := &domain.SyncLog{
			ID: uuid.NewString(), RequestID: "r1", Operation: domain.OperationCreateMaster, Target: "tally",
			RequestXML: "<ENVELOPE/>", ResponseXML: "<RESPONSE/>", Duration: 1500 * time.Millisecond,
			CreatedAt: time.Now().UTC().Add(-48 * time.Hour).Truncate(time.Microsecond),
		}
		fresh := &domain.SyncLog{
			ID: uuid.NewString(), RequestID: "r1", Operation: domain.OperationCreateMaster, Target: "tally",
			Success: true, RequestXML: "<ENVELOPE/>",
		}
		require.NoError(t, s.InsertSyncLog(ctx, old))
		require.NoError(t, s.InsertSyncLog(ctx, fresh))

		n, err := s.CompactSyncLogs(ctx, time.Now().Add(-24*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		logs, err := s.ListSyncLogs(ctx, "r1")
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Empty(t, logs[0].RequestXML)
		assert.Equal(t, 1500*time.Millisecond, logs[0].Duration)
		assert.Equal(t, "<ENVELOPE/>", logs[1].RequestXML)
	})

	t.Run("transaction push upsert", func(t *testing.T) {
		s := newStore(t)
		ref := domain.DocumentRef{Doctype: domain.DoctypeSalesInvoice, Name: "SINV-0002"}

		got, err := s.GetPush(ctx, ref)
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, s.UpsertPush(ctx, domain.TransactionPush{
			Doctype: ref.Doctype, Document: ref.Name, Company: "Acme Ltd", Status: domain.PushFailed, Attempts: 1, LastError: "timeout",
		}))
		require.NoError(t, s.UpsertPush(ctx, domain.TransactionPush{
			Doctype: ref.Doctype, Document: ref.Name, Company: "Acme Ltd", Status: domain.PushCompleted, Attempts: 2,
		}))
		got, err = s.GetPush(ctx, ref)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.PushCompleted, got.Status)
		assert.Equal(t, 2, got.Attempts)
		assert.Empty(t, got.LastError)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_OnEnqueueAfterCommit(t *testing.T) {
	s := NewMemoryStore()
	req := newRequest("Acme Ltd", domain.MasterCustomer, "Acme Corp")
	_, _, err := s.CreateOrGetActive(context.Background(), req)
	require.NoError(t, err)

	var seen []domain.Status
	s.OnEnqueue(func(ctx context.Context, job EnqueuedJob) {
		// the hook runs outside the store lock
		got, err := s.Get(ctx, job.Args.(testJobArgs).RequestID)
		require.NoError(t, err)
		seen = append(seen, got.Status)
	})

	_, err = s.Update(context.Background(), req.ID, func(ctx context.Context, cur *domain.MasterCreationRequest, tx Tx) (*domain.MasterCreationRequest, error) {
		cur.Status = domain.StatusApproved
		return cur, tx.Enqueue(ctx, testJobArgs{RequestID: cur.ID}, &river.InsertOpts{MaxAttempts: 1})
	})
	require.NoError(t, err)
	assert.Equal(t, []domain.Status{domain.StatusApproved}, seen)
	require.Len(t, s.Jobs(), 1)
	assert.Equal(t, "test_job", s.Jobs()[0].Args.Kind())
}

func TestMemoryStore_IdentityChangeRefused(t *testing.T) {
	s := NewMemoryStore()
	req := newRequest("Acme Ltd", domain.MasterCustomer, "Acme Corp")
	_, _, err := s.CreateOrGetActive(context.Background(), req)
	require.NoError(t, err)

	_, err = s.Update(context.Background(), req.ID, func(_ context.Context, cur *domain.MasterCreationRequest, _ Tx) (*domain.MasterCreationRequest, error) {
		cur.MasterName = "Acme Corporation"
		return cur, nil
	})
	require.Error(t, err)
}

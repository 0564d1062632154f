package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Data-Analyst4/tally-connect/internal/pkg/errors"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPendingApproval, StatusApproved, true},
		{StatusPendingApproval, StatusRejected, true},
		{StatusPendingApproval, StatusInProgress, false},
		{StatusApproved, StatusInProgress, true},
		{StatusApproved, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusFailed, true},
		{StatusFailed, StatusInProgress, true},
		{StatusFailed, StatusApproved, false},
		{StatusCompleted, StatusInProgress, false},
		{StatusRejected, StatusApproved, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Classification(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusRejected.Terminal())
	assert.False(t, StatusFailed.Terminal())
	assert.True(t, StatusFailed.Active())
	assert.False(t, Status("Archived").Active())
	assert.ElementsMatch(t, []Status{StatusApproved, StatusRejected}, AllowedFrom(StatusPendingApproval))
	assert.Empty(t, AllowedFrom(StatusCompleted))
	for _, s := range ActiveStatuses {
		assert.True(t, s.Active(), s)
	}
}

func TestPriority_Max(t *testing.T) {
	assert.Equal(t, PriorityHigh, PriorityNormal.Max(PriorityHigh))
	assert.Equal(t, PriorityUrgent, PriorityUrgent.Max(PriorityHigh))
	assert.Equal(t, PriorityNormal, Priority("").Max(PriorityNormal))
	assert.Greater(t, PriorityUrgent.Rank(), PriorityHigh.Rank())
}

func TestSyncErrorKind_OutcomeUnknown(t *testing.T) {
	assert.True(t, SyncTimeout.OutcomeUnknown())
	assert.True(t, SyncUnreachable.OutcomeUnknown())
	assert.False(t, SyncRejected.OutcomeUnknown())
	assert.False(t, SyncDuplicateConflict.OutcomeUnknown())
}

func TestBuildPayload_AppliesOverrides(t *testing.T) {
	req := &MasterCreationRequest{
		Company:     "Acme Ltd",
		MasterType:  MasterCustomer,
		MasterName:  "Acme Corp",
		ParentGroup: "Sundry Debtors",
		SourceSnapshot: &SourceSnapshot{
			Doctype:  DoctypeSalesInvoice,
			Document: "SINV-0001",
			Fields: SnapshotFields{
				MasterName:  "Acme Corp",
				ParentGroup: "Sundry Debtors",
				GSTIN:       "27AAAAA0000A1Z5",
			},
		},
	}

	t.Run("no overrides", func(t *testing.T) {
		p := req.BuildPayload("Acme Books")
		assert.Equal(t, "Acme Corp", p.Name)
		assert.Equal(t, "Sundry Debtors", p.ParentGroup)
		assert.Equal(t, "Acme Books", p.TargetCompany)
	})

	t.Run("name override keeps original parent", func(t *testing.T) {
		r := req.Clone()
		r.ModifiedName = "Acme Corporation"
		p := r.BuildPayload("Acme Books")
		assert.Equal(t, "Acme Corporation", p.Name)
		assert.Equal(t, "Acme Corporation", p.Fields.MasterName)
		assert.Equal(t, "Sundry Debtors", p.ParentGroup)
		assert.Equal(t, "27AAAAA0000A1Z5", p.Fields.GSTIN)
	})

	// snapshot is not touched by payload building
	assert.Equal(t, "Acme Corp", req.SourceSnapshot.Fields.MasterName)
}

func TestCreationPayload_Validate(t *testing.T) {
	tests := []struct {
		name      string
		payload   CreationPayload
		field     string
		suggested string
	}{
		{"ok", CreationPayload{MasterType: MasterCustomer, Name: "Acme Corp", ParentGroup: ParentSundryDebtors}, "", ""},
		{"unit needs no parent", CreationPayload{MasterType: MasterUnit, Name: "Nos"}, "", ""},
		{"blank name", CreationPayload{MasterType: MasterCustomer, Name: "  ", ParentGroup: ParentSundryDebtors}, "master_name", ""},
		{"too long", CreationPayload{MasterType: MasterUnit, Name: "Pallets of Forty Kilograms"}, "master_name", "Pallets of Forty ..."},
		{"ledger without parent", CreationPayload{MasterType: MasterLedger, Name: "Freight"}, "parent_group", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate(20)
			if tt.field == "" {
				require.NoError(t, err)
				return
			}
			appErr, ok := apperrors.IsAppError(err)
			require.True(t, ok)
			assert.Equal(t, apperrors.CodeValidationFailed, appErr.Code)
			require.Len(t, appErr.FieldErrors, 1)
			assert.Equal(t, tt.field, appErr.FieldErrors[0].Field)
			if tt.suggested != "" {
				assert.Equal(t, tt.suggested, appErr.Params["suggested_name"])
				assert.Equal(t, 20, appErr.Params["max_length"])
			}
		})
	}
}

func TestClone_IsDeep(t *testing.T) {
	now := time.Now()
	orig := &MasterCreationRequest{
		ID:                "r1",
		SourceSnapshot:    &SourceSnapshot{Fields: SnapshotFields{ParentGroup: "Sundry Debtors"}},
		LinkedTransaction: &DocumentRef{Doctype: DoctypeSalesInvoice, Name: "SINV-1"},
		DriftAcknowledged: []string{"parent_group"},
		ApprovedAt:        &now,
	}

	c := orig.Clone()
	c.SourceSnapshot.Fields.ParentGroup = "Trade Debtors"
	c.LinkedTransaction.Name = "SINV-2"
	c.DriftAcknowledged[0] = "gstin"
	*c.ApprovedAt = now.Add(time.Hour)

	assert.Equal(t, "Sundry Debtors", orig.SourceSnapshot.Fields.ParentGroup)
	assert.Equal(t, "SINV-1", orig.LinkedTransaction.Name)
	assert.Equal(t, "parent_group", orig.DriftAcknowledged[0])
	assert.True(t, orig.ApprovedAt.Equal(now))

	var nilReq *MasterCreationRequest
	assert.Nil(t, nilReq.Clone())
}

func TestRequest_SourceRefAndRef(t *testing.T) {
	r := &MasterCreationRequest{ID: "r1", MasterType: MasterItem, MasterName: "BOLT-M8", Status: StatusPendingApproval, Priority: PriorityNormal}
	_, ok := r.SourceRef()
	assert.False(t, ok)

	r.SourceDoctype, r.SourceDocument = DoctypeSalesOrder, "SO-1"
	ref, ok := r.SourceRef()
	require.True(t, ok)
	assert.Equal(t, "Sales Order/SO-1", ref.String())

	sum := r.Ref(true)
	assert.True(t, sum.Created)
	assert.Equal(t, "BOLT-M8", sum.MasterName)
}

func TestActor_HasRole(t *testing.T) {
	a := Actor{UserID: "u1", Roles: []string{"tally_approver"}}
	assert.True(t, a.HasRole("tally_approver"))
	assert.False(t, a.HasRole("admin"))
	assert.True(t, SystemActor.HasRole("system"))
}

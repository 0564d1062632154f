package provider

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/domain"
)

func TestMockTarget_CreateMaster(t *testing.T) {
	m := NewMockTarget()
	m.Seed("Acme Books", domain.KindLedger, "Cash")
	ctx := context.Background()

	_, err := m.CreateMaster(ctx, "Acme Books", domain.CreationPayload{MasterType: domain.MasterCustomer, Name: "Acme Corp"})
	require.NoError(t, err)
	assert.True(t, m.Has("Acme Books", domain.KindLedger, "ACME CORP"))

	_, err = m.CreateMaster(ctx, "Acme Books", domain.CreationPayload{MasterType: domain.MasterLedger, Name: "cash"})
	se, ok := AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.SyncDuplicateConflict, se.Kind)

	names, err := m.ExportCollection(ctx, "Acme Books", domain.KindLedger)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Cash", "Acme Corp"}, names)
	assert.Equal(t, 2, m.CreateCalls())
}

func TestMockTarget_FailNext(t *testing.T) {
	m := NewMockTarget()
	ctx := context.Background()
	p := domain.CreationPayload{MasterType: domain.MasterItem, Name: "BOLT-M8"}

	m.FailNext(domain.SyncTimeout, "timed out", true)
	_, err := m.CreateMaster(ctx, "Acme Books", p)
	se, ok := AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.SyncTimeout, se.Kind)
	assert.True(t, m.Has("Acme Books", domain.KindStockItem, "BOLT-M8"), "accepted before failing")

	m.FailNext(domain.SyncUnreachable, "connection refused", false)
	_, err = m.CreateMaster(ctx, "Acme Books", domain.CreationPayload{MasterType: domain.MasterItem, Name: "NUT-M8"})
	require.Error(t, err)
	assert.False(t, m.Has("Acme Books", domain.KindStockItem, "NUT-M8"))
}

func TestMockTarget_DelayHonoursContext(t *testing.T) {
	m := NewMockTarget()
	m.SetDelay(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := m.CreateMaster(ctx, "Acme Books", domain.CreationPayload{MasterType: domain.MasterUnit, Name: "Nos"})
	se, ok := AsSyncError(err)
	require.True(t, ok)
	assert.Equal(t, domain.SyncTimeout, se.Kind)
	assert.Equal(t, 0, m.CreateCalls())
}

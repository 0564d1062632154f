package notification

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Data-Analyst4/tally-connect/internal/testutil"
)

func TestPostgresDirectory(t *testing.T) {
	d := NewPostgresDirectory(testutil.OpenPGXPool(t, "directory"))
	ctx := context.Background()

	id, err := d.NextAssignee(ctx)
	require.NoError(t, err)
	assert.Empty(t, id)

	for _, a := range approvers() {
		inserted, err := d.Upsert(ctx, a)
		require.NoError(t, err)
		assert.True(t, inserted)
	}
	inserted, err := d.Upsert(ctx, Approver{UserID: "asha", Name: "Asha R.", Active: true})
	require.NoError(t, err)
	assert.False(t, inserted)

	list, err := d.Approvers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Asha R.", list[0].Name)

	var got []string
	for i := 0; i < 4; i++ {
		id, err := d.NextAssignee(ctx)
		require.NoError(t, err)
		got = append(got, id)
	}
	assert.Equal(t, []string{"asha", "ravi", "asha", "ravi"}, got)
}

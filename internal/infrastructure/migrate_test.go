package infrastructure

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrations_Ordered(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_master_requests.sql", names[0])
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestMigrations_ActiveIdentityIndex(t *testing.T) {
	body, err := migrationFiles.ReadFile("migrations/0001_master_requests.sql")
	require.NoError(t, err)
	sql := string(body)
	assert.Contains(t, sql, "CREATE UNIQUE INDEX IF NOT EXISTS master_requests_active_identity")
	assert.True(t, strings.Contains(sql, "WHERE status NOT IN ('Completed', 'Rejected')"))
}

func TestMigrations_GooseAnnotated(t *testing.T) {
	names, err := Migrations()
	require.NoError(t, err)
	for _, name := range names {
		body, err := migrationFiles.ReadFile("migrations/" + name)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(body), "-- +goose Up\n"), name)
	}
}

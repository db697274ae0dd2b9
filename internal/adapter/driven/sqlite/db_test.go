package sqlite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDB_Ping(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, db.Ping(context.Background()))

	require.NoError(t, db.Writer.Close())
	assert.Error(t, db.Ping(context.Background()))
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	seedCredentials(t, db, addrA, "Google")

	version, err := RunMigrations(db.Writer)
	require.NoError(t, err)
	assert.Equal(t, uint(latestSchemaVersion), version)

	creds, err := NewCredentialRepo(db).ListByAddress(context.Background(), addrA)
	require.NoError(t, err)
	assert.Len(t, creds, 1, "rerunning migrations keeps stored credentials")
}

func TestRunMigrations_RefusesDirtySchema(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.Writer.ExecContext(context.Background(), "UPDATE schema_migrations SET dirty = 1")
	require.NoError(t, err)

	_, err = RunMigrations(db.Writer)
	assert.ErrorIs(t, err, ErrDirtySchema)
}

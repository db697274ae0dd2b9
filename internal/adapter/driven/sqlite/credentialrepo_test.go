package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

func TestCredentialRepo_ListByAddress_Empty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)

	creds, err := repo.ListByAddress(context.Background(), addrA)
	require.NoError(t, err)
	assert.NotNil(t, creds)
	assert.Empty(t, creds)
}

func TestCredentialRepo_ReplaceForAddress(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceForAddress(ctx, addrA, []model.OffChainCredential{
		makeCredential("Google", "v0.0.0:AQ==", true),
		makeCredential("Discord", "v0.0.0:Ag==", false),
	}))

	creds, err := repo.ListByAddress(ctx, addrA)
	require.NoError(t, err)
	require.Len(t, creds, 2)

	assert.Equal(t, "Discord", creds[0].ProviderName, "ordered by provider")
	assert.False(t, creds[0].Verified)
	assert.Equal(t, "Google", creds[1].ProviderName)
	assert.Equal(t, "v0.0.0:AQ==", creds[1].CredentialHash)
	assert.True(t, creds[1].Verified)
	assert.Equal(t, credIssued, creds[1].IssuedAt)
	assert.Equal(t, credIssued.Add(90*24*time.Hour), creds[1].ExpiresAt)

	require.NoError(t, repo.ReplaceForAddress(ctx, addrA, []model.OffChainCredential{
		makeCredential("Github", "v0.0.0:Aw==", true),
	}))

	creds, err = repo.ListByAddress(ctx, addrA)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "Github", creds[0].ProviderName)
}

func TestCredentialRepo_AddressesAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	seeded := seedCredentials(t, db, addrA, "Github", "Google")
	seedCredentials(t, db, addrB, "Discord")
	require.NoError(t, repo.ReplaceForAddress(ctx, addrB, nil))

	creds, err := repo.ListByAddress(ctx, addrA)
	require.NoError(t, err)
	assert.Equal(t, seeded, creds)

	creds, err = repo.ListByAddress(ctx, addrB)
	require.NoError(t, err)
	assert.Empty(t, creds)
}

func TestCredentialRepo_DuplicateProviderRollsBack(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCredentialRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.ReplaceForAddress(ctx, addrA, []model.OffChainCredential{makeCredential("Google", "v0.0.0:AQ==", true)}))

	err := repo.ReplaceForAddress(ctx, addrA, []model.OffChainCredential{
		makeCredential("Github", "v0.0.0:Ag==", true),
		makeCredential("Github", "v0.0.0:Aw==", true),
	})
	require.Error(t, err)

	creds, err := repo.ListByAddress(ctx, addrA)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "Google", creds[0].ProviderName, "failed replace leaves previous credentials")
}

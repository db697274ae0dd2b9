package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// latestSchemaVersion is the number of the newest file in migrations/.
const latestSchemaVersion = 2

var credIssued = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

// setupTestDB opens an in-memory database named after the test, with the
// credential and watchlist schema migrated. The writer and reader pools share
// it through cache=shared; the name keeps parallel tests apart.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)",
		url.PathEscape(t.Name()),
	)

	db := &DB{
		Writer: openTestPool(t, dsn, 1),
		Reader: openTestPool(t, dsn, 4),
		path:   dsn,
	}
	t.Cleanup(func() { _ = db.Close() })

	version, err := RunMigrations(db.Writer)
	require.NoError(t, err)
	require.Equal(t, uint(latestSchemaVersion), version)

	return db
}

func openTestPool(t *testing.T, dsn string, maxConns int) *sql.DB {
	t.Helper()

	pool, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	pool.SetMaxOpenConns(maxConns)
	require.NoError(t, pool.PingContext(context.Background()))
	return pool
}

// makeCredential returns a credential for addrA issued at credIssued and
// valid for 90 days.
func makeCredential(provider, hash string, verified bool) model.OffChainCredential {
	return model.OffChainCredential{
		Address:        addrA,
		ProviderName:   provider,
		CredentialHash: hash,
		IssuedAt:       credIssued,
		ExpiresAt:      credIssued.Add(90 * 24 * time.Hour),
		Verified:       verified,
	}
}

// seedCredentials stores one verified credential per provider for address,
// with hashes numbered in provider order, and returns what was stored.
func seedCredentials(t *testing.T, db *DB, address string, providers ...string) []model.OffChainCredential {
	t.Helper()

	creds := make([]model.OffChainCredential, 0, len(providers))
	for i, p := range providers {
		c := makeCredential(p, fmt.Sprintf("v0.0.0:%02d", i+1), true)
		c.Address = address
		creds = append(creds, c)
	}
	require.NoError(t, NewCredentialRepo(db).ReplaceForAddress(context.Background(), address, creds))
	return creds
}

// seedWatchlist adds each address to the watchlist without a customization.
func seedWatchlist(t *testing.T, db *DB, addresses ...string) {
	t.Helper()

	repo := NewWatchRepo(db)
	for _, a := range addresses {
		require.NoError(t, repo.Add(context.Background(), makeWatched(a, "")))
	}
}

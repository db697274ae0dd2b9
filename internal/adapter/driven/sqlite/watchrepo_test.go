package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

const (
	addrA = "0x85ff01cff157199527528788ec4ea6336615c989"
	addrB = "0x96db2c6d93a8a12089f7a6eda5464e967308aded"
)

func makeWatched(address, customization string) model.WatchedAddress {
	return model.WatchedAddress{
		Address:       address,
		Customization: customization,
		AddedAt:       time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}
}

func TestWatchRepo_Add(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWatchRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeWatched(addrA, "partner")))

	got, err := repo.Get(ctx, addrA)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.NotZero(t, got.ID)
	assert.Equal(t, addrA, got.Address)
	assert.Equal(t, "partner", got.Customization)
	assert.Equal(t, time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC), got.AddedAt)
}

func TestWatchRepo_Add_Duplicate(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWatchRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeWatched(addrA, "")))

	err := repo.Add(ctx, makeWatched(addrA, ""))
	assert.ErrorIs(t, err, driven.ErrAlreadyWatched)
}

func TestWatchRepo_Remove(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWatchRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, makeWatched(addrA, "")))
	require.NoError(t, repo.Remove(ctx, addrA))

	got, err := repo.Get(ctx, addrA)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, repo.Remove(ctx, addrA), driven.ErrWatchNotFound)
}

func TestWatchRepo_ListAll(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWatchRepo(db)
	ctx := context.Background()

	list, err := repo.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)

	seedWatchlist(t, db, addrB, addrA)

	list, err = repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, addrA, list[0].Address)
	assert.Equal(t, addrB, list[1].Address)
}

func TestParseTime(t *testing.T) {
	want := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	for _, s := range []string{
		"2026-01-15T10:00:00Z",
		"2026-01-15 10:00:00",
		"2026-01-15 10:00:00+00:00",
		"2026-01-15T12:00:00+02:00",
	} {
		got, err := parseTime(s)
		require.NoError(t, err, s)
		assert.Equal(t, want, got, s)
	}

	_, err := parseTime("yesterday")
	assert.Error(t, err)
}

package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	got, err := NormalizeAddress("  0xAbC0000000000000000000000000000000000001 ")
	require.NoError(t, err)
	assert.Equal(t, "0xabc0000000000000000000000000000000000001", got)

	_, err = NormalizeAddress("0x1234")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NormalizeAddress("not-an-address")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestDecodedProviderRecord_HashString(t *testing.T) {
	var hash [32]byte
	hash[0] = 0xff

	r := DecodedProviderRecord{CredentialHash: hash}
	assert.Equal(t, "v0.0.0:/wAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=", r.HashString())
}

func TestCredentialScoreEntry_EarnedScore(t *testing.T) {
	e := CredentialScoreEntry{RawScore: decimal.RequireFromString("3.5")}
	assert.True(t, e.EarnedScore().Equal(decimal.RequireFromString("3.5")))

	e.IsDeduplicated = true
	assert.True(t, e.EarnedScore().IsZero())
	assert.True(t, e.RawScore.Equal(decimal.RequireFromString("3.5")), "raw score is retained")
}

func TestChain_ScorerFor(t *testing.T) {
	custom := &Customization{Key: "partner", ScorerID: 335}

	flagged := Chain{ID: "0xa", UseCustomScorer: true}
	plain := Chain{ID: "0xe708"}

	assert.Equal(t, int64(335), flagged.ScorerFor(1, custom))
	assert.Equal(t, int64(1), plain.ScorerFor(1, custom))
	assert.Equal(t, int64(1), flagged.ScorerFor(1, nil))
}

func TestCustomization_IncludesChain(t *testing.T) {
	var none *Customization
	assert.True(t, none.IncludesChain("0xa"))

	open := &Customization{Key: "open"}
	assert.True(t, open.IncludesChain("0xa"))

	limited := &Customization{Key: "limited", IncludedChainIDs: []string{"0xa"}}
	assert.True(t, limited.IncludesChain("0xa"))
	assert.False(t, limited.IncludesChain("0x1"))
}

func TestOffChainCredential_Expired(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.True(t, OffChainCredential{ExpiresAt: now}.Expired(now))
	assert.True(t, OffChainCredential{ExpiresAt: now.Add(-time.Second)}.Expired(now))
	assert.False(t, OffChainCredential{ExpiresAt: now.Add(time.Second)}.Expired(now))
}

func TestSyncStatus_IsMoved(t *testing.T) {
	assert.False(t, SyncStatusLoading.IsMoved())
	assert.False(t, SyncStatusNotMoved.IsMoved())
	assert.True(t, SyncStatusMovedExpired.IsMoved())
	assert.True(t, SyncStatusMovedUpToDate.IsMoved())
	assert.True(t, SyncStatusMovedOutOfDate.IsMoved())
}

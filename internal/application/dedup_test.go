package application

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

func rawMap(t *testing.T, doc string) map[string]json.RawMessage {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(doc), &m))
	return m
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNormalizeStampScores_LegacyShape(t *testing.T) {
	resp := &model.ScoringResponse{
		StampScores: rawMap(t, `{"Google": "0.525", "Ens": 2.2}`),
	}

	entries, skipped := NormalizeStampScores(resp)
	assert.Empty(t, skipped)
	require.Len(t, entries, 2)

	assert.True(t, entries["Google"].RawScore.Equal(dec("0.525")))
	assert.False(t, entries["Google"].IsDeduplicated)
	assert.Nil(t, entries["Google"].ExpiresAt)
	assert.True(t, entries["Ens"].RawScore.Equal(dec("2.2")))
}

func TestNormalizeStampScores_DetailedShape(t *testing.T) {
	resp := &model.ScoringResponse{
		Stamps: rawMap(t, `{
			"Github": {"score": "3.5", "dedup": true, "expiration_date": "2026-05-01T00:00:00.000Z"},
			"Discord": {"score": 0.689, "dedup": false}
		}`),
	}

	entries, skipped := NormalizeStampScores(resp)
	assert.Empty(t, skipped)
	require.Len(t, entries, 2)

	gh := entries["Github"]
	assert.True(t, gh.IsDeduplicated)
	assert.True(t, gh.RawScore.Equal(dec("3.5")), "raw score is kept before dedup")
	assert.True(t, gh.EarnedScore().IsZero())
	require.NotNil(t, gh.ExpiresAt)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), *gh.ExpiresAt)

	assert.False(t, entries["Discord"].IsDeduplicated)
}

func TestNormalizeStampScores_MixedShapesInOneMap(t *testing.T) {
	resp := &model.ScoringResponse{
		StampScores: rawMap(t, `{"A": "1", "B": {"score": "2", "dedup": true}}`),
	}

	entries, skipped := NormalizeStampScores(resp)
	assert.Empty(t, skipped)
	require.Len(t, entries, 2)
	assert.False(t, entries["A"].IsDeduplicated)
	assert.True(t, entries["B"].IsDeduplicated)
}

func TestNormalizeStampScores_DetailedWinsAcrossMaps(t *testing.T) {
	resp := &model.ScoringResponse{
		StampScores: rawMap(t, `{"A": "1"}`),
		Stamps:      rawMap(t, `{"A": {"score": "1", "dedup": true}}`),
	}

	entries, _ := NormalizeStampScores(resp)
	assert.True(t, entries["A"].IsDeduplicated)

	reversed := &model.ScoringResponse{
		StampScores: rawMap(t, `{"A": {"score": "1", "dedup": true}}`),
		Stamps:      rawMap(t, `{"A": "1"}`),
	}
	entries, _ = NormalizeStampScores(reversed)
	assert.True(t, entries["A"].IsDeduplicated)
}

func TestNormalizeStampScores_SkipsUndecodable(t *testing.T) {
	resp := &model.ScoringResponse{
		StampScores: rawMap(t, `{"Bad": "abc", "Null": null, "Good": "1", "NoScore": {"dedup": true}}`),
	}

	entries, skipped := NormalizeStampScores(resp)
	assert.Equal(t, []string{"Bad", "NoScore", "Null"}, skipped)
	require.Len(t, entries, 1)
	assert.Contains(t, entries, "Good")
}

func TestAggregateByPlatform(t *testing.T) {
	platforms := []model.Platform{
		{
			ID:   "P",
			Name: "Platform P",
			Providers: []model.PlatformProvider{
				{Name: "A"},
				{Name: "B"},
			},
		},
	}
	weights := model.ProviderWeights{"A": dec("5"), "B": dec("3")}
	entries := map[string]model.CredentialScoreEntry{
		"A": {ProviderName: "A", RawScore: dec("5")},
		"B": {ProviderName: "B", RawScore: dec("3"), IsDeduplicated: true},
	}
	creds := []model.OffChainCredential{
		{ProviderName: "A", Verified: true},
		{ProviderName: "B", Verified: true},
	}

	scores := AggregateByPlatform(entries, platforms, weights, creds)
	require.Len(t, scores, 1)

	p := scores[0]
	assert.Equal(t, "P", p.PlatformID)
	assert.True(t, p.EarnedPoints.Equal(dec("5")))
	assert.True(t, p.PossiblePoints.Equal(dec("8")))
	assert.True(t, p.DisplayPossiblePoints.Equal(dec("8")))
	assert.True(t, p.IsDeduplicated)
	assert.True(t, p.IsVerified)
}

func TestAggregateByPlatform_VerifiedButFullyDeduplicated(t *testing.T) {
	platforms := []model.Platform{{ID: "P", Providers: []model.PlatformProvider{{Name: "A"}}}}
	entries := map[string]model.CredentialScoreEntry{
		"A": {ProviderName: "A", RawScore: dec("5"), IsDeduplicated: true},
	}
	creds := []model.OffChainCredential{{ProviderName: "A", Verified: true}}

	scores := AggregateByPlatform(entries, platforms, model.ProviderWeights{"A": dec("5")}, creds)
	require.Len(t, scores, 1)
	assert.True(t, scores[0].EarnedPoints.IsZero())
	assert.True(t, scores[0].IsVerified)
}

func TestAggregateByPlatform_DeprecatedAndUnverified(t *testing.T) {
	platforms := []model.Platform{
		{ID: "P", Providers: []model.PlatformProvider{{Name: "Old", Deprecated: true}, {Name: "New"}}},
		{ID: "Q", Providers: []model.PlatformProvider{{Name: "Other"}}},
	}
	weights := model.ProviderWeights{"Old": dec("2"), "New": dec("4"), "Other": dec("1")}

	scores := AggregateByPlatform(nil, platforms, weights, []model.OffChainCredential{{ProviderName: "Other", Verified: false}})
	require.Len(t, scores, 2)

	assert.True(t, scores[0].PossiblePoints.Equal(dec("6")))
	assert.True(t, scores[0].DisplayPossiblePoints.Equal(dec("4")))
	assert.False(t, scores[0].IsVerified)

	assert.Equal(t, "Q", scores[1].PlatformID)
	assert.False(t, scores[1].IsVerified)
	assert.True(t, scores[1].EarnedPoints.IsZero())
}

package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ScoringResponse is the scoring service's answer for one address, with the
// per-credential scores left undecoded. StampScores carries the legacy flat
// shape and Stamps the detailed shape; a single response may use either or both.
type ScoringResponse struct {
	Address      string
	Status       ScoreState
	Score        float64
	RawScore     float64
	Threshold    float64
	PassingScore bool
	Error        string
	StampScores  map[string]json.RawMessage
	Stamps       map[string]json.RawMessage
	LastUpdated  time.Time
}

// CredentialScoreEntry is the normalized contribution of one credential.
type CredentialScoreEntry struct {
	ProviderName   string
	RawScore       decimal.Decimal
	IsDeduplicated bool
	ExpiresAt      *time.Time
}

// EarnedScore is the score the credential contributes after deduplication.
func (e CredentialScoreEntry) EarnedScore() decimal.Decimal {
	if e.IsDeduplicated {
		return decimal.Zero
	}
	return e.RawScore
}

// ScoreResult is the live score for an address as last observed.
type ScoreResult struct {
	Address      string
	ScorerID     int64
	State        ScoreState
	Score        float64
	RawScore     float64
	Threshold    float64
	PassingScore bool
	Entries      map[string]CredentialScoreEntry
	Error        string
	ObservedAt   time.Time
}

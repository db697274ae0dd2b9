package model

import (
	"encoding/base64"
	"time"
)

// CredentialHashPrefix is the version tag the off-chain store puts in front of
// a base64 credential hash.
const CredentialHashPrefix = "v0.0.0:"

// DecodedProviderRecord is one provider credential recovered from an on-chain
// passport attestation.
type DecodedProviderRecord struct {
	ProviderName   string
	ProviderNumber uint64
	CredentialHash [32]byte
	IssuedAt       time.Time
	ExpiresAt      time.Time
}

// HashString renders the credential hash the way the off-chain store keeps it.
func (r DecodedProviderRecord) HashString() string {
	return CredentialHashPrefix + base64.StdEncoding.EncodeToString(r.CredentialHash[:])
}

// RawAttestation is the ledger envelope around an encoded attestation payload.
type RawAttestation struct {
	UID       [32]byte
	Schema    [32]byte
	Recipient string
	Attester  string
	IssuedAt  time.Time
	ExpiresAt *time.Time
	RevokedAt *time.Time
	Data      []byte
}

// Revoked reports whether the attestation was revoked on-chain.
func (a RawAttestation) Revoked() bool {
	return a.RevokedAt != nil
}

// ScoreAttestation is a decoded score payload.
type ScoreAttestation struct {
	Value    float64
	Decimals uint64
	ScorerID uint64
	// ExpiresAt is set only when the payload itself carries an expiry.
	ExpiresAt *time.Time
}

// ChainSnapshot is the decoded on-chain state for one (address, ledger) pair.
// A refresh replaces the snapshot wholesale.
type ChainSnapshot struct {
	ChainID        string
	Score          float64
	HasScore       bool
	Providers      []DecodedProviderRecord
	ScoreExpiresAt *time.Time
	IndexVersion   string
	Digest         string
	FetchedAt      time.Time
}

// EmptySnapshot is the snapshot of a ledger with no attestation for the user.
func EmptySnapshot(chainID string, fetchedAt time.Time) *ChainSnapshot {
	return &ChainSnapshot{
		ChainID:   chainID,
		Providers: []DecodedProviderRecord{},
		FetchedAt: fetchedAt,
	}
}

// IsEmpty reports whether nothing has been attested on the ledger.
func (s *ChainSnapshot) IsEmpty() bool {
	return !s.HasScore && len(s.Providers) == 0
}

package application

import (
	"math"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// ReconcileInput is everything a policy needs to judge one ledger.
type ReconcileInput struct {
	ScoreState   model.ScoreState
	LiveRawScore float64
	// OnChainScore is NaN when the ledger holds no score attestation.
	OnChainScore        float64
	OnChainProviders    []model.DecodedProviderRecord
	OffChainCredentials []model.OffChainCredential
	ExpiresAt           *time.Time
	Now                 time.Time
}

// CheckStatus reconciles one ledger under the given policy. An unknown
// policy yields SyncStatusLoading.
func CheckStatus(policy model.ReconciliationPolicy, in ReconcileInput) model.SyncStatus {
	switch policy {
	case model.PolicyFullSet:
		return checkFullSet(in)
	case model.PolicyScoreOnly:
		return checkScoreOnly(in)
	default:
		return model.SyncStatusLoading
	}
}

func checkFullSet(in ReconcileInput) model.SyncStatus {
	if !in.ScoreState.IsTerminal() {
		return model.SyncStatusLoading
	}
	if len(in.OnChainProviders) == 0 {
		return model.SyncStatusNotMoved
	}
	if expired(in) {
		return model.SyncStatusMovedExpired
	}
	if roundOneDecimal(in.LiveRawScore) != roundOneDecimal(in.OnChainScore) {
		return model.SyncStatusMovedOutOfDate
	}
	if !sameCredentialSet(in) {
		return model.SyncStatusMovedOutOfDate
	}
	return model.SyncStatusMovedUpToDate
}

func checkScoreOnly(in ReconcileInput) model.SyncStatus {
	if in.ScoreState != model.ScoreStateDone {
		return model.SyncStatusLoading
	}
	if expired(in) {
		return model.SyncStatusMovedExpired
	}
	if math.IsNaN(in.OnChainScore) {
		return model.SyncStatusNotMoved
	}
	if len(in.OnChainProviders) == 0 {
		if roundOneDecimal(in.LiveRawScore) == roundOneDecimal(in.OnChainScore) {
			return model.SyncStatusMovedUpToDate
		}
		return model.SyncStatusMovedOutOfDate
	}
	return checkFullSet(in)
}

func expired(in ReconcileInput) bool {
	return in.ExpiresAt != nil && in.ExpiresAt.Before(in.Now)
}

// roundOneDecimal rounds to the single decimal place scores are displayed with.
func roundOneDecimal(v float64) float64 {
	return math.Round(v*10) / 10
}

type credentialKey struct {
	provider string
	hash     string
}

// sameCredentialSet compares the unexpired verified off-chain credentials with
// the on-chain records by (provider, hash). Any member without a partner on
// the other side makes the sets differ.
func sameCredentialSet(in ReconcileInput) bool {
	offChain := make(map[credentialKey]bool, len(in.OffChainCredentials))
	for _, c := range in.OffChainCredentials {
		if !c.Verified || c.Expired(in.Now) {
			continue
		}
		offChain[credentialKey{provider: c.ProviderName, hash: c.CredentialHash}] = true
	}

	onChain := make(map[credentialKey]bool, len(in.OnChainProviders))
	for _, r := range in.OnChainProviders {
		k := credentialKey{provider: r.ProviderName, hash: r.HashString()}
		if !offChain[k] {
			return false
		}
		onChain[k] = true
	}

	return len(onChain) == len(offChain)
}

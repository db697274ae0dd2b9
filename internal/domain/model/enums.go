package model

// SyncStatus is the reconciled relationship between a user's off-chain state
// and what has been attested on one ledger.
type SyncStatus string

const (
	SyncStatusLoading        SyncStatus = "loading"
	SyncStatusNotMoved       SyncStatus = "not_moved"
	SyncStatusMovedOutOfDate SyncStatus = "moved_out_of_date"
	SyncStatusMovedUpToDate  SyncStatus = "moved_up_to_date"
	SyncStatusMovedExpired   SyncStatus = "moved_expired"
)

// IsMoved reports whether anything has ever been attested for the user.
func (s SyncStatus) IsMoved() bool {
	switch s {
	case SyncStatusMovedOutOfDate, SyncStatusMovedUpToDate, SyncStatusMovedExpired:
		return true
	default:
		return false
	}
}

// ScoreState is the lifecycle of the scoring service's computation.
type ScoreState string

const (
	ScoreStateInitial    ScoreState = "initial"
	ScoreStateProcessing ScoreState = "processing"
	ScoreStateDone       ScoreState = "done"
	ScoreStateError      ScoreState = "error"
)

// IsTerminal reports whether the scoring service has finished, successfully or not.
func (s ScoreState) IsTerminal() bool {
	return s == ScoreStateDone || s == ScoreStateError
}

// ReconciliationPolicy selects how a ledger's snapshot is compared with
// off-chain state. The set of policies is closed.
type ReconciliationPolicy string

const (
	// PolicyFullSet compares both the score and the full credential set.
	PolicyFullSet ReconciliationPolicy = "full_set"
	// PolicyScoreOnly compares the score and falls back to the full set
	// comparison only when provider records were published.
	PolicyScoreOnly ReconciliationPolicy = "score_only"
)

// Valid reports whether p is one of the known policies.
func (p ReconciliationPolicy) Valid() bool {
	return p == PolicyFullSet || p == PolicyScoreOnly
}

// AttestationKind identifies which of the two attestation schemas a lookup targets.
type AttestationKind string

const (
	AttestationKindPassport AttestationKind = "passport"
	AttestationKindScore    AttestationKind = "score"
)

// ChainState is the availability of a ledger's attestation provider.
type ChainState string

const (
	ChainStateEnabled    ChainState = "enabled"
	ChainStateDisabled   ChainState = "disabled"
	ChainStateComingSoon ChainState = "coming_soon"
)

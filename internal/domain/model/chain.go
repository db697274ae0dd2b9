package model

// SchemaRef identifies an attestation schema on a ledger and the field list
// its payloads are encoded with.
type SchemaRef struct {
	UID        string
	Definition string
}

// Chain is one configured ledger.
type Chain struct {
	ID              string
	Label           string
	RPCURL          string
	State           ChainState
	Policy          ReconciliationPolicy
	UseCustomScorer bool
	ResolverAddress string
	EASAddress      string
	PassportSchema  SchemaRef
	ScoreSchema     SchemaRef
}

// Enabled reports whether attestations on this ledger are read at all.
func (c Chain) Enabled() bool {
	return c.State == ChainStateEnabled
}

// ScorerFor returns the scorer whose score is attested on this ledger.
// A customization's scorer applies only to ledgers flagged for it.
func (c Chain) ScorerFor(defaultScorer int64, custom *Customization) int64 {
	if c.UseCustomScorer && custom != nil && custom.ScorerID != 0 {
		return custom.ScorerID
	}
	return defaultScorer
}

// Customization is a partner's view of the service: its own scorer, the
// ledgers it cares about and optional weight overrides.
type Customization struct {
	Key              string
	ScorerID         int64
	IncludedChainIDs []string
	Weights          ProviderWeights
}

// IncludesChain reports whether a ledger participates in aggregate statuses.
// A nil customization or an empty allow-list includes every ledger.
func (c *Customization) IncludesChain(chainID string) bool {
	if c == nil || len(c.IncludedChainIDs) == 0 {
		return true
	}
	for _, id := range c.IncludedChainIDs {
		if id == chainID {
			return true
		}
	}
	return false
}

// ChainSyncStatus is the reconciled status of one ledger as seen by a caller.
type ChainSyncStatus struct {
	ChainID   string
	Status    SyncStatus
	IsPending bool
	Err       error
}

// AggregateStatus folds the statuses of all included ledgers.
type AggregateStatus struct {
	AllUpToDate bool
	AnyExpired  bool
	AnyUpToDate bool
}

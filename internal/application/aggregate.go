package application

import "github.com/ericfisherdev/stampsync/internal/domain/model"

// AggregateSyncStatuses folds per-ledger statuses into the dashboard booleans.
// Ledgers rejected by include are removed before any fold. AllUpToDate is
// true only when at least one ledger remains and every remaining ledger has
// been moved and is not expired.
func AggregateSyncStatuses(statuses []model.ChainSyncStatus, include func(chainID string) bool) model.AggregateStatus {
	var agg model.AggregateStatus
	included := 0
	allMoved := true

	for _, s := range statuses {
		if include != nil && !include(s.ChainID) {
			continue
		}
		included++

		switch s.Status {
		case model.SyncStatusMovedUpToDate:
			agg.AnyUpToDate = true
		case model.SyncStatusMovedOutOfDate:
		case model.SyncStatusMovedExpired:
			agg.AnyExpired = true
			allMoved = false
		default:
			allMoved = false
		}
	}

	agg.AllUpToDate = included > 0 && allMoved
	return agg
}

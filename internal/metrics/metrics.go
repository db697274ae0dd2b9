// Package metrics defines the Prometheus instruments exported by stampsync.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ledger loads by chain and outcome: "attested", "absent", "error".
	LedgerLoads *prometheus.CounterVec

	// Ledger load latency by chain.
	LedgerLoadDuration *prometheus.HistogramVec

	// Loads whose result was dropped because a newer load or an invalidation won.
	DiscardedLoads *prometheus.CounterVec

	// Snapshot cache lookups by result: "hit", "miss", "stale".
	SnapshotLookups *prometheus.CounterVec

	// Attestation decode failures by kind.
	DecodeErrors *prometheus.CounterVec

	// Scoring service polls by observed state.
	ScorePolls *prometheus.CounterVec

	// Computed sync statuses by chain and status.
	StatusesComputed *prometheus.CounterVec

	// Provider index reloads by outcome: "unchanged", "replaced", "error".
	IndexReloads *prometheus.CounterVec
}

// New creates all instruments and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LedgerLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_ledger_loads_total",
			Help: "Ledger snapshot loads by chain and outcome",
		}, []string{"chain", "outcome"}),

		LedgerLoadDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stampsync_ledger_load_duration_seconds",
			Help:    "Duration of ledger snapshot loads",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"chain"}),

		DiscardedLoads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_ledger_loads_discarded_total",
			Help: "Ledger loads whose result was superseded before it could be applied",
		}, []string{"chain"}),

		SnapshotLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_snapshot_lookups_total",
			Help: "Snapshot cache lookups by result",
		}, []string{"result"}),

		DecodeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_decode_errors_total",
			Help: "Attestation payloads that failed to decode, by error kind",
		}, []string{"kind"}),

		ScorePolls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_score_polls_total",
			Help: "Scoring service polls by observed state",
		}, []string{"state"}),

		StatusesComputed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_sync_statuses_total",
			Help: "Reconciled sync statuses by chain and status",
		}, []string{"chain", "status"}),

		IndexReloads: f.NewCounterVec(prometheus.CounterOpts{
			Name: "stampsync_provider_index_reloads_total",
			Help: "Provider index reloads by outcome",
		}, []string{"outcome"}),
	}
}

// ObserveLedgerLoad records one finished ledger load.
func (m *Metrics) ObserveLedgerLoad(chain, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LedgerLoads.WithLabelValues(chain, outcome).Inc()
	m.LedgerLoadDuration.WithLabelValues(chain).Observe(d.Seconds())
}

// IncDiscardedLoad records a load result that was not applied.
func (m *Metrics) IncDiscardedLoad(chain string) {
	if m != nil {
		m.DiscardedLoads.WithLabelValues(chain).Inc()
	}
}

// IncSnapshotLookup records a cache lookup result.
func (m *Metrics) IncSnapshotLookup(result string) {
	if m != nil {
		m.SnapshotLookups.WithLabelValues(result).Inc()
	}
}

// IncDecodeError records a decode failure.
func (m *Metrics) IncDecodeError(kind string) {
	if m != nil {
		m.DecodeErrors.WithLabelValues(kind).Inc()
	}
}

// IncScorePoll records one scoring service poll.
func (m *Metrics) IncScorePoll(state string) {
	if m != nil {
		m.ScorePolls.WithLabelValues(state).Inc()
	}
}

// IncStatus records a computed sync status.
func (m *Metrics) IncStatus(chain, status string) {
	if m != nil {
		m.StatusesComputed.WithLabelValues(chain, status).Inc()
	}
}

// IncIndexReload records a provider index reload.
func (m *Metrics) IncIndexReload(outcome string) {
	if m != nil {
		m.IndexReloads.WithLabelValues(outcome).Inc()
	}
}

package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/attestation"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

var fetcherNow = fixtureIssued.Add(24 * time.Hour)

func newTestFetcher(t *testing.T, m *metrics.Metrics, ledgers map[string]*fakeLedger) *ChainDataFetcher {
	t.Helper()

	chains := make([]model.Chain, 0, len(ledgers))
	readers := make(map[string]driven.LedgerReader, len(ledgers))
	for _, id := range []string{"0xa", "0x1", "0x2105"} {
		l, ok := ledgers[id]
		if !ok {
			continue
		}
		chains = append(chains, enabledChain(id, model.PolicyFullSet))
		readers[id] = l
	}

	f, err := NewChainDataFetcher(chains, readers, testIndexProvider(t), FetcherOptions{
		SnapshotTTL:   time.Minute,
		LedgerTimeout: time.Second,
		Metrics:       m,
		Now:           func() time.Time { return fetcherNow },
	})
	require.NoError(t, err)
	return f
}

func keyFor(chainID string) SnapshotKey {
	return SnapshotKey{Address: testAddress, ChainID: chainID}
}

func TestChainDataFetcher_FetchDecodesBothAttestations(t *testing.T) {
	ledger := newFakeLedger()
	idx := testIndex(t, "v1")
	ledger.put(model.AttestationKindPassport, passportAttestation(t, idx, "Google", "Discord"))
	ledger.put(model.AttestationKindScore, scoreAttestation(t, 215400))

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": ledger})

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)

	assert.True(t, snap.HasScore)
	assert.InDelta(t, 21.54, snap.Score, 1e-9)
	require.Len(t, snap.Providers, 2)
	assert.Equal(t, "Google", snap.Providers[0].ProviderName)
	assert.Equal(t, "Discord", snap.Providers[1].ProviderName)
	assert.Equal(t, uint64(259), snap.Providers[1].ProviderNumber)
	assert.Equal(t, "v1", snap.IndexVersion)
	assert.Len(t, snap.Digest, 64)

	require.NotNil(t, snap.ScoreExpiresAt)
	assert.Equal(t, fixtureIssued.Add(90*24*time.Hour), *snap.ScoreExpiresAt,
		"without any expiry the score is dated from issue")
}

func TestChainDataFetcher_ScoreExpiryPrefersEnvelope(t *testing.T) {
	ledger := newFakeLedger()
	envelope := fixtureIssued.Add(10 * 24 * time.Hour)
	att := scoreAttestation(t, 10000)
	att.ExpiresAt = &envelope
	ledger.put(model.AttestationKindScore, att)

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": ledger})

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	require.NotNil(t, snap.ScoreExpiresAt)
	assert.Equal(t, envelope, *snap.ScoreExpiresAt)
}

func TestScoreExpiry_PayloadBeforeMaxAge(t *testing.T) {
	payload := fixtureIssued.Add(5 * 24 * time.Hour)
	att := &model.RawAttestation{IssuedAt: fixtureIssued}

	got := scoreExpiry(att, model.ScoreAttestation{ExpiresAt: &payload}, 90*24*time.Hour)
	require.NotNil(t, got)
	assert.Equal(t, payload, *got)
}

func TestChainDataFetcher_NothingAttested(t *testing.T) {
	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": newFakeLedger()})

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
	assert.Nil(t, snap.ScoreExpiresAt)
}

func TestChainDataFetcher_RevokedCountsAsAbsent(t *testing.T) {
	ledger := newFakeLedger()
	revoked := fixtureIssued.Add(time.Hour)
	att := passportAttestation(t, testIndex(t, "v1"), "Google")
	att.RevokedAt = &revoked
	ledger.put(model.AttestationKindPassport, att)

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": ledger})

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	assert.True(t, snap.IsEmpty())
}

func TestChainDataFetcher_ServesFromCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ledger := newFakeLedger()
	f := newTestFetcher(t, m, map[string]*fakeLedger{"0xa": ledger})

	_, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	calls := ledger.callCount()

	_, err = f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	assert.Equal(t, calls, ledger.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SnapshotLookups.WithLabelValues("miss")))
}

func TestChainDataFetcher_UnknownChain(t *testing.T) {
	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": newFakeLedger()})

	_, err := f.Fetch(context.Background(), keyFor("0x999"))
	assert.ErrorIs(t, err, driven.ErrUnknownChain)

	assert.ErrorIs(t, f.Invalidate(testAddress, "0x999"), driven.ErrUnknownChain)
}

func TestChainDataFetcher_DisabledChainsAreSkipped(t *testing.T) {
	chains := []model.Chain{
		enabledChain("0xa", model.PolicyFullSet),
		{ID: "0x1", State: model.ChainStateComingSoon},
	}
	f, err := NewChainDataFetcher(chains, map[string]driven.LedgerReader{"0xa": newFakeLedger()}, testIndexProvider(t), FetcherOptions{})
	require.NoError(t, err)

	require.Len(t, f.Chains(), 1)
	assert.Equal(t, "0xa", f.Chains()[0].ID)
}

func TestNewChainDataFetcher_MissingReader(t *testing.T) {
	_, err := NewChainDataFetcher([]model.Chain{enabledChain("0xa", model.PolicyFullSet)}, nil, testIndexProvider(t), FetcherOptions{})
	assert.Error(t, err)
}

func TestChainDataFetcher_FailuresAreIsolated(t *testing.T) {
	broken := newFakeLedger()
	broken.err = errors.New("rpc unavailable")

	healthy := newFakeLedger()
	healthy.put(model.AttestationKindScore, scoreAttestation(t, 50000))

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": broken, "0x1": healthy})

	results := f.FetchAll(context.Background(), testAddress, func(model.Chain) int64 { return 0 })
	require.Len(t, results, 2)

	assert.Equal(t, "0xa", results[0].Key.ChainID)
	var fetchErr *FetchError
	require.ErrorAs(t, results[0].Err, &fetchErr)
	assert.Equal(t, "0xa", fetchErr.ChainID)
	assert.False(t, results[0].IsPending)

	assert.Equal(t, "0x1", results[1].Key.ChainID)
	require.NoError(t, results[1].Err)
	assert.InDelta(t, 5.0, results[1].Snapshot.Score, 1e-9)
}

func TestChainDataFetcher_DecodeErrorIsReported(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ledger := newFakeLedger()
	ledger.put(model.AttestationKindScore, &model.RawAttestation{UID: uidOf(9), IssuedAt: fixtureIssued, Data: []byte{0x01}})

	f := newTestFetcher(t, m, map[string]*fakeLedger{"0xa": ledger})

	_, err := f.Fetch(context.Background(), keyFor("0xa"))
	assert.ErrorIs(t, err, attestation.ErrSchemaMismatch)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrors.WithLabelValues("schema_mismatch")))

	state := f.State(keyFor("0xa"))
	assert.Error(t, state.Err)
	assert.False(t, state.IsPending)
}

func TestChainDataFetcher_InvalidateDiscardsInFlightLoad(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ledger := newFakeLedger()
	ledger.started = make(chan struct{}, 1)
	ledger.release = make(chan struct{})
	ledger.put(model.AttestationKindScore, scoreAttestation(t, 10000))

	f := newTestFetcher(t, m, map[string]*fakeLedger{"0xa": ledger})

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(context.Background(), keyFor("0xa"))
		done <- err
	}()

	<-ledger.started
	assert.True(t, f.State(keyFor("0xa")).IsPending)
	require.NoError(t, f.Invalidate(testAddress, ""))

	ledger.mu.Lock()
	ledger.started = nil
	ledger.mu.Unlock()
	close(ledger.release)

	require.NoError(t, <-done)
	assert.Nil(t, f.State(keyFor("0xa")).Snapshot, "invalidated load must not be stored")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscardedLoads.WithLabelValues("0xa")))

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	assert.True(t, snap.HasScore)
}

func TestChainDataFetcher_EvictionKeepsRequestedEntry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	ledger := newFakeLedger()
	ledger.put(model.AttestationKindScore, scoreAttestation(t, 10000))
	f := newTestFetcher(t, m, map[string]*fakeLedger{"0xa": ledger})

	key := keyFor("0xa")
	idle := SnapshotKey{Address: "0x96db2c6d93a8a12089f7a6eda5464e967308aded", ChainID: "0xa"}
	f.mu.Lock()
	f.entries[idle] = &snapshotEntry{storedAt: fetcherNow.Add(-time.Hour)}
	f.mu.Unlock()

	// A load is numbered but has not started yet when eviction runs.
	snap, seq, gen := f.reserve(key)
	require.Nil(t, snap)

	f.mu.Lock()
	f.evictLocked()
	_, requestedKept := f.entries[key]
	_, idleKept := f.entries[idle]
	f.mu.Unlock()
	assert.True(t, requestedKept)
	assert.False(t, idleKept)

	require.NoError(t, f.Invalidate(testAddress, ""))

	_, err := f.load(context.Background(), f.chains["0xa"], key, seq, gen)
	require.NoError(t, err)
	assert.Nil(t, f.State(key).Snapshot, "a load superseded by Invalidate must not be stored")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DiscardedLoads.WithLabelValues("0xa")))
}

func TestChainDataFetcher_CallerTimeoutDoesNotCancelLoad(t *testing.T) {
	ledger := newFakeLedger()
	ledger.started = make(chan struct{}, 1)
	ledger.release = make(chan struct{})
	ledger.put(model.AttestationKindScore, scoreAttestation(t, 10000))

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": ledger})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, keyFor("0xa"))
		done <- err
	}()

	<-ledger.started
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	results := f.FetchAll(ctx, testAddress, func(model.Chain) int64 { return 0 })
	require.Len(t, results, 1)
	assert.True(t, results[0].IsPending)

	close(ledger.release)

	require.Eventually(t, func() bool {
		return f.State(keyFor("0xa")).Snapshot != nil
	}, time.Second, 10*time.Millisecond)
	assert.True(t, f.State(keyFor("0xa")).Snapshot.HasScore)
}

func TestChainDataFetcher_ConcurrentFetchesShareOneLoad(t *testing.T) {
	ledger := newFakeLedger()
	ledger.started = make(chan struct{}, 4)
	ledger.release = make(chan struct{})

	f := newTestFetcher(t, nil, map[string]*fakeLedger{"0xa": ledger})

	const callers = 4
	done := make(chan error, callers)
	for range callers {
		go func() {
			_, err := f.Fetch(context.Background(), keyFor("0xa"))
			done <- err
		}()
	}

	<-ledger.started
	time.Sleep(20 * time.Millisecond)
	close(ledger.release)

	for range callers {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 2, ledger.callCount(), "one score and one passport lookup")
}

func TestChainDataFetcher_InvalidateAllOnIndexChange(t *testing.T) {
	ledger := newFakeLedger()
	indexes := testIndexProvider(t)

	f, err := NewChainDataFetcher(
		[]model.Chain{enabledChain("0xa", model.PolicyFullSet)},
		map[string]driven.LedgerReader{"0xa": ledger},
		indexes,
		FetcherOptions{SnapshotTTL: time.Hour, Now: func() time.Time { return fetcherNow }},
	)
	require.NoError(t, err)
	indexes.OnChange(func(_, _ *model.ProviderIndex) { f.InvalidateAll() })

	_, err = f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	calls := ledger.callCount()

	indexes.Replace(testIndex(t, "v2"))

	snap, err := f.Fetch(context.Background(), keyFor("0xa"))
	require.NoError(t, err)
	assert.Greater(t, ledger.callCount(), calls)
	assert.Equal(t, "v2", snap.IndexVersion)
}

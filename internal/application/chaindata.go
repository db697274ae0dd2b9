package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/stampsync/internal/domain/attestation"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

// maxSnapshotEntries bounds the cache before expired entries are evicted.
const maxSnapshotEntries = 10000

// SnapshotKey identifies one cached ledger snapshot.
type SnapshotKey struct {
	Address  string
	ChainID  string
	ScorerID int64
}

func (k SnapshotKey) String() string {
	return k.Address + "|" + k.ChainID + "|" + strconv.FormatInt(k.ScorerID, 10)
}

// FetchError is a failed ledger load. It never affects other ledgers.
type FetchError struct {
	ChainID string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch chain %s: %v", e.ChainID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ChainResult is the outcome of one ledger fetch.
type ChainResult struct {
	Key       SnapshotKey
	Snapshot  *model.ChainSnapshot
	Err       error
	IsPending bool
}

// FetcherOptions tunes a ChainDataFetcher.
type FetcherOptions struct {
	// SnapshotTTL is how long a snapshot is served without reloading.
	SnapshotTTL time.Duration
	// LedgerTimeout bounds one ledger load, independent of any caller.
	LedgerTimeout time.Duration
	// ScoreMaxAge dates a score attestation's expiry when neither the
	// envelope nor the payload carries one.
	ScoreMaxAge time.Duration
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

type chainCodecs struct {
	passport *attestation.PassportCodec
	score    *attestation.ScoreCodec
}

type snapshotEntry struct {
	snapshot    *model.ChainSnapshot
	err         error
	storedAt    time.Time
	requestedAt time.Time
	stale      bool
	generation uint64
	appliedSeq uint64
	loading    int
}

// ChainDataFetcher loads and caches decoded ledger snapshots per
// (address, ledger, scorer). Loads for different ledgers run concurrently
// and fail independently. Concurrent loads of one key share a single request.
type ChainDataFetcher struct {
	chains  map[string]model.Chain
	order   []string
	readers map[string]driven.LedgerReader
	codecs  map[string]chainCodecs
	indexes *ProviderIndexProvider
	opts    FetcherOptions
	tracer  trace.Tracer

	mu      sync.Mutex
	entries map[SnapshotKey]*snapshotEntry
	seq     uint64
	group   singleflight.Group
}

// NewChainDataFetcher creates a fetcher for the enabled chains. Every enabled
// chain needs a reader.
func NewChainDataFetcher(
	chains []model.Chain,
	readers map[string]driven.LedgerReader,
	indexes *ProviderIndexProvider,
	opts FetcherOptions,
) (*ChainDataFetcher, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.LedgerTimeout <= 0 {
		opts.LedgerTimeout = 15 * time.Second
	}
	if opts.ScoreMaxAge <= 0 {
		opts.ScoreMaxAge = 90 * 24 * time.Hour
	}

	f := &ChainDataFetcher{
		chains:  make(map[string]model.Chain),
		readers: make(map[string]driven.LedgerReader),
		codecs:  make(map[string]chainCodecs),
		indexes: indexes,
		opts:    opts,
		tracer:  otel.Tracer("github.com/ericfisherdev/stampsync/internal/application"),
		entries: make(map[SnapshotKey]*snapshotEntry),
	}

	for _, c := range chains {
		if !c.Enabled() {
			continue
		}
		reader, ok := readers[c.ID]
		if !ok {
			return nil, fmt.Errorf("chain %s has no ledger reader", c.ID)
		}

		passportSchema := c.PassportSchema.Definition
		if passportSchema == "" {
			passportSchema = attestation.PassportSchema
		}
		scoreSchema := c.ScoreSchema.Definition
		if scoreSchema == "" {
			scoreSchema = attestation.ScoreSchema
		}
		passport, err := attestation.NewPassportCodec(passportSchema)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", c.ID, err)
		}
		score, err := attestation.NewScoreCodec(scoreSchema)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", c.ID, err)
		}

		f.chains[c.ID] = c
		f.order = append(f.order, c.ID)
		f.readers[c.ID] = reader
		f.codecs[c.ID] = chainCodecs{passport: passport, score: score}
	}

	return f, nil
}

// Chains returns the enabled chains in configuration order.
func (f *ChainDataFetcher) Chains() []model.Chain {
	out := make([]model.Chain, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.chains[id])
	}
	return out
}

// Chain returns an enabled chain by id.
func (f *ChainDataFetcher) Chain(id string) (model.Chain, bool) {
	c, ok := f.chains[id]
	return c, ok
}

// Fetch returns the snapshot for key, loading it when the cached one is
// missing, stale or expired. The load itself is detached from ctx: a caller
// that stops waiting does not cancel a load others may share.
func (f *ChainDataFetcher) Fetch(ctx context.Context, key SnapshotKey) (*model.ChainSnapshot, error) {
	chain, ok := f.chains[key.ChainID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", key.ChainID, driven.ErrUnknownChain)
	}

	snap, seq, gen := f.reserve(key)
	if snap != nil {
		return snap, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key.String()+"|"+strconv.FormatUint(gen, 10), func() (any, error) {
		return f.load(loadCtx, chain, key, seq, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.ChainSnapshot), nil
	}
}

// reserve returns the cached snapshot for key when it can be served.
// Otherwise it numbers a new load and returns the generation it belongs to.
// The entry is marked as requested so eviction keeps it until the load starts.
func (f *ChainDataFetcher) reserve(key SnapshotKey) (*model.ChainSnapshot, uint64, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.opts.Now()
	e := f.entryLocked(key)
	if e.snapshot != nil && !e.stale && now.Sub(e.storedAt) < f.opts.SnapshotTTL {
		f.opts.Metrics.IncSnapshotLookup("hit")
		return e.snapshot, 0, 0
	}
	if e.snapshot != nil || e.err != nil {
		f.opts.Metrics.IncSnapshotLookup("stale")
	} else {
		f.opts.Metrics.IncSnapshotLookup("miss")
	}

	f.seq++
	e.requestedAt = now
	return nil, f.seq, e.generation
}

// FetchAll fetches every enabled ledger for address concurrently. A ledger's
// failure is reported in its own result. Results follow configuration order.
func (f *ChainDataFetcher) FetchAll(ctx context.Context, address string, scorerFor func(model.Chain) int64) []ChainResult {
	results := make([]ChainResult, len(f.order))

	var g errgroup.Group
	for i, id := range f.order {
		chain := f.chains[id]
		g.Go(func() error {
			key := SnapshotKey{Address: address, ChainID: id, ScorerID: scorerFor(chain)}
			snap, err := f.Fetch(ctx, key)
			results[i] = ChainResult{
				Key:       key,
				Snapshot:  snap,
				Err:       err,
				IsPending: pendingLoad(ctx, err),
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// State returns what is currently known about key without loading anything.
// A key that was never fetched, or is being loaded, is pending.
func (f *ChainDataFetcher) State(key SnapshotKey) ChainResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		return ChainResult{Key: key, IsPending: true}
	}
	return ChainResult{
		Key:       key,
		Snapshot:  e.snapshot,
		Err:       e.err,
		IsPending: e.loading > 0 || (e.snapshot == nil && e.err == nil),
	}
}

// Invalidate marks the address's snapshots stale so the next fetch reloads
// them. An empty chainID covers every enabled ledger; otherwise only that
// ledger's snapshots are touched. Loads already in flight for the affected
// keys will not be applied.
func (f *ChainDataFetcher) Invalidate(address, chainID string) error {
	if chainID != "" {
		if _, ok := f.chains[chainID]; !ok {
			return fmt.Errorf("invalidate %s: %w", chainID, driven.ErrUnknownChain)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for key, e := range f.entries {
		if key.Address != address {
			continue
		}
		if chainID != "" && key.ChainID != chainID {
			continue
		}
		e.stale = true
		e.generation++
	}
	return nil
}

// InvalidateAll marks every cached snapshot stale.
func (f *ChainDataFetcher) InvalidateAll() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range f.entries {
		e.stale = true
		e.generation++
	}
}

// Refresh invalidates and reloads. An empty chainID refreshes every enabled ledger.
func (f *ChainDataFetcher) Refresh(ctx context.Context, address, chainID string, scorerFor func(model.Chain) int64) ([]ChainResult, error) {
	if err := f.Invalidate(address, chainID); err != nil {
		return nil, err
	}
	if chainID == "" {
		return f.FetchAll(ctx, address, scorerFor), nil
	}

	chain := f.chains[chainID]
	key := SnapshotKey{Address: address, ChainID: chainID, ScorerID: scorerFor(chain)}
	snap, err := f.Fetch(ctx, key)
	return []ChainResult{{Key: key, Snapshot: snap, Err: err, IsPending: pendingLoad(ctx, err)}}, nil
}

// pendingLoad reports whether err only means the caller stopped waiting.
// A load that finished with a FetchError is not pending, even when ctx has
// expired since.
func pendingLoad(ctx context.Context, err error) bool {
	var fetchErr *FetchError
	return err != nil && ctx.Err() != nil && !errors.As(err, &fetchErr)
}

func (f *ChainDataFetcher) entryLocked(key SnapshotKey) *snapshotEntry {
	e, ok := f.entries[key]
	if !ok {
		if len(f.entries) >= maxSnapshotEntries {
			f.evictLocked()
		}
		e = &snapshotEntry{}
		f.entries[key] = e
	}
	return e
}

// evictLocked drops idle entries that were neither stored nor requested
// within the snapshot TTL.
func (f *ChainDataFetcher) evictLocked() {
	now := f.opts.Now()
	for key, e := range f.entries {
		if e.loading > 0 {
			continue
		}
		last := e.storedAt
		if e.requestedAt.After(last) {
			last = e.requestedAt
		}
		if now.Sub(last) >= f.opts.SnapshotTTL {
			delete(f.entries, key)
		}
	}
}

func (f *ChainDataFetcher) load(ctx context.Context, chain model.Chain, key SnapshotKey, seq, gen uint64) (*model.ChainSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.LedgerTimeout)
	defer cancel()

	ctx, span := f.tracer.Start(ctx, "ledger.load", trace.WithAttributes(
		attribute.String("chain_id", chain.ID),
		attribute.Int64("scorer_id", key.ScorerID),
	))
	defer span.End()

	f.mu.Lock()
	if e, ok := f.entries[key]; ok {
		e.loading++
	}
	f.mu.Unlock()

	start := time.Now()
	snap, err := f.readSnapshot(ctx, chain, key)
	elapsed := time.Since(start)

	outcome := "attested"
	switch {
	case err != nil:
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		err = &FetchError{ChainID: chain.ID, Err: err}
	case snap.IsEmpty():
		outcome = "absent"
	}
	f.opts.Metrics.ObserveLedgerLoad(chain.ID, outcome, elapsed)

	applied := f.apply(key, seq, gen, snap, err)
	span.SetAttributes(attribute.Bool("applied", applied))

	if err != nil {
		slog.Error("ledger load failed",
			"chain", chain.ID,
			"address", key.Address,
			"duration", elapsed.Round(time.Millisecond),
			"error", err,
		)
		return nil, err
	}

	slog.Debug("ledger load complete",
		"chain", chain.ID,
		"address", key.Address,
		"outcome", outcome,
		"providers", len(snap.Providers),
		"applied", applied,
		"duration", elapsed.Round(time.Millisecond),
	)
	return snap, nil
}

// apply stores a finished load unless the key was invalidated or a load
// requested later has already been stored.
func (f *ChainDataFetcher) apply(key SnapshotKey, seq, gen uint64, snap *model.ChainSnapshot, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	e, ok := f.entries[key]
	if !ok {
		f.opts.Metrics.IncDiscardedLoad(key.ChainID)
		return false
	}
	if e.loading > 0 {
		e.loading--
	}

	if gen != e.generation || seq < e.appliedSeq {
		f.opts.Metrics.IncDiscardedLoad(key.ChainID)
		return false
	}

	if err == nil && e.snapshot != nil && e.snapshot.Digest == snap.Digest {
		slog.Debug("ledger snapshot unchanged", "chain", key.ChainID, "address", key.Address)
	}

	e.appliedSeq = seq
	e.snapshot = snap
	e.err = err
	e.stale = false
	e.storedAt = f.opts.Now()
	return true
}

func (f *ChainDataFetcher) readSnapshot(ctx context.Context, chain model.Chain, key SnapshotKey) (*model.ChainSnapshot, error) {
	index := f.indexes.Current()
	if index == nil {
		return nil, errors.New("provider index not loaded")
	}

	reader := f.readers[chain.ID]
	codecs := f.codecs[chain.ID]

	snap := model.EmptySnapshot(chain.ID, f.opts.Now())
	snap.IndexVersion = index.Version

	scoreAtt, err := readAttestation(ctx, reader, key.Address, model.AttestationKindScore, key.ScorerID)
	if err != nil {
		return nil, err
	}
	if scoreAtt != nil {
		decoded, err := codecs.score.Decode(scoreAtt.Data)
		if err != nil {
			f.opts.Metrics.IncDecodeError(decodeErrorKind(err))
			return nil, fmt.Errorf("score attestation: %w", err)
		}
		snap.Score = decoded.Value
		snap.HasScore = true
		snap.ScoreExpiresAt = scoreExpiry(scoreAtt, decoded, f.opts.ScoreMaxAge)
	}

	passportAtt, err := readAttestation(ctx, reader, key.Address, model.AttestationKindPassport, 0)
	if err != nil {
		return nil, err
	}
	if passportAtt != nil {
		records, err := codecs.passport.Decode(passportAtt.Data, index)
		if err != nil {
			f.opts.Metrics.IncDecodeError(decodeErrorKind(err))
			return nil, fmt.Errorf("passport attestation: %w", err)
		}
		snap.Providers = records
		if snap.ScoreExpiresAt == nil && passportAtt.ExpiresAt != nil {
			snap.ScoreExpiresAt = passportAtt.ExpiresAt
		}
	}

	snap.Digest = attestation.Digest(snap)
	return snap, nil
}

// readAttestation returns nil when nothing, or only a revoked attestation,
// is on the ledger.
func readAttestation(ctx context.Context, reader driven.LedgerReader, address string, kind model.AttestationKind, scorerID int64) (*model.RawAttestation, error) {
	uid, err := reader.AttestationUID(ctx, address, kind, scorerID)
	if err != nil {
		return nil, fmt.Errorf("%s attestation uid: %w", kind, err)
	}
	if uid == ([32]byte{}) {
		return nil, nil
	}

	att, err := reader.Attestation(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("%s attestation: %w", kind, err)
	}
	if att == nil || att.Revoked() {
		return nil, nil
	}
	return att, nil
}

// scoreExpiry prefers the envelope's expiry, then the payload's, and
// otherwise dates the score maxAge after issue.
func scoreExpiry(att *model.RawAttestation, decoded model.ScoreAttestation, maxAge time.Duration) *time.Time {
	if att.ExpiresAt != nil {
		return att.ExpiresAt
	}
	if decoded.ExpiresAt != nil {
		return decoded.ExpiresAt
	}
	t := att.IssuedAt.Add(maxAge)
	return &t
}

func decodeErrorKind(err error) string {
	if errors.Is(err, attestation.ErrOverflow) {
		return "overflow"
	}
	return "schema_mismatch"
}

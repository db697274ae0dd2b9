package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

// ErrUnknownCustomization is returned for a customization key that is not configured.
var ErrUnknownCustomization = errors.New("unknown customization")

// SyncReport is the reconciled state of every enabled ledger for one address.
type SyncReport struct {
	Address   string
	Aggregate model.AggregateStatus
	IsPending bool
	Chains    []model.ChainSyncStatus
}

// SyncOptions configures a SyncService.
type SyncOptions struct {
	DefaultScorerID int64
	// StatusWait bounds how long a status request waits on ledger loads and
	// the scoring service before reporting what is pending.
	StatusWait     time.Duration
	Platforms      []model.Platform
	Customizations map[string]model.Customization
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// SyncService answers whether an address's off-chain state has been carried
// onto each ledger. It joins ledger snapshots, live scores and the off-chain
// credential store, and reconciles them per ledger policy.
type SyncService struct {
	fetcher     *ChainDataFetcher
	scores      *ScoreService
	credentials driven.CredentialStore
	opts        SyncOptions
}

// NewSyncService creates a SyncService.
func NewSyncService(
	fetcher *ChainDataFetcher,
	scores *ScoreService,
	credentials driven.CredentialStore,
	opts SyncOptions,
) *SyncService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.StatusWait <= 0 {
		opts.StatusWait = 5 * time.Second
	}
	return &SyncService{
		fetcher:     fetcher,
		scores:      scores,
		credentials: credentials,
		opts:        opts,
	}
}

// Chains returns the enabled ledgers.
func (s *SyncService) Chains() []model.Chain {
	return s.fetcher.Chains()
}

// Platforms returns the configured platform catalogue.
func (s *SyncService) Platforms() []model.Platform {
	return s.opts.Platforms
}

// Customization resolves a partner customization. An empty key resolves to nil.
func (s *SyncService) Customization(key string) (*model.Customization, error) {
	if key == "" {
		return nil, nil
	}
	c, ok := s.opts.Customizations[key]
	if !ok {
		return nil, fmt.Errorf("customization %q: %w", key, ErrUnknownCustomization)
	}
	return &c, nil
}

// ChainStatus reconciles a single ledger for address.
func (s *SyncService) ChainStatus(ctx context.Context, address, chainID, customKey string) (model.ChainSyncStatus, error) {
	address, custom, err := s.resolve(address, customKey)
	if err != nil {
		return model.ChainSyncStatus{}, err
	}
	chain, ok := s.fetcher.Chain(chainID)
	if !ok {
		return model.ChainSyncStatus{}, fmt.Errorf("chain %s: %w", chainID, driven.ErrUnknownChain)
	}

	creds, err := s.credentials.ListByAddress(ctx, address)
	if err != nil {
		return model.ChainSyncStatus{}, fmt.Errorf("list credentials for %s: %w", address, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.StatusWait)
	defer cancel()

	return s.chainStatus(waitCtx, address, chain, custom, creds), nil
}

// AggregateStatus reconciles every enabled ledger for address and folds the
// statuses of the ledgers the customization includes.
func (s *SyncService) AggregateStatus(ctx context.Context, address, customKey string) (*SyncReport, error) {
	address, custom, err := s.resolve(address, customKey)
	if err != nil {
		return nil, err
	}
	return s.aggregate(ctx, address, custom)
}

// Refresh drops cached scores and ledger snapshots for address, then
// reconciles again. An empty chainID refreshes every ledger.
func (s *SyncService) Refresh(ctx context.Context, address, chainID, customKey string) (*SyncReport, error) {
	address, custom, err := s.resolve(address, customKey)
	if err != nil {
		return nil, err
	}
	if err := s.fetcher.Invalidate(address, chainID); err != nil {
		return nil, err
	}
	s.scores.Invalidate(address)

	slog.Info("refresh requested", "address", address, "chain", chainID)
	return s.aggregate(ctx, address, custom)
}

// CredentialsChanged drops the cached live scores for address so the next
// status or platform request asks the scoring service again. Ledger snapshots
// are kept: they do not depend on off-chain credentials.
func (s *SyncService) CredentialsChanged(address string) error {
	normalized, err := model.NormalizeAddress(address)
	if err != nil {
		return err
	}
	s.scores.Invalidate(normalized)
	return nil
}

// Snapshot returns the decoded ledger snapshot for address.
func (s *SyncService) Snapshot(ctx context.Context, address, chainID, customKey string) (*model.ChainSnapshot, error) {
	address, custom, err := s.resolve(address, customKey)
	if err != nil {
		return nil, err
	}
	chain, ok := s.fetcher.Chain(chainID)
	if !ok {
		return nil, fmt.Errorf("chain %s: %w", chainID, driven.ErrUnknownChain)
	}

	key := SnapshotKey{Address: address, ChainID: chainID, ScorerID: chain.ScorerFor(s.opts.DefaultScorerID, custom)}
	return s.fetcher.Fetch(ctx, key)
}

// ScoredPlatforms groups the address's live credential scores by platform.
// While the score is still being computed every platform reports zero earned points.
func (s *SyncService) ScoredPlatforms(ctx context.Context, address, customKey string) ([]model.PlatformScore, error) {
	address, custom, err := s.resolve(address, customKey)
	if err != nil {
		return nil, err
	}

	scorerID := s.opts.DefaultScorerID
	if custom != nil && custom.ScorerID != 0 {
		scorerID = custom.ScorerID
	}

	weights, err := s.scores.Weights(ctx, scorerID, custom)
	if err != nil {
		return nil, err
	}

	creds, err := s.credentials.ListByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", address, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.StatusWait)
	defer cancel()

	result, err := s.scores.Score(waitCtx, address, scorerID)
	if err != nil {
		return nil, err
	}

	return AggregateByPlatform(result.Entries, s.opts.Platforms, weights, creds), nil
}

func (s *SyncService) resolve(address, customKey string) (string, *model.Customization, error) {
	normalized, err := model.NormalizeAddress(address)
	if err != nil {
		return "", nil, err
	}
	custom, err := s.Customization(customKey)
	if err != nil {
		return "", nil, err
	}
	return normalized, custom, nil
}

func (s *SyncService) aggregate(ctx context.Context, address string, custom *model.Customization) (*SyncReport, error) {
	creds, err := s.credentials.ListByAddress(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("list credentials for %s: %w", address, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.opts.StatusWait)
	defer cancel()

	chains := s.fetcher.Chains()
	statuses := make([]model.ChainSyncStatus, len(chains))

	var g errgroup.Group
	for i, chain := range chains {
		g.Go(func() error {
			statuses[i] = s.chainStatus(waitCtx, address, chain, custom, creds)
			return nil
		})
	}
	_ = g.Wait()

	report := &SyncReport{
		Address:   address,
		Aggregate: AggregateSyncStatuses(statuses, custom.IncludesChain),
		Chains:    statuses,
	}
	for _, st := range statuses {
		if st.IsPending && custom.IncludesChain(st.ChainID) {
			report.IsPending = true
		}
	}
	return report, nil
}

// chainStatus never fails: anything unknown reconciles to loading, with the
// cause attached when there is one.
func (s *SyncService) chainStatus(
	ctx context.Context,
	address string,
	chain model.Chain,
	custom *model.Customization,
	creds []model.OffChainCredential,
) model.ChainSyncStatus {
	scorerID := chain.ScorerFor(s.opts.DefaultScorerID, custom)
	key := SnapshotKey{Address: address, ChainID: chain.ID, ScorerID: scorerID}

	var (
		snap     *model.ChainSnapshot
		snapErr  error
		score    *model.ScoreResult
		scoreErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		snap, snapErr = s.fetcher.Fetch(ctx, key)
		return nil
	})
	g.Go(func() error {
		score, scoreErr = s.scores.Score(ctx, address, scorerID)
		return nil
	})
	_ = g.Wait()

	st := model.ChainSyncStatus{ChainID: chain.ID, Status: model.SyncStatusLoading}

	switch {
	case pendingLoad(ctx, snapErr):
		st.IsPending = true
	case snapErr != nil:
		st.Err = snapErr
	case scoreErr != nil:
		st.Err = scoreErr
	default:
		onChainScore := math.NaN()
		if snap.HasScore {
			onChainScore = snap.Score
		}
		st.Status = CheckStatus(chain.Policy, ReconcileInput{
			ScoreState:          score.State,
			LiveRawScore:        score.RawScore,
			OnChainScore:        onChainScore,
			OnChainProviders:    snap.Providers,
			OffChainCredentials: creds,
			ExpiresAt:           snap.ScoreExpiresAt,
			Now:                 s.opts.Now(),
		})
		st.IsPending = !score.State.IsTerminal()
	}

	s.opts.Metrics.IncStatus(chain.ID, string(st.Status))
	return st
}

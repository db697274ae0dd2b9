package application

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

const (
	// maxScorePollDuration bounds how long one address is polled in the background.
	maxScorePollDuration = 5 * time.Minute

	defaultScoreTTL = 5 * time.Minute
)

type scoreKey struct {
	address  string
	scorerID int64
}

// ScoreService tracks the scoring service's live score for addresses. While
// the service reports processing it is polled until it settles. Only done
// results are cached, each for at most resultTTL; errors are retried on the
// next request.
type ScoreService struct {
	client       driven.ScoringClient
	metrics      *metrics.Metrics
	pollInterval time.Duration
	resultTTL    time.Duration
	now          func() time.Time

	mu      sync.RWMutex
	results map[scoreKey]*model.ScoreResult
	weights map[int64]model.ProviderWeights
	group   singleflight.Group
}

// NewScoreService creates a ScoreService that polls every pollInterval while
// a score is being computed and serves a done score for up to resultTTL.
func NewScoreService(client driven.ScoringClient, m *metrics.Metrics, pollInterval, resultTTL time.Duration) *ScoreService {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if resultTTL <= 0 {
		resultTTL = defaultScoreTTL
	}
	return &ScoreService{
		client:       client,
		metrics:      m,
		pollInterval: pollInterval,
		resultTTL:    resultTTL,
		now:          time.Now,
		results:      make(map[scoreKey]*model.ScoreResult),
		weights:      make(map[int64]model.ProviderWeights),
	}
}

// Score returns the live score for address under scorerID. When ctx ends
// before the scoring service settles, the last observed processing result
// is returned without an error.
func (s *ScoreService) Score(ctx context.Context, address string, scorerID int64) (*model.ScoreResult, error) {
	key := scoreKey{address: address, scorerID: scorerID}

	if cached, ok := s.cached(key); ok {
		return cached, nil
	}

	ch := s.group.DoChan(address+"|"+strconv.FormatInt(scorerID, 10), func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), maxScorePollDuration)
		defer cancel()
		return s.poll(pollCtx, key)
	})

	select {
	case <-ctx.Done():
		return &model.ScoreResult{
			Address:    address,
			ScorerID:   scorerID,
			State:      model.ScoreStateProcessing,
			ObservedAt: s.now(),
		}, nil
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*model.ScoreResult), nil
	}
}

// Peek returns the cached result for address without contacting the scoring
// service. Expired results are not returned.
func (s *ScoreService) Peek(address string, scorerID int64) (*model.ScoreResult, bool) {
	return s.cached(scoreKey{address: address, scorerID: scorerID})
}

func (s *ScoreService) cached(key scoreKey) (*model.ScoreResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[key]
	if !ok || s.now().Sub(r.ObservedAt) >= s.resultTTL {
		return nil, false
	}
	return r, true
}

// Invalidate drops every cached score for address.
func (s *ScoreService) Invalidate(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.results {
		if key.address == address {
			delete(s.results, key)
		}
	}
}

// Weights returns the provider weights for scorerID with the customization's
// overrides applied on top.
func (s *ScoreService) Weights(ctx context.Context, scorerID int64, custom *model.Customization) (model.ProviderWeights, error) {
	s.mu.RLock()
	base, ok := s.weights[scorerID]
	s.mu.RUnlock()

	if !ok {
		w, err := s.client.FetchWeights(ctx, scorerID)
		if err != nil {
			return nil, fmt.Errorf("fetch weights for scorer %d: %w", scorerID, err)
		}
		base = w
		s.mu.Lock()
		s.weights[scorerID] = base
		s.mu.Unlock()
	}

	out := make(model.ProviderWeights, len(base))
	for name, w := range base {
		out[name] = w
	}
	if custom != nil {
		for name, w := range custom.Weights {
			out[name] = w
		}
	}
	return out, nil
}

// poll asks the scoring service until it reports a terminal state or ctx ends.
func (s *ScoreService) poll(ctx context.Context, key scoreKey) (*model.ScoreResult, error) {
	for {
		resp, err := s.client.FetchScore(ctx, key.address, key.scorerID)
		if err != nil {
			s.metrics.IncScorePoll("failed")
			return nil, fmt.Errorf("fetch score for %s: %w", key.address, err)
		}
		s.metrics.IncScorePoll(string(resp.Status))

		if resp.Status != model.ScoreStateProcessing && resp.Status != model.ScoreStateInitial {
			result := s.toResult(key, resp)
			if result.State == model.ScoreStateDone {
				s.mu.Lock()
				if len(s.results) >= maxSnapshotEntries {
					s.pruneLocked()
				}
				s.results[key] = result
				s.mu.Unlock()
			}
			return result, nil
		}

		slog.Debug("score still processing", "address", key.address, "scorer_id", key.scorerID)

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// pruneLocked drops expired results.
func (s *ScoreService) pruneLocked() {
	now := s.now()
	for key, r := range s.results {
		if now.Sub(r.ObservedAt) >= s.resultTTL {
			delete(s.results, key)
		}
	}
}

func (s *ScoreService) toResult(key scoreKey, resp *model.ScoringResponse) *model.ScoreResult {
	entries, skipped := NormalizeStampScores(resp)
	if len(skipped) > 0 {
		slog.Warn("skipped undecodable stamp scores", "address", key.address, "providers", skipped)
	}

	return &model.ScoreResult{
		Address:      key.address,
		ScorerID:     key.scorerID,
		State:        resp.Status,
		Score:        resp.Score,
		RawScore:     resp.RawScore,
		Threshold:    resp.Threshold,
		PassingScore: resp.PassingScore,
		Entries:      entries,
		Error:        resp.Error,
		ObservedAt:   s.now(),
	}
}

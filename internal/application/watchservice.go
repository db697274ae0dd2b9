package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// refreshRequest represents a manual refresh trigger for one watched address.
type refreshRequest struct {
	address string
	done    chan error
}

// WatchService periodically refreshes the ledger statuses of watched
// addresses and logs every status transition it observes.
type WatchService struct {
	sync      *SyncService
	store     driven.WatchStore
	interval  time.Duration
	refreshCh chan refreshRequest
	now       func() time.Time

	mu   sync.Mutex
	last map[string]map[string]model.SyncStatus
}

// NewWatchService creates a WatchService refreshing on the given interval.
func NewWatchService(syncSvc *SyncService, store driven.WatchStore, interval time.Duration) *WatchService {
	return &WatchService{
		sync:      syncSvc,
		store:     store,
		interval:  interval,
		refreshCh: make(chan refreshRequest),
		now:       time.Now,
		last:      make(map[string]map[string]model.SyncStatus),
	}
}

// Watch adds address to the watchlist under an optional customization.
func (s *WatchService) Watch(ctx context.Context, address, customKey string) (*model.WatchedAddress, error) {
	normalized, err := model.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	if _, err := s.sync.Customization(customKey); err != nil {
		return nil, err
	}

	w := model.WatchedAddress{Address: normalized, Customization: customKey, AddedAt: s.now().UTC()}
	if err := s.store.Add(ctx, w); err != nil {
		return nil, fmt.Errorf("watch %s: %w", normalized, err)
	}

	slog.Info("address watched", "address", normalized, "customization", customKey)
	return &w, nil
}

// Unwatch removes address from the watchlist.
func (s *WatchService) Unwatch(ctx context.Context, address string) error {
	normalized, err := model.NormalizeAddress(address)
	if err != nil {
		return err
	}
	if err := s.store.Remove(ctx, normalized); err != nil {
		return fmt.Errorf("unwatch %s: %w", normalized, err)
	}

	s.mu.Lock()
	delete(s.last, normalized)
	s.mu.Unlock()

	slog.Info("address unwatched", "address", normalized)
	return nil
}

// List returns every watched address.
func (s *WatchService) List(ctx context.Context) ([]model.WatchedAddress, error) {
	return s.store.ListAll(ctx)
}

// Start runs an immediate refresh of the watchlist, then refreshes on the
// configured interval while serving manual refresh requests. Start blocks
// until the context is canceled.
func (s *WatchService) Start(ctx context.Context) {
	if err := s.refreshAll(ctx); err != nil {
		slog.Error("initial watch refresh failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch service stopped")
			return
		case <-ticker.C:
			if err := s.refreshAll(ctx); err != nil {
				slog.Error("watch cycle failed", "error", err)
			}
		case req := <-s.refreshCh:
			req.done <- s.handleRefresh(ctx, req)
		}
	}
}

// RefreshWatched triggers an out-of-cycle refresh. An empty address refreshes
// the whole watchlist. It blocks until the refresh completes or ctx is canceled.
func (s *WatchService) RefreshWatched(ctx context.Context, address string) error {
	done := make(chan error, 1)
	req := refreshRequest{address: address, done: done}

	select {
	case s.refreshCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastStatuses returns the statuses recorded for address by the last refresh.
func (s *WatchService) LastStatuses(address string) map[string]model.SyncStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]model.SyncStatus, len(s.last[address]))
	for chain, st := range s.last[address] {
		out[chain] = st
	}
	return out
}

func (s *WatchService) refreshAll(ctx context.Context) error {
	start := time.Now()

	watched, err := s.store.ListAll(ctx)
	if err != nil {
		return err
	}

	var refreshErrors, transitions int
	for _, w := range watched {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := s.refreshOne(ctx, w)
		if err != nil {
			slog.Error("watched address refresh failed", "address", w.Address, "error", err)
			refreshErrors++
			continue
		}
		transitions += n
	}

	slog.Info("watch cycle complete",
		"addresses", len(watched),
		"transitions", transitions,
		"errors", refreshErrors,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// refreshOne refreshes one address and returns how many ledgers changed status.
func (s *WatchService) refreshOne(ctx context.Context, w model.WatchedAddress) (int, error) {
	report, err := s.sync.Refresh(ctx, w.Address, "", w.Customization)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.last[w.Address]
	current := make(map[string]model.SyncStatus, len(report.Chains))

	var transitions int
	for _, st := range report.Chains {
		if st.IsPending {
			// Keep the last settled status until the load finishes.
			if prev, ok := previous[st.ChainID]; ok {
				current[st.ChainID] = prev
			}
			continue
		}
		current[st.ChainID] = st.Status

		prev, seen := previous[st.ChainID]
		if seen && prev != st.Status {
			transitions++
			slog.Info("sync status changed",
				"address", w.Address,
				"chain", st.ChainID,
				"from", string(prev),
				"to", string(st.Status),
			)
		}
	}
	s.last[w.Address] = current

	return transitions, nil
}

func (s *WatchService) handleRefresh(ctx context.Context, req refreshRequest) error {
	if req.address == "" {
		return s.refreshAll(ctx)
	}

	normalized, err := model.NormalizeAddress(req.address)
	if err != nil {
		return err
	}
	w, err := s.store.Get(ctx, normalized)
	if err != nil {
		return err
	}
	if w == nil {
		return fmt.Errorf("refresh %s: %w", normalized, driven.ErrWatchNotFound)
	}

	_, err = s.refreshOne(ctx, *w)
	return err
}

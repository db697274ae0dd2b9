package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

// ProviderIndexProvider holds the current provider index table and swaps in
// new versions at runtime. Decoders always read the table through Current so
// a reload takes effect without restarting.
type ProviderIndexProvider struct {
	source  driven.ProviderIndexSource
	metrics *metrics.Metrics

	mu        sync.RWMutex
	current   *model.ProviderIndex
	listeners []func(previous, next *model.ProviderIndex)
}

// NewProviderIndexProvider creates a provider backed by source. No table is
// held until Reload or Replace succeeds.
func NewProviderIndexProvider(source driven.ProviderIndexSource, m *metrics.Metrics) *ProviderIndexProvider {
	return &ProviderIndexProvider{source: source, metrics: m}
}

// Current returns the table in use, or nil before the first load.
func (p *ProviderIndexProvider) Current() *model.ProviderIndex {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// OnChange registers fn to run after a table with a different version is swapped in.
func (p *ProviderIndexProvider) OnChange(fn func(previous, next *model.ProviderIndex)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, fn)
}

// Replace swaps in idx and reports whether the version changed.
func (p *ProviderIndexProvider) Replace(idx *model.ProviderIndex) bool {
	p.mu.Lock()
	previous := p.current
	if previous != nil && previous.Version == idx.Version {
		p.mu.Unlock()
		return false
	}
	p.current = idx
	listeners := append([]func(previous, next *model.ProviderIndex){}, p.listeners...)
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(previous, idx)
	}
	return true
}

// Reload fetches the table from the source and swaps it in when its version
// differs from the current one.
func (p *ProviderIndexProvider) Reload(ctx context.Context) (bool, error) {
	idx, err := p.source.Load(ctx)
	if err != nil {
		p.metrics.IncIndexReload("error")
		return false, fmt.Errorf("reload provider index: %w", err)
	}

	if previous := p.Current(); previous != nil && previous.Version != idx.Version {
		if diff := idx.Diff(previous); !diff.Compatible() {
			slog.Warn("provider index positions changed",
				"previous_version", previous.Version,
				"version", idx.Version,
				"moved", len(diff.Moved),
				"reused", len(diff.Reused),
			)
		}
	}

	changed := p.Replace(idx)
	if changed {
		p.metrics.IncIndexReload("replaced")
		slog.Info("provider index loaded", "version", idx.Version, "providers", idx.Len())
	} else {
		p.metrics.IncIndexReload("unchanged")
	}
	return changed, nil
}

// Start reloads the table on the given interval until ctx is canceled.
func (p *ProviderIndexProvider) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("provider index reloader stopped")
			return
		case <-ticker.C:
			if _, err := p.Reload(ctx); err != nil {
				slog.Error("provider index reload failed", "error", err)
			}
		}
	}
}

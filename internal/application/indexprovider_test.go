package application

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

func TestProviderIndexProvider_NoTableBeforeLoad(t *testing.T) {
	p := NewProviderIndexProvider(&fakeIndexSource{}, nil)
	assert.Nil(t, p.Current())
}

func TestProviderIndexProvider_ReloadSwapsOnVersionChange(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	source := &fakeIndexSource{idx: testIndex(t, "v1")}
	p := NewProviderIndexProvider(source, m)

	var changes []string
	p.OnChange(func(previous, next *model.ProviderIndex) {
		prev := ""
		if previous != nil {
			prev = previous.Version
		}
		changes = append(changes, prev+"->"+next.Version)
	})

	changed, err := p.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "v1", p.Current().Version)

	changed, err = p.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed, "same version is not swapped")

	source.idx = testIndex(t, "v2")
	changed, err = p.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []string{"->v1", "v1->v2"}, changes)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.IndexReloads.WithLabelValues("replaced")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexReloads.WithLabelValues("unchanged")))
}

func TestProviderIndexProvider_FailedReloadKeepsTable(t *testing.T) {
	source := &fakeIndexSource{idx: testIndex(t, "v1")}
	p := NewProviderIndexProvider(source, nil)
	_, err := p.Reload(context.Background())
	require.NoError(t, err)

	source.idx, source.err = nil, errors.New("index host unreachable")
	_, err = p.Reload(context.Background())
	require.Error(t, err)
	assert.Equal(t, "v1", p.Current().Version)
}

func TestProviderIndexProvider_ConcurrentCurrentReplace(t *testing.T) {
	p := testIndexProvider(t)
	next := testIndex(t, "v2")

	const goroutines = 50
	var wg sync.WaitGroup
	wg.Add(goroutines * 2)
	for range goroutines {
		go func() {
			defer wg.Done()
			assert.NotNil(t, p.Current())
		}()
		go func() {
			defer wg.Done()
			p.Replace(next)
		}()
	}
	wg.Wait()

	assert.Equal(t, "v2", p.Current().Version)
}

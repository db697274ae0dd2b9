package providerindex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gregjones/httpcache"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderIndexSource = (*HTTPSource)(nil)

const maxDocumentBytes = 8 << 20

// HTTPSource fetches the table from a URL. Requests go through an in-memory
// cache, so an unchanged document is revalidated with its ETag.
type HTTPSource struct {
	client *http.Client
	url    string
}

// NewHTTPSource creates an HTTPSource for url.
func NewHTTPSource(url string) *HTTPSource {
	return NewHTTPSourceWithClient(&http.Client{
		Transport: httpcache.NewMemoryCacheTransport(),
		Timeout:   30 * time.Second,
	}, url)
}

// NewHTTPSourceWithClient creates an HTTPSource with a custom http.Client.
func NewHTTPSourceWithClient(client *http.Client, url string) *HTTPSource {
	return &HTTPSource{client: client, url: url}
}

// Load fetches and parses the document. A document without its own version
// is versioned by its ETag.
func (s *HTTPSource) Load(ctx context.Context) (*model.ProviderIndex, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create provider index request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch provider index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch provider index: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read provider index: %w", err)
	}

	etag := strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`)
	return Parse(data, etag)
}

// Package scorer implements the ScoringClient port against the scoring
// service's HTTP API.
package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ScoringClient = (*Client)(nil)

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 4 << 20

// Client calls the scoring service. Responses go through an in-memory
// HTTP cache so unchanged weight tables are revalidated rather than refetched.
type Client struct {
	http          *http.Client
	baseURL       *url.URL
	apiKey        string
	defaultScorer int64
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL, apiKey string, defaultScorer int64) (*Client, error) {
	transport := httpcache.NewMemoryCacheTransport()
	return NewClientWithHTTPClient(&http.Client{Transport: transport, Timeout: 30 * time.Second}, baseURL, apiKey, defaultScorer)
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL, apiKey string, defaultScorer int64) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing scorer URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parsing scorer URL: %q is not absolute", baseURL)
	}

	return &Client{
		http:          httpClient,
		baseURL:       u,
		apiKey:        apiKey,
		defaultScorer: defaultScorer,
	}, nil
}

// flexFloat accepts a JSON number, a numeric string or null.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		b = []byte(s)
	}
	v, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", b, err)
	}
	*f = flexFloat(v)
	return nil
}

// scoreResponse covers both the legacy shape (status, evidence, stamp_scores)
// and the V2 shape (passing_score, threshold, stamps).
type scoreResponse struct {
	Address  string    `json:"address"`
	Score    flexFloat `json:"score"`
	Status   *string   `json:"status"`
	Error    *string   `json:"error"`
	Evidence *struct {
		RawScore  *flexFloat `json:"rawScore"`
		Threshold flexFloat  `json:"threshold"`
	} `json:"evidence"`
	PassingScore       *bool                      `json:"passing_score"`
	Threshold          flexFloat                  `json:"threshold"`
	StampScores        map[string]json.RawMessage `json:"stamp_scores"`
	Stamps             map[string]json.RawMessage `json:"stamps"`
	LastScoreTimestamp string                     `json:"last_score_timestamp"`
}

// FetchScore retrieves the current score of address under scorerID.
func (c *Client) FetchScore(ctx context.Context, address string, scorerID int64) (*model.ScoringResponse, error) {
	path := "/ceramic-cache/score/" + url.PathEscape(address)
	if scorerID != 0 && scorerID != c.defaultScorer {
		path = fmt.Sprintf("/ceramic-cache/score/%d/%s", scorerID, url.PathEscape(address))
	}

	var body scoreResponse
	if err := c.getJSON(ctx, path, nil, &body); err != nil {
		return nil, fmt.Errorf("fetch score for %s: %w", address, err)
	}

	return mapScoreResponse(address, body), nil
}

// FetchWeights retrieves the provider weights of scorerID.
func (c *Client) FetchWeights(ctx context.Context, scorerID int64) (model.ProviderWeights, error) {
	var query url.Values
	if scorerID != 0 && scorerID != c.defaultScorer {
		query = url.Values{"alt_scorer_id": {strconv.FormatInt(scorerID, 10)}}
	}

	var body map[string]decimal.Decimal
	if err := c.getJSON(ctx, "/ceramic-cache/weights", query, &body); err != nil {
		return nil, fmt.Errorf("fetch weights for scorer %d: %w", scorerID, err)
	}

	return model.ProviderWeights(body), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	slog.Debug("scorer api call",
		"path", path,
		"status", resp.StatusCode,
		"from_cache", resp.Header.Get(httpcache.XFromCache) != "",
		"duration", time.Since(start).Round(time.Millisecond),
	)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// mapScoreResponse converts either response shape into the domain response.
// A response with passing_score and no status is the V2 shape, which is
// always final.
func mapScoreResponse(address string, body scoreResponse) *model.ScoringResponse {
	out := &model.ScoringResponse{
		Address:     address,
		Score:       float64(body.Score),
		StampScores: body.StampScores,
		Stamps:      body.Stamps,
	}
	if body.Error != nil {
		out.Error = *body.Error
	}
	if t, err := time.Parse(time.RFC3339Nano, body.LastScoreTimestamp); err == nil {
		out.LastUpdated = t.UTC()
	}

	if body.PassingScore != nil && body.Status == nil {
		out.Status = model.ScoreStateDone
		if out.Error != "" {
			out.Status = model.ScoreStateError
		}
		out.RawScore = out.Score
		out.Threshold = float64(body.Threshold)
		out.PassingScore = *body.PassingScore
		return out
	}

	out.Status = mapStatus(body.Status)
	// Binary scorers report the raw score and threshold as evidence.
	if body.Evidence != nil && body.Evidence.RawScore != nil {
		out.RawScore = float64(*body.Evidence.RawScore)
		out.Threshold = float64(body.Evidence.Threshold)
		out.PassingScore = out.RawScore >= out.Threshold
		return out
	}
	out.RawScore = out.Score
	out.PassingScore = true
	return out
}

func mapStatus(status *string) model.ScoreState {
	if status == nil {
		return model.ScoreStateInitial
	}
	switch strings.ToUpper(*status) {
	case "DONE":
		return model.ScoreStateDone
	case "ERROR":
		return model.ScoreStateError
	case "PROCESSING", "BULK_PROCESSING":
		return model.ScoreStateProcessing
	default:
		return model.ScoreStateInitial
	}
}

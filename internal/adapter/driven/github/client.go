// Package github loads the provider index table from a file kept in a GitHub
// repository.
package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gh "github.com/google/go-github/v82/github"
	"github.com/gregjones/httpcache"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"

	"github.com/ericfisherdev/stampsync/internal/adapter/driven/providerindex"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderIndexSource = (*IndexSource)(nil)

// IndexSource implements driven.ProviderIndexSource over the GitHub contents
// API. The table is versioned by the latest commit touching the file, so a
// reload only swaps tables when the file changed.
type IndexSource struct {
	gh    *gh.Client
	owner string
	repo  string
	path  string
	ref   string
}

// NewIndexSource creates an IndexSource with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware, sleeps on 429)
//  3. go-github (GitHub REST API client, PAT auth when token is set)
func NewIndexSource(repoFullName, path, ref, token string) (*IndexSource, error) {
	cacheTransport := httpcache.NewMemoryCacheTransport()
	rateLimitClient := github_ratelimit.NewClient(cacheTransport)
	client := gh.NewClient(rateLimitClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return newIndexSource(client, repoFullName, path, ref)
}

// NewIndexSourceWithHTTPClient creates an IndexSource with a custom http.Client
// and base URL. This constructor is intended for testing, allowing injection
// of an httptest server.
func NewIndexSourceWithHTTPClient(httpClient *http.Client, baseURL, repoFullName, path, ref string) (*IndexSource, error) {
	client := gh.NewClient(httpClient)

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	client.BaseURL = u

	return newIndexSource(client, repoFullName, path, ref)
}

func newIndexSource(client *gh.Client, repoFullName, path, ref string) (*IndexSource, error) {
	owner, repo, err := splitRepo(repoFullName)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("provider index path is required")
	}
	return &IndexSource{gh: client, owner: owner, repo: repo, path: path, ref: ref}, nil
}

// Load resolves the latest commit touching the file, fetches the file at that
// commit and parses it.
func (s *IndexSource) Load(ctx context.Context) (*model.ProviderIndex, error) {
	commits, resp, err := s.gh.Repositories.ListCommits(ctx, s.owner, s.repo, &gh.CommitsListOptions{
		SHA:         s.ref,
		Path:        s.path,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("listing commits for %s: %w", s.location(), err)
	}
	logRateLimit(resp, "commits")
	if len(commits) == 0 {
		return nil, fmt.Errorf("no commits touch %s", s.location())
	}
	sha := commits[0].GetSHA()

	file, _, resp, err := s.gh.Repositories.GetContents(ctx, s.owner, s.repo, s.path, &gh.RepositoryContentGetOptions{Ref: sha})
	if err != nil {
		return nil, fmt.Errorf("fetching %s@%s: %w", s.location(), sha, err)
	}
	logRateLimit(resp, "contents")
	if file == nil {
		return nil, fmt.Errorf("%s is a directory", s.location())
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", s.location(), err)
	}

	slog.Debug("provider index fetched from github", "location", s.location(), "sha", sha)
	return providerindex.Parse([]byte(content), sha)
}

func (s *IndexSource) location() string {
	return s.owner + "/" + s.repo + ":" + s.path
}

// logRateLimit logs the GitHub API rate limit status after each call.
func logRateLimit(resp *gh.Response, endpoint string) {
	if resp == nil {
		return
	}

	slog.Debug("github api call",
		"endpoint", endpoint,
		"rate_remaining", resp.Rate.Remaining,
		"rate_limit", resp.Rate.Limit,
	)

	if resp.Rate.Limit > 0 && resp.Rate.Remaining < 10 {
		slog.Warn("github rate limit low", "remaining", resp.Rate.Remaining)
	}
}

// splitRepo splits a "owner/repo" string into its two components.
func splitRepo(fullName string) (string, string, error) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repo name %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}

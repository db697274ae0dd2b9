// Package config loads application configuration from environment variables
// and the ledger configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// DefaultGitHubIndexPath is where the provider index table lives in the
// credential issuer's repository.
const DefaultGitHubIndexPath = "iam/src/static/providerBitMapInfo.json"

// Index source kinds returned by Config.IndexSource.
const (
	IndexSourceURL    = "url"
	IndexSourceFile   = "file"
	IndexSourceGitHub = "github"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	ConfigFile string

	ScorerURL    string
	ScorerAPIKey string
	ScorerID     int64

	IndexURL        string
	IndexFile       string
	IndexGitHubRepo string
	IndexGitHubPath string
	IndexGitHubRef  string
	GitHubToken     string

	IndexRefreshInterval time.Duration
	SnapshotTTL          time.Duration
	LedgerTimeout        time.Duration
	StatusWait           time.Duration
	ScorePollInterval    time.Duration
	ScoreTTL             time.Duration
	ScoreMaxAge          time.Duration
	WatchInterval        time.Duration
}

// IndexSource reports which provider index source is configured.
func (c *Config) IndexSource() string {
	switch {
	case c.IndexURL != "":
		return IndexSourceURL
	case c.IndexFile != "":
		return IndexSourceFile
	default:
		return IndexSourceGitHub
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// STAMPSYNC_SCORER_URL and exactly one of STAMPSYNC_PROVIDER_INDEX_URL,
// STAMPSYNC_PROVIDER_INDEX_FILE or STAMPSYNC_PROVIDER_INDEX_GITHUB_REPO are required.
// Everything else has a default.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:      envOr("STAMPSYNC_LISTEN_ADDR", "127.0.0.1:8080"),
		DBPath:          envOr("STAMPSYNC_DB_PATH", "stampsync.db"),
		ConfigFile:      envOr("STAMPSYNC_CONFIG_FILE", "stampsync.yaml"),
		ScorerURL:       os.Getenv("STAMPSYNC_SCORER_URL"),
		ScorerAPIKey:    os.Getenv("STAMPSYNC_SCORER_API_KEY"),
		IndexURL:        os.Getenv("STAMPSYNC_PROVIDER_INDEX_URL"),
		IndexFile:       os.Getenv("STAMPSYNC_PROVIDER_INDEX_FILE"),
		IndexGitHubRepo: os.Getenv("STAMPSYNC_PROVIDER_INDEX_GITHUB_REPO"),
		IndexGitHubPath: envOr("STAMPSYNC_PROVIDER_INDEX_GITHUB_PATH", DefaultGitHubIndexPath),
		IndexGitHubRef:  os.Getenv("STAMPSYNC_PROVIDER_INDEX_GITHUB_REF"),
		GitHubToken:     os.Getenv("STAMPSYNC_GITHUB_TOKEN"),
	}

	if cfg.ScorerURL == "" {
		return nil, errors.New("STAMPSYNC_SCORER_URL is required")
	}

	if v, ok := os.LookupEnv("STAMPSYNC_SCORER_ID"); ok && v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return nil, fmt.Errorf("STAMPSYNC_SCORER_ID has invalid value %q: must be a non-negative integer", v)
		}
		cfg.ScorerID = id
	}

	sources := 0
	for _, v := range []string{cfg.IndexURL, cfg.IndexFile, cfg.IndexGitHubRepo} {
		if v != "" {
			sources++
		}
	}
	if sources != 1 {
		return nil, errors.New("exactly one of STAMPSYNC_PROVIDER_INDEX_URL, STAMPSYNC_PROVIDER_INDEX_FILE or STAMPSYNC_PROVIDER_INDEX_GITHUB_REPO is required")
	}

	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"STAMPSYNC_INDEX_REFRESH_INTERVAL", time.Hour, &cfg.IndexRefreshInterval},
		{"STAMPSYNC_SNAPSHOT_TTL", 5 * time.Minute, &cfg.SnapshotTTL},
		{"STAMPSYNC_LEDGER_TIMEOUT", 15 * time.Second, &cfg.LedgerTimeout},
		{"STAMPSYNC_STATUS_WAIT", 5 * time.Second, &cfg.StatusWait},
		{"STAMPSYNC_SCORE_POLL_INTERVAL", 2 * time.Second, &cfg.ScorePollInterval},
		{"STAMPSYNC_SCORE_TTL", 5 * time.Minute, &cfg.ScoreTTL},
		{"STAMPSYNC_SCORE_MAX_AGE", 90 * 24 * time.Hour, &cfg.ScoreMaxAge},
		{"STAMPSYNC_WATCH_INTERVAL", 10 * time.Minute, &cfg.WatchInterval},
	}
	for _, d := range durations {
		parsed, err := durationOr(d.key, d.def)
		if err != nil {
			return nil, err
		}
		*d.dest = parsed
	}

	return cfg, nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// durationOr parses key as a positive duration, returning def when unset.
func durationOr(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", key, v)
	}
	return parsed, nil
}

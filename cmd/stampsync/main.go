package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	"github.com/ericfisherdev/stampsync/internal/adapter/driven/eas"
	githubadapter "github.com/ericfisherdev/stampsync/internal/adapter/driven/github"
	"github.com/ericfisherdev/stampsync/internal/adapter/driven/providerindex"
	"github.com/ericfisherdev/stampsync/internal/adapter/driven/scorer"
	sqliteadapter "github.com/ericfisherdev/stampsync/internal/adapter/driven/sqlite"
	httphandler "github.com/ericfisherdev/stampsync/internal/adapter/driving/http"
	"github.com/ericfisherdev/stampsync/internal/application"
	"github.com/ericfisherdev/stampsync/internal/config"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
	"github.com/ericfisherdev/stampsync/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load configuration (fail fast on missing required env vars).
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	file, err := config.LoadFile(cfg.ConfigFile)
	if err != nil {
		return err
	}
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"config_file", cfg.ConfigFile,
		"chains", len(file.Chains),
		"platforms", len(file.Platforms),
		"customizations", len(file.Customizations),
		"index_source", cfg.IndexSource(),
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database (dual reader/writer with WAL mode).
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()
	slog.Info("database opened", "path", cfg.DBPath)

	// 4. Run migrations on writer connection.
	schemaVersion, err := sqliteadapter.RunMigrations(db.Writer)
	if err != nil {
		return err
	}
	slog.Info("migrations complete", "schema_version", schemaVersion)

	// 5. Metrics registry.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 6. Wire driven adapters.
	credentialStore := sqliteadapter.NewCredentialRepo(db)
	watchStore := sqliteadapter.NewWatchRepo(db)

	chains := file.ModelChains()
	readers, closeReaders, err := dialLedgers(ctx, chains, cfg.ScorerID)
	if err != nil {
		return err
	}
	defer closeReaders()

	scoringClient, err := scorer.NewClient(cfg.ScorerURL, cfg.ScorerAPIKey, cfg.ScorerID)
	if err != nil {
		return err
	}

	indexSource, err := newIndexSource(cfg)
	if err != nil {
		return err
	}

	// 7. Load the provider index before serving; decoding needs it.
	indexes := application.NewProviderIndexProvider(indexSource, m)
	if _, err := indexes.Reload(ctx); err != nil {
		return fmt.Errorf("initial provider index load: %w", err)
	}

	// 8. Application services.
	fetcher, err := application.NewChainDataFetcher(chains, readers, indexes, application.FetcherOptions{
		SnapshotTTL:   cfg.SnapshotTTL,
		LedgerTimeout: cfg.LedgerTimeout,
		ScoreMaxAge:   cfg.ScoreMaxAge,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	indexes.OnChange(func(previous, next *model.ProviderIndex) {
		slog.Info("provider index changed, invalidating snapshots",
			"from", previous.Version,
			"to", next.Version,
		)
		fetcher.InvalidateAll()
	})
	go indexes.Start(ctx, cfg.IndexRefreshInterval)

	scoreSvc := application.NewScoreService(scoringClient, m, cfg.ScorePollInterval, cfg.ScoreTTL)
	syncSvc := application.NewSyncService(fetcher, scoreSvc, credentialStore, application.SyncOptions{
		DefaultScorerID: cfg.ScorerID,
		StatusWait:      cfg.StatusWait,
		Platforms:       file.ModelPlatforms(),
		Customizations:  file.ModelCustomizations(),
		Metrics:         m,
	})

	watchSvc := application.NewWatchService(syncSvc, watchStore, cfg.WatchInterval)
	go watchSvc.Start(ctx)

	// 9. HTTP server.
	apiHandler := httphandler.NewHandler(syncSvc, watchSvc, indexes, credentialStore, db, slog.Default())
	handler := httphandler.NewServeMux(apiHandler, slog.Default(), promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.StatusWait + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()

	slog.Info("stampsync started",
		"listen_addr", cfg.ListenAddr,
		"ledgers", len(readers),
		"index_version", indexes.Current().Version,
	)

	// 10. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

// dialLedgers connects to every enabled ledger. The returned function closes
// all connections.
func dialLedgers(ctx context.Context, chains []model.Chain, defaultScorer int64) (map[string]driven.LedgerReader, func(), error) {
	readers := make(map[string]driven.LedgerReader, len(chains))
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, c := range chains {
		if !c.Enabled() {
			slog.Info("ledger not enabled, skipping", "chain", c.ID, "state", string(c.State))
			continue
		}

		reader, closeFn, err := eas.Dial(ctx, c.RPCURL, eas.Config{
			ChainID:         c.ID,
			ResolverAddress: c.ResolverAddress,
			EASAddress:      c.EASAddress,
			PassportSchema:  c.PassportSchema.UID,
			ScoreSchema:     c.ScoreSchema.UID,
			DefaultScorerID: defaultScorer,
		})
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		readers[c.ID] = reader
		closers = append(closers, closeFn)
		slog.Info("ledger connected", "chain", c.ID, "label", c.Label, "policy", string(c.Policy))
	}

	return readers, closeAll, nil
}

func newIndexSource(cfg *config.Config) (driven.ProviderIndexSource, error) {
	switch cfg.IndexSource() {
	case config.IndexSourceURL:
		return providerindex.NewHTTPSource(cfg.IndexURL), nil
	case config.IndexSourceFile:
		return providerindex.NewFileSource(cfg.IndexFile), nil
	default:
		return githubadapter.NewIndexSource(cfg.IndexGitHubRepo, cfg.IndexGitHubPath, cfg.IndexGitHubRef, cfg.GitHubToken)
	}
}

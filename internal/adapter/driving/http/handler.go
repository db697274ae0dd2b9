package httphandler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"

	"github.com/ericfisherdev/stampsync/internal/application"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	sync         *application.SyncService
	watch        *application.WatchService
	index        *application.ProviderIndexProvider
	credentials  driven.CredentialStore
	db           Pinger
	descriptions *descriptionRenderer
	logger       *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(
	syncSvc *application.SyncService,
	watchSvc *application.WatchService,
	index *application.ProviderIndexProvider,
	credentials driven.CredentialStore,
	db Pinger,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		sync:         syncSvc,
		watch:        watchSvc,
		index:        index,
		credentials:  credentials,
		db:           db,
		descriptions: newDescriptionRenderer(),
		logger:       logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request ID, logging, recovery and compression middleware. A nil
// metricsHandler leaves /metrics unregistered.
func NewServeMux(h *Handler, logger *slog.Logger, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/addresses/{address}/sync", h.AggregateStatus)
	mux.HandleFunc("GET /api/v1/addresses/{address}/sync/{chainID}", h.ChainStatus)
	mux.HandleFunc("POST /api/v1/addresses/{address}/refresh", h.Refresh)
	mux.HandleFunc("GET /api/v1/addresses/{address}/platforms", h.ScoredPlatforms)
	mux.HandleFunc("GET /api/v1/addresses/{address}/chains/{chainID}/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/v1/addresses/{address}/stamps", h.ListStamps)
	mux.HandleFunc("PUT /api/v1/addresses/{address}/stamps", h.ReplaceStamps)
	mux.HandleFunc("GET /api/v1/chains", h.ListChains)
	mux.HandleFunc("GET /api/v1/provider-index", h.ProviderIndex)
	mux.HandleFunc("GET /api/v1/watchlist", h.ListWatched)
	mux.HandleFunc("POST /api/v1/watchlist", h.AddWatched)
	mux.HandleFunc("DELETE /api/v1/watchlist/{address}", h.RemoveWatched)
	mux.HandleFunc("GET /api/v1/health", h.Health)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return gzhttp.GzipHandler(wrapped)
}

// Health reports service liveness, the database connection and the loaded
// provider index version.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	}
	if idx := h.index.Current(); idx != nil {
		resp.IndexVersion = idx.Version
	}

	if h.db != nil {
		if err := h.db.Ping(r.Context()); err != nil {
			h.logger.Error("health check database ping failed", "error", err)
			resp.Status = "degraded"
			respond(w, r, http.StatusServiceUnavailable, resp)
			return
		}
	}

	respond(w, r, http.StatusOK, resp)
}

// ListChains returns the enabled ledgers.
func (h *Handler) ListChains(w http.ResponseWriter, r *http.Request) {
	chains := h.sync.Chains()

	resp := make([]ChainResponse, 0, len(chains))
	for _, c := range chains {
		resp = append(resp, toChainResponse(c))
	}

	respond(w, r, http.StatusOK, resp)
}

// ProviderIndex returns the provider index table currently in use.
func (h *Handler) ProviderIndex(w http.ResponseWriter, r *http.Request) {
	idx := h.index.Current()
	if idx == nil {
		writeError(w, http.StatusServiceUnavailable, "provider index not loaded")
		return
	}

	respond(w, r, http.StatusOK, toProviderIndexResponse(idx))
}

// writeServiceError maps application and port errors to HTTP statuses.
// Unrecognized errors are logged and reported as 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, attrs ...any) {
	switch {
	case errors.Is(err, model.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "invalid address")
	case errors.Is(err, driven.ErrUnknownChain):
		writeError(w, http.StatusNotFound, "unknown chain")
	case errors.Is(err, application.ErrUnknownCustomization):
		writeError(w, http.StatusNotFound, "unknown customization")
	case errors.Is(err, driven.ErrWatchNotFound):
		writeError(w, http.StatusNotFound, "address not watched")
	case errors.Is(err, driven.ErrAlreadyWatched):
		writeError(w, http.StatusConflict, "address already watched")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream timeout")
	default:
		h.logger.Error(msg, append(attrs, "error", err)...)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

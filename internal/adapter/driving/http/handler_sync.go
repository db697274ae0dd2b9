package httphandler

import (
	"net/http"
)

// ChainStatus returns the reconciled status of one ledger.
func (h *Handler) ChainStatus(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	chainID := r.PathValue("chainID")

	st, err := h.sync.ChainStatus(r.Context(), address, chainID, customization(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to compute chain status", "address", address, "chain", chainID)
		return
	}

	respond(w, r, http.StatusOK, toChainStatusResponse(st))
}

// AggregateStatus returns every ledger's status and the aggregate flags.
func (h *Handler) AggregateStatus(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	report, err := h.sync.AggregateStatus(r.Context(), address, customization(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to compute aggregate status", "address", address)
		return
	}

	respond(w, r, http.StatusOK, toSyncReportResponse(report))
}

// Refresh drops cached state for the address and reconciles again. The
// optional chain_id query parameter limits the refresh to one ledger.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	chainID := r.URL.Query().Get("chain_id")

	report, err := h.sync.Refresh(r.Context(), address, chainID, customization(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to refresh", "address", address, "chain", chainID)
		return
	}

	respond(w, r, http.StatusOK, toSyncReportResponse(report))
}

// ScoredPlatforms returns per-platform point totals for the address.
func (h *Handler) ScoredPlatforms(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	scores, err := h.sync.ScoredPlatforms(r.Context(), address, customization(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to score platforms", "address", address)
		return
	}

	resp := make([]PlatformScoreResponse, 0, len(scores))
	for _, s := range scores {
		resp = append(resp, toPlatformScoreResponse(s, h.descriptions.Render(s.Description)))
	}

	respond(w, r, http.StatusOK, resp)
}

// Snapshot returns the decoded ledger snapshot for the address.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")
	chainID := r.PathValue("chainID")

	snap, err := h.sync.Snapshot(r.Context(), address, chainID, customization(r))
	if err != nil {
		h.writeServiceError(w, err, "failed to load snapshot", "address", address, "chain", chainID)
		return
	}

	respond(w, r, http.StatusOK, toSnapshotResponse(snap))
}

func customization(r *http.Request) string {
	return r.URL.Query().Get("customization")
}

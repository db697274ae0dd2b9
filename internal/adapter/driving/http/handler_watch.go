package httphandler

import (
	"encoding/json"
	"net/http"
)

// ListWatched returns every watched address with its last refreshed statuses.
func (h *Handler) ListWatched(w http.ResponseWriter, r *http.Request) {
	watched, err := h.watch.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list watchlist", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]WatchResponse, 0, len(watched))
	for _, wa := range watched {
		resp = append(resp, toWatchResponse(wa, h.watch.LastStatuses(wa.Address)))
	}

	respond(w, r, http.StatusOK, resp)
}

// AddWatched adds an address to the background refresh watchlist.
func (h *Handler) AddWatched(w http.ResponseWriter, r *http.Request) {
	var req AddWatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}

	wa, err := h.watch.Watch(r.Context(), req.Address, req.Customization)
	if err != nil {
		h.writeServiceError(w, err, "failed to watch address", "address", req.Address)
		return
	}

	respond(w, r, http.StatusCreated, toWatchResponse(*wa, nil))
}

// RemoveWatched removes an address from the watchlist.
func (h *Handler) RemoveWatched(w http.ResponseWriter, r *http.Request) {
	address := r.PathValue("address")

	if err := h.watch.Unwatch(r.Context(), address); err != nil {
		h.writeServiceError(w, err, "failed to unwatch address", "address", address)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

package httphandler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

const maxStampsBody = 1 << 20

// ListStamps returns the off-chain credentials stored for the address.
func (h *Handler) ListStamps(w http.ResponseWriter, r *http.Request) {
	address, err := model.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	creds, err := h.credentials.ListByAddress(r.Context(), address)
	if err != nil {
		h.logger.Error("failed to list stamps", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := make([]StampResponse, 0, len(creds))
	for _, c := range creds {
		resp = append(resp, toStampResponse(c))
	}

	respond(w, r, http.StatusOK, resp)
}

// ReplaceStamps replaces the address's off-chain credentials with the
// request body. It is the ingestion endpoint for the credential issuer.
func (h *Handler) ReplaceStamps(w http.ResponseWriter, r *http.Request) {
	address, err := model.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	var req ReplaceStampsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStampsBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	creds, err := req.toCredentials(address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.credentials.ReplaceForAddress(r.Context(), address, creds); err != nil {
		h.logger.Error("failed to replace stamps", "address", address, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if err := h.sync.CredentialsChanged(address); err != nil {
		h.writeServiceError(w, err, "failed to drop cached score", "address", address)
		return
	}

	h.logger.Info("stamps replaced", "address", address, "count", len(creds))
	w.WriteHeader(http.StatusNoContent)
}

func (req ReplaceStampsRequest) toCredentials(address string) ([]model.OffChainCredential, error) {
	out := make([]model.OffChainCredential, 0, len(req.Stamps))
	seen := make(map[string]bool, len(req.Stamps))

	for i, s := range req.Stamps {
		provider := strings.TrimSpace(s.Provider)
		if provider == "" {
			return nil, fmt.Errorf("stamps[%d]: provider is required", i)
		}
		if seen[provider] {
			return nil, fmt.Errorf("stamps[%d]: duplicate provider %s", i, provider)
		}
		seen[provider] = true

		if s.CredentialHash == "" {
			return nil, fmt.Errorf("stamps[%d]: credential_hash is required", i)
		}
		issued, err := time.Parse(time.RFC3339, s.IssuedAt)
		if err != nil {
			return nil, fmt.Errorf("stamps[%d]: issued_at must be RFC 3339", i)
		}
		expires, err := time.Parse(time.RFC3339, s.ExpiresAt)
		if err != nil {
			return nil, fmt.Errorf("stamps[%d]: expires_at must be RFC 3339", i)
		}

		verified := true
		if s.Verified != nil {
			verified = *s.Verified
		}

		out = append(out, model.OffChainCredential{
			Address:        address,
			ProviderName:   provider,
			CredentialHash: s.CredentialHash,
			IssuedAt:       issued.UTC(),
			ExpiresAt:      expires.UTC(),
			Verified:       verified,
		})
	}

	return out, nil
}

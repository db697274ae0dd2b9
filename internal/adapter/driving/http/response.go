package httphandler

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ericfisherdev/stampsync/internal/application"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

const cborContentType = "application/cbor"

// respond writes v as CBOR when the client accepts application/cbor and as
// JSON otherwise.
func respond(w http.ResponseWriter, r *http.Request, status int, v any) {
	if !acceptsCBOR(r) {
		writeJSON(w, status, v)
		return
	}

	data, err := cbor.Marshal(v)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.Header().Set("Content-Type", cborContentType)
	w.Header().Add("Vary", "Accept")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func acceptsCBOR(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == cborContentType {
			return true
		}
	}
	return false
}

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// ChainStatusResponse is the reconciled status of one ledger.
type ChainStatusResponse struct {
	ChainID   string `json:"chain_id"`
	Status    string `json:"status"`
	IsPending bool   `json:"is_pending"`
	Error     string `json:"error,omitempty"`
}

// SyncReportResponse is the aggregate status across ledgers.
type SyncReportResponse struct {
	Address     string                `json:"address"`
	AllUpToDate bool                  `json:"all_up_to_date"`
	AnyExpired  bool                  `json:"any_expired"`
	AnyUpToDate bool                  `json:"any_up_to_date"`
	IsPending   bool                  `json:"is_pending"`
	Chains      []ChainStatusResponse `json:"chains"`
}

// PlatformScoreResponse is the point total of one platform. Points are
// decimal strings.
type PlatformScoreResponse struct {
	PlatformID            string `json:"platform_id"`
	Name                  string `json:"name"`
	DescriptionHTML       string `json:"description_html"`
	PossiblePoints        string `json:"possible_points"`
	DisplayPossiblePoints string `json:"display_possible_points"`
	EarnedPoints          string `json:"earned_points"`
	IsDeduplicated        bool   `json:"is_deduplicated"`
	IsVerified            bool   `json:"is_verified"`
}

// SnapshotResponse is a decoded ledger snapshot.
type SnapshotResponse struct {
	ChainID        string             `json:"chain_id"`
	HasScore       bool               `json:"has_score"`
	Score          *float64           `json:"score"`
	ScoreExpiresAt *string            `json:"score_expires_at"`
	Providers      []ProviderResponse `json:"providers"`
	IndexVersion   string             `json:"index_version"`
	Digest         string             `json:"digest"`
	FetchedAt      string             `json:"fetched_at"`
}

// ProviderResponse is one decoded provider record.
type ProviderResponse struct {
	Provider       string `json:"provider"`
	ProviderNumber uint64 `json:"provider_number"`
	CredentialHash string `json:"credential_hash"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
}

// StampResponse is one stored off-chain credential.
type StampResponse struct {
	Provider       string `json:"provider"`
	CredentialHash string `json:"credential_hash"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
	Verified       bool   `json:"verified"`
}

// StampRequest is one credential in a ReplaceStampsRequest. Verified
// defaults to true.
type StampRequest struct {
	Provider       string `json:"provider"`
	CredentialHash string `json:"credential_hash"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
	Verified       *bool  `json:"verified,omitempty"`
}

// ReplaceStampsRequest is the JSON body for the stamp ingestion endpoint.
type ReplaceStampsRequest struct {
	Stamps []StampRequest `json:"stamps"`
}

// ChainResponse is the JSON representation of a configured ledger.
type ChainResponse struct {
	ID              string `json:"id"`
	Label           string `json:"label"`
	State           string `json:"state"`
	Policy          string `json:"policy"`
	UseCustomScorer bool   `json:"use_custom_scorer"`
}

// ProviderIndexResponse is the provider index table in use.
type ProviderIndexResponse struct {
	Version   string                       `json:"version"`
	Providers []ProviderIndexEntryResponse `json:"providers"`
}

// ProviderIndexEntryResponse is one row of the provider index table.
type ProviderIndexEntryResponse struct {
	Name   string `json:"name"`
	Index  uint32 `json:"index"`
	Bit    uint8  `json:"bit"`
	Number uint64 `json:"number"`
}

// WatchResponse is the JSON representation of a watched address.
type WatchResponse struct {
	Address       string            `json:"address"`
	Customization string            `json:"customization,omitempty"`
	AddedAt       string            `json:"added_at"`
	Statuses      map[string]string `json:"statuses"`
}

// AddWatchRequest is the JSON body for the add watch endpoint.
type AddWatchRequest struct {
	Address       string `json:"address"`
	Customization string `json:"customization"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status       string `json:"status"`
	Time         string `json:"time"`
	IndexVersion string `json:"index_version,omitempty"`
}

func toChainStatusResponse(st model.ChainSyncStatus) ChainStatusResponse {
	resp := ChainStatusResponse{
		ChainID:   st.ChainID,
		Status:    string(st.Status),
		IsPending: st.IsPending,
	}
	if st.Err != nil {
		resp.Error = st.Err.Error()
	}
	return resp
}

func toSyncReportResponse(report *application.SyncReport) SyncReportResponse {
	chains := make([]ChainStatusResponse, 0, len(report.Chains))
	for _, st := range report.Chains {
		chains = append(chains, toChainStatusResponse(st))
	}

	return SyncReportResponse{
		Address:     report.Address,
		AllUpToDate: report.Aggregate.AllUpToDate,
		AnyExpired:  report.Aggregate.AnyExpired,
		AnyUpToDate: report.Aggregate.AnyUpToDate,
		IsPending:   report.IsPending,
		Chains:      chains,
	}
}

func toPlatformScoreResponse(s model.PlatformScore, descriptionHTML string) PlatformScoreResponse {
	return PlatformScoreResponse{
		PlatformID:            s.PlatformID,
		Name:                  s.Name,
		DescriptionHTML:       descriptionHTML,
		PossiblePoints:        s.PossiblePoints.String(),
		DisplayPossiblePoints: s.DisplayPossiblePoints.String(),
		EarnedPoints:          s.EarnedPoints.String(),
		IsDeduplicated:        s.IsDeduplicated,
		IsVerified:            s.IsVerified,
	}
}

func toSnapshotResponse(snap *model.ChainSnapshot) SnapshotResponse {
	providers := make([]ProviderResponse, 0, len(snap.Providers))
	for _, p := range snap.Providers {
		providers = append(providers, ProviderResponse{
			Provider:       p.ProviderName,
			ProviderNumber: p.ProviderNumber,
			CredentialHash: "0x" + hex.EncodeToString(p.CredentialHash[:]),
			IssuedAt:       formatTime(p.IssuedAt),
			ExpiresAt:      formatTime(p.ExpiresAt),
		})
	}

	resp := SnapshotResponse{
		ChainID:      snap.ChainID,
		HasScore:     snap.HasScore,
		Providers:    providers,
		IndexVersion: snap.IndexVersion,
		Digest:       snap.Digest,
		FetchedAt:    formatTime(snap.FetchedAt),
	}
	if snap.HasScore && !math.IsNaN(snap.Score) {
		score := snap.Score
		resp.Score = &score
	}
	if snap.ScoreExpiresAt != nil {
		exp := formatTime(*snap.ScoreExpiresAt)
		resp.ScoreExpiresAt = &exp
	}
	return resp
}

func toStampResponse(c model.OffChainCredential) StampResponse {
	return StampResponse{
		Provider:       c.ProviderName,
		CredentialHash: c.CredentialHash,
		IssuedAt:       formatTime(c.IssuedAt),
		ExpiresAt:      formatTime(c.ExpiresAt),
		Verified:       c.Verified,
	}
}

func toChainResponse(c model.Chain) ChainResponse {
	return ChainResponse{
		ID:              c.ID,
		Label:           c.Label,
		State:           string(c.State),
		Policy:          string(c.Policy),
		UseCustomScorer: c.UseCustomScorer,
	}
}

func toProviderIndexResponse(idx *model.ProviderIndex) ProviderIndexResponse {
	entries := idx.Entries()
	providers := make([]ProviderIndexEntryResponse, 0, len(entries))
	for _, e := range entries {
		providers = append(providers, ProviderIndexEntryResponse{
			Name:   e.Name,
			Index:  e.WordIndex,
			Bit:    e.BitOffset,
			Number: e.Number(),
		})
	}
	return ProviderIndexResponse{Version: idx.Version, Providers: providers}
}

func toWatchResponse(wa model.WatchedAddress, statuses map[string]model.SyncStatus) WatchResponse {
	out := make(map[string]string, len(statuses))
	for chain, st := range statuses {
		out[chain] = string(st)
	}
	return WatchResponse{
		Address:       wa.Address,
		Customization: wa.Customization,
		AddedAt:       formatTime(wa.AddedAt),
		Statuses:      out,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

package github_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ghAdapter "github.com/ericfisherdev/stampsync/internal/adapter/driven/github"
)

const bitmapDoc = `[
  {"name": "Google", "index": 0, "bit": 0},
  // added with the discord stamp
  {"name": "Discord", "index": 1, "bit": 3}
]`

// newTestSource creates an IndexSource backed by the given httptest handler.
func newTestSource(t *testing.T, handler http.Handler) *ghAdapter.IndexSource {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	src, err := ghAdapter.NewIndexSourceWithHTTPClient(
		server.Client(),
		server.URL+"/",
		"passport/iam",
		"static/providerBitMapInfo.json",
		"main",
	)
	require.NoError(t, err)
	return src
}

func contentsHandler(t *testing.T, sha, doc string) http.Handler {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/passport/iam/commits", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "static/providerBitMapInfo.json", r.URL.Query().Get("path"))
		assert.Equal(t, "main", r.URL.Query().Get("sha"))
		assert.Equal(t, "1", r.URL.Query().Get("per_page"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{"sha": sha}})
	})
	mux.HandleFunc("GET /repos/passport/iam/contents/static/providerBitMapInfo.json", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, sha, r.URL.Query().Get("ref"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":     "file",
			"encoding": "base64",
			"path":     "static/providerBitMapInfo.json",
			"content":  base64.StdEncoding.EncodeToString([]byte(doc)),
		})
	})
	return mux
}

func TestIndexSource_LoadVersionsByCommit(t *testing.T) {
	src := newTestSource(t, contentsHandler(t, "abc123", bitmapDoc))

	idx, err := src.Load(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "abc123", idx.Version)
	assert.Equal(t, 2, idx.Len())
	entry, ok := idx.ByName("Discord")
	require.True(t, ok)
	assert.Equal(t, uint32(1), entry.WordIndex)
	assert.Equal(t, uint8(3), entry.BitOffset)
}

func TestIndexSource_NoCommits(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/passport/iam/commits", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := newTestSource(t, mux).Load(context.Background())
	assert.ErrorContains(t, err, "no commits touch")
}

func TestIndexSource_APIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/passport/iam/commits", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message": "Not Found"}`))
	})

	_, err := newTestSource(t, mux).Load(context.Background())
	assert.ErrorContains(t, err, "listing commits")
}

func TestNewIndexSource_Validation(t *testing.T) {
	tests := []struct {
		name string
		repo string
		path string
	}{
		{name: "missing owner", repo: "/iam", path: "a.json"},
		{name: "no slash", repo: "iam", path: "a.json"},
		{name: "missing path", repo: "passport/iam", path: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ghAdapter.NewIndexSource(tt.repo, tt.path, "", "")
			assert.Error(t, err)
		})
	}
}

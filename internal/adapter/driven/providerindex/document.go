// Package providerindex loads the provider index table from a URL, a local
// file or a file in a GitHub repository.
package providerindex

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// document is the versioned wrapper form of an index table. The bare form is
// a JSON array of entries.
type document struct {
	Version   string                     `json:"version"`
	Providers []model.ProviderIndexEntry `json:"providers"`
}

// Parse builds a provider index from a JSON or JSONC document. The version is
// taken from the document when present, then from fallbackVersion, and
// otherwise derived from the content.
func Parse(data []byte, fallbackVersion string) (*model.ProviderIndex, error) {
	clean := bytes.TrimSpace(jsonc.ToJSON(data))
	if len(clean) == 0 {
		return nil, fmt.Errorf("parse provider index: empty document")
	}

	var doc document
	switch clean[0] {
	case '[':
		if err := json.Unmarshal(clean, &doc.Providers); err != nil {
			return nil, fmt.Errorf("parse provider index: %w", err)
		}
	case '{':
		if err := json.Unmarshal(clean, &doc); err != nil {
			return nil, fmt.Errorf("parse provider index: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse provider index: expected an array or object")
	}

	version := doc.Version
	if version == "" {
		version = fallbackVersion
	}
	if version == "" {
		version = contentVersion(clean)
	}

	return model.NewProviderIndex(version, doc.Providers)
}

// contentVersion names a table by the digest of its canonical JSON.
func contentVersion(clean []byte) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, clean); err != nil {
		compact.Reset()
		compact.Write(clean)
	}
	sum := blake3.Sum256(compact.Bytes())
	return "b3:" + hex.EncodeToString(sum[:8])
}

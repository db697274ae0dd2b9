package providerindex

import (
	"context"
	"fmt"
	"os"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ProviderIndexSource = (*FileSource)(nil)

// FileSource reads the table from a local JSON or JSONC file.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Load reads and parses the file.
func (s *FileSource) Load(_ context.Context) (*model.ProviderIndex, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read provider index file: %w", err)
	}
	return Parse(data, "")
}

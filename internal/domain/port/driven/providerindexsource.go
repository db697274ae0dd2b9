package driven

import (
	"context"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// ProviderIndexSource defines the driven port for loading the provider index
// table. Implementations return a table whose Version changes whenever its
// content does.
type ProviderIndexSource interface {
	Load(ctx context.Context) (*model.ProviderIndex, error)
}

package driven

import (
	"context"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// ScoringClient defines the driven port for the external scoring service.
type ScoringClient interface {
	// FetchScore returns the scoring service's current answer for address.
	// The response status may still be processing.
	FetchScore(ctx context.Context, address string, scorerID int64) (*model.ScoringResponse, error)

	// FetchWeights returns the points each provider is worth for scorerID.
	FetchWeights(ctx context.Context, scorerID int64) (model.ProviderWeights, error)
}

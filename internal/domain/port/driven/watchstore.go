package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// Sentinel errors returned by WatchStore implementations.
var (
	// ErrWatchNotFound indicates the address is not being watched.
	ErrWatchNotFound = errors.New("watched address not found")

	// ErrAlreadyWatched indicates the address is already being watched.
	ErrAlreadyWatched = errors.New("address already watched")
)

// WatchStore defines the driven port for the background refresh watchlist.
// Add returns ErrAlreadyWatched if the address is already present.
// Remove returns ErrWatchNotFound if the address is not present.
type WatchStore interface {
	Add(ctx context.Context, w model.WatchedAddress) error
	Remove(ctx context.Context, address string) error
	Get(ctx context.Context, address string) (*model.WatchedAddress, error)
	ListAll(ctx context.Context) ([]model.WatchedAddress, error)
}

package driven

import (
	"context"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// CredentialStore defines the driven port for the off-chain credential store.
// Reconciliation only reads from it.
type CredentialStore interface {
	// ListByAddress returns every credential held for address, verified or
	// not, ordered by provider name.
	ListByAddress(ctx context.Context, address string) ([]model.OffChainCredential, error)

	// ReplaceForAddress swaps the address's credentials for creds in one transaction.
	ReplaceForAddress(ctx context.Context, address string, creds []model.OffChainCredential) error
}

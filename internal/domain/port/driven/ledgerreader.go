package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// ErrUnknownChain is returned when a ledger id is not configured.
var ErrUnknownChain = errors.New("unknown chain")

// LedgerReader defines the driven port for reading attestations from one ledger.
type LedgerReader interface {
	// AttestationUID returns the uid of the address's current attestation of
	// the given kind. A zero uid means nothing was attested. scorerID selects
	// a custom scorer's score attestation; 0 selects the default scorer.
	AttestationUID(ctx context.Context, address string, kind model.AttestationKind, scorerID int64) ([32]byte, error)

	// Attestation returns the attestation envelope for uid.
	Attestation(ctx context.Context, uid [32]byte) (*model.RawAttestation, error)
}

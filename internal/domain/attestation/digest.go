package attestation

import (
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/zeebo/blake3"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// Digest fingerprints a snapshot's decoded content. Two snapshots with the
// same score, expiry and records in provider order share a digest, whatever
// ledger block they were read at.
func Digest(s *model.ChainSnapshot) string {
	h := blake3.New()
	var buf [8]byte

	put := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		_, _ = h.Write(buf[:])
	}

	if s.HasScore {
		put(1)
		put(math.Float64bits(s.Score))
	} else {
		put(0)
	}
	if s.ScoreExpiresAt != nil {
		put(uint64(s.ScoreExpiresAt.Unix()))
	} else {
		put(0)
	}

	put(uint64(len(s.Providers)))
	for _, r := range s.Providers {
		put(r.ProviderNumber)
		_, _ = h.Write(r.CredentialHash[:])
		put(uint64(r.IssuedAt.Unix()))
		put(uint64(r.ExpiresAt.Unix()))
	}

	return hex.EncodeToString(h.Sum(nil))
}

package model

import (
	"errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidAddress indicates a string is not a 20-byte hex account address.
var ErrInvalidAddress = errors.New("invalid address")

// NormalizeAddress validates a hex account address and returns it lower-cased,
// which is the form used for every cache and store key.
func NormalizeAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", ErrInvalidAddress
	}
	return strings.ToLower(common.HexToAddress(s).Hex()), nil
}

// OffChainCredential is a verified credential held in the off-chain store.
type OffChainCredential struct {
	Address        string
	ProviderName   string
	CredentialHash string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Verified       bool
}

// Expired reports whether the credential's expiry is at or before now.
func (c OffChainCredential) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

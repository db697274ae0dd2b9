// Package eas reads passport and score attestations from an Ethereum
// Attestation Service deployment through the passport resolver contract.
package eas

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.LedgerReader = (*Reader)(nil)

var (
	parsedResolverABI = mustABI(resolverABI)
	parsedEASABI      = mustABI(easABI)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// attestationTuple mirrors the Attestation struct returned by getAttestation.
type attestationTuple struct {
	Uid            [32]byte
	Schema         [32]byte
	Time           uint64
	ExpirationTime uint64
	RevocationTime uint64
	RefUID         [32]byte
	Recipient      common.Address
	Attester       common.Address
	Revocable      bool
	Data           []byte
}

// Config identifies the contracts and schemas on one ledger.
type Config struct {
	ChainID         string
	ResolverAddress string
	EASAddress      string
	PassportSchema  string
	ScoreSchema     string
	// DefaultScorerID is answered by the resolver's plain lookup; any other
	// scorer uses the per-scorer lookup.
	DefaultScorerID int64
}

// Reader is the EAS implementation of the LedgerReader port for one ledger.
type Reader struct {
	caller         ethereum.ContractCaller
	chainID        string
	resolver       common.Address
	eas            common.Address
	passportSchema [32]byte
	scoreSchema    [32]byte
	defaultScorer  int64
}

// NewReader creates a Reader calling contracts through caller.
func NewReader(caller ethereum.ContractCaller, cfg Config) (*Reader, error) {
	if !common.IsHexAddress(cfg.ResolverAddress) {
		return nil, fmt.Errorf("chain %s: invalid resolver address %q", cfg.ChainID, cfg.ResolverAddress)
	}
	if !common.IsHexAddress(cfg.EASAddress) {
		return nil, fmt.Errorf("chain %s: invalid EAS address %q", cfg.ChainID, cfg.EASAddress)
	}

	passport, err := parseSchemaUID(cfg.PassportSchema)
	if err != nil {
		return nil, fmt.Errorf("chain %s: passport schema: %w", cfg.ChainID, err)
	}
	score, err := parseSchemaUID(cfg.ScoreSchema)
	if err != nil {
		return nil, fmt.Errorf("chain %s: score schema: %w", cfg.ChainID, err)
	}

	return &Reader{
		caller:         caller,
		chainID:        cfg.ChainID,
		resolver:       common.HexToAddress(cfg.ResolverAddress),
		eas:            common.HexToAddress(cfg.EASAddress),
		passportSchema: passport,
		scoreSchema:    score,
		defaultScorer:  cfg.DefaultScorerID,
	}, nil
}

// Dial connects to a JSON-RPC endpoint and returns a Reader over it. The
// returned close function releases the connection.
func Dial(ctx context.Context, rpcURL string, cfg Config) (*Reader, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial chain %s: %w", cfg.ChainID, err)
	}

	r, err := NewReader(client, cfg)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return r, client.Close, nil
}

// AttestationUID returns the user's current attestation uid for kind.
func (r *Reader) AttestationUID(ctx context.Context, address string, kind model.AttestationKind, scorerID int64) ([32]byte, error) {
	if !common.IsHexAddress(address) {
		return [32]byte{}, fmt.Errorf("attestation uid: %w", model.ErrInvalidAddress)
	}
	user := common.HexToAddress(address)

	var (
		method string
		args   []any
	)
	switch kind {
	case model.AttestationKindPassport:
		method, args = "userAttestations", []any{user, r.passportSchema}
	case model.AttestationKindScore:
		if scorerID == 0 || scorerID == r.defaultScorer {
			method, args = "userAttestations", []any{user, r.scoreSchema}
			break
		}
		if scorerID < 0 || scorerID > math.MaxUint32 {
			return [32]byte{}, fmt.Errorf("scorer id %d out of range", scorerID)
		}
		method, args = "userScorerAttestations", []any{user, uint32(scorerID), r.scoreSchema}
	default:
		return [32]byte{}, fmt.Errorf("unknown attestation kind %q", kind)
	}

	out, err := r.call(ctx, parsedResolverABI, r.resolver, method, args...)
	if err != nil {
		return [32]byte{}, err
	}

	uid, ok := out[0].([32]byte)
	if !ok {
		return [32]byte{}, fmt.Errorf("%s: unexpected result type %T", method, out[0])
	}
	return uid, nil
}

// Attestation fetches the attestation envelope for uid. An attestation the
// service does not know comes back with a zero uid and is reported as nil.
func (r *Reader) Attestation(ctx context.Context, uid [32]byte) (*model.RawAttestation, error) {
	out, err := r.call(ctx, parsedEASABI, r.eas, "getAttestation", uid)
	if err != nil {
		return nil, err
	}

	tuple, ok := abi.ConvertType(out[0], new(attestationTuple)).(*attestationTuple)
	if !ok {
		return nil, fmt.Errorf("getAttestation: unexpected result type %T", out[0])
	}
	if tuple.Uid == ([32]byte{}) {
		return nil, nil
	}

	return &model.RawAttestation{
		UID:       tuple.Uid,
		Schema:    tuple.Schema,
		Recipient: strings.ToLower(tuple.Recipient.Hex()),
		Attester:  strings.ToLower(tuple.Attester.Hex()),
		IssuedAt:  unixUTC(tuple.Time),
		ExpiresAt: optionalTime(tuple.ExpirationTime),
		RevokedAt: optionalTime(tuple.RevocationTime),
		Data:      tuple.Data,
	}, nil
}

func (r *Reader) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s on chain %s: %w", method, r.chainID, err)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, errEmptyResult)
	}
	return out, nil
}

var errEmptyResult = errors.New("empty result")

func parseSchemaUID(s string) ([32]byte, error) {
	var uid [32]byte
	b := common.FromHex(s)
	if len(b) != len(uid) {
		return uid, fmt.Errorf("schema uid %q is not 32 bytes", s)
	}
	copy(uid[:], b)
	return uid, nil
}

func unixUTC(secs uint64) time.Time {
	if secs > math.MaxInt64 {
		secs = math.MaxInt64
	}
	return time.Unix(int64(secs), 0).UTC()
}

// optionalTime maps the contract's zero sentinel to nil.
func optionalTime(secs uint64) *time.Time {
	if secs == 0 {
		return nil
	}
	t := unixUTC(secs)
	return &t
}

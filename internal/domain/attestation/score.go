package attestation

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// ScoreSchema is the field list score attestations are encoded with.
const ScoreSchema = "uint256 score,uint32 scorer_id,uint8 score_decimals"

// maxScoreDecimals bounds the decimal exponent a payload may declare.
const maxScoreDecimals = math.MaxUint8

// ScoreCodec decodes fixed-point score payloads. Fields are located by name
// so newer schemas with additional fields decode with the same codec.
type ScoreCodec struct {
	args     abi.Arguments
	score    int
	decimals int
	scorer   int
	expires  int
}

var defaultScoreCodec = mustScoreCodec(ScoreSchema)

func mustScoreCodec(schema string) *ScoreCodec {
	c, err := NewScoreCodec(schema)
	if err != nil {
		panic(err)
	}
	return c
}

// NewScoreCodec validates that schema carries an integer score and its
// decimal places.
func NewScoreCodec(schema string) (*ScoreCodec, error) {
	args, err := ParseSchema(schema)
	if err != nil {
		return nil, err
	}

	c := &ScoreCodec{
		args:     args,
		score:    fieldIndex(args, "score"),
		decimals: fieldIndex(args, "score_decimals"),
		scorer:   fieldIndex(args, "scorer_id"),
		expires:  fieldIndex(args, "expiration_timestamp"),
	}
	if c.score < 0 || c.decimals < 0 {
		return nil, fmt.Errorf("score codec: schema needs score and score_decimals fields")
	}
	for _, i := range []int{c.score, c.decimals} {
		if t := args[i].Type.T; t != abi.UintTy && t != abi.IntTy {
			return nil, fmt.Errorf("score codec: field %s is %s, want an integer", args[i].Name, args[i].Type.String())
		}
	}

	return c, nil
}

// DecodeScore decodes a payload encoded with ScoreSchema and returns the
// score as integerValue / 10^decimals.
func DecodeScore(data []byte) (float64, error) {
	att, err := defaultScoreCodec.Decode(data)
	if err != nil {
		return 0, err
	}
	return att.Value, nil
}

// Decode decodes a score payload. The decimal count is read from the payload
// on every call.
func (c *ScoreCodec) Decode(data []byte) (model.ScoreAttestation, error) {
	values, err := unpack(c.args, data)
	if err != nil {
		return model.ScoreAttestation{}, err
	}

	raw, ok := asBigInt(values[c.score])
	if !ok {
		return model.ScoreAttestation{}, mismatch("score", "unexpected type %T", values[c.score])
	}
	dec, ok := asBigInt(values[c.decimals])
	if !ok {
		return model.ScoreAttestation{}, mismatch("score_decimals", "unexpected type %T", values[c.decimals])
	}
	if dec.Sign() < 0 || !dec.IsUint64() || dec.Uint64() > maxScoreDecimals {
		return model.ScoreAttestation{}, overflow("score_decimals", "%s decimal places", dec)
	}

	value, err := ScoreValue(raw, dec.Uint64())
	if err != nil {
		return model.ScoreAttestation{}, err
	}

	att := model.ScoreAttestation{Value: value, Decimals: dec.Uint64()}

	if c.scorer >= 0 {
		if id, ok := asBigInt(values[c.scorer]); ok && id.IsUint64() {
			att.ScorerID = id.Uint64()
		}
	}
	if c.expires >= 0 {
		secs, ok := asBigInt(values[c.expires])
		if !ok || !secs.IsUint64() {
			return model.ScoreAttestation{}, mismatch("expiration_timestamp", "unexpected value %v", values[c.expires])
		}
		if secs.Sign() > 0 {
			t, err := unixTime("expiration_timestamp", secs.Uint64())
			if err != nil {
				return model.ScoreAttestation{}, err
			}
			att.ExpiresAt = &t
		}
	}

	return att, nil
}

// ScoreValue scales an attested integer by 10^decimals. It returns
// ErrOverflow when the result is not a finite float64.
func ScoreValue(value *big.Int, decimals uint64) (float64, error) {
	if decimals > maxScoreDecimals {
		return 0, overflow("score_decimals", "%d decimal places", decimals)
	}

	f := new(big.Float).SetPrec(256).SetInt(value)
	if decimals > 0 {
		scale := new(big.Int).Exp(big.NewInt(10), new(big.Int).SetUint64(decimals), nil)
		f.Quo(f, new(big.Float).SetPrec(256).SetInt(scale))
	}

	out, _ := f.Float64()
	if math.IsInf(out, 0) {
		return 0, overflow("score", "%s does not fit a float64", value)
	}
	return out, nil
}

// Encode builds a score payload. Fields of the schema other than score,
// score_decimals, scorer_id and expiration_timestamp are packed as zero values.
func (c *ScoreCodec) Encode(value *big.Int, decimals uint8, scorerID uint64, expiresAt *time.Time) ([]byte, error) {
	values := make([]any, len(c.args))
	for i, a := range c.args {
		values[i] = zeroFor(a.Type)
	}

	set := func(i int, v *big.Int) error {
		if i < 0 {
			return nil
		}
		packed, err := intFor(c.args[i].Type, v)
		if err != nil {
			return fmt.Errorf("encode score: %s: %w", c.args[i].Name, err)
		}
		values[i] = packed
		return nil
	}

	if err := set(c.score, value); err != nil {
		return nil, err
	}
	if err := set(c.decimals, new(big.Int).SetUint64(uint64(decimals))); err != nil {
		return nil, err
	}
	if err := set(c.scorer, new(big.Int).SetUint64(scorerID)); err != nil {
		return nil, err
	}
	if expiresAt != nil {
		if err := set(c.expires, big.NewInt(expiresAt.Unix())); err != nil {
			return nil, err
		}
	}

	data, err := c.args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("encode score: %w", err)
	}
	return data, nil
}

// EncodeScore encodes with ScoreSchema.
func EncodeScore(value *big.Int, decimals uint8, scorerID uint64) ([]byte, error) {
	return defaultScoreCodec.Encode(value, decimals, scorerID, nil)
}

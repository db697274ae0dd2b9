package attestation

import (
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseSchema turns an attestation schema definition such as
// "uint256 score,uint32 scorer_id,uint8 score_decimals" into ABI arguments.
func ParseSchema(definition string) (abi.Arguments, error) {
	if strings.TrimSpace(definition) == "" {
		return nil, fmt.Errorf("parse schema: empty definition")
	}

	var args abi.Arguments
	seen := map[string]bool{}

	for _, part := range strings.Split(definition, ",") {
		fields := strings.Fields(part)
		if len(fields) != 2 {
			return nil, fmt.Errorf("parse schema: field %q: expected \"<type> <name>\"", strings.TrimSpace(part))
		}

		typ, err := abi.NewType(fields[0], "", nil)
		if err != nil {
			return nil, fmt.Errorf("parse schema: field %s: %w", fields[1], err)
		}
		if seen[fields[1]] {
			return nil, fmt.Errorf("parse schema: field %s declared twice", fields[1])
		}
		seen[fields[1]] = true

		args = append(args, abi.Argument{Name: fields[1], Type: typ})
	}

	return args, nil
}

// fieldIndex returns the position of a named argument, or -1.
func fieldIndex(args abi.Arguments, name string) int {
	for i, a := range args {
		if a.Name == name {
			return i
		}
	}
	return -1
}

// requireField checks that a named argument exists with the given ABI type.
func requireField(args abi.Arguments, name, typ string) (int, error) {
	i := fieldIndex(args, name)
	if i < 0 {
		return -1, fmt.Errorf("schema has no %s field", name)
	}
	if got := args[i].Type.String(); got != typ {
		return -1, fmt.Errorf("schema field %s is %s, want %s", name, got, typ)
	}
	return i, nil
}

func unpack(args abi.Arguments, data []byte) ([]any, error) {
	if len(data) == 0 {
		return nil, mismatch("", "empty payload")
	}
	values, err := args.Unpack(data)
	if err != nil {
		return nil, &DecodeError{Kind: ErrSchemaMismatch, Err: err}
	}
	if len(values) != len(args) {
		return nil, mismatch("", "decoded %d values for %d fields", len(values), len(args))
	}
	return values, nil
}

// asBigInt widens any ABI integer value to a big.Int.
func asBigInt(v any) (*big.Int, bool) {
	switch n := v.(type) {
	case *big.Int:
		return n, n != nil
	case uint8:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint16:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint32:
		return new(big.Int).SetUint64(uint64(n)), true
	case uint64:
		return new(big.Int).SetUint64(n), true
	case int8:
		return big.NewInt(int64(n)), true
	case int16:
		return big.NewInt(int64(n)), true
	case int32:
		return big.NewInt(int64(n)), true
	case int64:
		return big.NewInt(n), true
	default:
		return nil, false
	}
}

// intFor narrows v to the Go type the ABI packer expects for t.
func intFor(t abi.Type, v *big.Int) (any, error) {
	if t.T != abi.UintTy && t.T != abi.IntTy {
		return nil, fmt.Errorf("type %s is not an integer", t.String())
	}
	if t.T == abi.UintTy {
		if v.Sign() < 0 || v.BitLen() > t.Size {
			return nil, fmt.Errorf("value %s does not fit %s", v, t.String())
		}
		switch t.Size {
		case 8:
			return uint8(v.Uint64()), nil
		case 16:
			return uint16(v.Uint64()), nil
		case 32:
			return uint32(v.Uint64()), nil
		case 64:
			return v.Uint64(), nil
		}
		return new(big.Int).Set(v), nil
	}
	if v.BitLen() >= t.Size {
		return nil, fmt.Errorf("value %s does not fit %s", v, t.String())
	}
	switch t.Size {
	case 8:
		return int8(v.Int64()), nil
	case 16:
		return int16(v.Int64()), nil
	case 32:
		return int32(v.Int64()), nil
	case 64:
		return v.Int64(), nil
	}
	return new(big.Int).Set(v), nil
}

// zeroFor returns a packable zero value for t.
func zeroFor(t abi.Type) any {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		v, _ := intFor(t, new(big.Int))
		return v
	case abi.SliceTy:
		return reflect.MakeSlice(t.GetType(), 0, 0).Interface()
	default:
		return reflect.Zero(t.GetType()).Interface()
	}
}

// unixTime converts an on-chain seconds timestamp.
func unixTime(field string, secs uint64) (time.Time, error) {
	if secs > math.MaxInt64 {
		return time.Time{}, overflow(field, "timestamp %d exceeds int64", secs)
	}
	return time.Unix(int64(secs), 0).UTC(), nil
}

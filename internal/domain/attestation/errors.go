// Package attestation decodes and encodes the ABI payloads of passport and
// score attestations.
package attestation

import (
	"errors"
	"fmt"
)

// Sentinel decode error kinds. Match them with errors.Is.
var (
	// ErrSchemaMismatch indicates the payload does not have the shape its schema declares.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrOverflow indicates a numeric field cannot be represented after decoding.
	ErrOverflow = errors.New("numeric overflow")
)

// DecodeError reports which field failed to decode and why.
type DecodeError struct {
	Field string
	Kind  error
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("decode attestation: %v: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("decode attestation field %s: %v: %v", e.Field, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the underlying cause to errors.Is.
func (e *DecodeError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func mismatch(field string, format string, args ...any) error {
	return &DecodeError{Field: field, Kind: ErrSchemaMismatch, Err: fmt.Errorf(format, args...)}
}

func overflow(field string, format string, args ...any) error {
	return &DecodeError{Field: field, Kind: ErrOverflow, Err: fmt.Errorf(format, args...)}
}

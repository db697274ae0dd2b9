// attestctl inspects and builds attestation payloads and checks provider
// index tables.
//
// Usage:
//
//	attestctl decode --kind passport --index bitmap.json 0x...
//	attestctl decode --kind score 0x...
//	attestctl encode --index bitmap.json --records records.json
//	attestctl score --value 21.5 --decimals 4 --scorer 335
//	attestctl check-index --index new.json [--base old.json]
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"

	"github.com/ericfisherdev/stampsync/internal/adapter/driven/providerindex"
	"github.com/ericfisherdev/stampsync/internal/domain/attestation"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// errIncompatible is returned by check-index when the new table would change
// how existing attestations decode.
var errIncompatible = errors.New("provider index is not compatible with its base")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) == 0 {
		printUsage()
		return errors.New("missing command")
	}

	switch args[0] {
	case "decode":
		return runDecode(args[1:], stdout)
	case "encode":
		return runEncode(args[1:], stdout)
	case "score":
		return runScore(args[1:], stdout)
	case "check-index":
		return runCheckIndex(args[1:], stdout)
	case "help", "-h", "--help":
		printUsage()
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func printUsage() {
	fmt.Fprint(os.Stderr, `attestctl inspects attestation payloads and provider index tables.

Commands:
  decode       decode a passport or score payload
  encode       build a passport payload from a records file
  score        build a score payload
  check-index  validate a provider index and diff it against a base table
`)
}

type recordJSON struct {
	Provider       string `json:"provider"`
	ProviderNumber uint64 `json:"provider_number,omitempty"`
	Hash           string `json:"hash"`
	IssuedAt       string `json:"issued_at"`
	ExpiresAt      string `json:"expires_at"`
}

func runDecode(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("decode", pflag.ContinueOnError)
	kind := flags.String("kind", "passport", "payload kind: passport or score")
	indexPath := flags.String("index", "", "provider index file (passport only)")
	schema := flags.String("schema", "", "schema field list overriding the built-in one")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return errors.New("decode takes exactly one hex payload")
	}
	data := common.FromHex(flags.Arg(0))

	switch model.AttestationKind(*kind) {
	case model.AttestationKindPassport:
		idx, err := loadIndex(*indexPath)
		if err != nil {
			return err
		}
		codec, err := attestation.NewPassportCodec(orDefault(*schema, attestation.PassportSchema))
		if err != nil {
			return err
		}
		records, err := codec.Decode(data, idx)
		if err != nil {
			return err
		}
		mapVersion, err := codec.MapVersion(data)
		if err != nil {
			return err
		}

		out := struct {
			IndexVersion string       `json:"index_version"`
			MapVersion   uint16       `json:"map_version"`
			Records      []recordJSON `json:"records"`
		}{IndexVersion: idx.Version, MapVersion: mapVersion, Records: make([]recordJSON, 0, len(records))}
		for _, r := range records {
			out.Records = append(out.Records, recordJSON{
				Provider:       r.ProviderName,
				ProviderNumber: r.ProviderNumber,
				Hash:           hexutil.Encode(r.CredentialHash[:]),
				IssuedAt:       r.IssuedAt.UTC().Format(time.RFC3339),
				ExpiresAt:      r.ExpiresAt.UTC().Format(time.RFC3339),
			})
		}
		return writeJSON(stdout, out)

	case model.AttestationKindScore:
		codec, err := attestation.NewScoreCodec(orDefault(*schema, attestation.ScoreSchema))
		if err != nil {
			return err
		}
		score, err := codec.Decode(data)
		if err != nil {
			return err
		}

		out := struct {
			Score     float64 `json:"score"`
			Decimals  uint64  `json:"decimals"`
			ScorerID  uint64  `json:"scorer_id"`
			ExpiresAt string  `json:"expires_at,omitempty"`
		}{Score: score.Value, Decimals: score.Decimals, ScorerID: score.ScorerID}
		if score.ExpiresAt != nil {
			out.ExpiresAt = score.ExpiresAt.UTC().Format(time.RFC3339)
		}
		return writeJSON(stdout, out)

	default:
		return fmt.Errorf("unknown kind %q", *kind)
	}
}

func runEncode(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("encode", pflag.ContinueOnError)
	indexPath := flags.String("index", "", "provider index file")
	recordsPath := flags.String("records", "", "JSON array of {provider, hash, issued_at, expires_at}")
	mapVersion := flags.Uint16("map-version", 0, "provider map version written into the payload")
	if err := flags.Parse(args); err != nil {
		return err
	}

	idx, err := loadIndex(*indexPath)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(*recordsPath)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	var in []recordJSON
	if err := json.Unmarshal(raw, &in); err != nil {
		return fmt.Errorf("parse records: %w", err)
	}

	records := make([]model.DecodedProviderRecord, 0, len(in))
	for i, r := range in {
		hash := common.FromHex(r.Hash)
		if len(hash) != 32 {
			return fmt.Errorf("records[%d]: hash must be 32 bytes", i)
		}
		issued, err := time.Parse(time.RFC3339, r.IssuedAt)
		if err != nil {
			return fmt.Errorf("records[%d]: issued_at: %w", i, err)
		}
		expires, err := time.Parse(time.RFC3339, r.ExpiresAt)
		if err != nil {
			return fmt.Errorf("records[%d]: expires_at: %w", i, err)
		}

		rec := model.DecodedProviderRecord{ProviderName: r.Provider, IssuedAt: issued, ExpiresAt: expires}
		copy(rec.CredentialHash[:], hash)
		records = append(records, rec)
	}

	data, err := attestation.EncodeProviders(records, idx, *mapVersion)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hexutil.Encode(data))
	return err
}

func runScore(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("score", pflag.ContinueOnError)
	value := flags.String("value", "", "score as a decimal number")
	decimals := flags.Uint8("decimals", 4, "decimal places of the encoded integer")
	scorerID := flags.Uint64("scorer", 0, "scorer id")
	if err := flags.Parse(args); err != nil {
		return err
	}

	d, err := decimal.NewFromString(*value)
	if err != nil {
		return fmt.Errorf("invalid --value: %w", err)
	}
	scaled := d.Shift(int32(*decimals))
	if !scaled.IsInteger() {
		return fmt.Errorf("--value %s has more than %d decimal places", *value, *decimals)
	}
	if scaled.IsNegative() {
		return errors.New("--value must not be negative")
	}

	data, err := attestation.EncodeScore(scaled.BigInt(), *decimals, *scorerID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, hexutil.Encode(data))
	return err
}

func runCheckIndex(args []string, stdout io.Writer) error {
	flags := pflag.NewFlagSet("check-index", pflag.ContinueOnError)
	indexPath := flags.String("index", "", "provider index file to check")
	basePath := flags.String("base", "", "previous provider index file to diff against")
	if err := flags.Parse(args); err != nil {
		return err
	}

	idx, err := loadIndex(*indexPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "%s: %d providers, version %s\n", *indexPath, idx.Len(), idx.Version)

	if *basePath == "" {
		return nil
	}
	base, err := loadIndex(*basePath)
	if err != nil {
		return err
	}

	diff := idx.Diff(base)
	for _, e := range diff.Added {
		fmt.Fprintf(stdout, "added    %s at index %d bit %d\n", e.Name, e.WordIndex, e.BitOffset)
	}
	for _, e := range diff.Missing {
		fmt.Fprintf(stdout, "missing  %s (was index %d bit %d)\n", e.Name, e.WordIndex, e.BitOffset)
	}
	for name, pair := range diff.Moved {
		fmt.Fprintf(stdout, "moved    %s from %d to %d\n", name, pair[0].Number(), pair[1].Number())
	}
	for _, e := range diff.Reused {
		fmt.Fprintf(stdout, "reused   index %d bit %d now holds %s\n", e.WordIndex, e.BitOffset, e.Name)
	}

	if !diff.Compatible() {
		return errIncompatible
	}
	fmt.Fprintln(stdout, "compatible")
	return nil
}

func loadIndex(path string) (*model.ProviderIndex, error) {
	if path == "" {
		return nil, errors.New("--index is required")
	}
	return providerindex.NewFileSource(path).Load(context.Background())
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

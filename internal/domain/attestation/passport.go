package attestation

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/ericfisherdev/stampsync/internal/domain/model"
)

// PassportSchema is the field list passport attestations are encoded with.
const PassportSchema = "uint256[] providers,bytes32[] hashes,uint64[] issuanceDates,uint64[] expirationDates,uint16 providerMapVersion"

// PassportCodec decodes provider bitmaps for one passport schema definition.
type PassportCodec struct {
	args        abi.Arguments
	providers   int
	hashes      int
	issuances   int
	expirations int
	mapVersion  int
}

var defaultPassportCodec = mustPassportCodec(PassportSchema)

func mustPassportCodec(schema string) *PassportCodec {
	c, err := NewPassportCodec(schema)
	if err != nil {
		panic(err)
	}
	return c
}

// NewPassportCodec validates that schema carries the bitmap and the three
// correlated arrays.
func NewPassportCodec(schema string) (*PassportCodec, error) {
	args, err := ParseSchema(schema)
	if err != nil {
		return nil, err
	}

	c := &PassportCodec{args: args, mapVersion: fieldIndex(args, "providerMapVersion")}
	for _, f := range []struct {
		dst  *int
		name string
		typ  string
	}{
		{&c.providers, "providers", "uint256[]"},
		{&c.hashes, "hashes", "bytes32[]"},
		{&c.issuances, "issuanceDates", "uint64[]"},
		{&c.expirations, "expirationDates", "uint64[]"},
	} {
		if *f.dst, err = requireField(args, f.name, f.typ); err != nil {
			return nil, fmt.Errorf("passport codec: %w", err)
		}
	}

	return c, nil
}

// DecodeProviders decodes a payload encoded with PassportSchema.
func DecodeProviders(data []byte, index *model.ProviderIndex) ([]model.DecodedProviderRecord, error) {
	return defaultPassportCodec.Decode(data, index)
}

// Decode recovers the provider records of a passport payload. The k-th set
// bit, counted in ascending bitmap order across all words, owns the k-th
// element of each correlated array. Set bits unknown to index keep their slot
// but produce no record. Records come back ordered by provider number.
func (c *PassportCodec) Decode(data []byte, index *model.ProviderIndex) ([]model.DecodedProviderRecord, error) {
	values, err := unpack(c.args, data)
	if err != nil {
		return nil, err
	}

	words, ok := values[c.providers].([]*big.Int)
	if !ok {
		return nil, mismatch("providers", "unexpected type %T", values[c.providers])
	}
	hashes, ok := values[c.hashes].([][32]byte)
	if !ok {
		return nil, mismatch("hashes", "unexpected type %T", values[c.hashes])
	}
	issued, ok := values[c.issuances].([]uint64)
	if !ok {
		return nil, mismatch("issuanceDates", "unexpected type %T", values[c.issuances])
	}
	expires, ok := values[c.expirations].([]uint64)
	if !ok {
		return nil, mismatch("expirationDates", "unexpected type %T", values[c.expirations])
	}

	setBits := 0
	for _, w := range words {
		for bit := 0; bit < w.BitLen(); bit++ {
			setBits += int(w.Bit(bit))
		}
	}
	if len(hashes) != setBits || len(issued) != setBits || len(expires) != setBits {
		return nil, mismatch("providers", "%d set bits but %d hashes, %d issuance dates, %d expiration dates",
			setBits, len(hashes), len(issued), len(expires))
	}

	records := make([]model.DecodedProviderRecord, 0, setBits)
	slot := 0
	for wordIndex, w := range words {
		for bit := 0; bit < w.BitLen(); bit++ {
			if w.Bit(bit) == 0 {
				continue
			}
			k := slot
			slot++

			entry, known := index.Lookup(uint32(wordIndex), uint8(bit))
			if !known {
				continue
			}

			issuedAt, err := unixTime("issuanceDates", issued[k])
			if err != nil {
				return nil, err
			}
			expiresAt, err := unixTime("expirationDates", expires[k])
			if err != nil {
				return nil, err
			}

			records = append(records, model.DecodedProviderRecord{
				ProviderName:   entry.Name,
				ProviderNumber: entry.Number(),
				CredentialHash: hashes[k],
				IssuedAt:       issuedAt,
				ExpiresAt:      expiresAt,
			})
		}
	}

	return records, nil
}

// MapVersion returns the providerMapVersion carried by a payload, or 0 when
// the schema has no such field.
func (c *PassportCodec) MapVersion(data []byte) (uint16, error) {
	if c.mapVersion < 0 {
		return 0, nil
	}
	values, err := unpack(c.args, data)
	if err != nil {
		return 0, err
	}
	v, ok := values[c.mapVersion].(uint16)
	if !ok {
		return 0, mismatch("providerMapVersion", "unexpected type %T", values[c.mapVersion])
	}
	return v, nil
}

// EncodeProviders encodes records with PassportSchema.
func EncodeProviders(records []model.DecodedProviderRecord, index *model.ProviderIndex, mapVersion uint16) ([]byte, error) {
	return defaultPassportCodec.Encode(records, index, mapVersion)
}

// Encode builds a passport payload for records, positioning each provider by
// its entry in index. Fields of the schema other than the bitmap, the arrays
// and providerMapVersion are packed as zero values.
func (c *PassportCodec) Encode(records []model.DecodedProviderRecord, index *model.ProviderIndex, mapVersion uint16) ([]byte, error) {
	type positioned struct {
		entry  model.ProviderIndexEntry
		record model.DecodedProviderRecord
	}

	items := make([]positioned, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, r := range records {
		entry, ok := index.ByName(r.ProviderName)
		if !ok {
			return nil, fmt.Errorf("encode passport: provider %s not in index %s", r.ProviderName, index.Version)
		}
		if seen[r.ProviderName] {
			return nil, fmt.Errorf("encode passport: provider %s listed twice", r.ProviderName)
		}
		seen[r.ProviderName] = true
		items = append(items, positioned{entry: entry, record: r})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].entry.Number() < items[j].entry.Number() })

	var words []*big.Int
	hashes := make([][32]byte, 0, len(items))
	issued := make([]uint64, 0, len(items))
	expires := make([]uint64, 0, len(items))

	for _, it := range items {
		for int(it.entry.WordIndex) >= len(words) {
			words = append(words, new(big.Int))
		}
		w := words[it.entry.WordIndex]
		w.SetBit(w, int(it.entry.BitOffset), 1)

		hashes = append(hashes, it.record.CredentialHash)
		issued = append(issued, uint64(it.record.IssuedAt.Unix()))
		expires = append(expires, uint64(it.record.ExpiresAt.Unix()))
	}
	if words == nil {
		words = []*big.Int{}
	}

	values := make([]any, len(c.args))
	for i, a := range c.args {
		values[i] = zeroFor(a.Type)
	}
	values[c.providers] = words
	values[c.hashes] = hashes
	values[c.issuances] = issued
	values[c.expirations] = expires
	if c.mapVersion >= 0 {
		v, err := intFor(c.args[c.mapVersion].Type, new(big.Int).SetUint64(uint64(mapVersion)))
		if err != nil {
			return nil, fmt.Errorf("encode passport: providerMapVersion: %w", err)
		}
		values[c.mapVersion] = v
	}

	data, err := c.args.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("encode passport: %w", err)
	}
	return data, nil
}

package model

import (
	"errors"
	"fmt"
	"sort"
)

// WordWidth is the number of provider bits carried by one bitmap word.
const WordWidth = 256

// ErrIndexCollision indicates two providers in a table share a bit position.
var ErrIndexCollision = errors.New("provider index collision")

// ProviderIndexEntry maps one provider to its position in the attestation bitmap.
type ProviderIndexEntry struct {
	Name      string `json:"name"`
	WordIndex uint32 `json:"index"`
	BitOffset uint8  `json:"bit"`
}

// Number returns the provider's position in the flattened bitmap.
func (e ProviderIndexEntry) Number() uint64 {
	return uint64(e.WordIndex)*WordWidth + uint64(e.BitOffset)
}

type bitPosition struct {
	word uint32
	bit  uint8
}

// ProviderIndex is a versioned, validated provider index table. It is
// immutable once built; a new version replaces the whole table.
type ProviderIndex struct {
	Version string

	entries    []ProviderIndexEntry
	byPosition map[bitPosition]ProviderIndexEntry
	byName     map[string]ProviderIndexEntry
}

// NewProviderIndex builds a table from entries. It returns ErrIndexCollision
// when two entries share a position or a provider appears twice.
func NewProviderIndex(version string, entries []ProviderIndexEntry) (*ProviderIndex, error) {
	idx := &ProviderIndex{
		Version:    version,
		entries:    make([]ProviderIndexEntry, 0, len(entries)),
		byPosition: make(map[bitPosition]ProviderIndexEntry, len(entries)),
		byName:     make(map[string]ProviderIndexEntry, len(entries)),
	}

	for _, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("provider index %s: entry at index %d bit %d has no name", version, e.WordIndex, e.BitOffset)
		}
		pos := bitPosition{word: e.WordIndex, bit: e.BitOffset}
		if prev, ok := idx.byPosition[pos]; ok {
			return nil, fmt.Errorf("provider index %s: %s and %s both use index %d bit %d: %w",
				version, prev.Name, e.Name, e.WordIndex, e.BitOffset, ErrIndexCollision)
		}
		if _, ok := idx.byName[e.Name]; ok {
			return nil, fmt.Errorf("provider index %s: %s listed twice: %w", version, e.Name, ErrIndexCollision)
		}
		idx.byPosition[pos] = e
		idx.byName[e.Name] = e
		idx.entries = append(idx.entries, e)
	}

	sort.Slice(idx.entries, func(i, j int) bool {
		return idx.entries[i].Number() < idx.entries[j].Number()
	})

	return idx, nil
}

// Lookup returns the provider registered at the given bitmap position.
func (p *ProviderIndex) Lookup(wordIndex uint32, bitOffset uint8) (ProviderIndexEntry, bool) {
	e, ok := p.byPosition[bitPosition{word: wordIndex, bit: bitOffset}]
	return e, ok
}

// ByName returns the entry for a provider name.
func (p *ProviderIndex) ByName(name string) (ProviderIndexEntry, bool) {
	e, ok := p.byName[name]
	return e, ok
}

// Entries returns the table ordered by provider number.
func (p *ProviderIndex) Entries() []ProviderIndexEntry {
	out := make([]ProviderIndexEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Len returns the number of providers in the table.
func (p *ProviderIndex) Len() int {
	return len(p.entries)
}

// IndexDiff describes how a newer table relates to an older one.
type IndexDiff struct {
	// Added lists providers only present in the newer table.
	Added []ProviderIndexEntry
	// Missing lists providers of the older table absent from the newer one.
	Missing []ProviderIndexEntry
	// Moved lists providers whose position changed, keyed by name.
	Moved map[string][2]ProviderIndexEntry
	// Reused lists positions that now hold a different provider.
	Reused []ProviderIndexEntry
}

// Compatible reports whether attestations written under the older table still
// decode to the same providers under the newer one.
func (d IndexDiff) Compatible() bool {
	return len(d.Moved) == 0 && len(d.Reused) == 0
}

// Diff compares p (newer) against base (older).
func (p *ProviderIndex) Diff(base *ProviderIndex) IndexDiff {
	diff := IndexDiff{Moved: map[string][2]ProviderIndexEntry{}}

	for _, e := range p.entries {
		old, ok := base.byName[e.Name]
		if !ok {
			diff.Added = append(diff.Added, e)
			if prev, taken := base.Lookup(e.WordIndex, e.BitOffset); taken && prev.Name != e.Name {
				diff.Reused = append(diff.Reused, e)
			}
			continue
		}
		if old.Number() != e.Number() {
			diff.Moved[e.Name] = [2]ProviderIndexEntry{old, e}
		}
	}

	for _, e := range base.entries {
		if _, ok := p.byName[e.Name]; !ok {
			diff.Missing = append(diff.Missing, e)
		}
	}

	return diff
}

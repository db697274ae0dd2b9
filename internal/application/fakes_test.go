package application

import (
	"context"
	"encoding/json"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/stampsync/internal/domain/attestation"
	"github.com/ericfisherdev/stampsync/internal/domain/model"
	"github.com/ericfisherdev/stampsync/internal/domain/port/driven"
)

// --- LedgerReader ---

type fakeLedger struct {
	mu    sync.Mutex
	uids  map[model.AttestationKind][32]byte
	atts  map[[32]byte]*model.RawAttestation
	err   error
	calls int

	// When set, AttestationUID signals started and waits on release.
	started chan struct{}
	release chan struct{}
}

var _ driven.LedgerReader = (*fakeLedger)(nil)

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		uids: make(map[model.AttestationKind][32]byte),
		atts: make(map[[32]byte]*model.RawAttestation),
	}
}

func (f *fakeLedger) put(kind model.AttestationKind, att *model.RawAttestation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uids[kind] = att.UID
	f.atts[att.UID] = att
}

func (f *fakeLedger) AttestationUID(_ context.Context, _ string, kind model.AttestationKind, _ int64) ([32]byte, error) {
	f.mu.Lock()
	f.calls++
	started, release := f.started, f.release
	f.mu.Unlock()

	if started != nil && kind == model.AttestationKindScore {
		started <- struct{}{}
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return [32]byte{}, f.err
	}
	return f.uids[kind], nil
}

func (f *fakeLedger) Attestation(_ context.Context, uid [32]byte) (*model.RawAttestation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.atts[uid], nil
}

func (f *fakeLedger) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- ProviderIndexSource ---

type fakeIndexSource struct {
	mu  sync.Mutex
	idx *model.ProviderIndex
	err error
}

func (f *fakeIndexSource) Load(_ context.Context) (*model.ProviderIndex, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.idx, f.err
}

// --- ScoringClient ---

type fakeScoring struct {
	mu        sync.Mutex
	responses []*model.ScoringResponse
	err       error
	weights   model.ProviderWeights
	calls     int
}

var _ driven.ScoringClient = (*fakeScoring)(nil)

// FetchScore returns the queued responses in order, repeating the last one.
func (f *fakeScoring) FetchScore(_ context.Context, address string, _ int64) (*model.ScoringResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	resp := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	out := *resp
	out.Address = address
	return &out, nil
}

func (f *fakeScoring) FetchWeights(_ context.Context, _ int64) (model.ProviderWeights, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.weights, nil
}

func (f *fakeScoring) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- CredentialStore ---

type fakeCredentials struct {
	byAddress map[string][]model.OffChainCredential
	err       error
}

var _ driven.CredentialStore = (*fakeCredentials)(nil)

func (f *fakeCredentials) ListByAddress(_ context.Context, address string) ([]model.OffChainCredential, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byAddress[address], nil
}

func (f *fakeCredentials) ReplaceForAddress(_ context.Context, address string, creds []model.OffChainCredential) error {
	if f.byAddress == nil {
		f.byAddress = make(map[string][]model.OffChainCredential)
	}
	f.byAddress[address] = creds
	return nil
}

// --- WatchStore ---

type fakeWatchStore struct {
	mu      sync.Mutex
	watched map[string]model.WatchedAddress
}

var _ driven.WatchStore = (*fakeWatchStore)(nil)

func newFakeWatchStore() *fakeWatchStore {
	return &fakeWatchStore{watched: make(map[string]model.WatchedAddress)}
}

func (f *fakeWatchStore) Add(_ context.Context, w model.WatchedAddress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.watched[w.Address]; ok {
		return driven.ErrAlreadyWatched
	}
	w.ID = int64(len(f.watched) + 1)
	f.watched[w.Address] = w
	return nil
}

func (f *fakeWatchStore) Remove(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.watched[address]; !ok {
		return driven.ErrWatchNotFound
	}
	delete(f.watched, address)
	return nil
}

func (f *fakeWatchStore) Get(_ context.Context, address string) (*model.WatchedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.watched[address]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

func (f *fakeWatchStore) ListAll(_ context.Context) ([]model.WatchedAddress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.WatchedAddress, 0, len(f.watched))
	for _, w := range f.watched {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

// --- fixtures ---

const testAddress = "0x85ff01cff157199527528788ec4ea6336615c989"

var fixtureIssued = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func testIndex(t *testing.T, version string) *model.ProviderIndex {
	t.Helper()
	idx, err := model.NewProviderIndex(version, []model.ProviderIndexEntry{
		{Name: "Google", WordIndex: 0, BitOffset: 0},
		{Name: "Github", WordIndex: 0, BitOffset: 1},
		{Name: "Discord", WordIndex: 1, BitOffset: 3},
	})
	require.NoError(t, err)
	return idx
}

func testIndexProvider(t *testing.T) *ProviderIndexProvider {
	t.Helper()
	p := NewProviderIndexProvider(&fakeIndexSource{}, nil)
	p.Replace(testIndex(t, "v1"))
	return p
}

func enabledChain(id string, policy model.ReconciliationPolicy) model.Chain {
	return model.Chain{ID: id, Label: id, State: model.ChainStateEnabled, Policy: policy}
}

func uidOf(b byte) [32]byte {
	var u [32]byte
	u[31] = b
	return u
}

// passportAttestation builds a passport attestation holding one record per
// provider, each with a hash derived from its position in providers.
func passportAttestation(t *testing.T, index *model.ProviderIndex, providers ...string) *model.RawAttestation {
	t.Helper()
	records := make([]model.DecodedProviderRecord, 0, len(providers))
	for i, p := range providers {
		records = append(records, model.DecodedProviderRecord{
			ProviderName:   p,
			CredentialHash: hashBytes(byte(i + 1)),
			IssuedAt:       fixtureIssued,
			ExpiresAt:      fixtureIssued.Add(90 * 24 * time.Hour),
		})
	}
	data, err := attestation.EncodeProviders(records, index, 1)
	require.NoError(t, err)
	return &model.RawAttestation{UID: uidOf(1), IssuedAt: fixtureIssued, Data: data}
}

// scoreAttestation builds a score attestation of value/10^4.
func scoreAttestation(t *testing.T, value int64) *model.RawAttestation {
	t.Helper()
	data, err := attestation.EncodeScore(big.NewInt(value), 4, 0)
	require.NoError(t, err)
	return &model.RawAttestation{UID: uidOf(2), IssuedAt: fixtureIssued, Data: data}
}

// credentialsFor mirrors passportAttestation's records as verified off-chain credentials.
func credentialsFor(providers ...string) []model.OffChainCredential {
	out := make([]model.OffChainCredential, 0, len(providers))
	for i, p := range providers {
		rec := model.DecodedProviderRecord{CredentialHash: hashBytes(byte(i + 1))}
		out = append(out, model.OffChainCredential{
			Address:        testAddress,
			ProviderName:   p,
			CredentialHash: rec.HashString(),
			IssuedAt:       fixtureIssued,
			ExpiresAt:      fixtureIssued.Add(90 * 24 * time.Hour),
			Verified:       true,
		})
	}
	return out
}

func doneResponse(rawScore float64, stampScores string) *model.ScoringResponse {
	resp := &model.ScoringResponse{Status: model.ScoreStateDone, Score: rawScore, RawScore: rawScore}
	if stampScores != "" {
		resp.StampScores = mustRawMap(stampScores)
	}
	return resp
}

func mustRawMap(doc string) map[string]json.RawMessage {
	var m map[string]json.RawMessage
	if err := json.Unmarshal([]byte(doc), &m); err != nil {
		panic(err)
	}
	return m
}

package httpapi

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/ledger/memstore"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/dto"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/replay"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/submit"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/outcome"
	"github.com/radieske/lucky-wager-poc/internal/wager/processor"
	"github.com/radieske/lucky-wager-poc/internal/wager/programerr"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

type loseAlways struct{}

func (loseAlways) Entropy(context.Context, outcome.Request) (int64, error) { return 4, nil }

type mapCache struct {
	data     map[string][]byte
	versions map[string]int64
	sets     int
}

func newMapCache() *mapCache {
	return &mapCache{data: map[string][]byte{}, versions: map[string]int64{}}
}

func (m *mapCache) GetWager(_ context.Context, pubkey string, dst any) (bool, error) {
	b, ok := m.data[pubkey]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dst)
}

func (m *mapCache) Version(_ context.Context, pubkey string) (int64, error) {
	return m.versions[pubkey], nil
}

func (m *mapCache) SetWager(_ context.Context, pubkey string, version int64, v any) error {
	if m.versions[pubkey] != version {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.sets++
	m.data[pubkey] = b
	return nil
}

func (m *mapCache) Invalidate(_ context.Context, pubkey string) error {
	m.versions[pubkey]++
	delete(m.data, pubkey)
	return nil
}

type fixture struct {
	srv     *httptest.Server
	store   *memstore.Store
	cache   *mapCache
	program ledger.Pubkey
	funds   ledger.Pubkey
	deposit ledger.Pubkey
	record  ledger.Pubkey
	player  ed25519.PrivateKey
}

func genKey(t *testing.T) ed25519.PrivateKey {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return k
}

func newFixture(t *testing.T, faucet bool) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		cache:  newMapCache(),
		player: genKey(t),
	}
	f.program = ledger.PubkeyOf(genKey(t))
	f.funds = ledger.PubkeyOf(genKey(t))
	f.deposit = ledger.PubkeyOf(genKey(t))
	f.record = ledger.PubkeyOf(genKey(t))

	exec := ledger.NewExecutor(zap.NewNop(), f.store, ledger.DefaultRent(), ledger.FixedClock{Slot: 7})
	exec.Register(f.program, processor.New(f.program,
		processor.NewAllowList(f.funds),
		processor.NewAllowList(ledger.PubkeyOf(genKey(t))),
		processor.WithEntropySource(loseAlways{}),
	))
	guard, err := replay.New(64, nil)
	require.NoError(t, err)

	api := &API{
		Log:       zap.NewNop(),
		Submit:    &submit.Service{Log: zap.NewNop(), Exec: exec, ProgramID: f.program, Replay: guard, Cache: f.cache},
		Accounts:  f.store,
		Cache:     f.cache,
		ProgramID: f.program,
		Funds:     []ledger.Pubkey{f.funds},
	}
	if faucet {
		api.Faucet = func(ctx context.Context, key ledger.Pubkey, lamports uint64) (*ledger.Account, error) {
			return ledger.Airdrop(ctx, f.store, key, lamports)
		}
	}
	f.srv = httptest.NewServer(api.Router())
	t.Cleanup(f.srv.Close)

	f.store.Put(&ledger.Account{Key: f.funds, Owner: f.program, Lamports: 1_000_000})
	f.store.Put(&ledger.Account{Key: f.deposit, Owner: f.program, Lamports: 1000})
	f.store.Put(&ledger.Account{
		Key:      f.record,
		Owner:    f.program,
		Lamports: ledger.DefaultRent().MinimumBalance(state.RecordLen),
		Data:     make([]byte, state.RecordLen),
	})
	return f
}

func (f *fixture) post(t *testing.T, path string, body any) (*http.Response, []byte) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (f *fixture) get(t *testing.T, path string, dst any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if dst != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
	}
	return resp.StatusCode
}

func (f *fixture) playRequest(bid, nonce uint64) dto.SubmitTransactionRequest {
	tx := instruction.PlayTx(f.program, ledger.PubkeyOf(f.player), f.deposit, f.record, f.funds, bid)
	return dto.FromSigned(ledger.Sign(tx, nonce, time.Now().Add(time.Minute).Unix(), f.player))
}

func TestPostTransactionPlay(t *testing.T) {
	f := newFixture(t, false)
	req := f.playRequest(1000, 1)

	resp, body := f.post(t, "/v1/transactions", req)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var out dto.TxResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "Play", out.Instruction)
	assert.Equal(t, uint64(7), out.Slot)
	require.NotNil(t, out.Record)
	assert.Equal(t, dto.WagerPlayed, out.Record.Status)
	assert.False(t, out.Record.Won)
	assert.Equal(t, f.record.String(), out.Record.Record)

	resp, _ = f.post(t, "/v1/transactions", req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestPostTransactionErrors(t *testing.T) {
	f := newFixture(t, false)

	resp, _ := f.post(t, "/v1/transactions", map[string]any{"program_id": "???"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	tampered := f.playRequest(1000, 1)
	tampered.Nonce = 99
	resp, _ = f.post(t, "/v1/transactions", tampered)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired := f.playRequest(1000, 3)
	expired.ValidUntil = time.Now().Add(-time.Minute).Unix()
	resp, _ = f.post(t, "/v1/transactions", expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "valid_until is part of the signed message")

	tx := instruction.PlayTx(f.program, ledger.PubkeyOf(f.player), f.deposit, f.record, f.funds, 1000)
	resp, _ = f.post(t, "/v1/transactions", dto.FromSigned(ledger.Sign(tx, 4, time.Now().Add(-time.Minute).Unix(), f.player)))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := f.post(t, "/v1/transactions", f.playRequest(999, 2))
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	var e dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &e))
	require.NotNil(t, e.Code)
	assert.Equal(t, programerr.ErrExpectedAmountMismatch.Code(), *e.Code)
}

func TestGetAccount(t *testing.T) {
	f := newFixture(t, false)

	var acc dto.AccountResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/accounts/"+f.funds.String(), &acc))
	assert.Equal(t, uint64(1_000_000), acc.Lamports)
	assert.Equal(t, "0.001", acc.SOL)
	assert.Equal(t, f.program.String(), acc.Owner)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/accounts/"+ledger.PubkeyOf(genKey(t)).String(), nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/v1/accounts/not-a-key", nil))
}

func TestGetWagerUsesCache(t *testing.T) {
	f := newFixture(t, false)

	var w dto.WagerResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/wagers/"+f.record.String(), &w))
	assert.Equal(t, dto.WagerOpen, w.Status)
	assert.Equal(t, 1, f.cache.sets)

	require.Equal(t, http.StatusOK, f.get(t, "/v1/wagers/"+f.record.String(), &w))
	assert.Equal(t, 1, f.cache.sets)

	// Deposit não é um registro
	assert.Equal(t, http.StatusUnprocessableEntity, f.get(t, "/v1/wagers/"+f.deposit.String(), nil))
}

func TestWagerCacheRefreshedAfterPlay(t *testing.T) {
	f := newFixture(t, false)

	var w dto.WagerResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/wagers/"+f.record.String(), &w))
	assert.Equal(t, dto.WagerOpen, w.Status)

	resp, body := f.post(t, "/v1/transactions", f.playRequest(1000, 1))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	require.Equal(t, http.StatusOK, f.get(t, "/v1/wagers/"+f.record.String(), &w))
	assert.Equal(t, dto.WagerPlayed, w.Status)
}

// commitDuringRead simula uma escrita confirmada entre a leitura do ledger e
// a gravação no cache
type commitDuringRead struct {
	AccountReader
	cache  *mapCache
	record string
}

func (c commitDuringRead) Get(ctx context.Context, key ledger.Pubkey) (*ledger.Account, error) {
	acc, err := c.AccountReader.Get(ctx, key)
	_ = c.cache.Invalidate(ctx, c.record)
	return acc, err
}

func TestStaleReadIsNotCached(t *testing.T) {
	f := newFixture(t, false)
	api := &API{
		Log:       zap.NewNop(),
		Accounts:  commitDuringRead{AccountReader: f.store, cache: f.cache, record: f.record.String()},
		Cache:     f.cache,
		ProgramID: f.program,
	}

	rec := httptest.NewRecorder()
	api.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/wagers/"+f.record.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, f.cache.sets)
	var cached dto.WagerResponse
	hit, err := f.cache.GetWager(context.Background(), f.record.String(), &cached)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestGetFundsAndCommitment(t *testing.T) {
	f := newFixture(t, false)

	var funds []dto.FundsResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/funds", &funds))
	require.Len(t, funds, 1)
	assert.Equal(t, uint64(1_000_000), funds[0].Lamports)

	var c dto.CommitmentResponse
	require.Equal(t, http.StatusOK, f.get(t, "/v1/entropy/commitment", &c))
	assert.Equal(t, "clock", c.Source)
	assert.Empty(t, c.Commitment)
}

func TestAirdropOnlyWhenEnabled(t *testing.T) {
	target := ledger.PubkeyOf(genKey(t))

	off := newFixture(t, false)
	resp, _ := off.post(t, "/v1/airdrop", dto.AirdropRequest{Pubkey: target.String(), Lamports: 10})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	on := newFixture(t, true)
	resp, body := on.post(t, "/v1/airdrop", dto.AirdropRequest{Pubkey: target.String(), Lamports: 2_500_000_000})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var acc dto.AccountResponse
	require.NoError(t, json.Unmarshal(body, &acc))
	assert.Equal(t, "2.5", acc.SOL)
	assert.Equal(t, ledger.SystemProgramID.String(), acc.Owner)
}

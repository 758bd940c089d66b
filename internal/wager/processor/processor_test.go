package processor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/ledger/memstore"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/outcome"
	"github.com/radieske/lucky-wager-poc/internal/wager/programerr"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

const (
	bid          = 1000
	fundsBalance = 10_000_000
	adminBalance = 5_000
)

var (
	recordRent = ledger.DefaultRent().MinimumBalance(state.RecordLen)
	fundsRent  = ledger.DefaultRent().MinimumBalance(0)
)

type fixedEntropy int64

func (f fixedEntropy) Entropy(context.Context, outcome.Request) (int64, error) { return int64(f), nil }

type fixture struct {
	t       *testing.T
	store   *memstore.Store
	exec    *ledger.Executor
	program ledger.Pubkey
	funds   ledger.Pubkey
	admin   ledger.Pubkey
	player  ledger.Pubkey
	deposit ledger.Pubkey
	record  ledger.Pubkey
}

func key(b byte) ledger.Pubkey {
	var k ledger.Pubkey
	k[0] = b
	k[31] = 0x5a
	return k
}

func newFixture(t *testing.T, entropy int64) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		store:   memstore.New(),
		program: key(1),
		funds:   key(2),
		admin:   key(3),
		player:  key(4),
		deposit: key(5),
		record:  key(6),
	}
	f.exec = ledger.NewExecutor(zap.NewNop(), f.store, ledger.DefaultRent(), ledger.FixedClock{Slot: 10, UnixTimestamp: 1_700_000_000})
	f.exec.Register(f.program, New(f.program, NewAllowList(f.funds), NewAllowList(f.admin),
		WithEntropySource(fixedEntropy(entropy)),
	))

	f.store.Put(&ledger.Account{Key: f.funds, Owner: f.program, Lamports: fundsBalance})
	f.store.Put(&ledger.Account{Key: f.admin, Owner: ledger.SystemProgramID, Lamports: adminBalance})
	f.store.Put(&ledger.Account{Key: f.deposit, Owner: f.program, Lamports: bid})
	f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent, Data: make([]byte, state.RecordLen)})
	return f
}

func (f *fixture) lamports(k ledger.Pubkey) uint64 {
	acc, err := f.store.Get(context.Background(), k)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0
	}
	require.NoError(f.t, err)
	return acc.Lamports
}

func (f *fixture) recordState() state.Record {
	acc, err := f.store.Get(context.Background(), f.record)
	require.NoError(f.t, err)
	r, err := state.UnpackUnchecked(acc.Data)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) run(tx ledger.Transaction) (*ledger.Result, error) {
	return f.exec.Execute(context.Background(), tx)
}

func (f *fixture) playTx(amount uint64) ledger.Transaction {
	return instruction.PlayTx(f.program, f.player, f.deposit, f.record, f.funds, amount)
}

func (f *fixture) balances() map[ledger.Pubkey]uint64 {
	out := map[ledger.Pubkey]uint64{}
	for _, k := range []ledger.Pubkey{f.funds, f.admin, f.player, f.deposit, f.record} {
		out[k] = f.lamports(k)
	}
	return out
}

func TestPlayConcreteScenario(t *testing.T) {
	f := newFixture(t, 7)

	res, err := f.run(f.playTx(bid))
	require.NoError(t, err)

	rec := f.recordState()
	assert.Equal(t, state.Record{IsInitialized: true, Initializer: f.player, BidAmount: bid, Won: true}, rec)
	assert.Equal(t, rec.Pack(), res.ReturnData)
	assert.Zero(t, f.lamports(f.deposit))
	assert.Equal(t, uint64(fundsBalance+bid), f.lamports(f.funds))
	assert.Equal(t, recordRent, f.lamports(f.record))
}

func TestPlayLosingOutcome(t *testing.T) {
	f := newFixture(t, -6)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	assert.False(t, f.recordState().Won)
}

func TestPlayUsesClockByDefault(t *testing.T) {
	f := newFixture(t, 0)
	f.exec.Register(f.program, New(f.program, NewAllowList(f.funds), NewAllowList(f.admin)))

	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	// 1_700_000_000 mod 10 = 0
	assert.False(t, f.recordState().Won)
}

func TestPlayPreconditionOrder(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture) ledger.Transaction
		want  error
	}{
		{
			name: "unsigned initializer",
			setup: func(f *fixture) ledger.Transaction {
				tx := f.playTx(bid + 1) // também erra o valor; assinatura vem primeiro
				tx.Accounts[0].IsSigner = false
				f.store.Put(&ledger.Account{Key: f.deposit, Owner: ledger.SystemProgramID, Lamports: bid})
				return tx
			},
			want: ledger.ErrMissingRequiredSignature,
		},
		{
			name: "deposit not owned",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.deposit, Owner: ledger.SystemProgramID, Lamports: bid})
				return f.playTx(bid + 1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "record not owned",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.record, Owner: ledger.SystemProgramID, Lamports: recordRent, Data: make([]byte, state.RecordLen)})
				return f.playTx(bid)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "funds not in allow-list",
			setup: func(f *fixture) ledger.Transaction {
				other := key(9)
				f.store.Put(&ledger.Account{Key: other, Owner: f.program, Lamports: fundsBalance})
				return instruction.PlayTx(f.program, f.player, f.deposit, f.record, other, bid+1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "funds not owned",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.funds, Owner: ledger.SystemProgramID, Lamports: fundsBalance})
				return f.playTx(bid + 1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "deposit aliased to record",
			setup: func(f *fixture) ledger.Transaction {
				return instruction.PlayTx(f.program, f.player, f.record, f.record, f.funds, recordRent)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "bid mismatch",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: 1, Data: make([]byte, state.RecordLen)})
				return f.playTx(bid - 1)
			},
			want: programerr.ErrExpectedAmountMismatch,
		},
		{
			name: "record not rent exempt",
			setup: func(f *fixture) ledger.Transaction {
				data := state.Record{IsInitialized: true, Initializer: f.player, BidAmount: 1}.Pack()
				f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent - 1, Data: data})
				return f.playTx(bid)
			},
			want: programerr.ErrNotRentExempt,
		},
		{
			name: "record already initialized",
			setup: func(f *fixture) ledger.Transaction {
				data := state.Record{IsInitialized: true, Initializer: f.player, BidAmount: 1}.Pack()
				f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent, Data: data})
				return f.playTx(bid)
			},
			want: ledger.ErrAccountAlreadyInitialized,
		},
		{
			name: "record with corrupt layout",
			setup: func(f *fixture) ledger.Transaction {
				data := make([]byte, state.RecordLen)
				data[0] = 7
				f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent, Data: data})
				return f.playTx(bid)
			},
			want: ledger.ErrInvalidAccountData,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 7)
			tx := tc.setup(f)
			before := f.balances()

			_, err := f.run(tx)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, f.balances())
		})
	}
}

func TestPlayRequiresRentSysvar(t *testing.T) {
	f := newFixture(t, 7)
	tx := f.playTx(bid)
	tx.Accounts[4].Pubkey = key(8)

	_, err := f.run(tx)
	assert.ErrorIs(t, err, ledger.ErrInvalidArgument)
}

func TestPlayNotEnoughAccounts(t *testing.T) {
	f := newFixture(t, 7)
	tx := f.playTx(bid)
	tx.Accounts = tx.Accounts[:4]

	_, err := f.run(tx)
	assert.ErrorIs(t, err, ledger.ErrNotEnoughAccountKeys)
}

func TestPlayFundsOverflow(t *testing.T) {
	f := newFixture(t, 7)
	f.store.Put(&ledger.Account{Key: f.funds, Owner: f.program, Lamports: ^uint64(0) - 10})

	_, err := f.run(f.playTx(bid))
	assert.ErrorIs(t, err, programerr.ErrAmountOverflow)
	assert.Equal(t, uint64(bid), f.lamports(f.deposit))
}

func TestDoublePlayRejected(t *testing.T) {
	f := newFixture(t, 7)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	afterFirst := f.balances()

	// novo depósito para a mesma aposta
	f.store.Put(&ledger.Account{Key: f.deposit, Owner: f.program, Lamports: bid})
	afterFirst[f.deposit] = bid

	_, err = f.run(f.playTx(bid))
	require.ErrorIs(t, err, ledger.ErrAccountAlreadyInitialized)
	assert.Equal(t, afterFirst, f.balances())
	assert.Equal(t, uint64(bid), f.recordState().BidAmount)
}

func TestInvalidInstructionData(t *testing.T) {
	f := newFixture(t, 7)
	for _, data := range [][]byte{nil, {3}, {0, 1, 2}} {
		tx := f.playTx(bid)
		tx.Data = data
		_, err := f.run(tx)
		assert.ErrorIs(t, err, programerr.ErrInvalidInstruction)
	}
}

func TestWinningPlayerWithdraw(t *testing.T) {
	f := newFixture(t, 9)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	fundsBefore := f.lamports(f.funds)

	res, err := f.run(instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds))
	require.NoError(t, err)

	assert.Equal(t, fundsBefore-2*bid, f.lamports(f.funds))
	assert.Equal(t, 2*bid+recordRent, f.lamports(f.player))
	assert.Zero(t, f.lamports(f.record))
	_, err = f.store.Get(context.Background(), f.record)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	settled, err := state.Unpack(res.ReturnData)
	require.NoError(t, err)
	assert.True(t, settled.Won)
}

func TestLosingPlayerWithdraw(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	fundsBefore := f.lamports(f.funds)

	_, err = f.run(instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds))
	require.NoError(t, err)

	assert.Equal(t, fundsBefore, f.lamports(f.funds))
	assert.Equal(t, recordRent, f.lamports(f.player))
	assert.Zero(t, f.lamports(f.record))
}

func TestPlayerWithdrawClosesRecordInPlace(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)

	p := New(f.program, NewAllowList(f.funds), NewAllowList(f.admin))
	data := f.recordState().Pack()
	inv := &ledger.Invocation{
		ProgramID: f.program,
		Accounts: []*ledger.AccountInfo{
			{Key: f.player, Owner: ledger.SystemProgramID, IsSigner: true, IsWritable: true},
			{Key: f.record, Owner: f.program, IsWritable: true, Lamports: recordRent, Data: data},
			{Key: f.funds, Owner: f.program, IsWritable: true, Lamports: fundsBalance},
		},
		Data: []byte{byte(instruction.TagPlayerWithdraw)},
	}
	require.NoError(t, p.Process(context.Background(), inv))
	assert.Equal(t, make([]byte, state.RecordLen), inv.Accounts[1].Data)
	assert.Zero(t, inv.Accounts[1].Lamports)
}

func TestPlayerWithdrawRejections(t *testing.T) {
	cases := []struct {
		name  string
		setup func(f *fixture) ledger.Transaction
		want  error
	}{
		{
			name: "unsigned",
			setup: func(f *fixture) ledger.Transaction {
				tx := instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds)
				tx.Accounts[0].IsSigner = false
				return tx
			},
			want: ledger.ErrMissingRequiredSignature,
		},
		{
			name: "other initializer",
			setup: func(f *fixture) ledger.Transaction {
				return instruction.PlayerWithdrawTx(f.program, key(20), f.record, f.funds)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "funds not in allow-list",
			setup: func(f *fixture) ledger.Transaction {
				other := key(9)
				f.store.Put(&ledger.Account{Key: other, Owner: f.program, Lamports: fundsBalance})
				return instruction.PlayerWithdrawTx(f.program, f.player, f.record, other)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "record not program owned",
			setup: func(f *fixture) ledger.Transaction {
				data := f.recordState().Pack()
				f.store.Put(&ledger.Account{Key: f.record, Owner: ledger.SystemProgramID, Lamports: recordRent, Data: data})
				return instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "funds not program owned",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.funds, Owner: ledger.SystemProgramID, Lamports: fundsBalance})
				return instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "record aliased to funds",
			setup: func(f *fixture) ledger.Transaction {
				return instruction.PlayerWithdrawTx(f.program, f.player, f.funds, f.funds)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "record never played",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent, Data: make([]byte, state.RecordLen)})
				return instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds)
			},
			want: ledger.ErrUninitializedAccount,
		},
		{
			name: "funds cannot cover payout",
			setup: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.funds, Owner: f.program, Lamports: 2*bid - 1})
				return instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds)
			},
			want: programerr.ErrAmountOverflow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 9)
			_, err := f.run(f.playTx(bid))
			require.NoError(t, err)
			tx := tc.setup(f)
			before := f.balances()
			recBefore := f.recordState()

			_, err = f.run(tx)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, f.balances())
			assert.Equal(t, recBefore, f.recordState())
		})
	}
}

func TestPlayerWithdrawPayoutOverflow(t *testing.T) {
	f := newFixture(t, 9)
	data := state.Record{IsInitialized: true, Initializer: f.player, BidAmount: 1 << 63, Won: true}.Pack()
	f.store.Put(&ledger.Account{Key: f.record, Owner: f.program, Lamports: recordRent, Data: data})

	_, err := f.run(instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds))
	assert.ErrorIs(t, err, programerr.ErrAmountOverflow)
}

func TestWithdrawAfterCloseRejected(t *testing.T) {
	f := newFixture(t, 3)
	_, err := f.run(f.playTx(bid))
	require.NoError(t, err)
	_, err = f.run(instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds))
	require.NoError(t, err)

	// conta fechada volta a ser uma conta vazia do system program
	_, err = f.run(instruction.PlayerWithdrawTx(f.program, f.player, f.record, f.funds))
	assert.ErrorIs(t, err, ledger.ErrInvalidAccountData)
}

func TestAdminWithdraw(t *testing.T) {
	f := newFixture(t, 7)
	_, err := f.run(instruction.AdminWithdrawTx(f.program, f.admin, f.funds, 4_000_000))
	require.NoError(t, err)

	assert.Equal(t, uint64(fundsBalance-4_000_000), f.lamports(f.funds))
	assert.Equal(t, uint64(adminBalance+4_000_000), f.lamports(f.admin))
}

func TestPlayAfterDrainingFunds(t *testing.T) {
	f := newFixture(t, 7)
	_, err := f.run(instruction.AdminWithdrawTx(f.program, f.admin, f.funds, fundsBalance-fundsRent))
	require.NoError(t, err)
	assert.Equal(t, fundsRent, f.lamports(f.funds))

	acc, err := f.store.Get(context.Background(), f.funds)
	require.NoError(t, err)
	assert.Equal(t, f.program, acc.Owner)

	_, err = f.run(f.playTx(bid))
	require.NoError(t, err)
	assert.Equal(t, fundsRent+bid, f.lamports(f.funds))
	assert.True(t, f.recordState().IsInitialized)
}

func TestAdminWithdrawAccessControl(t *testing.T) {
	cases := []struct {
		name string
		tx   func(f *fixture) ledger.Transaction
		want error
	}{
		{
			name: "unsigned admin",
			tx: func(f *fixture) ledger.Transaction {
				tx := instruction.AdminWithdrawTx(f.program, f.admin, f.funds, 1)
				tx.Accounts[0].IsSigner = false
				return tx
			},
			want: ledger.ErrMissingRequiredSignature,
		},
		{
			name: "signed impostor",
			tx: func(f *fixture) ledger.Transaction {
				return instruction.AdminWithdrawTx(f.program, f.player, f.funds, 1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "unknown funds",
			tx: func(f *fixture) ledger.Transaction {
				other := key(9)
				f.store.Put(&ledger.Account{Key: other, Owner: f.program, Lamports: fundsBalance})
				return instruction.AdminWithdrawTx(f.program, f.admin, other, 1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "funds not program owned",
			tx: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.funds, Owner: ledger.SystemProgramID, Lamports: fundsBalance})
				return instruction.AdminWithdrawTx(f.program, f.admin, f.funds, 1)
			},
			want: ledger.ErrInvalidAccountData,
		},
		{
			name: "amount above balance",
			tx: func(f *fixture) ledger.Transaction {
				return instruction.AdminWithdrawTx(f.program, f.admin, f.funds, fundsBalance+1)
			},
			want: programerr.ErrAmountOverflow,
		},
		{
			name: "whole balance leaves funds below rent",
			tx: func(f *fixture) ledger.Transaction {
				return instruction.AdminWithdrawTx(f.program, f.admin, f.funds, fundsBalance)
			},
			want: programerr.ErrNotRentExempt,
		},
		{
			name: "one lamport past the rent floor",
			tx: func(f *fixture) ledger.Transaction {
				return instruction.AdminWithdrawTx(f.program, f.admin, f.funds, fundsBalance-fundsRent+1)
			},
			want: programerr.ErrNotRentExempt,
		},
		{
			name: "admin balance overflow",
			tx: func(f *fixture) ledger.Transaction {
				f.store.Put(&ledger.Account{Key: f.admin, Owner: ledger.SystemProgramID, Lamports: ^uint64(0)})
				return instruction.AdminWithdrawTx(f.program, f.admin, f.funds, 1)
			},
			want: programerr.ErrAmountOverflow,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 7)
			tx := tc.tx(f)
			before := f.balances()

			_, err := f.run(tx)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, before, f.balances())
		})
	}
}

func TestIncorrectProgramID(t *testing.T) {
	p := New(key(1), NewAllowList(), NewAllowList())
	err := p.Process(context.Background(), &ledger.Invocation{ProgramID: key(2), Data: []byte{2}})
	assert.ErrorIs(t, err, ledger.ErrIncorrectProgramID)
}

func TestAllowList(t *testing.T) {
	a := NewAllowList(key(1), key(2), key(1))
	assert.Equal(t, 2, a.Len())
	assert.True(t, a.Contains(key(2)))
	assert.False(t, a.Contains(key(3)))
	assert.Equal(t, []ledger.Pubkey{key(1), key(2)}, a.Keys())
}

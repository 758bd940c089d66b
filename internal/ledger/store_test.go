package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/ledger/memstore"
)

func TestAirdrop(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()

	acc, err := ledger.Airdrop(ctx, s, alice, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), acc.Lamports)
	assert.Equal(t, ledger.SystemProgramID, acc.Owner)

	_, err = ledger.Airdrop(ctx, s, alice, ^uint64(0))
	assert.ErrorIs(t, err, ledger.ErrLamportOverflow)
	assert.Equal(t, uint64(10), balance(t, s, alice))
}

func TestEnsureAccountsKeepsExisting(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	s.Put(&ledger.Account{Key: alice, Owner: progID, Lamports: 7})

	created, err := ledger.EnsureAccounts(ctx, s,
		&ledger.Account{Key: alice, Owner: progID, Lamports: 100},
		&ledger.Account{Key: bob, Owner: progID, Lamports: 100},
	)
	require.NoError(t, err)
	assert.Equal(t, []ledger.Pubkey{bob}, created)
	assert.Equal(t, uint64(7), balance(t, s, alice))
	assert.Equal(t, uint64(100), balance(t, s, bob))

	created, err = ledger.EnsureAccounts(ctx, s, &ledger.Account{Key: bob, Owner: progID, Lamports: 1})
	require.NoError(t, err)
	assert.Empty(t, created)
}

package ledger

import (
	"context"
	"errors"
	"fmt"
)

// ErrAccountNotFound é devolvido por leituras fora de transação
var ErrAccountNotFound = errors.New("ledger: account not found")

// Store persiste contas. Toda mutação passa por uma StoreTx.
type Store interface {
	Begin(ctx context.Context) (StoreTx, error)
	Get(ctx context.Context, key Pubkey) (*Account, error)
}

// StoreTx detém o direito exclusivo de mutação sobre as contas travadas
// até Commit ou Rollback. Rollback depois de Commit é um no-op.
type StoreTx interface {
	// Lock carrega e trava as contas pedidas; chaves inexistentes voltam
	// como contas vazias do system program.
	Lock(ctx context.Context, keys []Pubkey) ([]*Account, error)
	// Save grava as contas; contas com zero lamports são removidas.
	Save(ctx context.Context, accounts []*Account) error
	Commit() error
	Rollback() error
}

// EmptyAccount é a conta que existe implicitamente para qualquer chave
func EmptyAccount(key Pubkey) *Account {
	return &Account{Key: key, Owner: SystemProgramID}
}

// Airdrop credita lamports direto numa conta (faucet de ambientes locais e gênesis)
func Airdrop(ctx context.Context, s Store, key Pubkey, lamports uint64) (*Account, error) {
	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	accs, err := tx.Lock(ctx, []Pubkey{key})
	if err != nil {
		return nil, err
	}
	acc := accs[0]
	sum, ok := checkedAdd(acc.Lamports, lamports)
	if !ok {
		return nil, fmt.Errorf("airdrop %s: %w", key, ErrLamportOverflow)
	}
	acc.Lamports = sum
	if err := tx.Save(ctx, []*Account{acc}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return acc, nil
}

func checkedAdd(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

// EnsureAccounts cria as contas de gênesis que ainda não existem.
// Contas já existentes não são tocadas. Devolve as chaves criadas.
func EnsureAccounts(ctx context.Context, s Store, accounts ...*Account) ([]Pubkey, error) {
	keys := make([]Pubkey, len(accounts))
	for i, a := range accounts {
		keys[i] = a.Key
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	current, err := tx.Lock(ctx, keys)
	if err != nil {
		return nil, err
	}
	var (
		missing []*Account
		created []Pubkey
	)
	for i, acc := range current {
		if acc.Lamports != 0 {
			continue
		}
		missing = append(missing, accounts[i].Clone())
		created = append(created, acc.Key)
	}
	if len(missing) == 0 {
		return nil, nil
	}
	if err := tx.Save(ctx, missing); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

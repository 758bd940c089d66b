package memstore

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

var errAlreadyLocked = errors.New("memstore: accounts already locked in this transaction")

// Store guarda contas em memória (ambiente local e testes).
// Cada conta tem seu próprio lock; transações travam as chaves em ordem
// crescente para não haver deadlock entre escritores concorrentes.
type Store struct {
	mu       sync.Mutex
	accounts map[ledger.Pubkey]*ledger.Account
	locks    map[ledger.Pubkey]chan struct{}
}

func New() *Store {
	return &Store{
		accounts: make(map[ledger.Pubkey]*ledger.Account),
		locks:    make(map[ledger.Pubkey]chan struct{}),
	}
}

// Put grava uma conta diretamente, fora de transação (gênesis e testes)
func (s *Store) Put(acc *ledger.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc.Lamports == 0 {
		delete(s.accounts, acc.Key)
		return
	}
	s.accounts[acc.Key] = acc.Clone()
}

func (s *Store) Get(_ context.Context, key ledger.Pubkey) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[key]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return acc.Clone(), nil
}

func (s *Store) Begin(context.Context) (ledger.StoreTx, error) {
	return &tx{s: s}, nil
}

func (s *Store) lockFor(key ledger.Pubkey) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[key] = l
	}
	return l
}

type tx struct {
	s       *Store
	held    []chan struct{}
	pending []*ledger.Account
	locked  bool
	done    bool
}

func (t *tx) Lock(ctx context.Context, keys []ledger.Pubkey) ([]*ledger.Account, error) {
	if t.done {
		return nil, ledger.ErrTransactionAlreadyFinished
	}
	if t.locked {
		return nil, errAlreadyLocked
	}
	t.locked = true

	sorted := slices.Clone(keys)
	slices.SortFunc(sorted, ledger.Pubkey.Compare)
	sorted = slices.Compact(sorted)
	for _, key := range sorted {
		l := t.s.lockFor(key)
		select {
		case l <- struct{}{}:
			t.held = append(t.held, l)
		case <-ctx.Done():
			t.release()
			return nil, ctx.Err()
		}
	}

	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]*ledger.Account, 0, len(keys))
	for _, key := range keys {
		if acc, ok := t.s.accounts[key]; ok {
			out = append(out, acc.Clone())
		} else {
			out = append(out, ledger.EmptyAccount(key))
		}
	}
	return out, nil
}

func (t *tx) Save(_ context.Context, accounts []*ledger.Account) error {
	if t.done {
		return ledger.ErrTransactionAlreadyFinished
	}
	for _, acc := range accounts {
		t.pending = append(t.pending, acc.Clone())
	}
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return ledger.ErrTransactionAlreadyFinished
	}
	t.s.mu.Lock()
	for _, acc := range t.pending {
		if acc.Lamports == 0 {
			delete(t.s.accounts, acc.Key)
			continue
		}
		t.s.accounts[acc.Key] = acc
	}
	t.s.mu.Unlock()
	t.release()
	return nil
}

func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.pending = nil
	t.release()
	return nil
}

func (t *tx) release() {
	for i := len(t.held) - 1; i >= 0; i-- {
		<-t.held[i]
	}
	t.held = nil
	t.done = true
}

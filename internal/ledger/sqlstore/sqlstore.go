package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

// Dialect seleciona DDL, placeholders e estratégia de lock
type Dialect int

const (
	// Postgres trava cada chave com pg_advisory_xact_lock (inclusive chaves
	// que ainda não existem), liberado no fim da transação.
	Postgres Dialect = iota
	// SQLite serializa escritores usando uma única conexão.
	SQLite
)

// Store implementa ledger.Store sobre database/sql
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New cria o store. Para SQLite o pool é limitado a uma conexão.
func New(db *sql.DB, d Dialect) *Store {
	if d == SQLite {
		db.SetMaxOpenConns(1)
	}
	return &Store{db: db, dialect: d}
}

// Migrate cria a tabela de contas se ainda não existir
func (s *Store) Migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ledger_accounts (
		pubkey     TEXT PRIMARY KEY,
		owner      TEXT NOT NULL,
		lamports   NUMERIC(20,0) NOT NULL,
		data       BYTEA NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`
	if s.dialect == SQLite {
		ddl = `CREATE TABLE IF NOT EXISTS ledger_accounts (
			pubkey     TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			lamports   TEXT NOT NULL,
			data       BLOB NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate ledger_accounts: %w", err)
	}
	return nil
}

// rebind converte placeholders '?' para '$n' no Postgres
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const selectColumns = `SELECT pubkey, owner, lamports, data FROM ledger_accounts`

func (s *Store) Get(ctx context.Context, key ledger.Pubkey) (*ledger.Account, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectColumns+` WHERE pubkey = ?`), key.String())
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrAccountNotFound
	}
	return acc, err
}

func (s *Store) Begin(ctx context.Context) (ledger.StoreTx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &storeTx{s: s, tx: tx}, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(sc scanner) (*ledger.Account, error) {
	var (
		pubkey, owner, lamports string
		data                    []byte
	)
	if err := sc.Scan(&pubkey, &owner, &lamports, &data); err != nil {
		return nil, err
	}
	key, err := ledger.ParsePubkey(pubkey)
	if err != nil {
		return nil, fmt.Errorf("corrupt account row: %w", err)
	}
	own, err := ledger.ParsePubkey(owner)
	if err != nil {
		return nil, fmt.Errorf("corrupt account row %s: %w", pubkey, err)
	}
	l, err := strconv.ParseUint(lamports, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt account row %s: lamports: %w", pubkey, err)
	}
	return &ledger.Account{Key: key, Owner: own, Lamports: l, Data: append([]byte{}, data...)}, nil
}

type storeTx struct {
	s    *Store
	tx   *sql.Tx
	done bool
}

func (t *storeTx) Lock(ctx context.Context, keys []ledger.Pubkey) ([]*ledger.Account, error) {
	if t.done {
		return nil, ledger.ErrTransactionAlreadyFinished
	}
	if len(keys) == 0 {
		return nil, nil
	}
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = k.String()
	}

	var rows *sql.Rows
	var err error
	switch t.s.dialect {
	case Postgres:
		sorted := append([]string(nil), strs...)
		sort.Strings(sorted)
		for _, k := range sorted {
			if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, k); err != nil {
				return nil, fmt.Errorf("advisory lock %s: %w", k, err)
			}
		}
		rows, err = t.tx.QueryContext(ctx, selectColumns+` WHERE pubkey = ANY($1)`, pq.Array(strs))
	default:
		args := make([]any, len(strs))
		for i, k := range strs {
			args[i] = k
		}
		in := strings.TrimSuffix(strings.Repeat("?,", len(strs)), ",")
		rows, err = t.tx.QueryContext(ctx, selectColumns+` WHERE pubkey IN (`+in+`)`, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make(map[ledger.Pubkey]*ledger.Account, len(keys))
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		found[acc.Key] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*ledger.Account, len(keys))
	for i, k := range keys {
		if acc, ok := found[k]; ok {
			out[i] = acc
		} else {
			out[i] = ledger.EmptyAccount(k)
		}
	}
	return out, nil
}

func (t *storeTx) Save(ctx context.Context, accounts []*ledger.Account) error {
	if t.done {
		return ledger.ErrTransactionAlreadyFinished
	}
	upsert := t.s.rebind(`INSERT INTO ledger_accounts (pubkey, owner, lamports, data, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (pubkey) DO UPDATE SET
		  owner      = excluded.owner,
		  lamports   = excluded.lamports,
		  data       = excluded.data,
		  updated_at = excluded.updated_at`)
	del := t.s.rebind(`DELETE FROM ledger_accounts WHERE pubkey = ?`)

	for _, acc := range accounts {
		// Contas sem saldo deixam de existir
		if acc.Lamports == 0 {
			if _, err := t.tx.ExecContext(ctx, del, acc.Key.String()); err != nil {
				return fmt.Errorf("delete %s: %w", acc.Key, err)
			}
			continue
		}
		data := acc.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := t.tx.ExecContext(ctx, upsert,
			acc.Key.String(), acc.Owner.String(), strconv.FormatUint(acc.Lamports, 10), data,
		); err != nil {
			return fmt.Errorf("upsert %s: %w", acc.Key, err)
		}
	}
	return nil
}

func (t *storeTx) Commit() error {
	if t.done {
		return ledger.ErrTransactionAlreadyFinished
	}
	t.done = true
	return t.tx.Commit()
}

func (t *storeTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}

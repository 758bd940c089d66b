package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/radieske/lucky-wager-poc/pkg/contracts/events"
)

// PostgresRepo persiste a trilha de auditoria das apostas.
// wager_history guarda cada evento uma única vez (execution_id), wager_status
// guarda o último estado de cada registro e funds_withdrawals os saques do admin.
type PostgresRepo struct {
	DB  *sql.DB
	now func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db, now: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS wager_history (
		id           BIGSERIAL PRIMARY KEY,
		execution_id TEXT NOT NULL UNIQUE,
		signature    TEXT NOT NULL,
		record       TEXT NOT NULL,
		initializer  TEXT NOT NULL,
		kind         TEXT NOT NULL,
		bid          NUMERIC(20,0) NOT NULL,
		won          BOOLEAN NOT NULL,
		payout       NUMERIC(20,0) NOT NULL DEFAULT 0,
		slot         NUMERIC(20,0) NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS wager_history_record_idx ON wager_history (record)`,
	`CREATE TABLE IF NOT EXISTS wager_status (
		record      TEXT PRIMARY KEY,
		initializer TEXT NOT NULL,
		status      TEXT NOT NULL,
		bid         NUMERIC(20,0) NOT NULL,
		won         BOOLEAN NOT NULL,
		payout      NUMERIC(20,0) NOT NULL DEFAULT 0,
		slot        NUMERIC(20,0) NOT NULL,
		updated_at  TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS funds_withdrawals (
		id            BIGSERIAL PRIMARY KEY,
		execution_id  TEXT NOT NULL UNIQUE,
		signature     TEXT NOT NULL,
		admin         TEXT NOT NULL,
		funds         TEXT NOT NULL,
		amount        NUMERIC(20,0) NOT NULL,
		funds_balance NUMERIC(20,0) NOT NULL,
		slot          NUMERIC(20,0) NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
}

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	for _, ddl := range schema {
		if _, err := r.DB.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// u64 passa uint64 como texto: database/sql recusa uint64 acima de 2^63
func u64(v uint64) string { return strconv.FormatUint(v, 10) }

func tsOf(ms int64, fallback time.Time) time.Time {
	if ms <= 0 {
		return fallback
	}
	return time.UnixMilli(ms).UTC()
}

// O status só avança: slot maior vence, e no mesmo slot SETTLED vence PLAYED
const upsertStatus = `
	INSERT INTO wager_status (record, initializer, status, bid, won, payout, slot, updated_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	ON CONFLICT (record) DO UPDATE SET
	  initializer = EXCLUDED.initializer,
	  status      = EXCLUDED.status,
	  bid         = EXCLUDED.bid,
	  won         = EXCLUDED.won,
	  payout      = EXCLUDED.payout,
	  slot        = EXCLUDED.slot,
	  updated_at  = EXCLUDED.updated_at
	WHERE wager_status.slot < EXCLUDED.slot
	   OR (wager_status.slot = EXCLUDED.slot AND EXCLUDED.status = 'SETTLED')
`

const insertHistory = `
	INSERT INTO wager_history
	  (execution_id, signature, record, initializer, kind, bid, won, payout, slot, created_at)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (execution_id) DO NOTHING
`

// RecordPlayed grava o evento no histórico e avança o status do registro
func (r *PostgresRepo) RecordPlayed(ctx context.Context, e events.WagerPlayed) error {
	at := tsOf(e.TsUnixMs, r.now())
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertHistory,
			e.ExecutionID, e.Signature, e.Record, e.Initializer, events.StatusPlayed,
			u64(e.Bid), e.Won, u64(0), u64(e.Slot), at,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertStatus,
			e.Record, e.Initializer, events.StatusPlayed, u64(e.Bid), e.Won, u64(0), u64(e.Slot), at,
		); err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) RecordSettled(ctx context.Context, e events.WagerSettled) error {
	at := tsOf(e.TsUnixMs, r.now())
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, insertHistory,
			e.ExecutionID, e.Signature, e.Record, e.Initializer, events.StatusSettled,
			u64(e.Bid), e.Won, u64(e.Payout), u64(e.Slot), at,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertStatus,
			e.Record, e.Initializer, events.StatusSettled, u64(e.Bid), e.Won, u64(e.Payout), u64(e.Slot), at,
		); err != nil {
			return fmt.Errorf("upsert status: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepo) RecordWithdrawal(ctx context.Context, e events.FundsWithdrawn) error {
	const q = `
		INSERT INTO funds_withdrawals
		  (execution_id, signature, admin, funds, amount, funds_balance, slot, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (execution_id) DO NOTHING
	`
	_, err := r.DB.ExecContext(ctx, q,
		e.ExecutionID, e.Signature, e.Admin, e.Funds,
		u64(e.Amount), u64(e.FundsBalance), u64(e.Slot), tsOf(e.TsUnixMs, r.now()),
	)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (r *PostgresRepo) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

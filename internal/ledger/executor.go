package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	MaxAccountsPerTransaction = 64
	MaxInstructionDataLen     = 1232
)

// BalanceChange registra o saldo de uma conta antes e depois da execução
type BalanceChange struct {
	Key  Pubkey `json:"pubkey"`
	Pre  uint64 `json:"pre"`
	Post uint64 `json:"post"`
}

// Result é o que uma execução bem-sucedida devolve ao chamador
type Result struct {
	ID         string
	ProgramID  Pubkey
	Clock      Clock
	Logs       []string
	ReturnData []byte
	Changes    []BalanceChange
}

// Executor executa transações de forma atômica sobre um Store.
// Ou todas as mutações da invocação são gravadas, ou nenhuma.
type Executor struct {
	log    *zap.Logger
	store  Store
	rent   Rent
	clock  ClockSource
	tracer trace.Tracer

	mu       sync.RWMutex
	programs map[Pubkey]Program
}

// NewExecutor cria o runtime com os oráculos de aluguel e relógio
func NewExecutor(log *zap.Logger, store Store, rent Rent, clock ClockSource) *Executor {
	return &Executor{
		log:      log,
		store:    store,
		rent:     rent,
		clock:    clock,
		tracer:   otel.Tracer("github.com/radieske/lucky-wager-poc/internal/ledger"),
		programs: make(map[Pubkey]Program),
	}
}

// Register associa um programa ao seu ID
func (e *Executor) Register(id Pubkey, p Program) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.programs[id] = p
}

func (e *Executor) Rent() Rent { return e.rent }

func (e *Executor) Store() Store { return e.store }

func (e *Executor) program(id Pubkey) (Program, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.programs[id]
	return p, ok
}

// Execute roda uma transação; em erro nada é persistido
func (e *Executor) Execute(ctx context.Context, tx Transaction) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "ledger.Execute", trace.WithAttributes(
		attribute.String("program_id", tx.ProgramID.String()),
		attribute.Int("accounts", len(tx.Accounts)),
	))
	defer span.End()

	res, err := e.execute(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.log.Info("transaction failed",
			zap.String("program", tx.ProgramID.String()),
			zap.Error(err),
		)
		return nil, err
	}
	span.SetAttributes(attribute.String("execution_id", res.ID))
	e.log.Debug("transaction executed",
		zap.String("id", res.ID),
		zap.String("program", tx.ProgramID.String()),
		zap.Int("balance_changes", len(res.Changes)),
	)
	return res, nil
}

func (e *Executor) execute(ctx context.Context, tx Transaction) (*Result, error) {
	if len(tx.Accounts) > MaxAccountsPerTransaction {
		return nil, ErrTooManyAccounts
	}
	if len(tx.Data) > MaxInstructionDataLen {
		return nil, ErrInstructionDataTooLarge
	}
	prog, ok := e.program(tx.ProgramID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProgram, tx.ProgramID)
	}
	clock, err := e.clock.Now(ctx)
	if err != nil {
		return nil, fmt.Errorf("clock: %w", err)
	}

	// Chaves repetidas apontam para a mesma AccountInfo; flags são somadas
	infos := make(map[Pubkey]*AccountInfo, len(tx.Accounts))
	ordered := make([]*AccountInfo, 0, len(tx.Accounts))
	var keys []Pubkey
	sysvars := make(map[Pubkey][]byte)
	for _, m := range tx.Accounts {
		info, ok := infos[m.Pubkey]
		if !ok {
			info = &AccountInfo{Key: m.Pubkey}
			infos[m.Pubkey] = info
			switch m.Pubkey {
			case SysvarRentID:
				info.Owner, info.Data = SysvarOwnerID, e.rent.marshal()
				sysvars[m.Pubkey] = append([]byte(nil), info.Data...)
			case SysvarClockID:
				info.Owner, info.Data = SysvarOwnerID, clock.marshal()
				sysvars[m.Pubkey] = append([]byte(nil), info.Data...)
			default:
				keys = append(keys, m.Pubkey)
			}
		}
		info.IsSigner = info.IsSigner || m.IsSigner
		info.IsWritable = info.IsWritable || m.IsWritable
		ordered = append(ordered, info)
	}
	for key := range sysvars {
		if infos[key].IsWritable {
			return nil, ErrSysvarWritable
		}
	}

	stx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer stx.Rollback()

	loaded, err := stx.Lock(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("lock accounts: %w", err)
	}
	pre := make(map[Pubkey]*Account, len(loaded))
	for _, acc := range loaded {
		info := infos[acc.Key]
		info.Owner = acc.Owner
		info.Lamports = acc.Lamports
		info.Data = append([]byte(nil), acc.Data...)
		pre[acc.Key] = acc
	}

	inv := &Invocation{
		ProgramID: tx.ProgramID,
		Accounts:  ordered,
		Data:      append([]byte(nil), tx.Data...),
		Clock:     clock,
		Rent:      e.rent,
	}
	if err := prog.Process(ctx, inv); err != nil {
		return nil, err
	}

	for key, data := range sysvars {
		if !bytes.Equal(infos[key].Data, data) || infos[key].Lamports != 0 {
			return nil, runtimeViolation(ErrReadonlyModified, key)
		}
	}
	changed, changes, err := verifyChanges(tx.ProgramID, keys, infos, pre)
	if err != nil {
		return nil, err
	}

	if len(changed) > 0 {
		if err := stx.Save(ctx, changed); err != nil {
			return nil, fmt.Errorf("save accounts: %w", err)
		}
	}
	if err := stx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &Result{
		ID:         uuid.NewString(),
		ProgramID:  tx.ProgramID,
		Clock:      clock,
		Logs:       inv.logs,
		ReturnData: inv.returnData,
		Changes:    changes,
	}, nil
}

// verifyChanges aplica as regras do runtime sobre o que o programa alterou:
// soma de lamports preservada, contas somente-leitura intactas, e contas de
// outros donos só podem receber lamports.
func verifyChanges(programID Pubkey, keys []Pubkey, infos map[Pubkey]*AccountInfo, pre map[Pubkey]*Account) ([]*Account, []BalanceChange, error) {
	var (
		changed         []*Account
		changes         []BalanceChange
		preSum, postSum uint64
	)
	for _, key := range keys {
		before, after := pre[key], infos[key]
		var okPre, okPost bool
		preSum, okPre = checkedAdd(preSum, before.Lamports)
		postSum, okPost = checkedAdd(postSum, after.Lamports)
		if !okPre || !okPost {
			return nil, nil, ErrLamportOverflow
		}

		lamportsChanged := before.Lamports != after.Lamports
		dataChanged := !bytes.Equal(before.Data, after.Data)
		ownerChanged := before.Owner != after.Owner
		if !lamportsChanged && !dataChanged && !ownerChanged {
			continue
		}
		if !after.IsWritable {
			return nil, nil, runtimeViolation(ErrReadonlyModified, key)
		}
		if before.Owner != programID {
			switch {
			case ownerChanged:
				return nil, nil, runtimeViolation(ErrModifiedProgramID, key)
			case after.Lamports < before.Lamports:
				return nil, nil, runtimeViolation(ErrExternalLamportSpend, key)
			case len(after.Data) != len(before.Data):
				return nil, nil, runtimeViolation(ErrAccountDataSizeChanged, key)
			case dataChanged:
				return nil, nil, runtimeViolation(ErrExternalDataModified, key)
			}
		}

		changed = append(changed, &Account{
			Key:      key,
			Owner:    after.Owner,
			Lamports: after.Lamports,
			Data:     append([]byte(nil), after.Data...),
		})
		if lamportsChanged {
			changes = append(changes, BalanceChange{Key: key, Pre: before.Lamports, Post: after.Lamports})
		}
	}
	if preSum != postSum {
		return nil, nil, ErrUnbalancedTransaction
	}
	return changed, changes, nil
}

package processor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/outcome"
	"github.com/radieske/lucky-wager-poc/internal/wager/programerr"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

// Processor é o programa de apostas registrado no executor.
// Cada instrução valida contas e assinaturas na ordem documentada e só então
// altera saldos; qualquer erro descarta a invocação inteira.
type Processor struct {
	programID ledger.Pubkey
	funds     AllowList
	admins    AllowList
	oracle    outcome.Oracle
	source    outcome.Source
	log       *zap.Logger
}

type Option func(*Processor)

func WithOracle(o outcome.Oracle) Option {
	return func(p *Processor) { p.oracle = o }
}

func WithEntropySource(s outcome.Source) Option {
	return func(p *Processor) { p.source = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Processor) { p.log = l }
}

func New(programID ledger.Pubkey, funds, admins AllowList, opts ...Option) *Processor {
	p := &Processor{
		programID: programID,
		funds:     funds,
		admins:    admins,
		oracle:    outcome.Modulo{},
		source:    outcome.ClockSource{},
		log:       zap.NewNop(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Processor) ProgramID() ledger.Pubkey { return p.programID }

func (p *Processor) Funds() AllowList { return p.funds }

func (p *Processor) Process(ctx context.Context, inv *ledger.Invocation) error {
	if inv.ProgramID != p.programID {
		return ledger.ErrIncorrectProgramID
	}
	ix, err := instruction.Decode(inv.Data)
	if err != nil {
		return err
	}
	switch ix := ix.(type) {
	case instruction.Play:
		inv.Logf("Instruction: Play")
		return p.play(ctx, inv, ix.Bid)
	case instruction.AdminWithdraw:
		inv.Logf("Instruction: AdminWithdraw")
		return p.adminWithdraw(inv, ix.Amount)
	case instruction.PlayerWithdraw:
		inv.Logf("Instruction: PlayerWithdraw")
		return p.playerWithdraw(inv)
	default:
		return programerr.ErrInvalidInstruction
	}
}

func accounts(inv *ledger.Invocation, n int) ([]*ledger.AccountInfo, error) {
	if len(inv.Accounts) < n {
		return nil, ledger.ErrNotEnoughAccountKeys
	}
	return inv.Accounts[:n], nil
}

func (p *Processor) owned(infos ...*ledger.AccountInfo) bool {
	for _, info := range infos {
		if info.Owner != p.programID {
			return false
		}
	}
	return true
}

func distinct(infos ...*ledger.AccountInfo) bool {
	for i := range infos {
		for j := i + 1; j < len(infos); j++ {
			if infos[i].Key == infos[j].Key {
				return false
			}
		}
	}
	return true
}

func (p *Processor) play(ctx context.Context, inv *ledger.Invocation, bid uint64) error {
	accs, err := accounts(inv, 5)
	if err != nil {
		return err
	}
	initializer, deposit, record, funds, rentInfo := accs[0], accs[1], accs[2], accs[3], accs[4]

	if !initializer.IsSigner {
		return ledger.ErrMissingRequiredSignature
	}
	if !p.owned(deposit, record, funds) {
		return ledger.ErrInvalidAccountData
	}
	if !p.funds.Contains(funds.Key) {
		return ledger.ErrInvalidAccountData
	}
	if !distinct(deposit, record, funds) {
		return ledger.ErrInvalidAccountData
	}
	if bid != deposit.Lamports {
		return programerr.ErrExpectedAmountMismatch
	}
	rent, err := ledger.RentFromAccount(rentInfo)
	if err != nil {
		return err
	}
	if !rent.IsExempt(record.Lamports, len(record.Data)) {
		return programerr.ErrNotRentExempt
	}
	rec, err := state.UnpackUnchecked(record.Data)
	if err != nil {
		return err
	}
	if rec.IsInitialized {
		return ledger.ErrAccountAlreadyInitialized
	}

	entropy, err := p.source.Entropy(ctx, outcome.Request{
		Record:      record.Key,
		Initializer: initializer.Key,
		Bid:         bid,
		Clock:       inv.Clock,
	})
	if err != nil {
		return fmt.Errorf("entropy: %w", err)
	}
	won := p.oracle.Decide(entropy)

	total, ok := add(funds.Lamports, deposit.Lamports)
	if !ok {
		return programerr.ErrAmountOverflow
	}
	funds.Lamports = total
	deposit.Lamports = 0

	rec = state.Record{IsInitialized: true, Initializer: initializer.Key, BidAmount: bid, Won: won}
	if err := rec.PackInto(record.Data); err != nil {
		return err
	}
	inv.SetReturnData(rec.Pack())
	inv.Logf("play record=%s bid=%d won=%t", record.Key, bid, won)
	p.log.Debug("wager played",
		zap.String("record", record.Key.String()),
		zap.String("initializer", initializer.Key.String()),
		zap.Uint64("bid", bid),
		zap.Int64("entropy", entropy),
		zap.Bool("won", won),
	)
	return nil
}

func (p *Processor) adminWithdraw(inv *ledger.Invocation, amount uint64) error {
	accs, err := accounts(inv, 2)
	if err != nil {
		return err
	}
	admin, funds := accs[0], accs[1]

	if !admin.IsSigner {
		return ledger.ErrMissingRequiredSignature
	}
	if !p.owned(funds) || !p.funds.Contains(funds.Key) {
		return ledger.ErrInvalidAccountData
	}
	if !p.admins.Contains(admin.Key) || !distinct(admin, funds) {
		return ledger.ErrInvalidAccountData
	}

	left, ok := sub(funds.Lamports, amount)
	if !ok {
		return programerr.ErrAmountOverflow
	}
	// Funds nunca pode ficar abaixo do mínimo isento: zerada, a conta seria
	// removida pelo runtime e nenhum Play voltaria a aceitá-la
	if !inv.Rent.IsExempt(left, len(funds.Data)) {
		return programerr.ErrNotRentExempt
	}
	credited, ok := add(admin.Lamports, amount)
	if !ok {
		return programerr.ErrAmountOverflow
	}
	funds.Lamports = left
	admin.Lamports = credited

	inv.Logf("admin withdraw %d lamports to %s", amount, admin.Key)
	p.log.Info("funds withdrawn by admin",
		zap.String("admin", admin.Key.String()),
		zap.String("funds", funds.Key.String()),
		zap.Uint64("amount", amount),
	)
	return nil
}

func (p *Processor) playerWithdraw(inv *ledger.Invocation) error {
	accs, err := accounts(inv, 3)
	if err != nil {
		return err
	}
	initializer, record, funds := accs[0], accs[1], accs[2]

	if !initializer.IsSigner {
		return ledger.ErrMissingRequiredSignature
	}
	if !p.funds.Contains(funds.Key) {
		return ledger.ErrInvalidAccountData
	}
	if !p.owned(record, funds) {
		return ledger.ErrInvalidAccountData
	}
	if !distinct(initializer, record, funds) {
		return ledger.ErrInvalidAccountData
	}
	rec, err := state.Unpack(record.Data)
	if err != nil {
		return err
	}
	if rec.Initializer != initializer.Key {
		return ledger.ErrInvalidAccountData
	}

	var payout uint64
	if rec.Won {
		var ok bool
		if payout, ok = mul(rec.BidAmount, 2); !ok {
			return programerr.ErrAmountOverflow
		}
		left, ok := sub(funds.Lamports, payout)
		if !ok {
			return programerr.ErrAmountOverflow
		}
		funds.Lamports = left
	}
	credited, ok := add(initializer.Lamports, payout)
	if !ok {
		return programerr.ErrAmountOverflow
	}
	credited, ok = add(credited, record.Lamports)
	if !ok {
		return programerr.ErrAmountOverflow
	}
	initializer.Lamports = credited
	record.Lamports = 0
	clear(record.Data)

	inv.SetReturnData(rec.Pack())
	inv.Logf("player withdraw record=%s won=%t payout=%d", record.Key, rec.Won, payout)
	p.log.Debug("wager settled",
		zap.String("record", record.Key.String()),
		zap.String("initializer", initializer.Key.String()),
		zap.Bool("won", rec.Won),
		zap.Uint64("payout", payout),
	)
	return nil
}

func add(a, b uint64) (uint64, bool) {
	s := a + b
	return s, s >= a
}

func sub(a, b uint64) (uint64, bool) {
	if b > a {
		return 0, false
	}
	return a - b, true
}

func mul(a, b uint64) (uint64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	m := a * b
	return m, m/b == a
}

package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/pubsub"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
	"github.com/radieske/lucky-wager-poc/pkg/contracts/events"
)

type Executor interface {
	Execute(ctx context.Context, tx ledger.Transaction) (*ledger.Result, error)
}

type ReplayGuard interface {
	Seen(ctx context.Context, sig string, until time.Time) (bool, error)
	Forget(ctx context.Context, sig string) error
}

type Publisher interface {
	PublishWagerPlayed(context.Context, events.WagerPlayed) error
	PublishWagerSettled(context.Context, events.WagerSettled) error
	PublishFundsWithdrawn(context.Context, events.FundsWithdrawn) error
}

type Broadcaster interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Invalidator interface {
	Invalidate(ctx context.Context, pubkey string) error
}

// DefaultMaxLifetime é a janela máxima entre o envio e o valid_until de uma transação
const DefaultMaxLifetime = 2 * time.Minute

// Service é a porta de entrada das transações assinadas.
// Verifica assinaturas e validade, barra replays, executa no ledger e, depois
// do commit, publica eventos, difunde a atualização do registro e invalida o
// cache. Publisher, Broadcaster e Cache são opcionais.
type Service struct {
	Log         *zap.Logger
	Exec        Executor
	ProgramID   ledger.Pubkey
	Replay      ReplayGuard
	MaxLifetime time.Duration    // zero usa DefaultMaxLifetime
	Now         func() time.Time // nil usa time.Now

	Publisher   Publisher
	Broadcaster Broadcaster
	Channel     string
	Cache       Invalidator

	OnExecuted func(instruction string) // métricas
	OnRejected func(reason string)      // métricas
	OnError    func(stage string)       // métricas por fase
}

// Receipt é o resultado de uma transação confirmada
type Receipt struct {
	Signature   string
	Result      *ledger.Result
	Instruction instruction.Instruction // nil para outros programas
	Record      *state.Record           // registro devolvido por Play/PlayerWithdraw
}

func (s *Service) Submit(ctx context.Context, st ledger.SignedTransaction) (*Receipt, error) {
	tx, err := st.Verify()
	if err != nil {
		s.rejected("signature")
		return nil, err
	}
	if err := st.CheckLifetime(s.now(), s.maxLifetime()); err != nil {
		s.rejected("expired")
		return nil, err
	}
	sig := st.ID()

	seen, err := s.Replay.Seen(ctx, sig, st.ExpiresAt())
	if err != nil {
		s.failed("replay")
		return nil, fmt.Errorf("replay guard: %w", err)
	}
	if seen {
		s.rejected("replay")
		return nil, ledger.ErrDuplicateSignature
	}

	res, err := s.Exec.Execute(ctx, tx)
	if err != nil {
		if ferr := s.Replay.Forget(ctx, sig); ferr != nil {
			s.Log.Warn("replay forget failed", zap.String("signature", sig), zap.Error(ferr))
		}
		if _, ok := ledger.AsProgramError(err); ok {
			s.rejected("program")
		} else {
			s.rejected("runtime")
		}
		return nil, err
	}

	rcpt := &Receipt{Signature: sig, Result: res}
	label := "other"
	if tx.ProgramID == s.ProgramID {
		// Já executou com sucesso, então a instrução decodifica
		rcpt.Instruction, _ = instruction.Decode(tx.Data)
		if len(res.ReturnData) == state.RecordLen {
			if rec, err := state.UnpackUnchecked(res.ReturnData); err == nil {
				rcpt.Record = &rec
			}
		}
		if rcpt.Instruction != nil {
			label = rcpt.Instruction.Tag().String()
		}
		s.afterCommit(ctx, tx, rcpt)
	}
	if s.OnExecuted != nil {
		s.OnExecuted(label)
	}
	return rcpt, nil
}

func (s *Service) afterCommit(ctx context.Context, tx ledger.Transaction, rcpt *Receipt) {
	res := rcpt.Result
	key := func(i int) string { return tx.Accounts[i].Pubkey.String() }

	switch ix := rcpt.Instruction.(type) {
	case instruction.Play:
		if rcpt.Record == nil {
			return
		}
		record := key(2)
		s.publish(ctx, "wager_played", func(p Publisher) error {
			return p.PublishWagerPlayed(ctx, events.WagerPlayed{
				ExecutionID:   res.ID,
				Signature:     rcpt.Signature,
				Record:        record,
				Initializer:   key(0),
				Deposit:       key(1),
				Funds:         key(3),
				Bid:           ix.Bid,
				Won:           rcpt.Record.Won,
				Slot:          res.Clock.Slot,
				UnixTimestamp: res.Clock.UnixTimestamp,
			})
		})
		s.invalidate(ctx, record)
		s.broadcast(ctx, events.WagerUpdate{
			Record:      record,
			Initializer: key(0),
			Status:      events.StatusPlayed,
			Bid:         ix.Bid,
			Won:         rcpt.Record.Won,
			Slot:        res.Clock.Slot,
		})

	case instruction.PlayerWithdraw:
		if rcpt.Record == nil {
			return
		}
		record := key(1)
		var payout uint64
		if rcpt.Record.Won {
			payout = rcpt.Record.BidAmount * 2 // já validado sem overflow pelo programa
		}
		var recordLamports uint64
		if ch, ok := balanceChange(res, tx.Accounts[1].Pubkey); ok {
			recordLamports = ch.Pre
		}
		s.publish(ctx, "wager_settled", func(p Publisher) error {
			return p.PublishWagerSettled(ctx, events.WagerSettled{
				ExecutionID:    res.ID,
				Signature:      rcpt.Signature,
				Record:         record,
				Initializer:    key(0),
				Funds:          key(2),
				Bid:            rcpt.Record.BidAmount,
				Won:            rcpt.Record.Won,
				Payout:         payout,
				RecordLamports: recordLamports,
				Slot:           res.Clock.Slot,
			})
		})
		s.invalidate(ctx, record)
		s.broadcast(ctx, events.WagerUpdate{
			Record:      record,
			Initializer: key(0),
			Status:      events.StatusSettled,
			Bid:         rcpt.Record.BidAmount,
			Won:         rcpt.Record.Won,
			Payout:      payout,
			Slot:        res.Clock.Slot,
		})

	case instruction.AdminWithdraw:
		var balance uint64
		if ch, ok := balanceChange(res, tx.Accounts[1].Pubkey); ok {
			balance = ch.Post
		}
		s.publish(ctx, "funds_withdrawn", func(p Publisher) error {
			return p.PublishFundsWithdrawn(ctx, events.FundsWithdrawn{
				ExecutionID:  res.ID,
				Signature:    rcpt.Signature,
				Admin:        key(0),
				Funds:        key(1),
				Amount:       ix.Amount,
				FundsBalance: balance,
				Slot:         res.Clock.Slot,
			})
		})
	}
}

func balanceChange(res *ledger.Result, k ledger.Pubkey) (ledger.BalanceChange, bool) {
	for _, ch := range res.Changes {
		if ch.Key == k {
			return ch, true
		}
	}
	return ledger.BalanceChange{}, false
}

// publish roda depois do commit: falhas são registradas e não desfazem nada
func (s *Service) publish(ctx context.Context, topic string, fn func(Publisher) error) {
	if s.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(s.Publisher); err != nil {
		s.Log.Warn("event publish failed", zap.String("topic", topic), zap.Error(err))
		s.failed("publish")
	}
}

func (s *Service) invalidate(ctx context.Context, record string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Invalidate(ctx, record); err != nil {
		s.Log.Warn("record cache invalidate failed", zap.String("record", record), zap.Error(err))
		s.failed("cache")
	}
}

func (s *Service) broadcast(ctx context.Context, upd events.WagerUpdate) {
	if s.Broadcaster == nil {
		return
	}
	b, _ := json.Marshal(pubsub.WSUpdate{Record: upd.Record, Payload: upd})

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
	defer cancel()
	if err := s.Broadcaster.Publish(ctx, s.Channel, b); err != nil {
		s.Log.Warn("ws broadcast publish failed", zap.Error(err))
		s.failed("broadcast")
	}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) maxLifetime() time.Duration {
	if s.MaxLifetime > 0 {
		return s.MaxLifetime
	}
	return DefaultMaxLifetime
}

func (s *Service) rejected(reason string) {
	if s.OnRejected != nil {
		s.OnRejected(reason)
	}
}

func (s *Service) failed(stage string) {
	if s.OnError != nil {
		s.OnError(stage)
	}
}

// IsClientError informa se o erro é culpa da transação enviada (e não do servidor)
func IsClientError(err error) bool {
	if _, ok := ledger.AsProgramError(err); ok {
		return true
	}
	for _, target := range []error{
		ledger.ErrSignatureVerification, ledger.ErrDuplicateSignature, ledger.ErrUnknownProgram,
		ledger.ErrTransactionExpired, ledger.ErrLifetimeTooLong,
		ledger.ErrUnbalancedTransaction, ledger.ErrReadonlyModified, ledger.ErrExternalLamportSpend,
		ledger.ErrExternalDataModified, ledger.ErrAccountDataSizeChanged, ledger.ErrModifiedProgramID,
		ledger.ErrLamportOverflow, ledger.ErrTooManyAccounts, ledger.ErrSysvarWritable,
		ledger.ErrInstructionDataTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

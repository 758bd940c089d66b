package player

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/ledger/system"
	"github.com/radieske/lucky-wager-poc/internal/wager-service/dto"
	"github.com/radieske/lucky-wager-poc/internal/wager/instruction"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

type API interface {
	Submit(ctx context.Context, st ledger.SignedTransaction) (*dto.TxResponse, error)
	Airdrop(ctx context.Context, key ledger.Pubkey, lamports uint64) (*dto.AccountResponse, error)
}

// Outcome é o resultado de uma rodada completa
type Outcome struct {
	Player ledger.Pubkey
	Record ledger.Pubkey
	Bid    uint64
	Won    bool
	Payout uint64
}

// Simulator joga rodadas completas contra o wager-service: financia um
// jogador pelo faucet, cria Deposit e Record via system program, joga e saca.
type Simulator struct {
	Log       *zap.Logger
	API       API
	ProgramID ledger.Pubkey
	Funds     ledger.Pubkey
	Rent      ledger.Rent
	Lifetime  time.Duration // validade de cada transação; zero usa 1 minuto

	nonce atomic.Uint64
}

func newKey() (ed25519.PrivateKey, error) {
	_, k, err := ed25519.GenerateKey(rand.Reader)
	return k, err
}

func (s *Simulator) submit(ctx context.Context, step string, tx ledger.Transaction, keys ...ed25519.PrivateKey) (*dto.TxResponse, error) {
	lifetime := s.Lifetime
	if lifetime <= 0 {
		lifetime = time.Minute
	}
	validUntil := time.Now().Add(lifetime).Unix()
	resp, err := s.API.Submit(ctx, ledger.Sign(tx, s.nonce.Add(1), validUntil, keys...))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", step, err)
	}
	return resp, nil
}

// Bankroll credita a conta Funds para cobrir prêmios
func (s *Simulator) Bankroll(ctx context.Context, lamports uint64) error {
	_, err := s.API.Airdrop(ctx, s.Funds, lamports)
	return err
}

// Round executa uma aposta do início ao saque
func (s *Simulator) Round(ctx context.Context, bid uint64) (*Outcome, error) {
	player, err := newKey()
	if err != nil {
		return nil, err
	}
	deposit, err := newKey()
	if err != nil {
		return nil, err
	}
	record, err := newKey()
	if err != nil {
		return nil, err
	}
	pk, dk, rk := ledger.PubkeyOf(player), ledger.PubkeyOf(deposit), ledger.PubkeyOf(record)
	recordRent := s.Rent.MinimumBalance(state.RecordLen)

	if _, err := s.API.Airdrop(ctx, pk, bid+recordRent); err != nil {
		return nil, fmt.Errorf("airdrop: %w", err)
	}
	if _, err := s.submit(ctx, "create deposit",
		system.CreateAccountTx(pk, dk, bid, 0, s.ProgramID), player, deposit); err != nil {
		return nil, err
	}
	if _, err := s.submit(ctx, "create record",
		system.CreateAccountTx(pk, rk, recordRent, state.RecordLen, s.ProgramID), player, record); err != nil {
		return nil, err
	}

	played, err := s.submit(ctx, "play", instruction.PlayTx(s.ProgramID, pk, dk, rk, s.Funds, bid), player)
	if err != nil {
		return nil, err
	}
	if played.Record == nil {
		return nil, fmt.Errorf("play: response without record")
	}
	out := &Outcome{Player: pk, Record: rk, Bid: bid, Won: played.Record.Won}

	settled, err := s.submit(ctx, "withdraw", instruction.PlayerWithdrawTx(s.ProgramID, pk, rk, s.Funds), player)
	if err != nil {
		return out, err
	}
	if settled.Record != nil {
		out.Payout = settled.Record.Payout
	}

	s.Log.Info("round finished",
		zap.String("player", pk.String()),
		zap.String("record", rk.String()),
		zap.Uint64("bid", bid),
		zap.Bool("won", out.Won),
		zap.Uint64("payout", out.Payout),
	)
	return out, nil
}

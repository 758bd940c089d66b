package dto

import (
	"encoding/hex"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager/state"
)

const lamportsDecimals = 9

// SOL converte lamports para SOL sem perda de precisão
func SOL(lamports uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsDecimals)
}

type BalanceChange struct {
	Pubkey string `json:"pubkey"`
	Pre    uint64 `json:"pre"`
	Post   uint64 `json:"post"`
	Delta  string `json:"delta_sol"`
}

type TxResponse struct {
	Signature   string          `json:"signature"`
	ExecutionID string          `json:"execution_id"`
	Instruction string          `json:"instruction,omitempty"`
	Slot        uint64          `json:"slot"`
	Logs        []string        `json:"logs"`
	Changes     []BalanceChange `json:"changes"`
	Record      *WagerResponse  `json:"record,omitempty"`
}

type AccountResponse struct {
	Pubkey   string `json:"pubkey"`
	Owner    string `json:"owner"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
	DataLen  int    `json:"data_len"`
	Data     string `json:"data"` // hex
}

func NewAccountResponse(acc *ledger.Account) AccountResponse {
	return AccountResponse{
		Pubkey:   acc.Key.String(),
		Owner:    acc.Owner.String(),
		Lamports: acc.Lamports,
		SOL:      SOL(acc.Lamports).String(),
		DataLen:  len(acc.Data),
		Data:     hex.EncodeToString(acc.Data),
	}
}

// Status de um registro visto de fora
const (
	WagerOpen    = "OPEN"    // criado, ainda sem jogada
	WagerPlayed  = "PLAYED"  // jogada feita, aguardando saque
	WagerSettled = "SETTLED" // sacado; a conta do registro foi fechada
)

type WagerResponse struct {
	Record      string `json:"record"`
	Status      string `json:"status"`
	Initializer string `json:"initializer,omitempty"`
	Bid         uint64 `json:"bid"`
	BidSOL      string `json:"bid_sol"`
	Won         bool   `json:"won"`
	Payout      uint64 `json:"payout"`
	Lamports    uint64 `json:"lamports"`
}

func NewWagerResponse(key ledger.Pubkey, lamports uint64, rec state.Record) WagerResponse {
	out := WagerResponse{
		Record:   key.String(),
		Status:   WagerOpen,
		Bid:      rec.BidAmount,
		BidSOL:   SOL(rec.BidAmount).String(),
		Won:      rec.Won,
		Lamports: lamports,
	}
	if rec.IsInitialized {
		out.Status = WagerPlayed
		out.Initializer = rec.Initializer.String()
		if rec.Won {
			out.Payout = rec.BidAmount * 2
		}
	}
	return out
}

func NewBalanceChange(c ledger.BalanceChange) BalanceChange {
	return BalanceChange{
		Pubkey: c.Key.String(),
		Pre:    c.Pre,
		Post:   c.Post,
		Delta:  SOL(c.Post).Sub(SOL(c.Pre)).String(),
	}
}

type FundsResponse struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
	SOL      string `json:"sol"`
}

type CommitmentResponse struct {
	Source     string `json:"source"` // clock | seeded
	Commitment string `json:"commitment,omitempty"`
}

type ErrorResponse struct {
	Error string  `json:"error"`
	Code  *uint64 `json:"code,omitempty"`
}

package instruction

import (
	"encoding/binary"
	"fmt"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
	"github.com/radieske/lucky-wager-poc/internal/wager/programerr"
)

// Tag é o primeiro byte do buffer e seleciona a variante
type Tag uint8

const (
	TagPlay           Tag = 0
	TagAdminWithdraw  Tag = 1
	TagPlayerWithdraw Tag = 2
)

func (t Tag) String() string {
	switch t {
	case TagPlay:
		return "Play"
	case TagAdminWithdraw:
		return "AdminWithdraw"
	case TagPlayerWithdraw:
		return "PlayerWithdraw"
	default:
		return fmt.Sprintf("Tag(%d)", uint8(t))
	}
}

// Instruction é uma das três operações do programa
type Instruction interface {
	Tag() Tag
	MarshalBinary() ([]byte, error)
}

// Play aposta todo o saldo do depósito; Bid precisa ser igual a esse saldo.
//
// Contas: 0 [signer] jogador, 1 [writable] depósito, 2 [writable] registro,
// 3 [writable] funds, 4 [] sysvar de aluguel.
type Play struct {
	Bid uint64 `json:"bid"`
}

// AdminWithdraw retira Amount do funds para o administrador.
//
// Contas: 0 [signer, writable] admin, 1 [writable] funds.
type AdminWithdraw struct {
	Amount uint64 `json:"amount"`
}

// PlayerWithdraw liquida e fecha o registro do jogador.
//
// Contas: 0 [signer, writable] jogador, 1 [writable] registro, 2 [writable] funds.
type PlayerWithdraw struct{}

func (Play) Tag() Tag           { return TagPlay }
func (AdminWithdraw) Tag() Tag  { return TagAdminWithdraw }
func (PlayerWithdraw) Tag() Tag { return TagPlayerWithdraw }

func (p Play) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint64([]byte{byte(TagPlay)}, p.Bid), nil
}

func (a AdminWithdraw) MarshalBinary() ([]byte, error) {
	return binary.LittleEndian.AppendUint64([]byte{byte(TagAdminWithdraw)}, a.Amount), nil
}

func (PlayerWithdraw) MarshalBinary() ([]byte, error) {
	return []byte{byte(TagPlayerWithdraw)}, nil
}

// Decode lê tag + campos little-endian. Bytes além da largura da variante
// são ignorados; qualquer buffer curto ou tag desconhecida falha inteiro.
func Decode(b []byte) (Instruction, error) {
	if len(b) == 0 {
		return nil, programerr.ErrInvalidInstruction
	}
	rest := b[1:]
	switch Tag(b[0]) {
	case TagPlay:
		v, err := u64(rest)
		if err != nil {
			return nil, err
		}
		return Play{Bid: v}, nil
	case TagAdminWithdraw:
		v, err := u64(rest)
		if err != nil {
			return nil, err
		}
		return AdminWithdraw{Amount: v}, nil
	case TagPlayerWithdraw:
		return PlayerWithdraw{}, nil
	default:
		return nil, programerr.ErrInvalidInstruction
	}
}

func u64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, programerr.ErrInvalidInstruction
	}
	return binary.LittleEndian.Uint64(b[:8]), nil
}

func mustMarshal(ix Instruction) []byte {
	b, err := ix.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("instruction: marshal %T: %v", ix, err))
	}
	return b
}

// PlayTx monta a transação de Play na ordem de contas esperada pelo programa
func PlayTx(programID, initializer, deposit, record, funds ledger.Pubkey, bid uint64) ledger.Transaction {
	return ledger.Transaction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: initializer, IsSigner: true},
			{Pubkey: deposit, IsWritable: true},
			{Pubkey: record, IsWritable: true},
			{Pubkey: funds, IsWritable: true},
			{Pubkey: ledger.SysvarRentID},
		},
		Data: mustMarshal(Play{Bid: bid}),
	}
}

func AdminWithdrawTx(programID, admin, funds ledger.Pubkey, amount uint64) ledger.Transaction {
	return ledger.Transaction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: admin, IsSigner: true, IsWritable: true},
			{Pubkey: funds, IsWritable: true},
		},
		Data: mustMarshal(AdminWithdraw{Amount: amount}),
	}
}

func PlayerWithdrawTx(programID, initializer, record, funds ledger.Pubkey) ledger.Transaction {
	return ledger.Transaction{
		ProgramID: programID,
		Accounts: []ledger.AccountMeta{
			{Pubkey: initializer, IsSigner: true, IsWritable: true},
			{Pubkey: record, IsWritable: true},
			{Pubkey: funds, IsWritable: true},
		},
		Data: mustMarshal(PlayerWithdraw{}),
	}
}

package ledger

import (
	"context"
	"fmt"
)

// Account é o estado persistido de uma conta no ledger
type Account struct {
	Key      Pubkey
	Owner    Pubkey
	Lamports uint64
	Data     []byte
}

// Clone devolve uma cópia profunda (os dados não são compartilhados)
func (a *Account) Clone() *Account {
	c := *a
	c.Data = append([]byte(nil), a.Data...)
	return &c
}

// AccountMeta descreve como uma transação referencia uma conta
type AccountMeta struct {
	Pubkey     Pubkey `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

// Transaction é uma instrução para um único programa.
// IsSigner só é confiável depois da verificação de assinaturas (SignedTransaction.Verify).
type Transaction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// AccountInfo é a visão mutável de uma conta durante uma invocação.
// O programa altera Lamports e Data diretamente; o runtime decide se as
// mudanças são persistidas quando a invocação termina.
type AccountInfo struct {
	Key        Pubkey
	Owner      Pubkey
	IsSigner   bool
	IsWritable bool
	Lamports   uint64
	Data       []byte
}

// Invocation agrupa o que o runtime entrega ao programa
type Invocation struct {
	ProgramID Pubkey
	Accounts  []*AccountInfo
	Data      []byte
	Clock     Clock
	Rent      Rent // mesmo valor do sysvar de aluguel

	logs       []string
	returnData []byte
}

// Logf registra uma linha de log do programa no resultado da execução
func (inv *Invocation) Logf(format string, args ...any) {
	inv.logs = append(inv.logs, fmt.Sprintf(format, args...))
}

// SetReturnData define os bytes devolvidos ao chamador em caso de sucesso
func (inv *Invocation) SetReturnData(b []byte) {
	inv.returnData = append([]byte(nil), b...)
}

// Account devolve a conta na posição i ou ErrNotEnoughAccountKeys
func (inv *Invocation) Account(i int) (*AccountInfo, error) {
	if i < 0 || i >= len(inv.Accounts) {
		return nil, ErrNotEnoughAccountKeys
	}
	return inv.Accounts[i], nil
}

// Program é implementado por todo programa executável no ledger
type Program interface {
	Process(ctx context.Context, inv *Invocation) error
}

// ProgramFunc adapta uma função simples para Program
type ProgramFunc func(ctx context.Context, inv *Invocation) error

func (f ProgramFunc) Process(ctx context.Context, inv *Invocation) error { return f(ctx, inv) }

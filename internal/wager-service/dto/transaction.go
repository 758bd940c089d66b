package dto

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

var ErrInvalidPayload = errors.New("invalid payload")

type AccountMetaRequest struct {
	Pubkey     string `json:"pubkey"`
	IsSigner   bool   `json:"is_signer"`
	IsWritable bool   `json:"is_writable"`
}

type SignatureRequest struct {
	Pubkey    string `json:"pubkey"`
	Signature string `json:"signature"` // base58
}

// SubmitTransactionRequest é a transação assinada enviada pelo cliente
type SubmitTransactionRequest struct {
	ProgramID  string               `json:"program_id"`
	Accounts   []AccountMetaRequest `json:"accounts"`
	Data       string               `json:"data"` // base64
	Nonce      uint64               `json:"nonce"`
	ValidUntil int64                `json:"valid_until"` // unix, segundos
	Signatures []SignatureRequest   `json:"signatures"`
}

// ToSigned converte o payload para a transação do ledger.
// Só valida forma (chaves, base64, tamanho das assinaturas); a verificação
// criptográfica fica com o submit.
func (r SubmitTransactionRequest) ToSigned() (ledger.SignedTransaction, error) {
	var st ledger.SignedTransaction

	pid, err := ledger.ParsePubkey(r.ProgramID)
	if err != nil {
		return st, fmt.Errorf("%w: program_id: %v", ErrInvalidPayload, err)
	}
	if len(r.Accounts) == 0 {
		return st, fmt.Errorf("%w: accounts required", ErrInvalidPayload)
	}
	if len(r.Signatures) == 0 {
		return st, fmt.Errorf("%w: signatures required", ErrInvalidPayload)
	}
	data, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return st, fmt.Errorf("%w: data: %v", ErrInvalidPayload, err)
	}

	st.ProgramID = pid
	st.Data = data
	st.Nonce = r.Nonce
	st.ValidUntil = r.ValidUntil
	st.Accounts = make([]ledger.AccountMeta, len(r.Accounts))
	for i, a := range r.Accounts {
		k, err := ledger.ParsePubkey(a.Pubkey)
		if err != nil {
			return ledger.SignedTransaction{}, fmt.Errorf("%w: accounts[%d]: %v", ErrInvalidPayload, i, err)
		}
		st.Accounts[i] = ledger.AccountMeta{Pubkey: k, IsSigner: a.IsSigner, IsWritable: a.IsWritable}
	}
	st.Signatures = make([]ledger.Signature, len(r.Signatures))
	for i, s := range r.Signatures {
		k, err := ledger.ParsePubkey(s.Pubkey)
		if err != nil {
			return ledger.SignedTransaction{}, fmt.Errorf("%w: signatures[%d]: %v", ErrInvalidPayload, i, err)
		}
		raw, err := base58.Decode(s.Signature)
		if err != nil || len(raw) != len(st.Signatures[i].Signature) {
			return ledger.SignedTransaction{}, fmt.Errorf("%w: signatures[%d]: malformed signature", ErrInvalidPayload, i)
		}
		st.Signatures[i].Pubkey = k
		copy(st.Signatures[i].Signature[:], raw)
	}
	return st, nil
}

// FromSigned é o caminho inverso (clientes Go e testes)
func FromSigned(st ledger.SignedTransaction) SubmitTransactionRequest {
	r := SubmitTransactionRequest{
		ProgramID:  st.ProgramID.String(),
		Data:       base64.StdEncoding.EncodeToString(st.Data),
		Nonce:      st.Nonce,
		ValidUntil: st.ValidUntil,
	}
	for _, m := range st.Accounts {
		r.Accounts = append(r.Accounts, AccountMetaRequest{Pubkey: m.Pubkey.String(), IsSigner: m.IsSigner, IsWritable: m.IsWritable})
	}
	for _, s := range st.Signatures {
		r.Signatures = append(r.Signatures, SignatureRequest{Pubkey: s.Pubkey.String(), Signature: base58.Encode(s.Signature[:])})
	}
	return r
}

type AirdropRequest struct {
	Pubkey   string `json:"pubkey"`
	Lamports uint64 `json:"lamports"`
}

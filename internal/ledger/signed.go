package ledger

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
)

var messagePrefix = []byte("lucky-wager/tx/v1")

// Signature é a assinatura ed25519 de uma chave sobre a mensagem canônica
type Signature struct {
	Pubkey    Pubkey
	Signature [ed25519.SignatureSize]byte
}

// SignedTransaction é a forma em que transações chegam ao ledger.
// Nonce diferencia mensagens idênticas enviadas de propósito mais de uma vez.
// ValidUntil (unix, segundos) limita a janela em que a assinatura é aceita;
// fora dela a transação é recusada mesmo que o guard de replay já a tenha esquecido.
type SignedTransaction struct {
	Transaction
	Nonce      uint64
	ValidUntil int64
	Signatures []Signature
}

// Message serializa a transação de forma canônica para assinatura:
// prefixo | program id | n contas | (chave, flags)* | len(data) u16 | data | nonce u64 | valid_until i64
func (t Transaction) Message(nonce uint64, validUntil int64) []byte {
	size := len(messagePrefix) + PubkeyLen + 1 + len(t.Accounts)*(PubkeyLen+1) + 2 + len(t.Data) + 16
	b := make([]byte, 0, size)
	b = append(b, messagePrefix...)
	b = append(b, t.ProgramID[:]...)
	b = append(b, byte(len(t.Accounts)))
	for _, m := range t.Accounts {
		var flags byte
		if m.IsSigner {
			flags |= 1
		}
		if m.IsWritable {
			flags |= 2
		}
		b = append(b, m.Pubkey[:]...)
		b = append(b, flags)
	}
	b = binary.LittleEndian.AppendUint16(b, uint16(len(t.Data)))
	b = append(b, t.Data...)
	b = binary.LittleEndian.AppendUint64(b, nonce)
	b = binary.LittleEndian.AppendUint64(b, uint64(validUntil))
	return b
}

// Sign assina a transação com as chaves dadas
func Sign(tx Transaction, nonce uint64, validUntil int64, keys ...ed25519.PrivateKey) SignedTransaction {
	msg := tx.Message(nonce, validUntil)
	st := SignedTransaction{Transaction: tx, Nonce: nonce, ValidUntil: validUntil}
	for _, k := range keys {
		var s Signature
		copy(s.Pubkey[:], k.Public().(ed25519.PublicKey))
		copy(s.Signature[:], ed25519.Sign(k, msg))
		st.Signatures = append(st.Signatures, s)
	}
	return st
}

// Verify confere as assinaturas e devolve a transação com IsSigner confiável.
// O conjunto de assinaturas precisa ser exatamente o conjunto de contas
// marcadas como signatárias, e não pode ser vazio (a primeira assinatura
// identifica a transação para proteção contra replay).
func (st SignedTransaction) Verify() (Transaction, error) {
	if len(st.Accounts) > MaxAccountsPerTransaction {
		return Transaction{}, ErrTooManyAccounts
	}
	if len(st.Data) > MaxInstructionDataLen {
		return Transaction{}, ErrInstructionDataTooLarge
	}
	if len(st.Signatures) == 0 {
		return Transaction{}, fmt.Errorf("%w: no signatures", ErrSignatureVerification)
	}
	msg := st.Message(st.Nonce, st.ValidUntil)

	claimed := make(map[Pubkey]bool)
	for _, m := range st.Accounts {
		if m.IsSigner {
			claimed[m.Pubkey] = true
		}
	}
	verified := make(map[Pubkey]bool, len(st.Signatures))
	for _, s := range st.Signatures {
		if !claimed[s.Pubkey] {
			return Transaction{}, fmt.Errorf("%w: unexpected signer %s", ErrSignatureVerification, s.Pubkey)
		}
		if !ed25519.Verify(ed25519.PublicKey(s.Pubkey[:]), msg, s.Signature[:]) {
			return Transaction{}, fmt.Errorf("%w: %s", ErrSignatureVerification, s.Pubkey)
		}
		verified[s.Pubkey] = true
	}
	for key := range claimed {
		if !verified[key] {
			return Transaction{}, fmt.Errorf("%w: missing signature for %s", ErrSignatureVerification, key)
		}
	}

	out := Transaction{
		ProgramID: st.ProgramID,
		Accounts:  make([]AccountMeta, len(st.Accounts)),
		Data:      append([]byte(nil), st.Data...),
	}
	for i, m := range st.Accounts {
		out.Accounts[i] = AccountMeta{Pubkey: m.Pubkey, IsSigner: verified[m.Pubkey], IsWritable: m.IsWritable}
	}
	return out, nil
}

// CheckLifetime recusa transações vencidas ou com validade maior que maxLifetime
// a partir de now. O limite superior é o que permite ao guard de replay guardar
// cada assinatura aceita até ela vencer.
func (st SignedTransaction) CheckLifetime(now time.Time, maxLifetime time.Duration) error {
	until := time.Unix(st.ValidUntil, 0)
	if st.ValidUntil <= 0 || now.After(until) {
		return fmt.Errorf("%w: valid_until=%d", ErrTransactionExpired, st.ValidUntil)
	}
	if until.After(now.Add(maxLifetime)) {
		return fmt.Errorf("%w: valid_until=%d max=%s", ErrLifetimeTooLong, st.ValidUntil, maxLifetime)
	}
	return nil
}

// ExpiresAt é o instante a partir do qual a transação deixa de ser aceita
func (st SignedTransaction) ExpiresAt() time.Time {
	return time.Unix(st.ValidUntil, 0).Add(time.Second)
}

// ID identifica a transação pela primeira assinatura (base58)
func (st SignedTransaction) ID() string {
	if len(st.Signatures) == 0 {
		return ""
	}
	return base58.Encode(st.Signatures[0].Signature[:])
}

// PubkeyOf devolve a Pubkey de uma chave privada ed25519
func PubkeyOf(k ed25519.PrivateKey) Pubkey {
	var pk Pubkey
	copy(pk[:], k.Public().(ed25519.PublicKey))
	return pk
}

package ledger

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLen é o tamanho fixo de uma identidade no ledger
const PubkeyLen = 32

// Pubkey identifica contas, programas e signatários (chave ed25519 de 32 bytes)
type Pubkey [PubkeyLen]byte

var (
	// SystemProgramID é o programa dono de contas recém-criadas
	SystemProgramID = MustParsePubkey("11111111111111111111111111111111")
	// SysvarOwnerID é o dono das contas de sysvar sintetizadas pelo runtime
	SysvarOwnerID = MustParsePubkey("Sysvar1111111111111111111111111111111111111")
	// SysvarRentID expõe os parâmetros de isenção de aluguel
	SysvarRentID = MustParsePubkey("SysvarRent111111111111111111111111111111111")
	// SysvarClockID expõe o relógio do ledger
	SysvarClockID = MustParsePubkey("SysvarC1ock11111111111111111111111111111111")
)

// ParsePubkey decodifica a forma base58 de uma Pubkey
func ParsePubkey(s string) (Pubkey, error) {
	var pk Pubkey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("decode pubkey %q: %w", s, err)
	}
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("decode pubkey %q: got %d bytes, want %d", s, len(b), PubkeyLen)
	}
	copy(pk[:], b)
	return pk, nil
}

// MustParsePubkey é usado apenas para constantes conhecidas
func MustParsePubkey(s string) Pubkey {
	pk, err := ParsePubkey(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PubkeyFromBytes copia exatamente 32 bytes para uma Pubkey
func PubkeyFromBytes(b []byte) (Pubkey, error) {
	var pk Pubkey
	if len(b) != PubkeyLen {
		return pk, fmt.Errorf("pubkey: got %d bytes, want %d", len(b), PubkeyLen)
	}
	copy(pk[:], b)
	return pk, nil
}

func (p Pubkey) String() string { return base58.Encode(p[:]) }

func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// Compare ordena chaves de forma estável (usado para ordenar locks)
func (p Pubkey) Compare(o Pubkey) int { return bytes.Compare(p[:], o[:]) }

func (p Pubkey) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Pubkey) UnmarshalText(text []byte) error {
	pk, err := ParsePubkey(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

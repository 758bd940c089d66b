package state

import (
	"encoding/binary"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

// RecordLen é o tamanho fixo do registro: flag + jogador + aposta + resultado
const RecordLen = 1 + ledger.PubkeyLen + 8 + 1

const (
	offInitialized = 0
	offInitializer = 1
	offBid         = offInitializer + ledger.PubkeyLen
	offWon         = offBid + 8
)

// Record é o estado persistido de uma aposta
type Record struct {
	IsInitialized bool          `json:"is_initialized"`
	Initializer   ledger.Pubkey `json:"initializer"`
	BidAmount     uint64        `json:"bid_amount"`
	Won           bool          `json:"won"`
}

// Pack serializa o registro em exatamente RecordLen bytes
func (r Record) Pack() []byte {
	b := make([]byte, RecordLen)
	r.put(b)
	return b
}

// PackInto grava o registro no buffer da conta, que precisa ter RecordLen bytes
func (r Record) PackInto(dst []byte) error {
	if len(dst) != RecordLen {
		return ledger.ErrInvalidAccountData
	}
	r.put(dst)
	return nil
}

func (r Record) put(b []byte) {
	b[offInitialized] = boolByte(r.IsInitialized)
	copy(b[offInitializer:offBid], r.Initializer[:])
	binary.LittleEndian.PutUint64(b[offBid:offWon], r.BidAmount)
	b[offWon] = boolByte(r.Won)
}

// Unpack decodifica e exige registro inicializado
func Unpack(b []byte) (Record, error) {
	r, err := UnpackUnchecked(b)
	if err != nil {
		return Record{}, err
	}
	if !r.IsInitialized {
		return Record{}, ledger.ErrUninitializedAccount
	}
	return r, nil
}

// UnpackUnchecked decodifica sem olhar a flag de inicialização.
// Tamanho e valores dos booleanos continuam validados.
func UnpackUnchecked(b []byte) (Record, error) {
	if len(b) != RecordLen {
		return Record{}, ledger.ErrInvalidAccountData
	}
	init, ok := byteBool(b[offInitialized])
	if !ok {
		return Record{}, ledger.ErrInvalidAccountData
	}
	won, ok := byteBool(b[offWon])
	if !ok {
		return Record{}, ledger.ErrInvalidAccountData
	}
	r := Record{
		IsInitialized: init,
		BidAmount:     binary.LittleEndian.Uint64(b[offBid:offWon]),
		Won:           won,
	}
	copy(r.Initializer[:], b[offInitializer:offBid])
	return r, nil
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

func byteBool(b byte) (bool, bool) {
	switch b {
	case 0:
		return false, true
	case 1:
		return true, true
	default:
		return false, false
	}
}

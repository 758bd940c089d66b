package outcome

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

// Oracle decide vitória ou derrota a partir da entropia
type Oracle interface {
	Decide(entropy int64) bool
}

// Modulo é o oráculo padrão: resto da divisão por 10, vitória acima de 4
type Modulo struct{}

func (Modulo) Decide(entropy int64) bool { return Decide(entropy) }

// Decide devolve true quando entropy mod 10 (em 0..9) é maior que 4.
// Entropia negativa cai no mesmo espaço de restos.
func Decide(entropy int64) bool {
	r := entropy % 10
	if r < 0 {
		r += 10
	}
	return r > 4
}

// Request reúne o que uma fonte de entropia pode usar para uma jogada
type Request struct {
	Record      ledger.Pubkey
	Initializer ledger.Pubkey
	Bid         uint64
	Clock       ledger.Clock
}

// Source fornece a entropia de uma jogada
type Source interface {
	Entropy(ctx context.Context, req Request) (int64, error)
}

// ClockSource usa o timestamp do relógio do ledger
type ClockSource struct{}

func (ClockSource) Entropy(_ context.Context, req Request) (int64, error) {
	return req.Clock.UnixTimestamp, nil
}

// SeededSource deriva a entropia de HMAC-SHA256 com uma seed do servidor.
// O hash da seed é publicado antes das jogadas (Commitment) e a seed pode
// ser revelada depois para auditoria.
type SeededSource struct {
	seed []byte
}

func NewSeededSource(seed []byte) *SeededSource {
	return &SeededSource{seed: append([]byte(nil), seed...)}
}

func (s *SeededSource) Entropy(_ context.Context, req Request) (int64, error) {
	h := hmac.New(sha256.New, s.seed)
	h.Write(req.Record[:])
	h.Write(req.Initializer[:])
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], req.Clock.Slot)
	binary.LittleEndian.PutUint64(buf[8:16], req.Bid)
	h.Write(buf[:])
	sum := h.Sum(nil)
	return int64(binary.LittleEndian.Uint64(sum[:8])), nil
}

// Commitment é o hex do sha256 da seed
func (s *SeededSource) Commitment() string {
	sum := sha256.Sum256(s.seed)
	return hex.EncodeToString(sum[:])
}

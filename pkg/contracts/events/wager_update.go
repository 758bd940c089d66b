package events

// Status de um registro de aposta como visto pelos clientes
const (
	StatusPlayed  = "PLAYED"
	StatusSettled = "SETTLED"
)

// WagerUpdate é difundido via Redis Pub/Sub para os clientes websocket
// inscritos no registro.
type WagerUpdate struct {
	Record      string `json:"record"`
	Initializer string `json:"initializer"`
	Status      string `json:"status"`
	Bid         uint64 `json:"bid"`
	Won         bool   `json:"won"`
	Payout      uint64 `json:"payout,omitempty"`
	Slot        uint64 `json:"slot"`
}

package events

// Evento publicado no tópico "wager_played" depois de um Play confirmado no ledger.
// Chaves são base58; valores em lamports.
type WagerPlayed struct {
	ExecutionID   string `json:"execution_id"`
	Signature     string `json:"signature"`
	Record        string `json:"record"`
	Initializer   string `json:"initializer"`
	Deposit       string `json:"deposit"`
	Funds         string `json:"funds"`
	Bid           uint64 `json:"bid"`
	Won           bool   `json:"won"`
	Slot          uint64 `json:"slot"`
	UnixTimestamp int64  `json:"unix_timestamp"`
	TsUnixMs      int64  `json:"ts_unix_ms"`
}

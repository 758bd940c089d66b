package events

// Evento emitido quando o jogador liquida e fecha o registro (PlayerWithdraw).
type WagerSettled struct {
	ExecutionID    string `json:"execution_id"`
	Signature      string `json:"signature"`
	Record         string `json:"record"`
	Initializer    string `json:"initializer"`
	Funds          string `json:"funds"`
	Bid            uint64 `json:"bid"`
	Won            bool   `json:"won"`
	Payout         uint64 `json:"payout"`          // 2x bid quando ganhou, 0 caso contrário
	RecordLamports uint64 `json:"record_lamports"` // saldo do registro devolvido ao jogador
	Slot           uint64 `json:"slot"`
	TsUnixMs       int64  `json:"ts_unix_ms"`
}

package events

type FundsWithdrawn struct {
	ExecutionID  string `json:"execution_id"`
	Signature    string `json:"signature"`
	Admin        string `json:"admin"`
	Funds        string `json:"funds"`
	Amount       uint64 `json:"amount"`
	FundsBalance uint64 `json:"funds_balance"`
	Slot         uint64 `json:"slot"`
	TsUnixMs     int64  `json:"ts_unix_ms"`
}

package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Record: pubkey base58 do registro, obrigatório para subscribe/unsubscribe
type ClientMsg struct {
	Type   string `json:"type"`
	Record string `json:"record"`
}

// WagerUpdate é o envelope enviado aos clientes inscritos num registro
type WagerUpdate struct {
	Record  string      `json:"record"`
	Payload interface{} `json:"payload"`
}

package ws

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/radieske/lucky-wager-poc/internal/ledger"
)

// conn serializa as escritas; gorilla não aceita escritores concorrentes
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(v)
}

func (c *conn) writeText(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas de registros de aposta
// subs: mapeia a pubkey do registro para o conjunto de conexões inscritas
type Hub struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	subs     map[string]map[*conn]struct{}
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		subs:     make(map[string]map[*conn]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
// Cada cliente pode se inscrever em vários registros
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &conn{ws: ws}
	defer ws.Close()

	for {
		var msg ClientMsg
		if err := ws.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "subscribe":
			if _, err := ledger.ParsePubkey(msg.Record); err != nil {
				_ = c.writeJSON(map[string]string{"type": "error", "error": "invalid record pubkey"})
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.Record]; !ok {
				h.subs[msg.Record] = make(map[*conn]struct{})
			}
			h.subs[msg.Record][c] = struct{}{}
			h.mu.Unlock()
			_ = c.writeJSON(map[string]string{"type": "subscribed", "record": msg.Record})
		case "unsubscribe":
			h.remove(msg.Record, c)
		case "ping":
			_ = c.writeJSON(map[string]string{"type": "pong"})
		}
	}
	// Remove a conexão de todas as assinaturas ao desconectar
	h.mu.Lock()
	for record, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, record)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) remove(record string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if m, ok := h.subs[record]; ok {
		delete(m, c)
		if len(m) == 0 {
			delete(h.subs, record)
		}
	}
}

// Subscribers devolve quantas conexões acompanham o registro
func (h *Hub) Subscribers(record string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[record])
}

// Broadcast envia a atualização a todos os clientes inscritos no registro
func (h *Hub) Broadcast(update WagerUpdate) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.subs[update.Record]))
	for c := range h.subs[update.Record] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	b, _ := json.Marshal(update)
	for _, c := range conns {
		_ = c.writeText(b)
	}
}

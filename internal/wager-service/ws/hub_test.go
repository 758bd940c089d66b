package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const record = "J1jVH8q8Yz6pMuKUNA4tgDeU1SwhwZcwCtM86YmoSDSD"

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSubscribeAndBroadcast(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv)
	require.NoError(t, c.WriteJSON(ClientMsg{Type: "subscribe", Record: record}))

	var ack map[string]string
	require.NoError(t, c.ReadJSON(&ack))
	assert.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, 1, hub.Subscribers(record))

	hub.Broadcast(WagerUpdate{Record: record, Payload: map[string]any{"won": true}})
	hub.Broadcast(WagerUpdate{Record: "other", Payload: "ignored"})

	require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got struct {
		Record  string         `json:"record"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, c.ReadJSON(&got))
	assert.Equal(t, record, got.Record)
	assert.Equal(t, true, got.Payload["won"])
}

func TestRejectsInvalidRecordAndAnswersPing(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	c := dial(t, srv)
	require.NoError(t, c.WriteJSON(ClientMsg{Type: "subscribe", Record: "nope"}))
	var msg map[string]string
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, c.WriteJSON(ClientMsg{Type: "ping"}))
	require.NoError(t, c.ReadJSON(&msg))
	assert.Equal(t, "pong", msg["type"])
	assert.Zero(t, hub.Subscribers("nope"))
}

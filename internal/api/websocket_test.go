package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.handler)
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestWebSocket_StreamsStateChanges(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}))
	resp := readWS(t, conn)
	assert.Equal(t, WSTypeResponse, resp.Type)
	assert.Equal(t, "1", resp.ID)

	require.NoError(t, env.registry.SetState(context.Background(), "devices.livingroom.power", true, true))

	ev := readWS(t, conn)
	assert.Equal(t, WSTypeEvent, ev.Type)
	assert.Equal(t, ChannelStateChanged, ev.EventType)
	payload := ev.Payload.(map[string]any)
	assert.Equal(t, "devices.livingroom.power", payload["id"])
	assert.Equal(t, true, payload["value"])
	assert.Equal(t, true, payload["ack"])
}

func TestWebSocket_Unsubscribed(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}))
	readWS(t, conn)
	require.NoError(t, conn.WriteJSON(WSMessage{
		Type:    WSTypeUnsubscribe,
		Payload: WSSubscribePayload{Channels: []string{ChannelStateChanged}},
	}))
	resp := readWS(t, conn)
	assert.Contains(t, resp.Payload, "unsubscribed")

	require.NoError(t, env.registry.SetState(context.Background(), "stats.messagesReceived", 1.0, true))

	// A ping after the write proves no event was queued ahead of the pong.
	require.NoError(t, conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p"}))
	pong := readWS(t, conn)
	assert.Equal(t, WSTypePong, pong.Type)
	assert.Equal(t, "p", pong.ID)
}

func TestWebSocket_RejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "bogus", ID: "x"}))
	msg := readWS(t, conn)
	assert.Equal(t, WSTypeError, msg.Type)
	assert.Equal(t, "x", msg.ID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	msg = readWS(t, conn)
	assert.Equal(t, WSTypeError, msg.Type)
}

func TestHub_BroadcastSkipsUnsubscribedClients(t *testing.T) {
	env := newTestEnv(t)
	hub := env.srv.hub

	subscribed := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{ChannelStateChanged: {}}}
	other := &WSClient{hub: hub, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	hub.Register(subscribed)
	hub.Register(other)
	assert.Equal(t, 2, hub.ClientCount())

	hub.Broadcast(ChannelStateChanged, map[string]any{"id": "a"})
	assert.Len(t, subscribed.send, 1)
	assert.Empty(t, other.send)

	hub.Unregister(subscribed)
	hub.Unregister(other)
	assert.Equal(t, 0, hub.ClientCount())
}

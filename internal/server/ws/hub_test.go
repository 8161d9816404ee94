package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanStream struct {
	ch  chan []byte
	err error
}

func (s *chanStream) Subscribe(context.Context) (<-chan []byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.ch, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type statusEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		Mode          string `json:"mode"`
		WSConnected   bool   `json:"ws_connected"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	} `json:"payload"`
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	return msg
}

func TestHub_ClientGetsEnvelopeThenEvents(t *testing.T) {
	stream := &chanStream{ch: make(chan []byte, 1)}
	hub := NewHub(stream, "all", time.Now().Add(-90*time.Second), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	conn := dialHub(t, hub)

	// First frame is the connection status envelope.
	var env statusEnvelope
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &env))
	assert.Equal(t, "bot_status", env.Type)
	assert.Equal(t, "all", env.Payload.Mode)
	assert.True(t, env.Payload.WSConnected)
	assert.GreaterOrEqual(t, env.Payload.UptimeSeconds, int64(89))

	// Telemetry events follow verbatim.
	stream.ch <- []byte(`{"kind":"trade_confirmed","message":"trade confirmed"}`)
	assert.JSONEq(t, `{"kind":"trade_confirmed","message":"trade confirmed"}`, string(readFrame(t, conn)))

	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on cancel")
	}
	assert.Zero(t, hub.clientCount(), "shutdown disconnects every client")
}

func TestHub_BroadcastReachesEveryClient(t *testing.T) {
	stream := &chanStream{ch: make(chan []byte, 1)}
	hub := NewHub(stream, "server", time.Now(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	first := dialHub(t, hub)
	second := dialHub(t, hub)

	// Skip each client's envelope.
	readFrame(t, first)
	readFrame(t, second)
	require.Eventually(t, func() bool { return hub.clientCount() == 2 }, time.Second, 10*time.Millisecond)

	stream.ch <- []byte(`{"kind":"breaker_open"}`)

	assert.JSONEq(t, `{"kind":"breaker_open"}`, string(readFrame(t, first)))
	assert.JSONEq(t, `{"kind":"breaker_open"}`, string(readFrame(t, second)))
}

func TestHub_DisconnectUnregistersClient(t *testing.T) {
	stream := &chanStream{ch: make(chan []byte)}
	hub := NewHub(stream, "all", time.Now(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	conn := dialHub(t, hub)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return hub.clientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.clientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_ServesClientsEvenWhenStreamIsDown(t *testing.T) {
	stream := &chanStream{err: errors.New("redis: connection refused")}
	hub := NewHub(stream, "all", time.Now(), testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	conn := dialHub(t, hub)

	var env statusEnvelope
	require.NoError(t, json.Unmarshal(readFrame(t, conn), &env))
	assert.Equal(t, "bot_status", env.Type, "envelope still arrives without a live stream")
}

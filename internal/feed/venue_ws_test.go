package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWSVenue(url string, cache *memCache, onSeen func(string)) *wsVenue {
	spec := VenueSpec{Name: "curve", Kind: "ws", URL: url}
	cfg := Config{Pairs: []string{"WETH/USDC"}}
	return newWSVenue(spec, cfg, cache, onSeen, testLogger())
}

func TestWSVenue_HandleStoresQuote(t *testing.T) {
	cache := newMemCache()
	var seen atomic.Int32
	v := testWSVenue("ws://unused", cache, func(string) { seen.Add(1) })

	v.handle(context.Background(), []byte(`{"type":"quote","pair":"WETH/USDC","bid":100,"ask":101,"depth":500}`))

	q, ok := cache.get("curve", "WETH/USDC")
	require.True(t, ok)
	assert.Equal(t, 100.0, q.Bid)
	assert.Equal(t, 101.0, q.Ask)
	assert.EqualValues(t, 1, seen.Load())
}

func TestWSVenue_HandleDropsJunk(t *testing.T) {
	cache := newMemCache()
	var seen atomic.Int32
	v := testWSVenue("ws://unused", cache, func(string) { seen.Add(1) })
	ctx := context.Background()

	v.handle(ctx, []byte(`{not json`))
	v.handle(ctx, []byte(`{"type":"heartbeat"}`))
	v.handle(ctx, []byte(`{"type":"quote","pair":"","bid":100,"ask":101}`))
	v.handle(ctx, []byte(`{"type":"quote","pair":"WETH/USDC","bid":0,"ask":101}`))

	assert.Empty(t, cache.quotes)
	assert.Zero(t, seen.Load())
}

func TestWSVenue_StreamsQuotesIntoCache(t *testing.T) {
	subscribed := make(chan wsSubscribe, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var sub wsSubscribe
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub

		_ = conn.WriteJSON(quoteMessage{Type: "quote", Pair: "WETH/USDC", Bid: 100, Ask: 101, Depth: 500})

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cache := newMemCache()
	v := testWSVenue("ws"+strings.TrimPrefix(srv.URL, "http"), cache, func(string) {})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- v.Run(ctx) }()

	select {
	case sub := <-subscribed:
		assert.Equal(t, "subscribe", sub.Type)
		assert.Equal(t, []string{"WETH/USDC"}, sub.Pairs)
	case <-time.After(2 * time.Second):
		t.Fatal("venue never subscribed")
	}

	require.Eventually(t, func() bool {
		_, ok := cache.get("curve", "WETH/USDC")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("venue did not stop on cancel")
	}
}

package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theatom/atombot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential reconnect backoff.
	maxReconnectDelay = 60 * time.Second
)

// wsSubscribe is the subscription command sent after connecting.
type wsSubscribe struct {
	Type  string   `json:"type"`
	Pairs []string `json:"pairs"`
}

// wsVenue streams quotes from a venue websocket into the quote cache,
// reconnecting with exponential backoff on disconnect.
type wsVenue struct {
	spec   VenueSpec
	pairs  []string
	cache  domain.QuoteCache
	onSeen func(venue string)
	logger *slog.Logger
}

func newWSVenue(spec VenueSpec, cfg Config, cache domain.QuoteCache, onSeen func(string), logger *slog.Logger) *wsVenue {
	return &wsVenue{
		spec:   spec,
		pairs:  cfg.Pairs,
		cache:  cache,
		onSeen: onSeen,
		logger: logger.With(
			slog.String("component", "feed_ws"),
			slog.String("venue", spec.Name),
		),
	}
}

func (v *wsVenue) Name() string { return v.spec.Name }

// Run connects and streams until ctx is cancelled, reconnecting with
// backoff after each drop.
func (v *wsVenue) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := v.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		v.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads until the connection drops.
func (v *wsVenue) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, v.spec.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: dial %s: %w", v.spec.Name, err)
	}
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(wsSubscribe{Type: "subscribe", Pairs: v.pairs}); err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", v.spec.Name, err)
	}

	v.logger.Info("stream connected", slog.Int("pairs", len(v.pairs)))

	// Close the connection when ctx ends so the blocked read returns, and
	// keep the peer alive with pings meanwhile.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go v.keepAlive(pingCtx, conn)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("feed: %s: %w", v.spec.Name, domain.ErrWSDisconnect)
		}
		v.handle(ctx, raw)
	}
}

// keepAlive pings until the connection's context ends, then closes the
// connection to unblock the reader.
func (v *wsVenue) keepAlive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			)
			_ = conn.Close()
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle parses one stream message and stores the quote. Unparseable or
// non-quote messages are dropped silently.
func (v *wsVenue) handle(ctx context.Context, raw []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return
	}
	if msg.Type != "" && msg.Type != "quote" {
		return
	}
	if msg.Pair == "" || msg.Bid <= 0 || msg.Ask <= 0 {
		return
	}

	q := domain.Quote{
		Venue:      v.spec.Name,
		Pair:       msg.Pair,
		Bid:        msg.Bid,
		Ask:        msg.Ask,
		Depth:      msg.Depth,
		ObservedAt: msg.observedAt(time.Now()).UTC(),
	}
	if err := v.cache.SetQuote(ctx, q); err != nil {
		v.logger.WarnContext(ctx, "quote store failed",
			slog.String("pair", msg.Pair),
			slog.String("error", err.Error()),
		)
		return
	}
	v.onSeen(v.spec.Name)
}

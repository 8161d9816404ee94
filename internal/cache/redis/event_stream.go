package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/theatom/atombot/internal/domain"
)

// EventStream implements domain.EventBus using Redis Pub/Sub for live
// tailing and a capped Redis Stream for the replayable event window the
// dashboard reads on load.
type EventStream struct {
	rdb    *redis.Client
	maxLen int64
}

// NewEventStream creates an EventStream whose streams are trimmed to
// approximately maxLen entries.
func NewEventStream(c *Client, maxLen int64) *EventStream {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &EventStream{rdb: c.Underlying(), maxLen: maxLen}
}

// Publish sends a raw payload to a Pub/Sub channel.
func (es *EventStream) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := es.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel
// of raw payloads. The subscription closes when ctx is cancelled, and the
// returned channel is closed at that point as well.
func (es *EventStream) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = es.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = es.rdb.Subscribe(ctx, channel)
	}

	// Verify the subscription is established before handing it out.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the channel includes glob-style wildcards, in
// which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// StreamAppend appends a payload via XADD with approximate MAXLEN trimming.
func (es *EventStream) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	args := &redis.XAddArgs{
		Stream: stream,
		MaxLen: es.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"payload": payload,
		},
	}
	if err := es.rdb.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis: stream append %s: %w", stream, err)
	}
	return nil
}

// StreamRecent returns up to count entries, most recent first.
func (es *EventStream) StreamRecent(ctx context.Context, stream string, count int) ([]domain.StreamMessage, error) {
	if count <= 0 {
		return nil, nil
	}

	msgs, err := es.rdb.XRevRangeN(ctx, stream, "+", "-", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: stream recent %s: %w", stream, err)
	}

	out := make([]domain.StreamMessage, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"]
		if !ok {
			continue
		}

		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		case []byte:
			data = v
		default:
			continue
		}

		out = append(out, domain.StreamMessage{ID: msg.ID, Payload: data})
	}
	return out, nil
}

// StreamClear deletes the stream, truncating the visible event window.
func (es *EventStream) StreamClear(ctx context.Context, stream string) error {
	if err := es.rdb.Del(ctx, stream).Err(); err != nil {
		return fmt.Errorf("redis: stream clear %s: %w", stream, err)
	}
	return nil
}

// StreamLen returns the number of entries currently in the stream.
func (es *EventStream) StreamLen(ctx context.Context, stream string) (int64, error) {
	n, err := es.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return 0, fmt.Errorf("redis: stream len %s: %w", stream, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*EventStream)(nil)

package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"thesisflow/api/internal/logging"
	"thesisflow/api/internal/metrics"
	"thesisflow/api/internal/store"

	"github.com/redis/go-redis/v9"
)

// RedisFeed fans messages out across API instances over Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	buffer int
}

func NewRedisFeed(client *redis.Client) *RedisFeed {
	return &RedisFeed{client: client, buffer: 32}
}

func (f *RedisFeed) Publish(ctx context.Context, msg store.ChatMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := f.client.Publish(ctx, Channel(msg.VersionID), payload).Err(); err != nil {
		metrics.FeedPublishTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("publish message: %w", err)
	}
	metrics.FeedPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

// Subscribe returns once Redis has confirmed the subscription, so any message
// published afterwards is delivered.
func (f *RedisFeed) Subscribe(ctx context.Context, versionID string) (*Subscription, error) {
	ps := f.client.Subscribe(ctx, Channel(versionID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", Channel(versionID), err)
	}

	out := make(chan store.ChatMessage, f.buffer)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var msg store.ChatMessage
				if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
					lg := logging.Component("feed")
					lg.Warn().Err(err).Str("channel", raw.Channel).Msg("drop undecodable message")
					continue
				}
				select {
				case out <- msg:
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return newSubscription(out, func() { close(done) }), nil
}

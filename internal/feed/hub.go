package feed

import (
	"context"
	"sync"

	"thesisflow/api/internal/logging"
	"thesisflow/api/internal/metrics"
	"thesisflow/api/internal/store"
)

// Hub is an in-process Feed for single-instance deployments.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSubscriber]struct{}
	buffer int
}

type hubSubscriber struct {
	ch   chan store.ChatMessage
	done chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSubscriber]struct{}), buffer: 32}
}

// Publish never blocks; a subscriber whose buffer is full misses the message
// and recovers it from its next snapshot.
func (h *Hub) Publish(ctx context.Context, msg store.ChatMessage) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[msg.VersionID] {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		default:
			lg := logging.Component("feed")
			lg.Warn().Str("version_id", msg.VersionID).Msg("subscriber buffer full, message dropped")
		}
	}
	metrics.FeedPublishTotal.WithLabelValues("ok").Inc()
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, versionID string) (*Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &hubSubscriber{ch: make(chan store.ChatMessage, h.buffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.subs[versionID] == nil {
		h.subs[versionID] = make(map[*hubSubscriber]struct{})
	}
	h.subs[versionID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	remove := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[versionID], sub)
			if len(h.subs[versionID]) == 0 {
				delete(h.subs, versionID)
			}
			close(sub.done)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			remove()
		case <-sub.done:
		}
	}()
	return newSubscription(sub.ch, remove), nil
}

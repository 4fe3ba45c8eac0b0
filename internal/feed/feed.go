// Package feed delivers newly created chat messages to live viewers of a version.
package feed

import (
	"context"
	"sort"
	"sync"

	"thesisflow/api/internal/store"
)

// Feed publishes message-created events and lets viewers subscribe per version.
type Feed interface {
	Publish(ctx context.Context, msg store.ChatMessage) error
	Subscribe(ctx context.Context, versionID string) (*Subscription, error)
}

// Channel is the feed channel name for a version.
func Channel(versionID string) string {
	return "conversation:" + versionID
}

// Subscription receives messages for one version until Close is called or
// the subscribing context ends. C is closed when delivery stops.
type Subscription struct {
	C <-chan store.ChatMessage

	once  sync.Once
	close func()
}

func newSubscription(c <-chan store.ChatMessage, closeFn func()) *Subscription {
	return &Subscription{C: c, close: closeFn}
}

func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// MergeMessages folds incoming messages into list, dropping ids already
// present, and returns the result ordered by creation time.
func MergeMessages(list []store.ChatMessage, incoming ...store.ChatMessage) []store.ChatMessage {
	seen := make(map[string]struct{}, len(list)+len(incoming))
	out := make([]store.ChatMessage, 0, len(list)+len(incoming))
	for _, group := range [][]store.ChatMessage{list, incoming} {
		for _, msg := range group {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

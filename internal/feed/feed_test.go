package feed

import (
	"context"
	"testing"
	"time"

	"thesisflow/api/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, sub *Subscription) store.ChatMessage {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return store.ChatMessage{}
}

func expectNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case msg, ok := <-sub.C:
		if ok {
			t.Fatalf("unexpected message %+v", msg)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func exerciseFeed(t *testing.T, f Feed) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	v1, err := f.Subscribe(ctx, "v1")
	if err != nil {
		t.Fatalf("Subscribe(v1) error = %v", err)
	}
	defer v1.Close()
	v2, err := f.Subscribe(ctx, "v2")
	if err != nil {
		t.Fatalf("Subscribe(v2) error = %v", err)
	}
	defer v2.Close()

	sent := store.ChatMessage{ID: "m1", VersionID: "v1", SenderID: "u1", Message: "hello", CreatedAt: time.Now().UTC()}
	if err := f.Publish(ctx, sent); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	got := receive(t, v1)
	if got.ID != sent.ID || got.Message != "hello" {
		t.Fatalf("received %+v", got)
	}
	expectNothing(t, v2)

	v1.Close()
	v1.Close()
	select {
	case _, ok := <-v1.C:
		if ok {
			t.Fatal("expected closed channel after Close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after Close")
	}
}

func TestHubDeliversPerVersion(t *testing.T) {
	exerciseFeed(t, NewHub())
}

func TestRedisFeedDeliversPerVersion(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	exerciseFeed(t, NewRedisFeed(client))
}

func TestHubUnsubscribesOnContextCancel(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx, "v1")
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if n := liveSubscribers(hub, "v1"); n != 1 {
		t.Fatalf("live subscribers = %d", n)
	}
	cancel()
	select {
	case <-sub.C:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed on cancel")
	}
	if n := liveSubscribers(hub, "v1"); n != 0 {
		t.Fatalf("live subscribers after cancel = %d", n)
	}
}

func liveSubscribers(h *Hub, versionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[versionID])
}

func TestMergeMessagesDedupesAndOrders(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snapshot := []store.ChatMessage{
		{ID: "a", CreatedAt: base},
		{ID: "b", CreatedAt: base.Add(time.Second)},
	}
	merged := MergeMessages(snapshot,
		store.ChatMessage{ID: "b", CreatedAt: base.Add(time.Second)},
		store.ChatMessage{ID: "c", CreatedAt: base.Add(500 * time.Millisecond)},
	)
	ids := make([]string, 0, len(merged))
	for _, m := range merged {
		ids = append(ids, m.ID)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "c" || ids[2] != "b" {
		t.Fatalf("MergeMessages() ids = %v", ids)
	}
}

func TestChannel(t *testing.T) {
	if Channel("v9") != "conversation:v9" {
		t.Fatalf("Channel() = %q", Channel("v9"))
	}
}

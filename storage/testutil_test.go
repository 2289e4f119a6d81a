package storage

import (
	"context"
	"sync/atomic"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

// fakeClock is a settable millisecond clock for deterministic timestamps.
type fakeClock struct {
	ms atomic.Int64
}

func useFakeClock(store *Store, startMs int64) *fakeClock {
	clock := &fakeClock{}
	clock.ms.Store(startMs)
	store.now = clock.ms.Load
	return clock
}

func (c *fakeClock) Set(ms int64) {
	c.ms.Store(ms)
}

func mustUpsertUser(t *testing.T, store *Store, externalID, name string) string {
	t.Helper()

	userID, err := store.UpsertUser(context.Background(), externalID, name, externalID+"@example.com", nil)
	if err != nil {
		t.Fatalf("upsert user %q: %v", externalID, err)
	}
	return userID
}

func mustConversation(t *testing.T, store *Store, userA, userB string) string {
	t.Helper()

	conversationID, _, err := store.GetOrCreateConversation(context.Background(), userA, userB)
	if err != nil {
		t.Fatalf("get or create conversation: %v", err)
	}
	return conversationID
}

func mustSend(t *testing.T, store *Store, conversationID, senderID, content string) *Message {
	t.Helper()

	message, err := store.SendMessage(context.Background(), conversationID, senderID, content)
	if err != nil {
		t.Fatalf("send message %q: %v", content, err)
	}
	return message
}

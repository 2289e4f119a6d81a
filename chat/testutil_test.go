package chat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"chatsync/live"
	"chatsync/storage"

	"go.uber.org/zap/zaptest"
)

type testEnv struct {
	service *Service
	store   *storage.Store
	hub     *live.Hub
	clock   *atomic.Int64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, _, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	clock := &atomic.Int64{}
	clock.Store(1)
	store.SetClock(clock.Load)

	logger := zaptest.NewLogger(t)
	hub := live.NewHub(logger, live.Options{})
	t.Cleanup(func() {
		hub.Close()
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return &testEnv{
		service: NewService(store, hub, logger, Options{TypingRefresh: 20 * time.Millisecond}),
		store:   store,
		hub:     hub,
		clock:   clock,
	}
}

func (e *testEnv) mustLogin(t *testing.T, externalID, name string) string {
	t.Helper()

	userID, err := e.service.UpsertProfile(context.Background(), Profile{
		ExternalID: externalID,
		Name:       name,
		Email:      externalID + "@example.com",
	})
	if err != nil {
		t.Fatalf("upsert profile %q: %v", externalID, err)
	}
	return userID
}

func (e *testEnv) isOnline(t *testing.T, externalID string) bool {
	t.Helper()

	user, err := e.service.GetUserByExternalID(context.Background(), externalID)
	if err != nil {
		t.Fatalf("get user %q: %v", externalID, err)
	}
	return user.IsOnline
}

func (e *testEnv) mustConversation(t *testing.T, userA, userB string) string {
	t.Helper()

	conversationID, err := e.service.GetOrCreateConversation(context.Background(), userA, userB)
	if err != nil {
		t.Fatalf("get or create conversation: %v", err)
	}
	return conversationID
}

func (e *testEnv) mustSend(t *testing.T, conversationID, senderID, content string) string {
	t.Helper()

	messageID, err := e.service.SendMessage(context.Background(), conversationID, senderID, content)
	if err != nil {
		t.Fatalf("send message %q: %v", content, err)
	}
	return messageID
}

func nextUpdate(t *testing.T, sub *live.Subscription) live.Update {
	t.Helper()

	select {
	case update, ok := <-sub.Updates():
		if !ok {
			t.Fatalf("subscription ended unexpectedly")
		}
		if update.Err != nil {
			t.Fatalf("live query failed: %v", update.Err)
		}
		return update
	case <-time.After(2 * time.Second):
		t.Fatalf("no live update within timeout")
	}
	return live.Update{}
}

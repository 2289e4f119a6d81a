package storage

import (
	"context"
	"testing"
)

func mustUnread(t *testing.T, store *Store, conversationID, userID string) int {
	t.Helper()

	count, err := store.UnreadCount(context.Background(), conversationID, userID)
	if err != nil {
		t.Fatalf("UnreadCount failed: %v", err)
	}
	return count
}

func TestUnreadCountFollowsWatermark(t *testing.T) {
	store := newTestStore(t)
	clock := useFakeClock(store, 1_000)
	ctx := context.Background()

	alice := mustUpsertUser(t, store, "ext-alice", "Alice")
	bob := mustUpsertUser(t, store, "ext-bob", "Bob")
	conversationID := mustConversation(t, store, alice, bob)

	mustSend(t, store, conversationID, alice, "hi")
	if got := mustUnread(t, store, conversationID, bob); got != 1 {
		t.Fatalf("expected bob unread 1, got %d", got)
	}
	if got := mustUnread(t, store, conversationID, alice); got != 0 {
		t.Fatalf("own messages must not count, got %d", got)
	}

	clock.Set(1_500)
	watermark, err := store.MarkRead(ctx, conversationID, bob)
	if err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if watermark != 1_500 {
		t.Fatalf("expected watermark 1500, got %d", watermark)
	}
	if got := mustUnread(t, store, conversationID, bob); got != 0 {
		t.Fatalf("expected bob unread 0 after read, got %d", got)
	}

	clock.Set(2_000)
	mustSend(t, store, conversationID, alice, "there")
	if got := mustUnread(t, store, conversationID, bob); got != 1 {
		t.Fatalf("expected bob unread 1 after new message, got %d", got)
	}
}

func TestUnreadCountIgnoresDeletedMessages(t *testing.T) {
	store := newTestStore(t)
	clock := useFakeClock(store, 1_000)
	ctx := context.Background()

	alice := mustUpsertUser(t, store, "ext-alice", "Alice")
	bob := mustUpsertUser(t, store, "ext-bob", "Bob")
	conversationID := mustConversation(t, store, alice, bob)

	first := mustSend(t, store, conversationID, alice, "one")
	clock.Set(1_001)
	mustSend(t, store, conversationID, alice, "two")
	if got := mustUnread(t, store, conversationID, bob); got != 2 {
		t.Fatalf("expected 2 unread, got %d", got)
	}

	if _, err := store.SoftDeleteMessage(ctx, first.MessageID); err != nil {
		t.Fatalf("SoftDeleteMessage failed: %v", err)
	}
	if got := mustUnread(t, store, conversationID, bob); got != 1 {
		t.Fatalf("expected deleted message to drop from unread, got %d", got)
	}
}

func TestMarkReadNeverMovesWatermarkBackwards(t *testing.T) {
	store := newTestStore(t)
	clock := useFakeClock(store, 3_000)
	ctx := context.Background()

	alice := mustUpsertUser(t, store, "ext-alice", "Alice")
	bob := mustUpsertUser(t, store, "ext-bob", "Bob")
	conversationID := mustConversation(t, store, alice, bob)

	if _, err := store.MarkRead(ctx, conversationID, bob); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	clock.Set(2_000)
	watermark, err := store.MarkRead(ctx, conversationID, bob)
	if err != nil {
		t.Fatalf("second MarkRead failed: %v", err)
	}
	if watermark != 3_000 {
		t.Fatalf("expected watermark to stay at 3000, got %d", watermark)
	}

	var receipts int
	if err := store.db.QueryRow(`SELECT COUNT(1) FROM read_receipts`).Scan(&receipts); err != nil {
		t.Fatalf("count receipts: %v", err)
	}
	if receipts != 1 {
		t.Fatalf("expected a single receipt row, got %d", receipts)
	}
}

func TestMarkReadCoversClampedMessages(t *testing.T) {
	store := newTestStore(t)
	clock := useFakeClock(store, 9_000)
	ctx := context.Background()

	alice := mustUpsertUser(t, store, "ext-alice", "Alice")
	bob := mustUpsertUser(t, store, "ext-bob", "Bob")
	conversationID := mustConversation(t, store, alice, bob)

	mustSend(t, store, conversationID, alice, "from the future")
	clock.Set(8_000)
	if _, err := store.MarkRead(ctx, conversationID, bob); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	if got := mustUnread(t, store, conversationID, bob); got != 0 {
		t.Fatalf("expected read to cover every committed message, got %d", got)
	}
}

package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestUpsertUserIsIdempotentAndForcesOnline(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	avatar := "https://cdn.example.com/alice.png"
	firstID, err := store.UpsertUser(ctx, "ext-alice", "Alice", "alice@example.com", &avatar)
	if err != nil {
		t.Fatalf("first UpsertUser failed: %v", err)
	}

	changedID, err := store.SetOnlineStatus(ctx, "ext-alice", false)
	if err != nil {
		t.Fatalf("SetOnlineStatus failed: %v", err)
	}
	if changedID != firstID {
		t.Fatalf("expected offline transition to report %q, got %q", firstID, changedID)
	}
	if again, err := store.SetOnlineStatus(ctx, "ext-alice", false); err != nil || again != "" {
		t.Fatalf("expected repeated offline to be a no-op, got %q, %v", again, err)
	}

	secondID, err := store.UpsertUser(ctx, "ext-alice", "Alice Liddell", "alice@wonderland.test", nil)
	if err != nil {
		t.Fatalf("second UpsertUser failed: %v", err)
	}
	if secondID != firstID {
		t.Fatalf("expected stable user ID, got %q then %q", firstID, secondID)
	}

	got, err := store.GetUserByExternalID(ctx, "ext-alice")
	if err != nil {
		t.Fatalf("GetUserByExternalID failed: %v", err)
	}
	if got.Name != "Alice Liddell" || got.Email != "alice@wonderland.test" {
		t.Fatalf("profile fields not refreshed: %+v", got)
	}
	if got.AvatarURL != nil {
		t.Fatalf("expected avatar to be cleared, got %q", *got.AvatarURL)
	}
	if !got.IsOnline {
		t.Fatalf("expected upsert to force online")
	}

	var count int
	if err := store.db.QueryRow(`SELECT COUNT(1) FROM users`).Scan(&count); err != nil {
		t.Fatalf("count users: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 user row, got %d", count)
	}
}

func TestUpsertUserRejectsEmptyExternalID(t *testing.T) {
	store := newTestStore(t)

	_, err := store.UpsertUser(context.Background(), "  ", "Nobody", "nobody@example.com", nil)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestSetOnlineStatusUnknownUserIsNoop(t *testing.T) {
	store := newTestStore(t)

	changedID, err := store.SetOnlineStatus(context.Background(), "ext-ghost", true)
	if err != nil {
		t.Fatalf("expected no error for unknown user, got %v", err)
	}
	if changedID != "" {
		t.Fatalf("expected no change for unknown user, got %q", changedID)
	}
}

func TestGetUserByExternalIDNotFound(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.GetUserByExternalID(context.Background(), "ext-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListOtherUsersExcludesCaller(t *testing.T) {
	store := newTestStore(t)
	mustUpsertUser(t, store, "ext-carol", "Carol")
	mustUpsertUser(t, store, "ext-alice", "Alice")
	mustUpsertUser(t, store, "ext-bob", "Bob")

	others, err := store.ListOtherUsers(context.Background(), "ext-bob")
	if err != nil {
		t.Fatalf("ListOtherUsers failed: %v", err)
	}
	if len(others) != 2 {
		t.Fatalf("expected 2 other users, got %d", len(others))
	}
	for _, user := range others {
		if user.ExternalID == "ext-bob" {
			t.Fatalf("caller must not be listed")
		}
	}
	if others[0].Name != "Alice" || others[1].Name != "Carol" {
		t.Fatalf("unexpected order: %q, %q", others[0].Name, others[1].Name)
	}
}

func TestGetUserByInternalID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	userID := mustUpsertUser(t, store, "ext-alice", "Alice")

	user, err := store.GetUser(ctx, userID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.ExternalID != "ext-alice" || !user.IsOnline {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := store.GetUser(ctx, uuid.NewString()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetUser(ctx, "nope"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

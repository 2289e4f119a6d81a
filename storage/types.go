package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrInvalidArgument indicates a request was rejected before any write.
	ErrInvalidArgument = errors.New("storage: invalid argument")
)

// User is the SQLite representation of a chat user.
type User struct {
	UserID     string
	ExternalID string
	Name       string
	Email      string
	AvatarURL  *string
	IsOnline   bool
	CreatedAt  int64
}

// Conversation is a two-participant thread. UserLow < UserHigh always holds.
type Conversation struct {
	ConversationID  string
	UserLow         string
	UserHigh        string
	LastMessageTime *int64
	CreatedAt       int64
}

// Message is the SQLite representation of a chat message.
type Message struct {
	MessageID      string
	ConversationID string
	SenderID       string
	Content        string
	IsDeleted      bool
	CreatedAt      int64
}

// MessageWithSender joins a message with its sender's profile.
type MessageWithSender struct {
	Message
	Sender User
}

// ConversationEntry is one row of a user's conversation list.
type ConversationEntry struct {
	Conversation Conversation
	OtherUser    User
	LastMessage  *Message
	UnreadCount  int
}

// Participants returns both participant IDs.
func (c Conversation) Participants() [2]string {
	return [2]string{c.UserLow, c.UserHigh}
}

// HasParticipant reports whether userID is one of the two participants.
func (c Conversation) HasParticipant(userID string) bool {
	return c.UserLow == userID || c.UserHigh == userID
}

func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

func validateID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidArgument, field)
	}
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("%w: malformed %s %q", ErrInvalidArgument, field, id)
	}
	return nil
}

func newID() string {
	return uuid.NewString()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func int64Ptr(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	v := ni.Int64
	return &v
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}

type scanner interface {
	Scan(dest ...any) error
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

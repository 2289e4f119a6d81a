package live

import (
	"context"
	"slices"
	"time"
)

const (
	// KindUser is emitted when a profile or online flag changes.
	KindUser Kind = "user"
	// KindConversation is emitted when a conversation is created.
	KindConversation Kind = "conversation"
	// KindMessage is emitted when a message is sent or soft-deleted.
	KindMessage Kind = "message"
	// KindReadReceipt is emitted when a read watermark moves.
	KindReadReceipt Kind = "read_receipt"
	// KindTyping is emitted when a typing indicator is set or cleared.
	KindTyping Kind = "typing"
)

// Kind identifies the record set a committed write touched.
type Kind string

// Change describes one committed write: which record set, and which keys.
type Change struct {
	Kind           Kind     `json:"kind"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Participants   []string `json:"participants,omitempty"`
	UserID         string   `json:"user_id,omitempty"`
	MessageID      string   `json:"message_id,omitempty"`
}

// Involves reports whether userID is the acting user or a participant of the
// conversation the change belongs to.
func (c Change) Involves(userID string) bool {
	return c.UserID == userID || slices.Contains(c.Participants, userID)
}

// Query is a live read whose result is pushed again whenever a change it
// depends on is published.
type Query interface {
	// Name identifies the query kind in logs and wire frames.
	Name() string
	// DependsOn reports whether the change could alter the query result.
	DependsOn(change Change) bool
	// Evaluate recomputes the result from current state.
	Evaluate(ctx context.Context) (any, error)
}

// Refresher is implemented by queries whose results go stale with time alone.
type Refresher interface {
	RefreshInterval() time.Duration
}

// Forwarder carries locally published changes to other instances.
type Forwarder interface {
	Forward(changes []Change)
}

package models

// DeletedPlaceholder replaces the content of a soft-deleted message in every read view.
const DeletedPlaceholder = "This message was deleted"

// Message is a read view of one message. Content is masked when IsDeleted is set.
type Message struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Sender         User   `json:"sender"`
	Content        string `json:"content"`
	IsDeleted      bool   `json:"is_deleted"`
	CreatedAt      int64  `json:"created_at"`
}

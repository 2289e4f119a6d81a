package models

// LastMessage is the masked preview shown in a conversation list.
type LastMessage struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
	Content   string `json:"content"`
	IsDeleted bool   `json:"is_deleted"`
	CreatedAt int64  `json:"created_at"`
}

// ConversationSummary is one row of a user's conversation list.
type ConversationSummary struct {
	ConversationID  string       `json:"conversation_id"`
	OtherUser       User         `json:"other_user"`
	LastMessage     *LastMessage `json:"last_message"`
	LastMessageTime *int64       `json:"last_message_time"`
	UnreadCount     int          `json:"unread_count"`
	OtherOnline     bool         `json:"other_online"`
}

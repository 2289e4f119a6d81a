package chat

import (
	"chatsync/models"
	"chatsync/storage"
)

func maskContent(content string, isDeleted bool) string {
	if isDeleted {
		return models.DeletedPlaceholder
	}
	return content
}

func projectUser(user storage.User) models.User {
	out := models.User{
		UserID:     user.UserID,
		ExternalID: user.ExternalID,
		Name:       user.Name,
		Email:      user.Email,
		IsOnline:   user.IsOnline,
	}
	if user.AvatarURL != nil {
		out.AvatarURL = *user.AvatarURL
	}
	return out
}

func projectUsers(users []storage.User) []models.User {
	out := make([]models.User, 0, len(users))
	for _, user := range users {
		out = append(out, projectUser(user))
	}
	return out
}

func projectMessage(message storage.MessageWithSender) models.Message {
	return models.Message{
		MessageID:      message.MessageID,
		ConversationID: message.ConversationID,
		Sender:         projectUser(message.Sender),
		Content:        maskContent(message.Content, message.IsDeleted),
		IsDeleted:      message.IsDeleted,
		CreatedAt:      message.CreatedAt,
	}
}

func projectMessages(messages []storage.MessageWithSender) []models.Message {
	out := make([]models.Message, 0, len(messages))
	for _, message := range messages {
		out = append(out, projectMessage(message))
	}
	return out
}

func projectLastMessage(message *storage.Message) *models.LastMessage {
	if message == nil {
		return nil
	}
	return &models.LastMessage{
		MessageID: message.MessageID,
		SenderID:  message.SenderID,
		Content:   maskContent(message.Content, message.IsDeleted),
		IsDeleted: message.IsDeleted,
		CreatedAt: message.CreatedAt,
	}
}

// projectSummary composes one conversation-list row. The online badge mirrors
// the other participant's current flag.
func projectSummary(entry storage.ConversationEntry) models.ConversationSummary {
	return models.ConversationSummary{
		ConversationID:  entry.Conversation.ConversationID,
		OtherUser:       projectUser(entry.OtherUser),
		LastMessage:     projectLastMessage(entry.LastMessage),
		LastMessageTime: entry.Conversation.LastMessageTime,
		UnreadCount:     entry.UnreadCount,
		OtherOnline:     entry.OtherUser.IsOnline,
	}
}

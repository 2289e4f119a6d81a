package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatsync/live"
	"chatsync/models"
	"chatsync/storage"

	"go.uber.org/zap"
)

// DefaultTypingRefresh is how often live typing queries are re-evaluated so
// expired signals drop out without an explicit clear.
const DefaultTypingRefresh = 500 * time.Millisecond

var (
	// ErrNotFound aliases storage.ErrNotFound for transport callers.
	ErrNotFound = storage.ErrNotFound
	// ErrInvalidArgument aliases storage.ErrInvalidArgument for transport callers.
	ErrInvalidArgument = storage.ErrInvalidArgument
)

// Options configures a Service.
type Options struct {
	TypingRefresh time.Duration
}

// Profile is the identity-provider view of a user passed on login.
type Profile struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AvatarURL  string `json:"avatar_url,omitempty"`
}

// Service is the chat operation surface: it validates input, routes to the
// store, and publishes a change for every committed write.
type Service struct {
	store  *storage.Store
	hub    *live.Hub
	logger *zap.Logger
	opts   Options

	// conversation participants never change, so they are cached by ID.
	participants sync.Map

	// presence counts open live sessions per external ID on this instance.
	presenceMu sync.Mutex
	presence   map[string]int
}

// NewService wires a service over a store and a live hub.
func NewService(store *storage.Store, hub *live.Hub, logger *zap.Logger, options Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options.TypingRefresh <= 0 {
		options.TypingRefresh = DefaultTypingRefresh
	}
	return &Service{
		store:    store,
		hub:      hub,
		logger:   logger.Named("chat"),
		opts:     options,
		presence: make(map[string]int),
	}
}

func normalizeExternalID(externalID string) string {
	return strings.TrimSpace(externalID)
}

// UpsertProfile records a login: the profile is created or refreshed and the
// user is marked online.
func (s *Service) UpsertProfile(ctx context.Context, profile Profile) (string, error) {
	var avatarURL *string
	if trimmed := strings.TrimSpace(profile.AvatarURL); trimmed != "" {
		avatarURL = &trimmed
	}

	externalID := normalizeExternalID(profile.ExternalID)
	userID, err := s.store.UpsertUser(ctx, externalID, profile.Name, profile.Email, avatarURL)
	if err != nil {
		return "", err
	}

	s.logger.Debug("profile upserted",
		zap.String("user_id", userID),
		zap.String("external_id", externalID),
	)
	s.hub.Publish(live.Change{Kind: live.KindUser, UserID: userID})
	return userID, nil
}

// SetOnlineStatus flips the online flag. Unknown users are ignored.
func (s *Service) SetOnlineStatus(ctx context.Context, externalID string, isOnline bool) error {
	userID, err := s.store.SetOnlineStatus(ctx, normalizeExternalID(externalID), isOnline)
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	s.logger.Debug("online status changed",
		zap.String("user_id", userID),
		zap.Bool("is_online", isOnline),
	)
	s.hub.Publish(live.Change{Kind: live.KindUser, UserID: userID})
	return nil
}

// Connect registers a live session for externalID and marks the user online.
func (s *Service) Connect(ctx context.Context, externalID string) error {
	externalID = normalizeExternalID(externalID)

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	if err := s.SetOnlineStatus(ctx, externalID, true); err != nil {
		return err
	}
	s.presence[externalID]++
	return nil
}

// Disconnect releases a session registered with Connect. The user is marked
// offline only when their last session on this instance is gone.
func (s *Service) Disconnect(ctx context.Context, externalID string) error {
	externalID = normalizeExternalID(externalID)

	s.presenceMu.Lock()
	defer s.presenceMu.Unlock()

	count, ok := s.presence[externalID]
	if !ok {
		return nil
	}
	if count > 1 {
		s.presence[externalID] = count - 1
		return nil
	}
	delete(s.presence, externalID)
	return s.SetOnlineStatus(ctx, externalID, false)
}

// GetUserByExternalID resolves an identity-provider ID to a profile.
func (s *Service) GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	user, err := s.store.GetUserByExternalID(ctx, normalizeExternalID(externalID))
	if err != nil {
		return nil, err
	}
	out := projectUser(*user)
	return &out, nil
}

// ListOtherUsers returns every user except the caller.
func (s *Service) ListOtherUsers(ctx context.Context, excludingExternalID string) ([]models.User, error) {
	users, err := s.store.ListOtherUsers(ctx, normalizeExternalID(excludingExternalID))
	if err != nil {
		return nil, err
	}
	return projectUsers(users), nil
}

// GetOrCreateConversation returns the one conversation between two users.
func (s *Service) GetOrCreateConversation(ctx context.Context, userA, userB string) (string, error) {
	conversationID, created, err := s.store.GetOrCreateConversation(ctx, userA, userB)
	if err != nil {
		return "", err
	}
	if !created {
		return conversationID, nil
	}

	participants := []string{userA, userB}
	s.participants.Store(conversationID, participants)
	s.logger.Info("conversation created",
		zap.String("conversation_id", conversationID),
		zap.Strings("participants", participants),
	)
	s.hub.Publish(live.Change{
		Kind:           live.KindConversation,
		ConversationID: conversationID,
		Participants:   participants,
	})
	return conversationID, nil
}

// ListConversations returns the user's conversation list, most recent first,
// with masked previews, unread counts and online badges.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]models.ConversationSummary, error) {
	entries, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.ConversationSummary, 0, len(entries))
	for _, entry := range entries {
		summaries = append(summaries, projectSummary(entry))
	}
	return summaries, nil
}

// SendMessage stores a message from a participant and returns its ID.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, content string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", fmt.Errorf("%w: message content is empty", ErrInvalidArgument)
	}

	message, err := s.store.SendMessage(ctx, conversationID, senderID, content)
	if err != nil {
		return "", err
	}

	participants, err := s.participantsOf(ctx, conversationID)
	if err != nil {
		return "", err
	}
	s.logger.Debug("message sent",
		zap.String("conversation_id", conversationID),
		zap.String("message_id", message.MessageID),
		zap.String("sender_id", senderID),
	)
	s.hub.Publish(live.Change{
		Kind:           live.KindMessage,
		ConversationID: conversationID,
		Participants:   participants,
		UserID:         senderID,
		MessageID:      message.MessageID,
	})
	return message.MessageID, nil
}

// ListMessages returns a conversation's messages in order, deleted ones masked.
func (s *Service) ListMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return projectMessages(messages), nil
}

// DeleteMessage soft-deletes a message. Missing or already deleted messages
// are ignored.
func (s *Service) DeleteMessage(ctx context.Context, messageID string) error {
	message, err := s.store.SoftDeleteMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if message == nil {
		return nil
	}

	participants, err := s.participantsOf(ctx, message.ConversationID)
	if err != nil {
		return err
	}
	s.logger.Debug("message deleted",
		zap.String("conversation_id", message.ConversationID),
		zap.String("message_id", messageID),
	)
	s.hub.Publish(live.Change{
		Kind:           live.KindMessage,
		ConversationID: message.ConversationID,
		Participants:   participants,
		UserID:         message.SenderID,
		MessageID:      messageID,
	})
	return nil
}

// MarkRead moves the user's read watermark to now.
func (s *Service) MarkRead(ctx context.Context, conversationID, userID string) error {
	if _, err := s.store.MarkRead(ctx, conversationID, userID); err != nil {
		return err
	}

	participants, err := s.participantsOf(ctx, conversationID)
	if err != nil {
		return err
	}
	s.hub.Publish(live.Change{
		Kind:           live.KindReadReceipt,
		ConversationID: conversationID,
		Participants:   participants,
		UserID:         userID,
	})
	return nil
}

// UnreadCount counts messages from the other participant after the user's watermark.
func (s *Service) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	return s.store.UnreadCount(ctx, conversationID, userID)
}

// SetTyping records a typing signal.
func (s *Service) SetTyping(ctx context.Context, conversationID, userID string) error {
	if err := s.store.SetTyping(ctx, conversationID, userID); err != nil {
		return err
	}
	s.publishTyping(ctx, conversationID, userID)
	return nil
}

// ClearTyping withdraws a typing signal. A missing indicator is ignored.
func (s *Service) ClearTyping(ctx context.Context, conversationID, userID string) error {
	cleared, err := s.store.ClearTyping(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if cleared {
		s.publishTyping(ctx, conversationID, userID)
	}
	return nil
}

// ListTyping returns the users currently typing in a conversation, excluding the caller.
func (s *Service) ListTyping(ctx context.Context, conversationID, excludingUserID string) ([]models.User, error) {
	users, err := s.store.ListTyping(ctx, conversationID, excludingUserID)
	if err != nil {
		return nil, err
	}
	return projectUsers(users), nil
}

// Subscribe starts a live query on the hub.
func (s *Service) Subscribe(ctx context.Context, query live.Query) (*live.Subscription, error) {
	return s.hub.Subscribe(ctx, query)
}

func (s *Service) publishTyping(ctx context.Context, conversationID, userID string) {
	participants, err := s.participantsOf(ctx, conversationID)
	if err != nil {
		s.logger.Warn("resolve participants for typing change",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
	}
	s.hub.Publish(live.Change{
		Kind:           live.KindTyping,
		ConversationID: conversationID,
		Participants:   participants,
		UserID:         userID,
	})
}

func (s *Service) participantsOf(ctx context.Context, conversationID string) ([]string, error) {
	if cached, ok := s.participants.Load(conversationID); ok {
		return cached.([]string), nil
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	pair := conversation.Participants()
	participants := []string{pair[0], pair[1]}
	s.participants.Store(conversationID, participants)
	return participants, nil
}

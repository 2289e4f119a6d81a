package chat

import (
	"context"
	"fmt"
	"slices"
	"time"

	"chatsync/live"
)

// Live query names as they appear on the wire.
const (
	QueryConversations = "conversations"
	QueryMessages      = "messages"
	QueryTyping        = "typing"
	QueryUnread        = "unread"
	QueryUsers         = "users"
)

// NewQuery builds a named live query from string parameters.
//
//	conversations  user_id
//	messages       conversation_id
//	typing         conversation_id, exclude
//	unread         conversation_id, user_id
//	users          exclude (external ID)
func (s *Service) NewQuery(ctx context.Context, name string, params map[string]string) (live.Query, error) {
	switch name {
	case QueryConversations:
		return s.ConversationsQuery(params["user_id"]), nil
	case QueryMessages:
		return s.MessagesQuery(ctx, params["conversation_id"])
	case QueryTyping:
		return s.TypingQuery(ctx, params["conversation_id"], params["exclude"])
	case QueryUnread:
		return s.UnreadQuery(params["conversation_id"], params["user_id"]), nil
	case QueryUsers:
		return s.UsersQuery(params["exclude"]), nil
	default:
		return nil, fmt.Errorf("%w: unknown query %q", ErrInvalidArgument, name)
	}
}

type conversationsQuery struct {
	service *Service
	userID  string
}

// ConversationsQuery follows ListConversations for one user.
func (s *Service) ConversationsQuery(userID string) live.Query {
	return &conversationsQuery{service: s, userID: userID}
}

func (q *conversationsQuery) Name() string { return QueryConversations }

// DependsOn accepts any profile change since the other participants' names and
// online badges are part of the result.
func (q *conversationsQuery) DependsOn(change live.Change) bool {
	switch change.Kind {
	case live.KindUser:
		return true
	case live.KindConversation, live.KindMessage:
		return change.Involves(q.userID)
	case live.KindReadReceipt:
		return change.UserID == q.userID
	default:
		return false
	}
}

func (q *conversationsQuery) Evaluate(ctx context.Context) (any, error) {
	return q.service.ListConversations(ctx, q.userID)
}

type messagesQuery struct {
	service        *Service
	conversationID string
	participants   []string
}

// MessagesQuery follows ListMessages for one conversation. The conversation
// must exist.
func (s *Service) MessagesQuery(ctx context.Context, conversationID string) (live.Query, error) {
	participants, err := s.participantsOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &messagesQuery{service: s, conversationID: conversationID, participants: participants}, nil
}

func (q *messagesQuery) Name() string { return QueryMessages }

func (q *messagesQuery) DependsOn(change live.Change) bool {
	switch change.Kind {
	case live.KindMessage:
		return change.ConversationID == q.conversationID
	case live.KindUser:
		return slices.Contains(q.participants, change.UserID)
	default:
		return false
	}
}

func (q *messagesQuery) Evaluate(ctx context.Context) (any, error) {
	return q.service.ListMessages(ctx, q.conversationID)
}

type typingQuery struct {
	service        *Service
	conversationID string
	excludeUserID  string
	participants   []string
}

// TypingQuery follows ListTyping for one conversation and re-evaluates on a
// timer so expired signals disappear on their own.
func (s *Service) TypingQuery(ctx context.Context, conversationID, excludingUserID string) (live.Query, error) {
	participants, err := s.participantsOf(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &typingQuery{
		service:        s,
		conversationID: conversationID,
		excludeUserID:  excludingUserID,
		participants:   participants,
	}, nil
}

func (q *typingQuery) Name() string { return QueryTyping }

func (q *typingQuery) DependsOn(change live.Change) bool {
	switch change.Kind {
	case live.KindTyping:
		return change.ConversationID == q.conversationID
	case live.KindUser:
		return slices.Contains(q.participants, change.UserID)
	default:
		return false
	}
}

func (q *typingQuery) Evaluate(ctx context.Context) (any, error) {
	return q.service.ListTyping(ctx, q.conversationID, q.excludeUserID)
}

func (q *typingQuery) RefreshInterval() time.Duration {
	return q.service.opts.TypingRefresh
}

type unreadQuery struct {
	service        *Service
	conversationID string
	userID         string
}

// UnreadQuery follows UnreadCount for one user in one conversation.
func (s *Service) UnreadQuery(conversationID, userID string) live.Query {
	return &unreadQuery{service: s, conversationID: conversationID, userID: userID}
}

func (q *unreadQuery) Name() string { return QueryUnread }

func (q *unreadQuery) DependsOn(change live.Change) bool {
	if change.ConversationID != q.conversationID {
		return false
	}
	switch change.Kind {
	case live.KindMessage:
		return true
	case live.KindReadReceipt:
		return change.UserID == q.userID
	default:
		return false
	}
}

func (q *unreadQuery) Evaluate(ctx context.Context) (any, error) {
	return q.service.UnreadCount(ctx, q.conversationID, q.userID)
}

type usersQuery struct {
	service             *Service
	excludingExternalID string
}

// UsersQuery follows ListOtherUsers.
func (s *Service) UsersQuery(excludingExternalID string) live.Query {
	return &usersQuery{service: s, excludingExternalID: excludingExternalID}
}

func (q *usersQuery) Name() string { return QueryUsers }

func (q *usersQuery) DependsOn(change live.Change) bool {
	return change.Kind == live.KindUser
}

func (q *usersQuery) Evaluate(ctx context.Context) (any, error) {
	return q.service.ListOtherUsers(ctx, q.excludingExternalID)
}

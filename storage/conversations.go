package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// GetOrCreateConversation returns the single conversation between two users,
// creating it on first contact. The boolean reports whether a row was inserted.
//
// Concurrent calls for the same pair, in either direction, converge on one row:
// the pair is stored sorted under a UNIQUE constraint and a conflicting insert
// is ignored before the lookup.
func (s *Store) GetOrCreateConversation(ctx context.Context, userA, userB string) (string, bool, error) {
	if err := validateID("user_a", userA); err != nil {
		return "", false, err
	}
	if err := validateID("user_b", userB); err != nil {
		return "", false, err
	}
	if userA == userB {
		return "", false, fmt.Errorf("%w: a conversation needs two distinct users", ErrInvalidArgument)
	}

	low, high := orderedPair(userA, userB)

	var (
		conversationID string
		created        bool
	)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, userID := range []string{low, high} {
			exists, err := userExists(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("user %q: %w", userID, ErrNotFound)
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO conversations (conversation_id, user_low, user_high, last_message_time, created_at)
			VALUES (?, ?, ?, NULL, ?)
			ON CONFLICT(user_low, user_high) DO NOTHING`,
			newID(),
			low,
			high,
			s.now(),
		)
		if err != nil {
			return fmt.Errorf("insert conversation %s/%s: %w", low, high, err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("read rows affected for conversation insert: %w", err)
		}
		created = rowsAffected == 1

		if err := tx.QueryRowContext(ctx,
			`SELECT conversation_id FROM conversations WHERE user_low = ? AND user_high = ?`,
			low,
			high,
		).Scan(&conversationID); err != nil {
			return fmt.Errorf("lookup conversation %s/%s: %w", low, high, err)
		}
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return conversationID, created, nil
}

// GetConversation fetches one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, conversationID string) (*Conversation, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	return getConversation(ctx, s.db, conversationID)
}

// ListConversationsForUser returns the user's conversations joined with the
// other participant, the latest message and the user's unread count, most
// recently active first. Conversations without activity sort last.
//
// Everything comes from one statement, so the preview and the unread count
// always describe the same snapshot.
func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]ConversationEntry, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			c.conversation_id,
			c.user_low,
			c.user_high,
			c.last_message_time,
			c.created_at,
			u.user_id,
			u.external_id,
			u.name,
			u.email,
			u.avatar_url,
			u.is_online,
			u.created_at,
			m.message_id,
			m.sender_id,
			m.content,
			m.is_deleted,
			m.created_at,
			(
				SELECT COUNT(1)
				FROM messages unread
				WHERE unread.conversation_id = c.conversation_id
					AND unread.is_deleted = 0
					AND unread.sender_id <> ?
					AND unread.created_at > COALESCE(
						(SELECT r.last_read FROM read_receipts r WHERE r.conversation_id = c.conversation_id AND r.user_id = ?),
						0
					)
			) AS unread_count
		FROM conversations c
		JOIN users u
			ON u.user_id = CASE WHEN c.user_low = ? THEN c.user_high ELSE c.user_low END
		LEFT JOIN messages m
			ON m.message_id = (
				SELECT latest.message_id
				FROM messages latest
				WHERE latest.conversation_id = c.conversation_id
				ORDER BY latest.created_at DESC, latest.rowid DESC
				LIMIT 1
			)
		WHERE c.user_low = ? OR c.user_high = ?
		ORDER BY COALESCE(c.last_message_time, 0) DESC, c.conversation_id`,
		userID,
		userID,
		userID,
		userID,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations for user %q: %w", userID, err)
	}
	defer rows.Close()

	entries := make([]ConversationEntry, 0)
	for rows.Next() {
		entry, err := scanConversationEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}

	return entries, nil
}

func getConversation(ctx context.Context, q queryer, conversationID string) (*Conversation, error) {
	row := q.QueryRowContext(ctx,
		`SELECT conversation_id, user_low, user_high, last_message_time, created_at
		FROM conversations
		WHERE conversation_id = ?`,
		conversationID,
	)

	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
		}
		return nil, fmt.Errorf("get conversation %q: %w", conversationID, err)
	}
	return conversation, nil
}

// requireParticipant loads the conversation and checks userID belongs to it.
func requireParticipant(ctx context.Context, q queryer, conversationID, userID string) (*Conversation, error) {
	conversation, err := getConversation(ctx, q, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		exists, err := userExists(ctx, q, userID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("user %q: %w", userID, ErrNotFound)
		}
		return nil, fmt.Errorf("%w: user %q is not a participant of conversation %q", ErrInvalidArgument, userID, conversationID)
	}
	return conversation, nil
}

func scanConversation(row scanner) (*Conversation, error) {
	var (
		conversation    Conversation
		lastMessageTime sql.NullInt64
	)

	if err := row.Scan(
		&conversation.ConversationID,
		&conversation.UserLow,
		&conversation.UserHigh,
		&lastMessageTime,
		&conversation.CreatedAt,
	); err != nil {
		return nil, err
	}

	conversation.LastMessageTime = int64Ptr(lastMessageTime)
	return &conversation, nil
}

func scanConversationEntry(row scanner) (*ConversationEntry, error) {
	var (
		entry           ConversationEntry
		lastMessageTime sql.NullInt64
		avatarURL       sql.NullString
		isOnline        int
		messageID       sql.NullString
		senderID        sql.NullString
		content         sql.NullString
		isDeleted       sql.NullInt64
		messageCreated  sql.NullInt64
	)

	if err := row.Scan(
		&entry.Conversation.ConversationID,
		&entry.Conversation.UserLow,
		&entry.Conversation.UserHigh,
		&lastMessageTime,
		&entry.Conversation.CreatedAt,
		&entry.OtherUser.UserID,
		&entry.OtherUser.ExternalID,
		&entry.OtherUser.Name,
		&entry.OtherUser.Email,
		&avatarURL,
		&isOnline,
		&entry.OtherUser.CreatedAt,
		&messageID,
		&senderID,
		&content,
		&isDeleted,
		&messageCreated,
		&entry.UnreadCount,
	); err != nil {
		return nil, err
	}

	entry.Conversation.LastMessageTime = int64Ptr(lastMessageTime)
	entry.OtherUser.AvatarURL = stringPtr(avatarURL)
	entry.OtherUser.IsOnline = isOnline == 1
	if messageID.Valid {
		entry.LastMessage = &Message{
			MessageID:      messageID.String,
			ConversationID: entry.Conversation.ConversationID,
			SenderID:       senderID.String,
			Content:        content.String,
			IsDeleted:      isDeleted.Int64 == 1,
			CreatedAt:      messageCreated.Int64,
		}
	}

	return &entry, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SendMessage inserts a message and bumps the conversation's last activity to
// the message's creation time in the same transaction.
//
// created_at never goes below the conversation's current last activity, so
// timestamps within a conversation are non-decreasing even if the wall clock
// steps back; equal timestamps keep commit order through rowid.
func (s *Store) SendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	if err := validateID("sender_id", senderID); err != nil {
		return nil, err
	}

	message := Message{
		MessageID:      newID(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conversation, err := requireParticipant(ctx, tx, conversationID, senderID)
		if err != nil {
			return err
		}

		message.CreatedAt = s.now()
		if last := conversation.LastMessageTime; last != nil && *last > message.CreatedAt {
			message.CreatedAt = *last
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (
				message_id,
				conversation_id,
				sender_id,
				content,
				is_deleted,
				created_at
			) VALUES (?, ?, ?, ?, 0, ?)`,
			message.MessageID,
			message.ConversationID,
			message.SenderID,
			message.Content,
			message.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert message %q: %w", message.MessageID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET last_message_time = ? WHERE conversation_id = ?`,
			message.CreatedAt,
			conversationID,
		); err != nil {
			return fmt.Errorf("bump activity for conversation %q: %w", conversationID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &message, nil
}

// ListMessages returns every message of a conversation joined with its sender,
// in creation order. Deleted messages are included; masking is up to the caller.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]MessageWithSender, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	if _, err := getConversation(ctx, s.db, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			m.message_id,
			m.conversation_id,
			m.sender_id,
			m.content,
			m.is_deleted,
			m.created_at,
			`+prefixedUserColumns("u")+`
		FROM messages m
		JOIN users u ON u.user_id = m.sender_id
		WHERE m.conversation_id = ?
		ORDER BY m.created_at ASC, m.rowid ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %q: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]MessageWithSender, 0)
	for rows.Next() {
		message, err := scanMessageWithSender(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessage fetches one message by ID.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*Message, error) {
	if err := validateID("message_id", messageID); err != nil {
		return nil, err
	}

	message, err := scanMessage(s.db.QueryRowContext(ctx,
		`SELECT message_id, conversation_id, sender_id, content, is_deleted, created_at
		FROM messages
		WHERE message_id = ?`,
		messageID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}
	return message, nil
}

// SoftDeleteMessage flags a message as deleted. A missing or already deleted
// message is a no-op; the returned message is nil unless a row changed.
func (s *Store) SoftDeleteMessage(ctx context.Context, messageID string) (*Message, error) {
	if err := validateID("message_id", messageID); err != nil {
		return nil, err
	}

	message, err := scanMessage(s.db.QueryRowContext(ctx,
		`UPDATE messages
		SET is_deleted = 1
		WHERE message_id = ? AND is_deleted = 0
		RETURNING message_id, conversation_id, sender_id, content, is_deleted, created_at`,
		messageID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("soft delete message %q: %w", messageID, err)
	}
	return message, nil
}

func prefixedUserColumns(alias string) string {
	return alias + ".user_id, " +
		alias + ".external_id, " +
		alias + ".name, " +
		alias + ".email, " +
		alias + ".avatar_url, " +
		alias + ".is_online, " +
		alias + ".created_at"
}

func scanMessage(row scanner) (*Message, error) {
	var (
		message   Message
		isDeleted int
	)

	if err := row.Scan(
		&message.MessageID,
		&message.ConversationID,
		&message.SenderID,
		&message.Content,
		&isDeleted,
		&message.CreatedAt,
	); err != nil {
		return nil, err
	}

	message.IsDeleted = isDeleted == 1
	return &message, nil
}

func scanMessageWithSender(row scanner) (*MessageWithSender, error) {
	var (
		out       MessageWithSender
		isDeleted int
		avatarURL sql.NullString
		isOnline  int
	)

	if err := row.Scan(
		&out.MessageID,
		&out.ConversationID,
		&out.SenderID,
		&out.Content,
		&isDeleted,
		&out.CreatedAt,
		&out.Sender.UserID,
		&out.Sender.ExternalID,
		&out.Sender.Name,
		&out.Sender.Email,
		&avatarURL,
		&isOnline,
		&out.Sender.CreatedAt,
	); err != nil {
		return nil, err
	}

	out.IsDeleted = isDeleted == 1
	out.Sender.AvatarURL = stringPtr(avatarURL)
	out.Sender.IsOnline = isOnline == 1
	return &out, nil
}

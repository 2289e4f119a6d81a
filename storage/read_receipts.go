package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MarkRead moves the user's read watermark for a conversation to now and
// returns the stored watermark.
//
// The watermark is raised to at least the conversation's last activity and never
// moves backwards, so every message committed before the call counts as read.
func (s *Store) MarkRead(ctx context.Context, conversationID, userID string) (int64, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return 0, err
	}
	if err := validateID("user_id", userID); err != nil {
		return 0, err
	}

	var watermark int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		conversation, err := requireParticipant(ctx, tx, conversationID, userID)
		if err != nil {
			return err
		}

		lastRead := s.now()
		if last := conversation.LastMessageTime; last != nil && *last > lastRead {
			lastRead = *last
		}

		if err := tx.QueryRowContext(ctx,
			`INSERT INTO read_receipts (conversation_id, user_id, last_read)
			VALUES (?, ?, ?)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET
				last_read = MAX(read_receipts.last_read, excluded.last_read)
			RETURNING last_read`,
			conversationID,
			userID,
			lastRead,
		).Scan(&watermark); err != nil {
			return fmt.Errorf("upsert read receipt %s/%s: %w", conversationID, userID, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return watermark, nil
}

// UnreadCount counts non-deleted messages from other participants created
// strictly after the user's watermark (0 when the user never read).
func (s *Store) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return 0, err
	}
	if err := validateID("user_id", userID); err != nil {
		return 0, err
	}
	if _, err := requireParticipant(ctx, s.db, conversationID, userID); err != nil {
		return 0, err
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1)
		FROM messages
		WHERE conversation_id = ?
			AND is_deleted = 0
			AND sender_id <> ?
			AND created_at > COALESCE(
				(SELECT last_read FROM read_receipts WHERE conversation_id = ? AND user_id = ?),
				0
			)`,
		conversationID,
		userID,
		conversationID,
		userID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count unread for %s/%s: %w", conversationID, userID, err)
	}

	return count, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// typingClearedAt is the sentinel written by ClearTyping; it is always outside the window.
const typingClearedAt = 0

// SetTyping records that the user typed in the conversation just now.
func (s *Store) SetTyping(ctx context.Context, conversationID, userID string) error {
	if err := validateID("conversation_id", conversationID); err != nil {
		return err
	}
	if err := validateID("user_id", userID); err != nil {
		return err
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := requireParticipant(ctx, tx, conversationID, userID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO typing_indicators (conversation_id, user_id, last_typed)
			VALUES (?, ?, ?)
			ON CONFLICT(conversation_id, user_id) DO UPDATE SET last_typed = excluded.last_typed`,
			conversationID,
			userID,
			s.now(),
		); err != nil {
			return fmt.Errorf("upsert typing indicator %s/%s: %w", conversationID, userID, err)
		}
		return nil
	})
}

// ClearTyping resets the user's indicator to the past sentinel. The record is
// kept; a missing record is a no-op. Reports whether a row changed.
func (s *Store) ClearTyping(ctx context.Context, conversationID, userID string) (bool, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return false, err
	}
	if err := validateID("user_id", userID); err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE typing_indicators
		SET last_typed = ?
		WHERE conversation_id = ? AND user_id = ? AND last_typed <> ?`,
		typingClearedAt,
		conversationID,
		userID,
		typingClearedAt,
	)
	if err != nil {
		return false, fmt.Errorf("clear typing indicator %s/%s: %w", conversationID, userID, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("read rows affected for clear typing %s/%s: %w", conversationID, userID, err)
	}
	return rowsAffected > 0, nil
}

// ListTyping returns users other than excludingUserID whose last typing signal
// in the conversation is younger than the typing window.
func (s *Store) ListTyping(ctx context.Context, conversationID, excludingUserID string) ([]User, error) {
	if err := validateID("conversation_id", conversationID); err != nil {
		return nil, err
	}
	if err := validateID("excluding_user_id", excludingUserID); err != nil {
		return nil, err
	}

	cutoff := s.now() - s.typingWindow.Milliseconds()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+prefixedUserColumns("u")+`
		FROM typing_indicators t
		JOIN users u ON u.user_id = t.user_id
		WHERE t.conversation_id = ?
			AND t.user_id <> ?
			AND t.last_typed > ?
		ORDER BY u.name, u.user_id`,
		conversationID,
		excludingUserID,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("list typing users for conversation %q: %w", conversationID, err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan typing user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate typing user rows: %w", err)
	}

	return users, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

const userColumns = `user_id, external_id, name, email, avatar_url, is_online, created_at`

// UpsertUser inserts a new online user or refreshes the profile of an existing
// one (forcing it online) and returns its user ID.
func (s *Store) UpsertUser(ctx context.Context, externalID, name, email string, avatarURL *string) (string, error) {
	if strings.TrimSpace(externalID) == "" {
		return "", fmt.Errorf("%w: external_id is required", ErrInvalidArgument)
	}

	var userID string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (user_id, external_id, name, email, avatar_url, is_online, created_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(external_id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			avatar_url = excluded.avatar_url,
			is_online = 1
		RETURNING user_id`,
		newID(),
		externalID,
		name,
		email,
		nullString(avatarURL),
		s.now(),
	).Scan(&userID)
	if err != nil {
		return "", fmt.Errorf("upsert user %q: %w", externalID, err)
	}

	return userID, nil
}

// SetOnlineStatus updates the online flag and returns the affected user ID.
// An unknown external ID, or a flag that already holds the value, changes
// nothing and yields an empty ID without error.
func (s *Store) SetOnlineStatus(ctx context.Context, externalID string, isOnline bool) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		`UPDATE users
		SET is_online = ?
		WHERE external_id = ? AND is_online <> ?
		RETURNING user_id`,
		boolToInt(isOnline),
		externalID,
		boolToInt(isOnline),
	).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("set online status for %q: %w", externalID, err)
	}
	return userID, nil
}

// GetUserByExternalID fetches a user by identity-provider ID.
func (s *Store) GetUserByExternalID(ctx context.Context, externalID string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = ?`,
		externalID,
	)

	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by external id %q: %w", externalID, err)
	}
	return user, nil
}

// GetUser fetches a user by internal ID.
func (s *Store) GetUser(ctx context.Context, userID string) (*User, error) {
	if err := validateID("user_id", userID); err != nil {
		return nil, err
	}

	user, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id = ?`,
		userID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %q: %w", userID, err)
	}
	return user, nil
}

// ListOtherUsers returns every user except the caller, sorted by name.
func (s *Store) ListOtherUsers(ctx context.Context, excludingExternalID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+`
		FROM users
		WHERE external_id <> ?
		ORDER BY name, user_id`,
		excludingExternalID,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}

	return users, nil
}

func userExists(ctx context.Context, q queryer, userID string) (bool, error) {
	var exists int
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE user_id = ?)`,
		userID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("check user %q: %w", userID, err)
	}
	return exists == 1, nil
}

func scanUser(row scanner) (*User, error) {
	var (
		user      User
		avatarURL sql.NullString
		isOnline  int
	)

	if err := row.Scan(
		&user.UserID,
		&user.ExternalID,
		&user.Name,
		&user.Email,
		&avatarURL,
		&isOnline,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}

	user.AvatarURL = stringPtr(avatarURL)
	user.IsOnline = isOnline == 1
	return &user, nil
}

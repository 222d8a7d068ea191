package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pixelbot/pixelbot/internal/core"
)

// UserProfile carries the chat profile fields refreshed on every contact.
type UserProfile struct {
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
}

// GetOrCreateUser returns the stored user, inserting one with default
// preferences on first contact. Profile names are refreshed when they change.
func (s *Store) GetOrCreateUser(ctx context.Context, profile UserProfile) (*core.User, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if profile.TelegramID == 0 {
		return nil, errors.New("telegram id is required")
	}

	user, err := s.GetUser(ctx, profile.TelegramID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if user == nil {
		user = &core.User{
			TelegramID:  profile.TelegramID,
			Username:    profile.Username,
			FirstName:   profile.FirstName,
			LastName:    profile.LastName,
			Preferences: core.DefaultPreferences(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.putUser(ctx, user); err != nil {
			return nil, err
		}
		return user, nil
	}

	if user.Username != profile.Username || user.FirstName != profile.FirstName || user.LastName != profile.LastName {
		user.Username = profile.Username
		user.FirstName = profile.FirstName
		user.LastName = profile.LastName
		user.UpdatedAt = now
		if err := s.putUser(ctx, user); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// GetUser loads a user by Telegram id. It returns nil, nil when the user is
// unknown.
func (s *Store) GetUser(ctx context.Context, telegramID int64) (*core.User, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		username    sql.NullString
		firstName   sql.NullString
		lastName    sql.NullString
		preferences string
		usageStats  string
		createdAt   int64
		updatedAt   int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT username, first_name, last_name, preferences, usage_stats, created_at, updated_at
		FROM users
		WHERE telegram_id = ?
	`, telegramID)
	if err := row.Scan(&username, &firstName, &lastName, &preferences, &usageStats, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch user: %w", err)
	}

	user := &core.User{
		TelegramID: telegramID,
		Username:   username.String,
		FirstName:  firstName.String,
		LastName:   lastName.String,
		CreatedAt:  time.Unix(createdAt, 0).UTC(),
		UpdatedAt:  time.Unix(updatedAt, 0).UTC(),
	}
	if err := json.Unmarshal([]byte(preferences), &user.Preferences); err != nil {
		return nil, fmt.Errorf("decode user preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(usageStats), &user.UsageStats); err != nil {
		return nil, fmt.Errorf("decode user usage stats: %w", err)
	}
	return user, nil
}

// UpdateUserPreferences replaces a user's preferences.
func (s *Store) UpdateUserPreferences(ctx context.Context, telegramID int64, prefs core.Preferences) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	payload, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode user preferences: %w", err)
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE users SET preferences = ?, updated_at = ?
		WHERE telegram_id = ?
	`, string(payload), time.Now().UTC().Unix(), telegramID)
	if err != nil {
		return fmt.Errorf("update user preferences: %w", err)
	}
	return requireAffected(result, "user")
}

// IncrementUsageStat bumps one usage counter and stamps last_used.
func (s *Store) IncrementUsageStat(ctx context.Context, telegramID int64, stat string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	user, err := s.GetUser(ctx, telegramID)
	if err != nil {
		return err
	}
	if user == nil {
		return ErrNotFound
	}

	now := time.Now().UTC()
	user.UsageStats.Bump(stat, now)
	user.UpdatedAt = now
	return s.putUser(ctx, user)
}

func (s *Store) putUser(ctx context.Context, user *core.User) error {
	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("encode user preferences: %w", err)
	}
	stats, err := json.Marshal(user.UsageStats)
	if err != nil {
		return fmt.Errorf("encode user usage stats: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, first_name, last_name, preferences, usage_stats, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			preferences = excluded.preferences,
			usage_stats = excluded.usage_stats,
			updated_at = excluded.updated_at
	`, user.TelegramID, nullString(user.Username), nullString(user.FirstName), nullString(user.LastName),
		string(prefs), string(stats), user.CreatedAt.UTC().Unix(), user.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pixelbot/pixelbot/internal/core"
)

// DefaultImageLimit caps history listings when no limit is given.
const DefaultImageLimit = 10

// SaveImageRecord stores a delivered image and returns its row id.
func (s *Store) SaveImageRecord(ctx context.Context, rec *core.ImageRecord) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil {
		return 0, errors.New("image record is required")
	}
	if strings.TrimSpace(rec.ImageURL) == "" {
		return 0, errors.New("image url is required")
	}

	if rec.ImageType == "" {
		rec.ImageType = core.ImageTypeGeneration
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		payload, err := json.Marshal(rec.Metadata)
		if err != nil {
			return 0, fmt.Errorf("encode image metadata: %w", err)
		}
		metadata = sql.NullString{String: string(payload), Valid: true}
	}

	result, err := s.DB.ExecContext(ctx, `
		INSERT INTO images (user_id, prompt, image_url, task_id, image_type, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.UserID, rec.Prompt, rec.ImageURL, rec.TaskID, string(rec.ImageType), metadata, rec.CreatedAt.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("store image record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store image record: %w", err)
	}
	rec.ID = id
	return id, nil
}

// ListUserImages returns a user's most recent images, newest first.
func (s *Store) ListUserImages(ctx context.Context, userID int64, limit int) ([]core.ImageRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if limit <= 0 {
		limit = DefaultImageLimit
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, prompt, image_url, task_id, image_type, metadata, created_at
		FROM images
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []core.ImageRecord{}
	for rows.Next() {
		var (
			rec       core.ImageRecord
			imageType string
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.Prompt, &rec.ImageURL, &rec.TaskID, &imageType, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("scan images: %w", err)
		}
		rec.UserID = userID
		rec.ImageType = core.ImageType(imageType)
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &rec.Metadata); err != nil {
				return nil, fmt.Errorf("decode image metadata: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	return records, nil
}

// LatestUserImage returns the most recent image for a user, or nil.
func (s *Store) LatestUserImage(ctx context.Context, userID int64) (*core.ImageRecord, error) {
	records, err := s.ListUserImages(ctx, userID, 1)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

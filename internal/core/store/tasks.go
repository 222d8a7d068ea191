package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pixelbot/pixelbot/internal/core"
)

// ErrNotFound is returned when an update targets a row that does not exist.
var ErrNotFound = errors.New("record not found")

// TaskQuery filters task history listings.
type TaskQuery struct {
	// UserID limits results to one user; zero lists every user.
	UserID int64
	Status string
	Limit  int
}

// SaveTaskRecord inserts or replaces a task history row.
func (s *Store) SaveTaskRecord(ctx context.Context, rec *core.TaskRecord) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if rec == nil {
		return errors.New("task record is required")
	}
	if strings.TrimSpace(rec.TaskID) == "" {
		return errors.New("task id is required")
	}

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}

	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO tasks (task_id, user_id, task_type, status, prompt, result_url, error_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			status = excluded.status,
			prompt = excluded.prompt,
			result_url = excluded.result_url,
			error_message = excluded.error_message,
			updated_at = excluded.updated_at
	`, rec.TaskID, rec.UserID, string(rec.TaskType), rec.Status, nullString(rec.Prompt),
		nullString(rec.ResultURL), nullString(rec.ErrorMessage), rec.CreatedAt.UTC().Unix(), rec.UpdatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store task record: %w", err)
	}
	return nil
}

// UpdateTaskStatus sets the status of a task and, when non-empty, its result
// url and error message.
func (s *Store) UpdateTaskStatus(ctx context.Context, taskID, status, resultURL, errorMessage string) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `
		UPDATE tasks SET
			status = ?,
			result_url = COALESCE(?, result_url),
			error_message = COALESCE(?, error_message),
			updated_at = ?
		WHERE task_id = ?
	`, status, nullString(resultURL), nullString(errorMessage), time.Now().UTC().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return requireAffected(result, "task")
}

// GetTaskRecord loads one task. It returns nil, nil for unknown ids.
func (s *Store) GetTaskRecord(ctx context.Context, taskID string) (*core.TaskRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	row := s.DB.QueryRowContext(ctx, `
		SELECT task_id, user_id, task_type, status, prompt, result_url, error_message, created_at, updated_at
		FROM tasks
		WHERE task_id = ?
	`, taskID)

	rec, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch task record: %w", err)
	}
	return rec, nil
}

// ListTaskRecords returns task history, newest first.
func (s *Store) ListTaskRecords(ctx context.Context, q TaskQuery) ([]core.TaskRecord, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		clauses []string
		args    []any
	)
	if q.UserID != 0 {
		clauses = append(clauses, "user_id = ?")
		args = append(args, q.UserID)
	}
	if status := strings.TrimSpace(q.Status); status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, status)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT task_id, user_id, task_type, status, prompt, result_url, error_message, created_at, updated_at
		FROM tasks
		%s
		ORDER BY created_at DESC, task_id
		LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	records := []core.TaskRecord{}
	for rows.Next() {
		rec, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task records: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list task records: %w", err)
	}
	return records, nil
}

// CleanupOldTasks deletes task history created before the cutoff and
// returns the number of rows removed.
func (s *Store) CleanupOldTasks(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := s.DB.ExecContext(ctx, `DELETE FROM tasks WHERE created_at < ?`, before.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup tasks: %w", err)
	}
	return affected, nil
}

// CountTasksBefore reports how many task rows CleanupOldTasks would remove.
func (s *Store) CountTasksBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var count int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE created_at < ?`, before.UTC().Unix()).Scan(&count); err != nil {
		return 0, fmt.Errorf("count tasks: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*core.TaskRecord, error) {
	var (
		rec          core.TaskRecord
		taskType     string
		prompt       sql.NullString
		resultURL    sql.NullString
		errorMessage sql.NullString
		createdAt    int64
		updatedAt    int64
	)
	if err := row.Scan(&rec.TaskID, &rec.UserID, &taskType, &rec.Status, &prompt, &resultURL, &errorMessage, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.TaskType = core.ImageType(taskType)
	rec.Prompt = prompt.String
	rec.ResultURL = resultURL.String
	rec.ErrorMessage = errorMessage.String
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &rec, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func requireAffected(result sql.Result, what string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

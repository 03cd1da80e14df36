// Package sqlite provides SQLite-backed persistence for notification events.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/campuswork/campuswork/internal/platform/storage/sqlitemigrate"
	"github.com/campuswork/campuswork/internal/services/notifications/storage"
	"github.com/campuswork/campuswork/internal/services/notifications/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for notification event state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a notifications SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// PutEvent persists one notification event row.
func (s *Store) PutEvent(ctx context.Context, record storage.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeEventRecord(record)
	if err != nil {
		return err
	}

	delivered := 0
	if normalized.Delivered {
		delivered = 1
	}
	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO notification_events (
	id, recipient_id, listing_id, kind, message, created_at, delivered
) VALUES (?, ?, ?, ?, ?, ?, ?)
`,
		normalized.ID,
		normalized.RecipientID,
		normalized.ListingID,
		normalized.Kind,
		normalized.Message,
		toMillis(normalized.CreatedAt),
		delivered,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("put notification event: %w", err)
	}
	return nil
}

// ListEventsByRecipient lists one recipient's undelivered-or-recent events in
// creation order.
func (s *Store) ListEventsByRecipient(ctx context.Context, recipientID string, deliveredSince time.Time) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, fmt.Errorf("recipient id is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, recipient_id, listing_id, kind, message, created_at, delivered
FROM notification_events
WHERE recipient_id = ?
  AND (delivered = 0 OR created_at >= ?)
ORDER BY created_at ASC, id ASC
`, recipientID, toMillis(deliveredSince))
	if err != nil {
		return nil, fmt.Errorf("list notification events: %w", err)
	}
	defer rows.Close()

	var results []storage.EventRecord
	for rows.Next() {
		record, scanErr := scanEvent(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan notification event row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notification event rows: %w", err)
	}
	return results, nil
}

// MarkEventDelivered flags one event row as delivered.
func (s *Store) MarkEventDelivered(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("event id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE notification_events
SET delivered = 1
WHERE id = ?
`, eventID)
	if err != nil {
		return fmt.Errorf("mark notification event delivered: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark delivered rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type scanner func(dest ...any) error

func normalizeEventRecord(record storage.EventRecord) (storage.EventRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.RecipientID = strings.TrimSpace(record.RecipientID)
	record.ListingID = strings.TrimSpace(record.ListingID)
	record.Kind = strings.TrimSpace(record.Kind)
	record.Message = strings.TrimSpace(record.Message)
	if record.ID == "" {
		return storage.EventRecord{}, fmt.Errorf("event id is required")
	}
	if record.RecipientID == "" {
		return storage.EventRecord{}, fmt.Errorf("recipient id is required")
	}
	if record.ListingID == "" {
		return storage.EventRecord{}, fmt.Errorf("listing id is required")
	}
	if record.Kind == "" {
		return storage.EventRecord{}, fmt.Errorf("kind is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.EventRecord{}, fmt.Errorf("created_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	return record, nil
}

func scanEvent(scan scanner) (storage.EventRecord, error) {
	var record storage.EventRecord
	var createdAt int64
	var delivered int
	if err := scan(
		&record.ID,
		&record.RecipientID,
		&record.ListingID,
		&record.Kind,
		&record.Message,
		&createdAt,
		&delivered,
	); err != nil {
		return storage.EventRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.Delivered = delivered != 0
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}

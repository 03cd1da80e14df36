// Package sqlite provides SQLite-backed persistence for marketplace listings.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/campuswork/campuswork/internal/platform/storage/sqlitemigrate"
	"github.com/campuswork/campuswork/internal/services/marketplace/storage"
	"github.com/campuswork/campuswork/internal/services/marketplace/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for listing state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Open opens a listing SQLite store at the provided path.
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

// CreateListing persists one new listing row.
func (s *Store) CreateListing(ctx context.Context, record storage.ListingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeListingRecord(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO listings (
	id, owner_id, counterpart_id, status, title, category, description, hours, pay, version, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		normalized.ID,
		normalized.OwnerID,
		normalized.CounterpartID,
		normalized.Status,
		normalized.Title,
		normalized.Category,
		normalized.Description,
		normalized.Hours,
		normalized.Pay,
		normalized.Version,
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("create listing: %w", err)
	}
	return nil
}

// GetListing loads one listing row by id.
func (s *Store) GetListing(ctx context.Context, listingID string) (storage.ListingRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListingRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ListingRecord{}, fmt.Errorf("storage is not configured")
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return storage.ListingRecord{}, fmt.Errorf("listing id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, owner_id, counterpart_id, status, title, category, description, hours, pay, version, created_at, updated_at
FROM listings
WHERE id = ?
`, listingID)
	record, err := scanListing(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ListingRecord{}, storage.ErrNotFound
		}
		return storage.ListingRecord{}, fmt.Errorf("get listing: %w", err)
	}
	return record, nil
}

// CompareAndSwapListing applies one conditional mutation. The version check,
// the increment, and the returned row all come from a single UPDATE, so
// concurrent writers race on the database row and each winner reads back its
// own mutation, never a later writer's.
func (s *Store) CompareAndSwapListing(ctx context.Context, listingID string, expectedVersion int64, mutation storage.ListingMutation) (storage.ListingRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ListingRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ListingRecord{}, fmt.Errorf("storage is not configured")
	}
	listingID = strings.TrimSpace(listingID)
	mutation.Status = strings.TrimSpace(mutation.Status)
	mutation.CounterpartID = strings.TrimSpace(mutation.CounterpartID)
	if listingID == "" {
		return storage.ListingRecord{}, fmt.Errorf("listing id is required")
	}
	if mutation.Status == "" {
		return storage.ListingRecord{}, fmt.Errorf("mutation status is required")
	}
	if mutation.UpdatedAt.IsZero() {
		return storage.ListingRecord{}, fmt.Errorf("mutation updated_at is required")
	}
	if expectedVersion < 0 {
		return storage.ListingRecord{}, fmt.Errorf("expected version must be non-negative")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
UPDATE listings
SET status = ?,
    counterpart_id = CASE WHEN ? = '' THEN counterpart_id ELSE ? END,
    version = version + 1,
    updated_at = ?
WHERE id = ? AND version = ?
RETURNING id, owner_id, counterpart_id, status, title, category, description, hours, pay, version, created_at, updated_at
`,
		mutation.Status,
		mutation.CounterpartID,
		mutation.CounterpartID,
		toMillis(mutation.UpdatedAt),
		listingID,
		expectedVersion,
	)
	record, err := scanListing(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetListing(ctx, listingID); getErr != nil {
				return storage.ListingRecord{}, getErr
			}
			return storage.ListingRecord{}, storage.ErrVersionConflict
		}
		return storage.ListingRecord{}, fmt.Errorf("compare and swap listing: %w", err)
	}
	return record, nil
}

// ListListingsByOwner lists one owner's listings newest first.
func (s *Store) ListListingsByOwner(ctx context.Context, ownerID string) ([]storage.ListingRecord, error) {
	return s.listListingsBy(ctx, "owner_id", ownerID)
}

// ListListingsByCounterpart lists the listings bound to one counterpart newest first.
func (s *Store) ListListingsByCounterpart(ctx context.Context, counterpartID string) ([]storage.ListingRecord, error) {
	return s.listListingsBy(ctx, "counterpart_id", counterpartID)
}

func (s *Store) listListingsBy(ctx context.Context, column string, identity string) ([]storage.ListingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("identity is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, owner_id, counterpart_id, status, title, category, description, hours, pay, version, created_at, updated_at
FROM listings
WHERE `+column+` = ?
ORDER BY created_at DESC, id DESC
`, identity)
	if err != nil {
		return nil, fmt.Errorf("list listings by %s: %w", column, err)
	}
	defer rows.Close()

	var results []storage.ListingRecord
	for rows.Next() {
		record, scanErr := scanListing(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan listing row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}
	return results, nil
}

type scanner func(dest ...any) error

func normalizeListingRecord(record storage.ListingRecord) (storage.ListingRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.OwnerID = strings.TrimSpace(record.OwnerID)
	record.CounterpartID = strings.TrimSpace(record.CounterpartID)
	record.Status = strings.TrimSpace(record.Status)
	record.Title = strings.TrimSpace(record.Title)
	record.Category = strings.TrimSpace(record.Category)
	record.Description = strings.TrimSpace(record.Description)
	if record.ID == "" {
		return storage.ListingRecord{}, fmt.Errorf("listing id is required")
	}
	if record.OwnerID == "" {
		return storage.ListingRecord{}, fmt.Errorf("owner id is required")
	}
	if record.Status == "" {
		return storage.ListingRecord{}, fmt.Errorf("status is required")
	}
	if record.Title == "" {
		return storage.ListingRecord{}, fmt.Errorf("title is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.ListingRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return storage.ListingRecord{}, fmt.Errorf("updated_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func scanListing(scan scanner) (storage.ListingRecord, error) {
	var record storage.ListingRecord
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.OwnerID,
		&record.CounterpartID,
		&record.Status,
		&record.Title,
		&record.Category,
		&record.Description,
		&record.Hours,
		&record.Pay,
		&record.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.ListingRecord{}, err
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "unique constraint failed")
}

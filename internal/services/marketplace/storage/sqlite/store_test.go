package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/campuswork/campuswork/internal/services/marketplace/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "listings.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func pendingRecord(id string, owner string, at time.Time) storage.ListingRecord {
	return storage.ListingRecord{
		ID:        id,
		OwnerID:   owner,
		Status:    "pending",
		Title:     "Rake leaves",
		Category:  "yard work",
		Hours:     2,
		Pay:       30,
		Version:   0,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestOpenConfiguresConnectionPragmas(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)

	var journalMode string
	if err := store.sqlDB.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		t.Fatalf("journal_mode = %q, want wal", journalMode)
	}

	var busyTimeout int
	if err := store.sqlDB.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busyTimeout != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", busyTimeout)
	}
}

func TestCreateAndGetListing(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", now)); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	record, err := store.GetListing(context.Background(), "listing-1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if record.OwnerID != "owner1@example.com" {
		t.Fatalf("owner = %q", record.OwnerID)
	}
	if record.Status != "pending" {
		t.Fatalf("status = %q", record.Status)
	}
	if record.Version != 0 {
		t.Fatalf("version = %d, want 0", record.Version)
	}
	if !record.CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", record.CreatedAt, now)
	}
}

func TestCreateListingRejectsDuplicateID(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	record := pendingRecord("listing-1", "owner1@example.com", now)

	if err := store.CreateListing(context.Background(), record); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if err := store.CreateListing(context.Background(), record); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestGetListingMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if _, err := store.GetListing(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapAppliesMutationAndIncrementsVersion(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	created := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", created)); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	updatedAt := created.Add(time.Minute)
	record, err := store.CompareAndSwapListing(context.Background(), "listing-1", 0, storage.ListingMutation{
		Status:        "requested",
		CounterpartID: "neighbor1@example.com",
		UpdatedAt:     updatedAt,
	})
	if err != nil {
		t.Fatalf("compare and swap: %v", err)
	}
	if record.Status != "requested" {
		t.Fatalf("status = %q, want requested", record.Status)
	}
	if record.CounterpartID != "neighbor1@example.com" {
		t.Fatalf("counterpart = %q", record.CounterpartID)
	}
	if record.Version != 1 {
		t.Fatalf("version = %d, want 1", record.Version)
	}
	if !record.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("updated at = %v, want %v", record.UpdatedAt, updatedAt)
	}
}

func TestCompareAndSwapStaleVersionConflicts(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	created := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", created)); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	mutation := storage.ListingMutation{
		Status:        "requested",
		CounterpartID: "neighbor1@example.com",
		UpdatedAt:     created.Add(time.Minute),
	}
	if _, err := store.CompareAndSwapListing(context.Background(), "listing-1", 0, mutation); err != nil {
		t.Fatalf("first compare and swap: %v", err)
	}

	mutation.CounterpartID = "neighbor2@example.com"
	_, err := store.CompareAndSwapListing(context.Background(), "listing-1", 0, mutation)
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	record, err := store.GetListing(context.Background(), "listing-1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if record.CounterpartID != "neighbor1@example.com" {
		t.Fatalf("loser overwrote counterpart: %q", record.CounterpartID)
	}
	if record.Version != 1 {
		t.Fatalf("version = %d, want 1", record.Version)
	}
}

func TestCompareAndSwapMissingListingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	_, err := store.CompareAndSwapListing(context.Background(), "missing", 0, storage.ListingMutation{
		Status:    "requested",
		UpdatedAt: time.Now(),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompareAndSwapEmptyCounterpartKeepsExisting(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	created := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", created)); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := store.CompareAndSwapListing(context.Background(), "listing-1", 0, storage.ListingMutation{
		Status:        "requested",
		CounterpartID: "neighbor1@example.com",
		UpdatedAt:     created.Add(time.Minute),
	}); err != nil {
		t.Fatalf("request mutation: %v", err)
	}

	record, err := store.CompareAndSwapListing(context.Background(), "listing-1", 1, storage.ListingMutation{
		Status:    "accepted",
		UpdatedAt: created.Add(2 * time.Minute),
	})
	if err != nil {
		t.Fatalf("accept mutation: %v", err)
	}
	if record.CounterpartID != "neighbor1@example.com" {
		t.Fatalf("counterpart = %q, want neighbor1@example.com", record.CounterpartID)
	}
	if record.Status != "accepted" {
		t.Fatalf("status = %q, want accepted", record.Status)
	}
}

func TestCompareAndSwapConcurrentWritersExactlyOneWins(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	created := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", created)); err != nil {
		t.Fatalf("create listing: %v", err)
	}

	const writers = 6
	records := make([]storage.ListingRecord, writers)
	results := make([]error, writers)
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			records[i], results[i] = store.CompareAndSwapListing(context.Background(), "listing-1", 0, storage.ListingMutation{
				Status:        "requested",
				CounterpartID: fmt.Sprintf("neighbor%d@example.com", i),
				UpdatedAt:     created.Add(time.Minute),
			})
		}()
	}
	wg.Wait()

	wins := 0
	winner := -1
	for i, err := range results {
		switch {
		case err == nil:
			wins++
			winner = i
		case errors.Is(err, storage.ErrVersionConflict):
		default:
			t.Fatalf("unexpected writer error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning writer, got %d", wins)
	}

	// The winner reads back its own mutation, not a later writer's.
	if got, want := records[winner].CounterpartID, fmt.Sprintf("neighbor%d@example.com", winner); got != want {
		t.Fatalf("winner counterpart = %q, want %q", got, want)
	}
	if records[winner].Version != 1 {
		t.Fatalf("winner version = %d, want 1", records[winner].Version)
	}

	record, err := store.GetListing(context.Background(), "listing-1")
	if err != nil {
		t.Fatalf("get listing: %v", err)
	}
	if record.Version != 1 {
		t.Fatalf("version = %d, want exactly 1", record.Version)
	}
}

func TestListListingsByOwnerNewestFirst(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"listing-1", "listing-2", "listing-3"} {
		record := pendingRecord(id, "owner1@example.com", base.Add(time.Duration(i)*time.Minute))
		if err := store.CreateListing(context.Background(), record); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	if err := store.CreateListing(context.Background(), pendingRecord("listing-other", "owner2@example.com", base)); err != nil {
		t.Fatalf("create other-owner listing: %v", err)
	}

	records, err := store.ListListingsByOwner(context.Background(), "owner1@example.com")
	if err != nil {
		t.Fatalf("list by owner: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 listings, got %d", len(records))
	}
	if records[0].ID != "listing-3" || records[2].ID != "listing-1" {
		t.Fatalf("unexpected order: %q, %q, %q", records[0].ID, records[1].ID, records[2].ID)
	}
}

func TestListListingsByCounterpart(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	base := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	if err := store.CreateListing(context.Background(), pendingRecord("listing-1", "owner1@example.com", base)); err != nil {
		t.Fatalf("create listing: %v", err)
	}
	if _, err := store.CompareAndSwapListing(context.Background(), "listing-1", 0, storage.ListingMutation{
		Status:        "requested",
		CounterpartID: "neighbor1@example.com",
		UpdatedAt:     base.Add(time.Minute),
	}); err != nil {
		t.Fatalf("bind counterpart: %v", err)
	}

	records, err := store.ListListingsByCounterpart(context.Background(), "neighbor1@example.com")
	if err != nil {
		t.Fatalf("list by counterpart: %v", err)
	}
	if len(records) != 1 || records[0].ID != "listing-1" {
		t.Fatalf("unexpected counterpart listings: %+v", records)
	}
}

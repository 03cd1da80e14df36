// Package storage defines persistence contracts for marketplace listing state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested listing record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained listing already exists.
	ErrAlreadyExists = errors.New("record already exists")
	// ErrVersionConflict indicates a compare-and-swap observed a stale version.
	ErrVersionConflict = errors.New("record version conflict")
)

// ListingRecord stores one listing row. Status is kept as its wire token;
// callers parse it back into the closed domain enumeration.
type ListingRecord struct {
	ID            string
	OwnerID       string
	CounterpartID string
	Status        string
	Title         string
	Category      string
	Description   string
	Hours         int
	Pay           float64
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ListingMutation is the conditional update applied by CompareAndSwapListing.
// An empty CounterpartID leaves the stored counterpart untouched.
type ListingMutation struct {
	Status        string
	CounterpartID string
	UpdatedAt     time.Time
}

// ListingStore persists listing records. CompareAndSwapListing is the only
// mutation path after creation; it applies the mutation and increments the
// version in one conditional write, failing with ErrVersionConflict when the
// stored version no longer matches expectedVersion.
type ListingStore interface {
	CreateListing(ctx context.Context, record ListingRecord) error
	GetListing(ctx context.Context, listingID string) (ListingRecord, error)
	CompareAndSwapListing(ctx context.Context, listingID string, expectedVersion int64, mutation ListingMutation) (ListingRecord, error)
	ListListingsByOwner(ctx context.Context, ownerID string) ([]ListingRecord, error)
	ListListingsByCounterpart(ctx context.Context, counterpartID string) ([]ListingRecord, error)
}

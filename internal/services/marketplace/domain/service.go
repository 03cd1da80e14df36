// Package domain implements the listing lifecycle engine: the state machine
// moving a listing through pending, requested, and accepted, guarded by
// optimistic concurrency against the listing store.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campuswork/campuswork/internal/platform/id"
)

const (
	// readRetryAttempts bounds transient-store retries for read operations.
	// Writes are never blindly retried: a compare-and-swap conflict is a
	// business outcome, and re-issuing a write without a fresh read could
	// double-apply a transition.
	readRetryAttempts = 3
	readRetryBackoff  = 50 * time.Millisecond
)

// Mutation is the conditional update applied by a compare-and-swap. An empty
// CounterpartID leaves the stored counterpart unchanged.
type Mutation struct {
	Status        Status
	CounterpartID string
	UpdatedAt     time.Time
}

// Store is the persistence boundary for listings. CompareAndSwapListing is
// the sole mutation path after creation: it must apply the mutation and
// increment the version only when the stored version equals expectedVersion,
// returning ErrVersionConflict otherwise.
type Store interface {
	GetListing(ctx context.Context, listingID string) (Listing, error)
	CreateListing(ctx context.Context, listing Listing) error
	CompareAndSwapListing(ctx context.Context, listingID string, expectedVersion int64, mutation Mutation) (Listing, error)
	ListListingsByOwner(ctx context.Context, ownerID string) ([]Listing, error)
	ListListingsByCounterpart(ctx context.Context, counterpartID string) ([]Listing, error)
}

// Service orchestrates listing lifecycle transitions.
type Service struct {
	store Store
	clock func() time.Time
	newID func() (string, error)
	sleep func(time.Duration)
}

// NewService constructs the lifecycle engine.
func NewService(store Store, clock func() time.Time, newID func() (string, error)) *Service {
	if clock == nil {
		clock = time.Now
	}
	if newID == nil {
		newID = id.NewID
	}
	return &Service{
		store: store,
		clock: clock,
		newID: newID,
		sleep: time.Sleep,
	}
}

// PostListingInput describes one listing creation request.
type PostListingInput struct {
	OwnerID string
	Payload Payload
}

// PostListing creates a listing in the pending state with version 0.
func (s *Service) PostListing(ctx context.Context, input PostListingInput) (Listing, error) {
	if s == nil || s.store == nil {
		return Listing{}, ErrStoreNotConfigured
	}
	if s.newID == nil {
		return Listing{}, ErrIDGeneratorNotConfigured
	}
	ownerID := strings.TrimSpace(input.OwnerID)
	if ownerID == "" {
		return Listing{}, ErrOwnerIDRequired
	}
	payload := normalizePayload(input.Payload)
	if payload.Title == "" {
		return Listing{}, ErrTitleRequired
	}

	listingID, err := s.newID()
	if err != nil {
		return Listing{}, err
	}
	now := s.nowUTC()
	listing := Listing{
		ID:        listingID,
		OwnerID:   ownerID,
		Status:    StatusPending,
		Payload:   payload,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateListing(ctx, listing); err != nil {
		return Listing{}, err
	}
	return listing, nil
}

// RequestListing moves a pending listing to requested and binds the
// requester as counterpart. Exactly one concurrent requester succeeds; the
// rest observe a version conflict and receive ErrAlreadyRequested.
func (s *Service) RequestListing(ctx context.Context, listingID string, requesterID string) (Listing, Transition, error) {
	if s == nil || s.store == nil {
		return Listing{}, Transition{}, ErrStoreNotConfigured
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, Transition{}, ErrListingIDRequired
	}
	requesterID = strings.TrimSpace(requesterID)
	if requesterID == "" {
		return Listing{}, Transition{}, ErrActorIDRequired
	}

	ctx, span := s.startTransitionSpan(ctx, "RequestListing", listingID, requesterID)
	defer span.End()

	listing, err := s.getListingWithRetry(ctx, listingID)
	if err != nil {
		return Listing{}, Transition{}, err
	}
	if listing.OwnerID == requesterID {
		return Listing{}, Transition{}, ErrOwnerCannotRequest
	}
	if listing.Status != StatusPending {
		return Listing{}, Transition{}, ErrInvalidState
	}

	updated, err := s.store.CompareAndSwapListing(ctx, listingID, listing.Version, Mutation{
		Status:        StatusRequested,
		CounterpartID: requesterID,
		UpdatedAt:     s.nowUTC(),
	})
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Someone else already acted on this listing.
			return Listing{}, Transition{}, ErrAlreadyRequested
		}
		return Listing{}, Transition{}, err
	}

	return updated, s.transition(listing.Status, updated, requesterID), nil
}

// AcceptListing moves a listing to the terminal accepted state. Two flows
// are legal under the same invariants: the owner confirms the pending
// requester (requested to accepted), or the owner claims a counterpart
// directly from pending without a separate request step.
func (s *Service) AcceptListing(ctx context.Context, listingID string, accepterID string, counterpartID string) (Listing, Transition, error) {
	if s == nil || s.store == nil {
		return Listing{}, Transition{}, ErrStoreNotConfigured
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, Transition{}, ErrListingIDRequired
	}
	accepterID = strings.TrimSpace(accepterID)
	if accepterID == "" {
		return Listing{}, Transition{}, ErrActorIDRequired
	}
	counterpartID = strings.TrimSpace(counterpartID)

	ctx, span := s.startTransitionSpan(ctx, "AcceptListing", listingID, accepterID)
	defer span.End()

	listing, err := s.getListingWithRetry(ctx, listingID)
	if err != nil {
		return Listing{}, Transition{}, err
	}

	mutation := Mutation{Status: StatusAccepted, UpdatedAt: s.nowUTC()}
	switch listing.Status {
	case StatusRequested:
		// Owner confirms the requester already bound as counterpart.
		if accepterID != listing.OwnerID {
			return Listing{}, Transition{}, ErrInvalidState
		}
	case StatusPending:
		// Owner-initiated claim: bind the supplied counterpart directly.
		if accepterID != listing.OwnerID || counterpartID == "" || counterpartID == listing.OwnerID {
			return Listing{}, Transition{}, ErrInvalidState
		}
		mutation.CounterpartID = counterpartID
	default:
		return Listing{}, Transition{}, ErrInvalidState
	}

	updated, err := s.store.CompareAndSwapListing(ctx, listingID, listing.Version, mutation)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			// Another writer moved the listing first; it is no longer in the
			// state the accepter observed.
			return Listing{}, Transition{}, ErrInvalidState
		}
		return Listing{}, Transition{}, err
	}

	return updated, s.transition(listing.Status, updated, accepterID), nil
}

// GetListing loads one listing, retrying transient store failures a bounded
// number of times.
func (s *Service) GetListing(ctx context.Context, listingID string) (Listing, error) {
	if s == nil || s.store == nil {
		return Listing{}, ErrStoreNotConfigured
	}
	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return Listing{}, ErrListingIDRequired
	}
	return s.getListingWithRetry(ctx, listingID)
}

// ListListingsByOwner returns the listings posted by one identity.
func (s *Service) ListListingsByOwner(ctx context.Context, ownerID string) ([]Listing, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, ErrOwnerIDRequired
	}
	return s.store.ListListingsByOwner(ctx, ownerID)
}

// ListListingsByCounterpart returns the listings one identity has requested
// or been accepted for.
func (s *Service) ListListingsByCounterpart(ctx context.Context, counterpartID string) ([]Listing, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	counterpartID = strings.TrimSpace(counterpartID)
	if counterpartID == "" {
		return nil, ErrActorIDRequired
	}
	return s.store.ListListingsByCounterpart(ctx, counterpartID)
}

func (s *Service) getListingWithRetry(ctx context.Context, listingID string) (Listing, error) {
	var lastErr error
	for attempt := 0; attempt < readRetryAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Listing{}, err
		}
		listing, err := s.store.GetListing(ctx, listingID)
		if err == nil {
			return listing, nil
		}
		if errors.Is(err, ErrNotFound) {
			return Listing{}, err
		}
		lastErr = err
		if attempt < readRetryAttempts-1 && s.sleep != nil {
			s.sleep(readRetryBackoff << attempt)
		}
	}
	return Listing{}, lastErr
}

func (s *Service) transition(from Status, updated Listing, actorID string) Transition {
	return Transition{
		ListingID:     updated.ID,
		From:          from,
		To:            updated.Status,
		OwnerID:       updated.OwnerID,
		CounterpartID: updated.CounterpartID,
		ActorID:       actorID,
		Title:         updated.Payload.Title,
		OccurredAt:    updated.UpdatedAt,
	}
}

func (s *Service) startTransitionSpan(ctx context.Context, operation string, listingID string, actorID string) (context.Context, trace.Span) {
	return otel.Tracer("marketplace/lifecycle").Start(ctx, operation,
		trace.WithAttributes(
			attribute.String("listing.id", listingID),
			attribute.String("listing.actor", actorID),
		),
	)
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func normalizePayload(payload Payload) Payload {
	payload.Title = strings.TrimSpace(payload.Title)
	payload.Category = strings.TrimSpace(payload.Category)
	payload.Description = strings.TrimSpace(payload.Description)
	if payload.Hours < 0 {
		payload.Hours = 0
	}
	if payload.Pay < 0 {
		payload.Pay = 0
	}
	return payload
}

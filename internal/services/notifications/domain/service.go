// Package domain implements notification event lifecycle behavior: recording
// lifecycle transitions as durable events and replaying missed events to
// reconnecting clients.
package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/campuswork/campuswork/internal/platform/id"
)

var (
	// ErrNotFound indicates a notification event was not found.
	ErrNotFound = errors.New("notification event not found")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("notification store is not configured")
	// ErrRecipientRequired indicates the transition has no party to notify.
	ErrRecipientRequired = errors.New("notification recipient is required")
	// ErrListingIDRequired indicates the listing id is required.
	ErrListingIDRequired = errors.New("listing id is required")
	// ErrEventIDRequired indicates the event id is required.
	ErrEventIDRequired = errors.New("notification event id is required")
	// ErrIDGeneratorNotConfigured indicates an ID generator is required.
	ErrIDGeneratorNotConfigured = errors.New("notification id generator is not configured")
)

// catchUpRecency bounds how far back already-delivered events are replayed.
// Undelivered events are always included regardless of age.
const catchUpRecency = 72 * time.Hour

// Store is the domain persistence boundary for notification events.
type Store interface {
	PutEvent(ctx context.Context, event Event) error
	ListEventsByRecipient(ctx context.Context, recipientID string, deliveredSince time.Time) ([]Event, error)
	MarkEventDelivered(ctx context.Context, eventID string) error
}

// Service records lifecycle transitions as notification events and serves
// catch-up reads.
type Service struct {
	store Store
	clock func() time.Time
	newID func() (string, error)
}

// NewService constructs notification domain use-cases.
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
	}
}

// RecordTransition persists one undelivered notification event for the
// counterpart of the acting party. The write happens after the producer's
// own commit, so a crash in between leaves a durable event that catch-up
// replays on reconnect.
func (s *Service) RecordTransition(ctx context.Context, notice TransitionNotice) (Event, error) {
	if s == nil || s.store == nil {
		return Event{}, ErrStoreNotConfigured
	}
	if s.newID == nil {
		return Event{}, ErrIDGeneratorNotConfigured
	}
	if strings.TrimSpace(notice.ListingID) == "" {
		return Event{}, ErrListingIDRequired
	}
	recipient := recipientOf(notice)
	if recipient == "" {
		return Event{}, ErrRecipientRequired
	}
	kind, err := kindOf(notice)
	if err != nil {
		return Event{}, err
	}

	eventID, err := s.newID()
	if err != nil {
		return Event{}, err
	}
	createdAt := notice.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = s.nowUTC()
	}
	event := Event{
		ID:          eventID,
		RecipientID: recipient,
		ListingID:   strings.TrimSpace(notice.ListingID),
		Kind:        kind,
		Message:     renderMessage(kind, notice),
		CreatedAt:   createdAt,
		Delivered:   false,
	}
	if err := s.store.PutEvent(ctx, event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// CatchUp returns one recipient's undelivered-or-recent events in creation
// order. It is idempotent and never mutates delivered state, so clients may
// call it repeatedly without losing events.
func (s *Service) CatchUp(ctx context.Context, recipientID string) ([]Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return nil, ErrRecipientRequired
	}
	return s.store.ListEventsByRecipient(ctx, recipientID, s.nowUTC().Add(-catchUpRecency))
}

// MarkDelivered flags one event as having reached at least one live channel.
func (s *Service) MarkDelivered(ctx context.Context, eventID string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return ErrEventIDRequired
	}
	return s.store.MarkEventDelivered(ctx, eventID)
}

func (s *Service) nowUTC() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

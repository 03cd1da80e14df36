// Package storage defines persistence contracts for notification event state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested event record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained event already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// EventRecord stores one notification event row.
type EventRecord struct {
	ID          string
	RecipientID string
	ListingID   string
	Kind        string
	Message     string
	CreatedAt   time.Time
	Delivered   bool
}

// EventStore persists notification event records.
type EventStore interface {
	PutEvent(ctx context.Context, record EventRecord) error
	// ListEventsByRecipient returns one recipient's events in creation order.
	// Delivered events older than deliveredSince are omitted; undelivered
	// events are always included.
	ListEventsByRecipient(ctx context.Context, recipientID string, deliveredSince time.Time) ([]EventRecord, error)
	MarkEventDelivered(ctx context.Context, eventID string) error
}

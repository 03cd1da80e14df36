package server

import (
	"context"
	"errors"
	"time"

	"github.com/campuswork/campuswork/internal/services/marketplace/domain"
	"github.com/campuswork/campuswork/internal/services/marketplace/storage"
	notifdomain "github.com/campuswork/campuswork/internal/services/notifications/domain"
	notifstorage "github.com/campuswork/campuswork/internal/services/notifications/storage"
)

type listingStoreAdapter struct {
	store storage.ListingStore
}

func newListingStoreAdapter(store storage.ListingStore) *listingStoreAdapter {
	return &listingStoreAdapter{store: store}
}

func (a *listingStoreAdapter) GetListing(ctx context.Context, listingID string) (domain.Listing, error) {
	if a == nil || a.store == nil {
		return domain.Listing{}, domain.ErrStoreNotConfigured
	}
	record, err := a.store.GetListing(ctx, listingID)
	if err != nil {
		return domain.Listing{}, mapListingStorageError(err)
	}
	return toDomainListing(record)
}

func (a *listingStoreAdapter) CreateListing(ctx context.Context, listing domain.Listing) error {
	if a == nil || a.store == nil {
		return domain.ErrStoreNotConfigured
	}
	return mapListingStorageError(a.store.CreateListing(ctx, toStorageListing(listing)))
}

func (a *listingStoreAdapter) CompareAndSwapListing(ctx context.Context, listingID string, expectedVersion int64, mutation domain.Mutation) (domain.Listing, error) {
	if a == nil || a.store == nil {
		return domain.Listing{}, domain.ErrStoreNotConfigured
	}
	record, err := a.store.CompareAndSwapListing(ctx, listingID, expectedVersion, storage.ListingMutation{
		Status:        mutation.Status.String(),
		CounterpartID: mutation.CounterpartID,
		UpdatedAt:     mutation.UpdatedAt,
	})
	if err != nil {
		return domain.Listing{}, mapListingStorageError(err)
	}
	return toDomainListing(record)
}

func (a *listingStoreAdapter) ListListingsByOwner(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	if a == nil || a.store == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.store.ListListingsByOwner(ctx, ownerID)
	if err != nil {
		return nil, mapListingStorageError(err)
	}
	return toDomainListings(records)
}

func (a *listingStoreAdapter) ListListingsByCounterpart(ctx context.Context, counterpartID string) ([]domain.Listing, error) {
	if a == nil || a.store == nil {
		return nil, domain.ErrStoreNotConfigured
	}
	records, err := a.store.ListListingsByCounterpart(ctx, counterpartID)
	if err != nil {
		return nil, mapListingStorageError(err)
	}
	return toDomainListings(records)
}

func toStorageListing(listing domain.Listing) storage.ListingRecord {
	return storage.ListingRecord{
		ID:            listing.ID,
		OwnerID:       listing.OwnerID,
		CounterpartID: listing.CounterpartID,
		Status:        listing.Status.String(),
		Title:         listing.Payload.Title,
		Category:      listing.Payload.Category,
		Description:   listing.Payload.Description,
		Hours:         listing.Payload.Hours,
		Pay:           listing.Payload.Pay,
		Version:       listing.Version,
		CreatedAt:     listing.CreatedAt,
		UpdatedAt:     listing.UpdatedAt,
	}
}

func toDomainListing(record storage.ListingRecord) (domain.Listing, error) {
	status, err := domain.ParseStatus(record.Status)
	if err != nil {
		return domain.Listing{}, err
	}
	return domain.Listing{
		ID:            record.ID,
		OwnerID:       record.OwnerID,
		CounterpartID: record.CounterpartID,
		Status:        status,
		Payload: domain.Payload{
			Title:       record.Title,
			Category:    record.Category,
			Description: record.Description,
			Hours:       record.Hours,
			Pay:         record.Pay,
		},
		Version:   record.Version,
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}, nil
}

func toDomainListings(records []storage.ListingRecord) ([]domain.Listing, error) {
	listings := make([]domain.Listing, 0, len(records))
	for _, record := range records {
		listing, err := toDomainListing(record)
		if err != nil {
			return nil, err
		}
		listings = append(listings, listing)
	}
	return listings, nil
}

func mapListingStorageError(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return domain.ErrNotFound
	case errors.Is(err, storage.ErrVersionConflict):
		return domain.ErrVersionConflict
	default:
		return err
	}
}

type eventStoreAdapter struct {
	store notifstorage.EventStore
}

func newEventStoreAdapter(store notifstorage.EventStore) *eventStoreAdapter {
	return &eventStoreAdapter{store: store}
}

func (a *eventStoreAdapter) PutEvent(ctx context.Context, event notifdomain.Event) error {
	if a == nil || a.store == nil {
		return notifdomain.ErrStoreNotConfigured
	}
	return mapEventStorageError(a.store.PutEvent(ctx, notifstorage.EventRecord{
		ID:          event.ID,
		RecipientID: event.RecipientID,
		ListingID:   event.ListingID,
		Kind:        event.Kind.String(),
		Message:     event.Message,
		CreatedAt:   event.CreatedAt,
		Delivered:   event.Delivered,
	}))
}

func (a *eventStoreAdapter) ListEventsByRecipient(ctx context.Context, recipientID string, deliveredSince time.Time) ([]notifdomain.Event, error) {
	if a == nil || a.store == nil {
		return nil, notifdomain.ErrStoreNotConfigured
	}
	records, err := a.store.ListEventsByRecipient(ctx, recipientID, deliveredSince)
	if err != nil {
		return nil, mapEventStorageError(err)
	}
	events := make([]notifdomain.Event, 0, len(records))
	for _, record := range records {
		kind, kindErr := notifdomain.ParseKind(record.Kind)
		if kindErr != nil {
			return nil, kindErr
		}
		events = append(events, notifdomain.Event{
			ID:          record.ID,
			RecipientID: record.RecipientID,
			ListingID:   record.ListingID,
			Kind:        kind,
			Message:     record.Message,
			CreatedAt:   record.CreatedAt,
			Delivered:   record.Delivered,
		})
	}
	return events, nil
}

func (a *eventStoreAdapter) MarkEventDelivered(ctx context.Context, eventID string) error {
	if a == nil || a.store == nil {
		return notifdomain.ErrStoreNotConfigured
	}
	return mapEventStorageError(a.store.MarkEventDelivered(ctx, eventID))
}

func mapEventStorageError(err error) error {
	if errors.Is(err, notifstorage.ErrNotFound) {
		return notifdomain.ErrNotFound
	}
	return err
}

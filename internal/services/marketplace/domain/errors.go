package domain

import "errors"

var (
	// ErrNotFound indicates the listing does not exist.
	ErrNotFound = errors.New("listing not found")
	// ErrInvalidState indicates a transition was attempted from a state that
	// does not permit it.
	ErrInvalidState = errors.New("listing is not in a valid state for this transition")
	// ErrAlreadyRequested indicates another party won the request race while
	// the listing was still pending.
	ErrAlreadyRequested = errors.New("listing was already requested by another party")
	// ErrVersionConflict indicates a compare-and-swap lost against a
	// concurrent writer. It is a definitive outcome, never retried blindly.
	ErrVersionConflict = errors.New("listing version conflict")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("listing store is not configured")
	// ErrOwnerIDRequired indicates the owner identity is required.
	ErrOwnerIDRequired = errors.New("owner identity is required")
	// ErrActorIDRequired indicates the acting identity is required.
	ErrActorIDRequired = errors.New("acting identity is required")
	// ErrListingIDRequired indicates the listing id is required.
	ErrListingIDRequired = errors.New("listing id is required")
	// ErrTitleRequired indicates the listing title is required.
	ErrTitleRequired = errors.New("listing title is required")
	// ErrOwnerCannotRequest indicates an owner tried to request their own listing.
	ErrOwnerCannotRequest = errors.New("owner cannot request their own listing")
	// ErrIDGeneratorNotConfigured indicates an ID generator is required.
	ErrIDGeneratorNotConfigured = errors.New("listing id generator is not configured")
)

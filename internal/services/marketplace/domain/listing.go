package domain

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a listing. The set is closed: unknown
// status strings are rejected at the parse boundary and never reach
// transition logic.
type Status string

const (
	// StatusPending is the initial state of a posted listing.
	StatusPending Status = "pending"
	// StatusRequested means a counterpart has asked to take the listing.
	StatusRequested Status = "requested"
	// StatusAccepted is the terminal state; no transition exits it.
	StatusAccepted Status = "accepted"
)

// ParseStatus converts a stored status string into a Status.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusPending, StatusRequested, StatusAccepted:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("unknown listing status %q", raw)
	}
}

// String returns the wire token for the status.
func (s Status) String() string {
	return string(s)
}

// Payload holds the descriptive fields of a listing. The lifecycle logic
// treats it as opaque beyond creation-time validation.
type Payload struct {
	Title       string
	Category    string
	Description string
	Hours       int
	Pay         float64
}

// Listing is one posted job or service offering tracked through its
// lifecycle. CounterpartID is empty until a transition binds it; once set it
// is never reassigned.
type Listing struct {
	ID            string
	OwnerID       string
	CounterpartID string
	Status        Status
	Payload       Payload
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Transition describes one applied lifecycle state change. The caller
// forwards it to the notification dispatcher after the store commit succeeds.
type Transition struct {
	ListingID     string
	From          Status
	To            Status
	OwnerID       string
	CounterpartID string
	ActorID       string
	Title         string
	OccurredAt    time.Time
}

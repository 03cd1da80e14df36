package domain

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies the lifecycle transition a notification event describes.
type Kind string

const (
	// KindListingRequested notifies an owner that their listing was requested.
	KindListingRequested Kind = "listing.requested"
	// KindListingAccepted notifies a counterpart that the listing was accepted.
	KindListingAccepted Kind = "listing.accepted"
)

// ParseKind converts a stored kind token into a Kind.
func ParseKind(raw string) (Kind, error) {
	switch Kind(raw) {
	case KindListingRequested, KindListingAccepted:
		return Kind(raw), nil
	default:
		return "", fmt.Errorf("unknown notification kind %q", raw)
	}
}

// String returns the wire token for the kind.
func (k Kind) String() string {
	return string(k)
}

// Event captures one user-targeted notification item. Delivered is a
// best-effort flag: it turns true once at least one live channel took the
// push, and catch-up reads never mutate it.
type Event struct {
	ID          string
	RecipientID string
	ListingID   string
	Kind        Kind
	Message     string
	CreatedAt   time.Time
	Delivered   bool
}

// TransitionNotice is the lifecycle change a producer reports after its
// store commit succeeded.
type TransitionNotice struct {
	ListingID     string
	Title         string
	FromStatus    string
	ToStatus      string
	OwnerID       string
	CounterpartID string
	ActorID       string
	OccurredAt    time.Time
}

// recipientOf returns the party to notify: the counterpart of whoever acted.
func recipientOf(notice TransitionNotice) string {
	if strings.TrimSpace(notice.ActorID) == strings.TrimSpace(notice.OwnerID) {
		return strings.TrimSpace(notice.CounterpartID)
	}
	return strings.TrimSpace(notice.OwnerID)
}

func kindOf(notice TransitionNotice) (Kind, error) {
	switch strings.TrimSpace(notice.ToStatus) {
	case "requested":
		return KindListingRequested, nil
	case "accepted":
		return KindListingAccepted, nil
	default:
		return "", fmt.Errorf("no notification kind for transition to %q", notice.ToStatus)
	}
}

func renderMessage(kind Kind, notice TransitionNotice) string {
	title := strings.TrimSpace(notice.Title)
	if title == "" {
		title = notice.ListingID
	}
	switch kind {
	case KindListingRequested:
		return fmt.Sprintf("%s requested %q", notice.ActorID, title)
	case KindListingAccepted:
		return fmt.Sprintf("%s accepted %q", notice.ActorID, title)
	default:
		return title
	}
}

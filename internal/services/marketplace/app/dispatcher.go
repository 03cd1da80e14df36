package server

import (
	"context"
	"log"
	"sync"

	"github.com/campuswork/campuswork/internal/services/marketplace/domain"
	notifdomain "github.com/campuswork/campuswork/internal/services/notifications/domain"
)

// dispatcher persists lifecycle transitions as notification events and pushes
// them to the recipient's live channels. Persistence is the source of truth;
// the push is best effort and a failed push never surfaces to the caller who
// performed the transition.
type dispatcher struct {
	events *notifdomain.Service
	hub    *subscriberHub
}

func newDispatcher(events *notifdomain.Service, hub *subscriberHub) *dispatcher {
	return &dispatcher{events: events, hub: hub}
}

// dispatch records one transition and fans the event out. The delivered flag
// turns true only after at least one live channel took the frame; recipients
// with no live channel pick the event up through catch-up instead.
func (d *dispatcher) dispatch(ctx context.Context, transition domain.Transition) {
	if d == nil || d.events == nil {
		return
	}

	event, err := d.events.RecordTransition(ctx, notifdomain.TransitionNotice{
		ListingID:     transition.ListingID,
		Title:         transition.Title,
		FromStatus:    transition.From.String(),
		ToStatus:      transition.To.String(),
		OwnerID:       transition.OwnerID,
		CounterpartID: transition.CounterpartID,
		ActorID:       transition.ActorID,
		OccurredAt:    transition.OccurredAt,
	})
	if err != nil {
		log.Printf("marketplace: record transition notification listing=%q: %v", transition.ListingID, err)
		return
	}

	if d.hub == nil {
		return
	}
	peers := d.hub.channelsFor(event.RecipientID)
	if len(peers) == 0 {
		return
	}
	frame := wsFrame{
		Type:    "notification.event",
		Payload: mustJSON(eventEnvelope{Event: toEventJSON(event)}),
	}

	// Each push runs in its own goroutine so a stalled channel never delays
	// the transition or the recipient's other channels. The pushes outlive the
	// request that triggered the transition, hence the detached context.
	pushCtx := context.WithoutCancel(ctx)
	var deliveredOnce sync.Once
	for _, peer := range peers {
		go func() {
			if writeErr := peer.writeFrame(frame); writeErr != nil {
				log.Printf("marketplace: push notification event=%q recipient=%q: %v", event.ID, event.RecipientID, writeErr)
				return
			}
			deliveredOnce.Do(func() {
				if err := d.events.MarkDelivered(pushCtx, event.ID); err != nil {
					log.Printf("marketplace: mark notification delivered event=%q: %v", event.ID, err)
				}
			})
		}()
	}
}

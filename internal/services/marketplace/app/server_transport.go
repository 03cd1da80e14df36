package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/campuswork/campuswork/internal/platform/token"
	"github.com/campuswork/campuswork/internal/services/marketplace/domain"
	notifdomain "github.com/campuswork/campuswork/internal/services/notifications/domain"
)

// NewHandler creates marketplace routes for tests and offline paths. Callers
// assert identity through the X-Identity header; token auth is disabled.
func NewHandler(listings *domain.Service, events *notifdomain.Service) http.Handler {
	hub := newSubscriberHub()
	return newHandler(listings, events, newDispatcher(events, hub), hub, nil)
}

// NewHandlerWithSigner creates marketplace routes with enforced bearer token
// identity checks.
func NewHandlerWithSigner(listings *domain.Service, events *notifdomain.Service, signer *token.Signer) http.Handler {
	hub := newSubscriberHub()
	return newHandler(listings, events, newDispatcher(events, hub), hub, signer)
}

func newHandler(listings *domain.Service, events *notifdomain.Service, dispatch *dispatcher, hub *subscriberHub, signer *token.Signer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /api/listings", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, signer)
		if !ok {
			return
		}
		var payload createListingPayload
		if !decodeBody(w, r, &payload) {
			return
		}
		listing, err := listings.PostListing(r.Context(), domain.PostListingInput{
			OwnerID: identity,
			Payload: domain.Payload{
				Title:       payload.Title,
				Category:    payload.Category,
				Description: payload.Description,
				Hours:       payload.Hours,
				Pay:         payload.Pay,
			},
		})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toListingJSON(listing))
	})

	mux.HandleFunc("GET /api/listings", func(w http.ResponseWriter, r *http.Request) {
		owner := strings.TrimSpace(r.URL.Query().Get("owner"))
		counterpart := strings.TrimSpace(r.URL.Query().Get("counterpart"))
		if (owner == "") == (counterpart == "") {
			writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "exactly one of owner or counterpart is required")
			return
		}

		var results []domain.Listing
		var err error
		if owner != "" {
			results, err = listings.ListListingsByOwner(r.Context(), owner)
		} else {
			results, err = listings.ListListingsByCounterpart(r.Context(), counterpart)
		}
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]listingJSON, 0, len(results))
		for _, listing := range results {
			payload = append(payload, toListingJSON(listing))
		}
		writeJSON(w, http.StatusOK, map[string]any{"listings": payload})
	})

	mux.HandleFunc("GET /api/listings/{id}", func(w http.ResponseWriter, r *http.Request) {
		listing, err := listings.GetListing(r.Context(), r.PathValue("id"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toListingJSON(listing))
	})

	mux.HandleFunc("POST /api/listings/{id}/request", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, signer)
		if !ok {
			return
		}
		listing, transition, err := listings.RequestListing(r.Context(), r.PathValue("id"), identity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dispatch.dispatch(r.Context(), transition)
		writeJSON(w, http.StatusOK, toListingJSON(listing))
	})

	mux.HandleFunc("POST /api/listings/{id}/accept", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, signer)
		if !ok {
			return
		}
		var payload acceptListingPayload
		if r.ContentLength != 0 && !decodeBody(w, r, &payload) {
			return
		}
		listing, transition, err := listings.AcceptListing(r.Context(), r.PathValue("id"), identity, payload.CounterpartID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dispatch.dispatch(r.Context(), transition)
		writeJSON(w, http.StatusOK, toListingJSON(listing))
	})

	mux.HandleFunc("GET /api/notifications", func(w http.ResponseWriter, r *http.Request) {
		identity, ok := requireIdentity(w, r, signer)
		if !ok {
			return
		}
		results, err := events.CatchUp(r.Context(), identity)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		payload := make([]eventJSON, 0, len(results))
		for _, event := range results {
			payload = append(payload, toEventJSON(event))
		}
		writeJSON(w, http.StatusOK, map[string]any{"events": payload})
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, events, hub)
	})

	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		identity, err := resolveIdentity(r, signer)
		if err != nil {
			log.Printf("marketplace: websocket unauthorized for remote=%s: %v", r.RemoteAddr, err)
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), wsIdentityContextKey{}, identity))
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

type wsIdentityContextKey struct{}

// handleWSConn registers the channel for live pushes and serves delivery acks
// until the peer disconnects. The channel carries only events emitted while it
// is open; reconnecting clients query the catch-up endpoint for anything they
// missed, so the socket never re-sends an already fetched backlog.
func handleWSConn(conn *websocket.Conn, events *notifdomain.Service, hub *subscriberHub) {
	defer func() {
		_ = conn.Close()
	}()

	identity := ""
	if request := conn.Request(); request != nil {
		if resolved, ok := request.Context().Value(wsIdentityContextKey{}).(string); ok {
			identity = strings.TrimSpace(resolved)
		}
	}
	if identity == "" {
		return
	}

	decoder := json.NewDecoder(conn)
	peer := newWSPeer(json.NewEncoder(conn))

	// An ack may land while the socket is already tearing down; the delivered
	// update still has to finish, so acks run on a detached context.
	ackCtx := context.WithoutCancel(conn.Request().Context())

	hub.subscribe(identity, peer)
	defer hub.unsubscribe(identity, peer)

	// The ready frame tells the client live pushes are now flowing to this
	// channel.
	if err := peer.writeFrame(wsFrame{
		Type:    "notification.ready",
		Payload: mustJSON(readyPayload{Identity: identity}),
	}); err != nil {
		return
	}

	decodeErrors := 0
	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", "INVALID_ARGUMENT", "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "payload too large")
			continue
		}

		switch frame.Type {
		case "notification.ack":
			handleAckFrame(ackCtx, peer, events, frame)
		default:
			_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "unsupported frame type")
		}
	}
}

func handleAckFrame(ctx context.Context, peer *wsPeer, events *notifdomain.Service, frame wsFrame) {
	var payload ackPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "invalid ack payload")
		return
	}
	eventID := strings.TrimSpace(payload.EventID)
	if eventID == "" {
		_ = writeWSError(peer, frame.RequestID, "INVALID_ARGUMENT", "event_id is required")
		return
	}
	if err := events.MarkDelivered(ctx, eventID); err != nil {
		if errors.Is(err, notifdomain.ErrNotFound) {
			_ = writeWSError(peer, frame.RequestID, "NOT_FOUND", "notification event not found")
			return
		}
		log.Printf("marketplace: ack notification event=%q: %v", eventID, err)
		_ = writeWSError(peer, frame.RequestID, "UNAVAILABLE", "ack unavailable")
		return
	}
	_ = peer.writeFrame(wsFrame{
		Type:      "notification.acked",
		RequestID: frame.RequestID,
		Payload:   mustJSON(ackedPayload{EventID: eventID, Status: "ok"}),
	})
}

func writeWSError(peer *wsPeer, requestID string, code string, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "notification.error",
		RequestID: requestID,
		Payload:   mustJSON(wsErrorEnvelope{Error: wsError{Code: code, Message: message}}),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "invalid request body")
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, notifdomain.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domain.ErrAlreadyRequested):
		writeError(w, http.StatusConflict, "ALREADY_REQUESTED", err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusConflict, "FAILED_PRECONDITION", err.Error())
	case errors.Is(err, domain.ErrOwnerCannotRequest):
		writeError(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, domain.ErrOwnerIDRequired),
		errors.Is(err, domain.ErrActorIDRequired),
		errors.Is(err, domain.ErrListingIDRequired),
		errors.Is(err, domain.ErrTitleRequired),
		errors.Is(err, notifdomain.ErrRecipientRequired):
		writeError(w, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		log.Printf("marketplace: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, wsErrorEnvelope{Error: wsError{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("marketplace: encode response: %v", err)
	}
}

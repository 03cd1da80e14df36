package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"
)

type wsTestFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsTestEventPayload struct {
	Event struct {
		ID        string `json:"id"`
		ListingID string `json:"listing_id"`
		Kind      string `json:"kind"`
		Message   string `json:"message"`
		Delivered bool   `json:"delivered"`
	} `json:"event"`
}

type wsTestReadyPayload struct {
	Identity string `json:"identity"`
}

func dialWS(t *testing.T, srv *httptest.Server, identity string) *websocket.Conn {
	t.Helper()
	conn, err := dialWSErr(srv, identity)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func dialWSErr(srv *httptest.Server, identity string) (*websocket.Conn, error) {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if identity != "" {
		wsURL += "?identity=" + identity
	}
	return websocket.Dial(wsURL, "", srv.URL)
}

func writeTestFrame(t *testing.T, conn *websocket.Conn, frame map[string]any) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(frame); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
}

func readTestFrame(t *testing.T, conn *websocket.Conn) wsTestFrame {
	t.Helper()
	_ = conn.SetDeadline(time.Now().Add(2 * time.Second))
	var got wsTestFrame
	if err := json.NewDecoder(conn).Decode(&got); err != nil {
		t.Fatalf("decode server frame: %v", err)
	}
	return got
}

func decodeEventPayload(t *testing.T, payload json.RawMessage) wsTestEventPayload {
	t.Helper()
	var event wsTestEventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event payload: %v", err)
	}
	return event
}

func readReadyFrame(t *testing.T, conn *websocket.Conn) wsTestReadyPayload {
	t.Helper()
	got := readTestFrame(t, conn)
	if got.Type != "notification.ready" {
		t.Fatalf("frame type = %q, want notification.ready", got.Type)
	}
	var ready wsTestReadyPayload
	if err := json.Unmarshal(got.Payload, &ready); err != nil {
		t.Fatalf("decode ready payload: %v", err)
	}
	return ready
}

func TestWebSocketRequiresIdentity(t *testing.T) {
	srv := newTestServer(t)

	conn, err := dialWSErr(srv, "")
	if conn != nil {
		_ = conn.Close()
	}
	if err == nil {
		t.Fatal("expected websocket dial error without identity")
	}
	if !strings.Contains(err.Error(), "bad status") {
		t.Fatalf("dial error = %v, expected bad status", err)
	}
}

func TestWebSocketCarriesOnlyLiveEvents(t *testing.T) {
	srv := newTestServer(t)
	firstListing := postListing(t, srv, "owner1@example.com", "Rake leaves")
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+firstListing+"/request", "neighbor1@example.com", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "owner1@example.com", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catch-up status = %d", resp.StatusCode)
	}
	if eventsList, _ := body["events"].([]any); len(eventsList) != 1 {
		t.Fatalf("catch-up events = %d, want 1", len(eventsList))
	}

	// A channel opened after catch-up must not re-send the fetched backlog:
	// the first frame is the ready marker, and the next event frame belongs to
	// a transition that happened while the channel was open.
	conn := dialWS(t, srv, "owner1@example.com")
	ready := readReadyFrame(t, conn)
	if ready.Identity != "owner1@example.com" {
		t.Fatalf("ready identity = %q", ready.Identity)
	}

	secondListing := postListing(t, srv, "owner1@example.com", "Shovel snow")
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+secondListing+"/request", "neighbor1@example.com", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("second request status = %d", resp.StatusCode)
	}

	got := readTestFrame(t, conn)
	if got.Type != "notification.event" {
		t.Fatalf("frame type = %q, want notification.event", got.Type)
	}
	event := decodeEventPayload(t, got.Payload)
	if event.Event.ListingID != secondListing {
		t.Fatalf("event listing id = %q, want %q", event.Event.ListingID, secondListing)
	}
}

func TestWebSocketLivePushMarksDelivered(t *testing.T) {
	srv := newTestServer(t)
	listingID := postListing(t, srv, "owner1@example.com", "Rake leaves")

	conn := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, conn)

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+listingID+"/request", "neighbor1@example.com", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}

	got := readTestFrame(t, conn)
	if got.Type != "notification.event" {
		t.Fatalf("frame type = %q, want notification.event", got.Type)
	}
	event := decodeEventPayload(t, got.Payload)
	if event.Event.Kind != "listing.requested" {
		t.Fatalf("event kind = %q", event.Event.Kind)
	}

	// The delivered flag flips after the push lands, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "owner1@example.com", "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("catch-up status = %d", resp.StatusCode)
		}
		eventsList, _ := body["events"].([]any)
		if len(eventsList) != 1 {
			t.Fatalf("catch-up events = %d, want 1", len(eventsList))
		}
		stored, _ := eventsList[0].(map[string]any)
		if stored["delivered"] == true {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivered = %v, want true after live push", stored["delivered"])
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWebSocketPushReachesAllChannelsOfIdentity(t *testing.T) {
	srv := newTestServer(t)
	listingID := postListing(t, srv, "owner1@example.com", "Rake leaves")

	phone := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, phone)
	laptop := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, laptop)

	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+listingID+"/request", "neighbor1@example.com", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}

	for _, conn := range []*websocket.Conn{phone, laptop} {
		got := readTestFrame(t, conn)
		if got.Type != "notification.event" {
			t.Fatalf("frame type = %q, want notification.event", got.Type)
		}
	}
}

func TestWebSocketAckMarksDelivered(t *testing.T) {
	srv := newTestServer(t)
	listingID := postListing(t, srv, "owner1@example.com", "Rake leaves")
	if resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/listings/"+listingID+"/request", "neighbor1@example.com", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("request status = %d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "owner1@example.com", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catch-up status = %d", resp.StatusCode)
	}
	eventsList, _ := body["events"].([]any)
	if len(eventsList) != 1 {
		t.Fatalf("catch-up events = %d, want 1", len(eventsList))
	}
	fetched, _ := eventsList[0].(map[string]any)
	eventID, _ := fetched["id"].(string)
	if eventID == "" {
		t.Fatalf("catch-up event missing id: %v", fetched)
	}

	conn := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, conn)

	writeTestFrame(t, conn, map[string]any{
		"type":       "notification.ack",
		"request_id": "req-ack-1",
		"payload":    map[string]any{"event_id": eventID},
	})
	acked := readTestFrame(t, conn)
	if acked.Type != "notification.acked" {
		t.Fatalf("frame type = %q, want notification.acked", acked.Type)
	}
	if acked.RequestID != "req-ack-1" {
		t.Fatalf("request id = %q, want req-ack-1", acked.RequestID)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/notifications", "owner1@example.com", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("catch-up status = %d", resp.StatusCode)
	}
	eventsList, _ = body["events"].([]any)
	if len(eventsList) != 1 {
		t.Fatalf("catch-up events = %d, want 1", len(eventsList))
	}
	stored, _ := eventsList[0].(map[string]any)
	if stored["delivered"] != true {
		t.Fatalf("delivered = %v, want true after ack", stored["delivered"])
	}
}

func TestWebSocketAckUnknownEventReturnsNotFound(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, conn)

	writeTestFrame(t, conn, map[string]any{
		"type":       "notification.ack",
		"request_id": "req-ack-missing",
		"payload":    map[string]any{"event_id": "missing"},
	})
	got := readTestFrame(t, conn)
	if got.Type != "notification.error" {
		t.Fatalf("frame type = %q, want notification.error", got.Type)
	}
	if !strings.Contains(string(got.Payload), "NOT_FOUND") {
		t.Fatalf("error payload = %s, expected NOT_FOUND", string(got.Payload))
	}
}

func TestWebSocketUnknownFrameTypeReturnsError(t *testing.T) {
	srv := newTestServer(t)

	conn := dialWS(t, srv, "owner1@example.com")
	_ = readReadyFrame(t, conn)

	writeTestFrame(t, conn, map[string]any{
		"type":       "notification.unknown",
		"request_id": "req-bad-1",
		"payload":    map[string]any{},
	})
	got := readTestFrame(t, conn)
	if got.Type != "notification.error" {
		t.Fatalf("frame type = %q, want notification.error", got.Type)
	}
	if !strings.Contains(string(got.Payload), "INVALID_ARGUMENT") {
		t.Fatalf("error payload = %s, expected INVALID_ARGUMENT", string(got.Payload))
	}
}

// Package server wires the marketplace HTTP API, the notification websocket
// channel, and the storage lifecycle into one process.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/campuswork/campuswork/internal/platform/token"
	"github.com/campuswork/campuswork/internal/services/marketplace/domain"
	marketplacesqlite "github.com/campuswork/campuswork/internal/services/marketplace/storage/sqlite"
	notifdomain "github.com/campuswork/campuswork/internal/services/notifications/domain"
	notifsqlite "github.com/campuswork/campuswork/internal/services/notifications/storage/sqlite"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 10 * time.Second

	maxFramePayloadBytes   = 16 * 1024
	maxDecodeErrorsPerConn = 3
)

// Config defines the inputs for the marketplace transport boundary.
type Config struct {
	HTTPAddr          string
	DBDir             string
	TokenSecret       string
	TokenTTL          time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the marketplace HTTP and websocket process.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	listingStore    *marketplacesqlite.Store
	eventStore      *notifsqlite.Store
}

type wsFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

type wsErrorEnvelope struct {
	Error wsError `json:"error"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type eventEnvelope struct {
	Event eventJSON `json:"event"`
}

type eventJSON struct {
	ID          string `json:"id"`
	RecipientID string `json:"recipient_id"`
	ListingID   string `json:"listing_id"`
	Kind        string `json:"kind"`
	Message     string `json:"message"`
	CreatedAt   string `json:"created_at"`
	Delivered   bool   `json:"delivered"`
}

type readyPayload struct {
	Identity string `json:"identity"`
}

type ackPayload struct {
	EventID string `json:"event_id"`
}

type ackedPayload struct {
	EventID string `json:"event_id"`
	Status  string `json:"status"`
}

type listingJSON struct {
	ID            string  `json:"id"`
	OwnerID       string  `json:"owner_id"`
	CounterpartID string  `json:"counterpart_id,omitempty"`
	Status        string  `json:"status"`
	Title         string  `json:"title"`
	Category      string  `json:"category,omitempty"`
	Description   string  `json:"description,omitempty"`
	Hours         int     `json:"hours,omitempty"`
	Pay           float64 `json:"pay,omitempty"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type createListingPayload struct {
	Title       string  `json:"title"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Hours       int     `json:"hours"`
	Pay         float64 `json:"pay"`
}

type acceptListingPayload struct {
	CounterpartID string `json:"counterpart_id"`
}

func toEventJSON(event notifdomain.Event) eventJSON {
	return eventJSON{
		ID:          event.ID,
		RecipientID: event.RecipientID,
		ListingID:   event.ListingID,
		Kind:        event.Kind.String(),
		Message:     event.Message,
		CreatedAt:   event.CreatedAt.UTC().Format(time.RFC3339),
		Delivered:   event.Delivered,
	}
}

func toListingJSON(listing domain.Listing) listingJSON {
	return listingJSON{
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
		CreatedAt:     listing.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     listing.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// NewServer builds a configured marketplace server with its stores opened and
// migrations applied.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	dbDir := strings.TrimSpace(config.DBDir)
	if dbDir == "" {
		dbDir = "data"
	}
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	listingStore, err := marketplacesqlite.Open(filepath.Join(dbDir, "marketplace.db"))
	if err != nil {
		return nil, fmt.Errorf("open marketplace sqlite store: %w", err)
	}
	eventStore, err := notifsqlite.Open(filepath.Join(dbDir, "notifications.db"))
	if err != nil {
		_ = listingStore.Close()
		return nil, fmt.Errorf("open notifications sqlite store: %w", err)
	}

	var signer *token.Signer
	if strings.TrimSpace(config.TokenSecret) != "" {
		signer, err = token.NewSigner(config.TokenSecret, config.TokenTTL, nil)
		if err != nil {
			_ = listingStore.Close()
			_ = eventStore.Close()
			return nil, fmt.Errorf("configure token signer: %w", err)
		}
	}

	listings := domain.NewService(newListingStoreAdapter(listingStore), nil, nil)
	events := notifdomain.NewService(newEventStoreAdapter(eventStore), nil, nil)
	hub := newSubscriberHub()

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(listings, events, newDispatcher(events, hub), hub, signer),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		listingStore:    listingStore,
		eventStore:      eventStore,
	}, nil
}

// Run creates and serves a marketplace server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init marketplace server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve marketplace: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("marketplace server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("marketplace server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.listingStore != nil {
		if err := s.listingStore.Close(); err != nil {
			log.Printf("close marketplace store: %v", err)
		}
	}
	if s.eventStore != nil {
		if err := s.eventStore.Close(); err != nil {
			log.Printf("close notifications store: %v", err)
		}
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal websocket frame payload: %v", err)
		return nil
	}
	return b
}

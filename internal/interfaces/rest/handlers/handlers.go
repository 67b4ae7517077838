package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// RequestCoordinator drives the request lifecycle.
type RequestCoordinator interface {
	CreateRequest(ctx context.Context, resourceLocator, citizenID, preferredLanguages string) (*domain.Request, error)
	StartRequest(ctx context.Context, requestID, personIdentifier, authToken string) (*domain.Request, error)
	AbandonRequest(ctx context.Context, requestID, reason string) error
	CompleteSuccessfully(ctx context.Context, requestID string, payload []byte) error
	CompletePartially(ctx context.Context, requestID string, payload []byte) error
	CompleteUnsuccessfully(ctx context.Context, requestID, message string) error
}

// RequestQuerier answers read-only questions scoped to a citizen.
type RequestQuerier interface {
	ListRequests(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error)
	GetRequest(ctx context.Context, requestID, citizenID string) (*domain.Request, error)
	GetResponse(ctx context.Context, requestID, responseID, citizenID string) (*domain.Response, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	coordinator RequestCoordinator
	query       RequestQuerier
	db          Pinger
	publicURL   string
	logger      *slog.Logger
}

func NewHandlers(
	coordinator RequestCoordinator,
	query RequestQuerier,
	db Pinger,
	publicURL string,
	logger *slog.Logger,
) *Handlers {
	return &Handlers{
		coordinator: coordinator,
		query:       query,
		db:          db,
		publicURL:   publicURL,
		logger:      logger,
	}
}

// RegisterRoutes mounts the citizen routes behind citizenAuth and the EHR
// callbacks behind callbackAuth.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux, citizenAuth, callbackAuth func(http.Handler) http.Handler) {
	citizen := func(fn http.HandlerFunc) http.Handler { return citizenAuth(fn) }
	callback := func(fn http.HandlerFunc) http.Handler { return callbackAuth(fn) }

	mux.Handle("POST /requests", citizen(h.CreateRequest))
	mux.Handle("GET /requests", citizen(h.ListRequests))
	mux.Handle("GET /requests/{id}", citizen(h.GetRequest))
	mux.Handle("GET /requests/{id}/status", citizen(h.GetStatus))
	mux.Handle("GET /requests/{id}/response/{responseId}", citizen(h.GetResponse))

	mux.Handle("POST /callbacks/{id}/success", callback(h.NotifySuccess))
	mux.Handle("POST /callbacks/{id}/partial", callback(h.NotifyPartial))
	mux.Handle("POST /callbacks/{id}/failure", callback(h.NotifyFailure))

	mux.HandleFunc("GET /healthz", h.Health)
}

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest/middleware"
)

const (
	maxCreateBody = 64 << 10

	notStartedMessage = "The request could not be started, please submit it again."
)

// CreateRequest admits a new request and starts it right away. The Location
// header points at the status URL the citizen polls.
func (h *Handlers) CreateRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	citizenID := middleware.CitizenFromContext(ctx)

	var body rest.CreateRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&body); err != nil {
		rest.WriteError(w, application.NewInvalidInputError(fmt.Errorf("decode body: %w", err)), h.logger)
		return
	}

	req, err := h.coordinator.CreateRequest(ctx, body.ResourceLocator, citizenID, body.PreferredLanguages)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	started, err := h.coordinator.StartRequest(ctx, req.ID, citizenID, middleware.TokenFromContext(ctx))
	if err != nil {
		// a failed dispatch is already recorded; anything else would leave
		// the request NEW and holding an admission slot
		if !domain.IsErrorCode(err, domain.ErrCodeCommunicationError) {
			if abandonErr := h.coordinator.AbandonRequest(ctx, req.ID, notStartedMessage); abandonErr != nil {
				h.logger.Error("failed to abandon request", "request_id", req.ID, "error", abandonErr)
			}
		}
		rest.WriteError(w, err, h.logger)
		return
	}

	w.Header().Set("Location", rest.StatusURL(h.publicURL, started.ID))
	rest.WriteJSON(w, http.StatusAccepted, rest.RequestEnvelope{
		Success: true,
		Data:    rest.ToAPIRequest(started),
	})
}

func (h *Handlers) ListRequests(w http.ResponseWriter, r *http.Request) {
	page, err := bindPage(r)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	requests, err := h.query.ListRequests(r.Context(), middleware.CitizenFromContext(r.Context()), page.Limit, page.Offset)
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.RequestListEnvelope{
		Success: true,
		Data:    rest.ToAPIRequests(requests),
	})
}

func (h *Handlers) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	req, err := h.query.GetRequest(r.Context(), id, middleware.CitizenFromContext(r.Context()))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	rest.WriteJSON(w, http.StatusOK, rest.RequestEnvelope{
		Success: true,
		Data:    rest.ToAPIRequest(req),
	})
}

// GetStatus answers 202 while the request is in progress and 200 with the
// outcome once it is final.
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	req, err := h.query.GetRequest(r.Context(), id, middleware.CitizenFromContext(r.Context()))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	switch req.Status {
	case domain.StatusCompleted, domain.StatusFailed:
		rest.WriteJSON(w, http.StatusOK, rest.ToOutcome(req, h.publicURL))
	default:
		rest.WriteJSON(w, http.StatusAccepted, rest.Message{Message: rest.StillProcessingMessage})
	}
}

func (h *Handlers) GetResponse(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	responseID, err := pathParam(r, "responseId")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	resp, err := h.query.GetResponse(r.Context(), id, responseID, middleware.CitizenFromContext(r.Context()))
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp.Payload)
}

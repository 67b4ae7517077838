package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
)

const maxBundleBody = 32 << 20

func (h *Handlers) NotifySuccess(w http.ResponseWriter, r *http.Request) {
	h.notifyBundle(w, r, h.coordinator.CompleteSuccessfully)
}

func (h *Handlers) NotifyPartial(w http.ResponseWriter, r *http.Request) {
	h.notifyBundle(w, r, h.coordinator.CompletePartially)
}

func (h *Handlers) notifyBundle(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, requestID string, payload []byte) error) {
	id, err := pathParam(r, "id")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBundleBody))
	if err != nil {
		rest.WriteError(w, application.NewInvalidInputError(fmt.Errorf("read body: %w", err)), h.logger)
		return
	}

	if err := apply(r.Context(), id, payload); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) NotifyFailure(w http.ResponseWriter, r *http.Request) {
	id, err := pathParam(r, "id")
	if err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}

	var body rest.FailureNotificationBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCreateBody)).Decode(&body); err != nil {
		rest.WriteError(w, application.NewInvalidInputError(fmt.Errorf("decode body: %w", err)), h.logger)
		return
	}

	if err := h.coordinator.CompleteUnsuccessfully(r.Context(), id, body.Message); err != nil {
		rest.WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

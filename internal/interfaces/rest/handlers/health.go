package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
)

type healthStatus struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("health check failed", "error", err)
		rest.WriteJSON(w, http.StatusServiceUnavailable, healthStatus{Status: "unavailable", Database: "down"})
		return
	}
	rest.WriteJSON(w, http.StatusOK, healthStatus{Status: "ok", Database: "up"})
}

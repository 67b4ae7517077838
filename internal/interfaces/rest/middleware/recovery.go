package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
)

// Recovery turns a panic in a citizen or callback handler into a 500
// INTERNAL_ERROR. Nothing is written when the handler already started the
// response.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := newStatusRecorder(w)
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}

				caller, requestID := routeOf(r.URL.Path)
				logger.Error("handler panicked",
					"caller", caller,
					"request_id", requestID,
					"method", r.Method,
					"path", r.URL.Path,
					"response_started", rec.status != 0,
					"panic", p,
					"stack", string(debug.Stack()),
				)

				if rec.status == 0 {
					rest.WriteError(rec, application.NewInternalError(fmt.Errorf("panic: %v", p)), logger)
				}
			}()

			next.ServeHTTP(rec, r)
		})
	}
}

// routeOf tells EHR middleware callbacks from citizen calls and extracts the
// request id from /requests/{id}/... and /callbacks/{id}/... paths.
func routeOf(path string) (caller, requestID string) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	caller = "citizen"
	if segments[0] == "callbacks" {
		caller = "ehr_middleware"
	}
	if len(segments) > 1 && (segments[0] == "requests" || segments[0] == "callbacks") {
		requestID = segments[1]
	}
	return caller, requestID
}

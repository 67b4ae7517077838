package middleware

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"
	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
)

const (
	fhirJSON = "application/fhir+json"

	// rawBodyExtension marks operations whose body is checked by the handler
	// path rather than the document, so that malformed bundles reach the
	// coordinator and fail the request.
	rawBodyExtension = "x-raw-body"
)

func init() {
	if openapi3filter.RegisteredBodyDecoder(fhirJSON) == nil {
		openapi3filter.RegisterBodyDecoder(fhirJSON, openapi3filter.JSONBodyDecoder)
	}
}

// Validation rejects requests whose parameters or body do not match the API
// document. Paths the document does not describe pass through untouched.
// Authentication is left to the auth middleware.
func Validation(doc *openapi3.T, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("build openapi router: %w", err)
	}

	options := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
	}
	rawBodyOptions := &openapi3filter.Options{
		AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		ExcludeRequestBody: true,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := router.FindRoute(r)
			if err != nil {
				// unknown path or method: let the mux answer
				if _, ok := err.(*routers.RouteError); !ok {
					logger.Debug("openapi route lookup failed", "path", r.URL.Path, "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options:    options,
			}
			if rawBody(route.Operation) {
				input.Options = rawBodyOptions
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				rest.WriteError(w, application.NewInvalidInputError(err), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func rawBody(op *openapi3.Operation) bool {
	if op == nil {
		return false
	}
	raw, _ := op.Extensions[rawBodyExtension].(bool)
	return raw
}

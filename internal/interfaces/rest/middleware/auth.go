package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
)

type contextKey string

const (
	CitizenIDKey contextKey = "citizen_id"
	AuthTokenKey contextKey = "auth_token"

	CallbackKeyHeader = "X-Callback-Key"
)

// Claims are the JWT claims of a citizen token. CitizenID wins over the
// subject when both are set.
type Claims struct {
	jwt.RegisteredClaims
	CitizenID string `json:"citizen_id,omitempty"`
}

func (c *Claims) citizen() string {
	if c.CitizenID != "" {
		return c.CitizenID
	}
	return c.Subject
}

// Citizen verifies the bearer token and stores the citizen id and the raw
// token on the request context.
func Citizen(cfg config.AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.SigningKey)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				rest.WriteError(w, application.NewUnauthorizedError("missing authorization header"), logger)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				rest.WriteError(w, application.NewUnauthorizedError("invalid authorization format"), logger)
				return
			}

			tokenStr := parts[1]
			claims := &Claims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
				return key, nil
			})
			if err != nil || !token.Valid {
				logger.Debug("rejected citizen token", "error", err)
				rest.WriteError(w, application.NewUnauthorizedError("invalid token"), logger)
				return
			}

			citizenID := claims.citizen()
			if citizenID == "" {
				rest.WriteError(w, application.NewUnauthorizedError("token carries no citizen"), logger)
				return
			}

			ctx := context.WithValue(r.Context(), CitizenIDKey, citizenID)
			ctx = context.WithValue(ctx, AuthTokenKey, tokenStr)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// CallbackKey guards the EHR middleware callbacks with a shared key.
func CallbackKey(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte(expected)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get(CallbackKeyHeader))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				rest.WriteError(w, application.NewUnauthorizedError("invalid callback key"), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CitizenFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CitizenIDKey).(string)
	return id
}

func TokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(AuthTokenKey).(string)
	return token
}

// WithCitizen returns ctx carrying an already authenticated citizen.
func WithCitizen(ctx context.Context, citizenID, token string) context.Context {
	ctx = context.WithValue(ctx, CitizenIDKey, citizenID)
	return context.WithValue(ctx, AuthTokenKey, token)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testCitizen   = "citizen-1"
	testToken     = "token-1"
	testPublicURL = "https://r2da.example.org/"
)

type mockCoordinator struct {
	createFn       func(ctx context.Context, resourceLocator, citizenID, preferredLanguages string) (*domain.Request, error)
	startFn        func(ctx context.Context, requestID, personIdentifier, authToken string) (*domain.Request, error)
	abandonFn      func(ctx context.Context, requestID, reason string) error
	successFn      func(ctx context.Context, requestID string, payload []byte) error
	partialFn      func(ctx context.Context, requestID string, payload []byte) error
	unsuccessfulFn func(ctx context.Context, requestID, message string) error
}

func (m *mockCoordinator) CreateRequest(ctx context.Context, resourceLocator, citizenID, preferredLanguages string) (*domain.Request, error) {
	return m.createFn(ctx, resourceLocator, citizenID, preferredLanguages)
}

func (m *mockCoordinator) StartRequest(ctx context.Context, requestID, personIdentifier, authToken string) (*domain.Request, error) {
	return m.startFn(ctx, requestID, personIdentifier, authToken)
}

func (m *mockCoordinator) AbandonRequest(ctx context.Context, requestID, reason string) error {
	return m.abandonFn(ctx, requestID, reason)
}

func (m *mockCoordinator) CompleteSuccessfully(ctx context.Context, requestID string, payload []byte) error {
	return m.successFn(ctx, requestID, payload)
}

func (m *mockCoordinator) CompletePartially(ctx context.Context, requestID string, payload []byte) error {
	return m.partialFn(ctx, requestID, payload)
}

func (m *mockCoordinator) CompleteUnsuccessfully(ctx context.Context, requestID, message string) error {
	return m.unsuccessfulFn(ctx, requestID, message)
}

type mockQuery struct {
	listFn        func(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error)
	getFn         func(ctx context.Context, requestID, citizenID string) (*domain.Request, error)
	getResponseFn func(ctx context.Context, requestID, responseID, citizenID string) (*domain.Response, error)
}

func (m *mockQuery) ListRequests(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error) {
	return m.listFn(ctx, citizenID, limit, offset)
}

func (m *mockQuery) GetRequest(ctx context.Context, requestID, citizenID string) (*domain.Request, error) {
	return m.getFn(ctx, requestID, citizenID)
}

func (m *mockQuery) GetResponse(ctx context.Context, requestID, responseID, citizenID string) (*domain.Response, error) {
	return m.getResponseFn(ctx, requestID, responseID, citizenID)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func fakeCitizenAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithCitizen(r.Context(), testCitizen, testToken)))
	})
}

func passThrough(next http.Handler) http.Handler { return next }

func newTestServer(coord *mockCoordinator, query *mockQuery, db Pinger) http.Handler {
	if db == nil {
		db = pingerFunc(func(context.Context) error { return nil })
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandlers(coord, query, db, testPublicURL, logger)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux, fakeCitizenAuth, passThrough)
	return mux
}

func newDomainRequest(t *testing.T, status domain.RequestStatus, responseIDs ...string) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest("req-1", "Patient/$patient-summary", testCitizen, "en", time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	req.Status = status
	if len(responseIDs) > 0 {
		req.ResponseIDs = responseIDs
	}
	return req
}

func decodeError(t *testing.T, body *bytes.Buffer) rest.ErrorResponse {
	t.Helper()
	var resp rest.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp
}

func TestCreateRequest_Success(t *testing.T) {
	coord := &mockCoordinator{
		createFn: func(ctx context.Context, locator, citizenID, languages string) (*domain.Request, error) {
			assert.Equal(t, "Patient/$patient-summary", locator)
			assert.Equal(t, testCitizen, citizenID)
			assert.Equal(t, "it", languages)
			return newDomainRequest(t, domain.StatusNew), nil
		},
		startFn: func(ctx context.Context, requestID, personIdentifier, authToken string) (*domain.Request, error) {
			assert.Equal(t, "req-1", requestID)
			assert.Equal(t, testCitizen, personIdentifier)
			assert.Equal(t, testToken, authToken)
			return newDomainRequest(t, domain.StatusRunning), nil
		},
	}
	srv := newTestServer(coord, &mockQuery{}, nil)

	body := `{"resourceLocator": "Patient/$patient-summary", "preferredLanguages": "it"}`
	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, "https://r2da.example.org/requests/req-1/status", rr.Header().Get("Location"))

	var resp rest.RequestEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "RUNNING", resp.Data.Status)
}

func TestCreateRequest_AdmissionDenied(t *testing.T) {
	coord := &mockCoordinator{
		createFn: func(context.Context, string, string, string) (*domain.Request, error) {
			return nil, domain.NewTooManyRequestsError(3)
		},
		startFn: func(context.Context, string, string, string) (*domain.Request, error) {
			t.Fatal("start must not be called after a denied admission")
			return nil, nil
		},
	}
	srv := newTestServer(coord, &mockQuery{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{"resourceLocator": "Patient"}`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	resp := decodeError(t, rr.Body)
	assert.Equal(t, domain.ErrCodeTooManyRequests, resp.Error.Code)
	assert.Equal(t, "Too many concurrent running request: 3. Please try later.", resp.Error.Message)
}

func TestCreateRequest_DispatchFailure(t *testing.T) {
	coord := &mockCoordinator{
		createFn: func(context.Context, string, string, string) (*domain.Request, error) {
			return newDomainRequest(t, domain.StatusNew), nil
		},
		startFn: func(context.Context, string, string, string) (*domain.Request, error) {
			return nil, domain.NewCommunicationError(errors.New("connection refused"))
		},
		abandonFn: func(context.Context, string, string) error {
			t.Error("a failed dispatch is already recorded on the request")
			return nil
		},
	}
	srv := newTestServer(coord, &mockQuery{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{"resourceLocator": "Patient"}`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, domain.ErrCodeCommunicationError, decodeError(t, rr.Body).Error.Code)
}

func TestCreateRequest_StartErrorAbandonsRequest(t *testing.T) {
	tests := []struct {
		name       string
		startErr   error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "lock not acquired",
			startErr:   application.NewRequestProcessingError(application.ErrLockNotAcquired),
			wantStatus: http.StatusConflict,
			wantCode:   application.ErrCodeRequestProcessing,
		},
		{
			name:       "store failure",
			startErr:   application.NewInternalError(errors.New("connection reset")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   application.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var abandoned []string
			coord := &mockCoordinator{
				createFn: func(context.Context, string, string, string) (*domain.Request, error) {
					return newDomainRequest(t, domain.StatusNew), nil
				},
				startFn: func(context.Context, string, string, string) (*domain.Request, error) {
					return nil, tt.startErr
				},
				abandonFn: func(_ context.Context, requestID, reason string) error {
					abandoned = append(abandoned, requestID)
					assert.Equal(t, notStartedMessage, reason)
					return nil
				},
			}
			srv := newTestServer(coord, &mockQuery{}, nil)

			req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{"resourceLocator": "Patient"}`))
			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rr.Body).Error.Code)
			assert.Equal(t, []string{"req-1"}, abandoned)
		})
	}
}

func TestCreateRequest_MalformedBody(t *testing.T) {
	srv := newTestServer(&mockCoordinator{}, &mockQuery{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/requests", bytes.NewBufferString(`{not json`))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, application.ErrCodeInvalidInput, decodeError(t, rr.Body).Error.Code)
}

func TestListRequests_PassesPaging(t *testing.T) {
	query := &mockQuery{
		listFn: func(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error) {
			assert.Equal(t, testCitizen, citizenID)
			assert.Equal(t, 10, limit)
			assert.Equal(t, 20, offset)
			return []*domain.Request{newDomainRequest(t, domain.StatusCompleted, "resp-1")}, nil
		},
	}
	srv := newTestServer(&mockCoordinator{}, query, nil)

	req := httptest.NewRequest(http.MethodGet, "/requests?limit=10&offset=20", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp rest.RequestListEnvelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, []string{"resp-1"}, resp.Data[0].ResponseIDs)
}

func TestListRequests_InvalidLimit(t *testing.T) {
	srv := newTestServer(&mockCoordinator{}, &mockQuery{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/requests?limit=ten", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetRequest_NotOwned(t *testing.T) {
	query := &mockQuery{
		getFn: func(ctx context.Context, requestID, citizenID string) (*domain.Request, error) {
			return nil, domain.NewRequestNotOwnedError(requestID)
		},
	}
	srv := newTestServer(&mockCoordinator{}, query, nil)

	req := httptest.NewRequest(http.MethodGet, "/requests/req-9", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t,
		"Request with id req-9 not found or not belonging to requesting citizen.",
		decodeError(t, rr.Body).Error.Message,
	)
}

func TestGetStatus(t *testing.T) {
	failure := "EHR unreachable"

	tests := []struct {
		name       string
		request    func(t *testing.T) *domain.Request
		wantStatus int
		check      func(t *testing.T, body []byte)
	}{
		{
			name:       "running is still processing",
			request:    func(t *testing.T) *domain.Request { return newDomainRequest(t, domain.StatusRunning) },
			wantStatus: http.StatusAccepted,
			check: func(t *testing.T, body []byte) {
				var msg rest.Message
				require.NoError(t, json.Unmarshal(body, &msg))
				assert.Equal(t, rest.StillProcessingMessage, msg.Message)
			},
		},
		{
			name:       "partially completed is still processing",
			request:    func(t *testing.T) *domain.Request { return newDomainRequest(t, domain.StatusPartiallyCompleted, "resp-1") },
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "completed lists outputs",
			request:    func(t *testing.T) *domain.Request { return newDomainRequest(t, domain.StatusCompleted, "resp-1", "resp-2") },
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var outcome rest.Outcome
				require.NoError(t, json.Unmarshal(body, &outcome))
				require.Len(t, outcome.Output, 2)
				assert.Equal(t, "Bundle", outcome.Output[0].Type)
				assert.Equal(t, "https://r2da.example.org/requests/req-1/response/resp-2", outcome.Output[1].URL)
				assert.Empty(t, outcome.Error)
			},
		},
		{
			name: "failed carries the failure message",
			request: func(t *testing.T) *domain.Request {
				r := newDomainRequest(t, domain.StatusFailed)
				r.FailureMessage = &failure
				return r
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body []byte) {
				var outcome rest.Outcome
				require.NoError(t, json.Unmarshal(body, &outcome))
				assert.Equal(t, failure, outcome.Error)
				assert.Empty(t, outcome.Output)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query := &mockQuery{
				getFn: func(context.Context, string, string) (*domain.Request, error) {
					return tt.request(t), nil
				},
			}
			srv := newTestServer(&mockCoordinator{}, query, nil)

			rr := httptest.NewRecorder()
			srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/requests/req-1/status", nil))

			require.Equal(t, tt.wantStatus, rr.Code)
			if tt.check != nil {
				tt.check(t, rr.Body.Bytes())
			}
		})
	}
}

func TestGetResponse_ServesPayload(t *testing.T) {
	payload := []byte(`{"resourceType":"Bundle","type":"searchset"}`)
	query := &mockQuery{
		getResponseFn: func(ctx context.Context, requestID, responseID, citizenID string) (*domain.Response, error) {
			assert.Equal(t, "req-1", requestID)
			assert.Equal(t, "resp-1", responseID)
			assert.Equal(t, testCitizen, citizenID)
			return &domain.Response{ID: responseID, CitizenID: citizenID, Payload: payload}, nil
		},
	}
	srv := newTestServer(&mockCoordinator{}, query, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/requests/req-1/response/resp-1", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/fhir+json", rr.Header().Get("Content-Type"))
	assert.Equal(t, payload, rr.Body.Bytes())
}

func TestGetResponse_ResultsNotAvailable(t *testing.T) {
	query := &mockQuery{
		getResponseFn: func(ctx context.Context, requestID, _, _ string) (*domain.Response, error) {
			return nil, domain.NewResultsNotAvailableError(requestID, domain.StatusRunning)
		},
	}
	srv := newTestServer(&mockCoordinator{}, query, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/requests/req-1/response/resp-1", nil))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t,
		"The status RUNNING of the request req-1 does not allow to retrieve the results.",
		decodeError(t, rr.Body).Error.Message,
	)
}

func TestCallbacks(t *testing.T) {
	bundle := `{"resourceType":"Bundle","type":"searchset"}`

	var gotID, gotMessage string
	var gotPayload []byte
	coord := &mockCoordinator{
		successFn: func(ctx context.Context, requestID string, payload []byte) error {
			gotID, gotPayload = requestID, payload
			return nil
		},
		partialFn: func(ctx context.Context, requestID string, payload []byte) error {
			gotID, gotPayload = requestID, payload
			return nil
		},
		unsuccessfulFn: func(ctx context.Context, requestID, message string) error {
			gotID, gotMessage = requestID, message
			return nil
		},
	}
	srv := newTestServer(coord, &mockQuery{}, nil)

	t.Run("success", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callbacks/req-1/success", bytes.NewBufferString(bundle)))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "req-1", gotID)
		assert.JSONEq(t, bundle, string(gotPayload))
	})

	t.Run("partial", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callbacks/req-2/partial", bytes.NewBufferString(bundle)))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "req-2", gotID)
	})

	t.Run("failure", func(t *testing.T) {
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callbacks/req-3/failure", bytes.NewBufferString(`{"message":"EHR down"}`)))

		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Equal(t, "req-3", gotID)
		assert.Equal(t, "EHR down", gotMessage)
	})
}

func TestCallbacks_RejectedNotification(t *testing.T) {
	coord := &mockCoordinator{
		successFn: func(ctx context.Context, requestID string, _ []byte) error {
			return domain.NewCannotElaborateError(requestID, domain.StatusCompleted)
		},
	}
	srv := newTestServer(coord, &mockQuery{}, nil)

	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/callbacks/req-1/success", bytes.NewBufferString(`{}`)))

	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, domain.ErrCodeInvalidState, decodeError(t, rr.Body).Error.Code)
}

func TestHealth(t *testing.T) {
	t.Run("database up", func(t *testing.T) {
		srv := newTestServer(&mockCoordinator{}, &mockQuery{}, nil)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})

	t.Run("database down", func(t *testing.T) {
		db := pingerFunc(func(context.Context) error { return errors.New("connection refused") })
		srv := newTestServer(&mockCoordinator{}, &mockQuery{}, db)
		rr := httptest.NewRecorder()
		srv.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})
}

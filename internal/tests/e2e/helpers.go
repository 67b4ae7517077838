package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest"
	"github.com/interopehrate/r2d-access-gateway/internal/interfaces/rest/middleware"
	"github.com/stretchr/testify/require"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TestClient wraps HTTP calls to a running gateway on behalf of one citizen.
type TestClient struct {
	baseURL     string
	token       string
	callbackKey string
	httpClient  *http.Client
}

func NewTestClient(t *testing.T, baseURL, citizenID string) *TestClient {
	claims := middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   citizenID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	if issuer := os.Getenv("R2DA_AUTH__ISSUER"); issuer != "" {
		claims.Issuer = issuer
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).
		SignedString([]byte(envOr("R2DA_AUTH__SIGNING_KEY", "dev-key")))
	require.NoError(t, err)

	return &TestClient{
		baseURL:     baseURL,
		token:       token,
		callbackKey: envOr("R2DA_AUTH__CALLBACK_KEY", "callback-key"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *TestClient) do(t *testing.T, method, path string, body []byte, header http.Header) (int, http.Header, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequest(method, c.baseURL+path, reader)
	require.NoError(t, err)
	for k, v := range header {
		httpReq.Header[k] = v
	}

	resp, err := c.httpClient.Do(httpReq)
	require.NoError(t, err)
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, resp.Header, bodyBytes
}

func (c *TestClient) citizenHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.token)
	h.Set("Content-Type", "application/json")
	return h
}

// CreateRequest calls POST /requests and returns the request and its Location header.
func (c *TestClient) CreateRequest(t *testing.T, locator string) (*rest.Request, string, error) {
	body, _ := json.Marshal(rest.CreateRequestBody{ResourceLocator: locator, PreferredLanguages: "en"})
	status, header, bodyBytes := c.do(t, http.MethodPost, "/requests", body, c.citizenHeader())

	if status != http.StatusAccepted {
		var errResp rest.ErrorResponse
		_ = json.Unmarshal(bodyBytes, &errResp)
		return nil, "", fmt.Errorf("status %d: %s", status, errResp.Error.Message)
	}

	var envelope rest.RequestEnvelope
	require.NoError(t, json.Unmarshal(bodyBytes, &envelope))
	return &envelope.Data, header.Get("Location"), nil
}

// Status calls GET /requests/{id}/status.
func (c *TestClient) Status(t *testing.T, requestID string) (int, []byte) {
	status, _, body := c.do(t, http.MethodGet, "/requests/"+requestID+"/status", nil, c.citizenHeader())
	return status, body
}

// Response calls GET /requests/{id}/response/{responseId}.
func (c *TestClient) Response(t *testing.T, requestID, responseID string) (int, []byte) {
	status, _, body := c.do(t, http.MethodGet, "/requests/"+requestID+"/response/"+responseID, nil, c.citizenHeader())
	return status, body
}

// Notify posts an EHR middleware callback; kind is success, partial or failure.
func (c *TestClient) Notify(t *testing.T, requestID, kind string, body []byte) int {
	h := http.Header{}
	h.Set(middleware.CallbackKeyHeader, c.callbackKey)
	h.Set("Content-Type", "application/json")
	status, _, _ := c.do(t, http.MethodPost, "/callbacks/"+requestID+"/"+kind, body, h)
	return status
}

func (c *TestClient) Healthy() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/healthz")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

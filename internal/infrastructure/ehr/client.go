package ehr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// HTTPDispatcher hands requests over to the EHR middleware. The middleware
// answers asynchronously through the callback endpoints or the notification queue.
type HTTPDispatcher struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPDispatcher(cfg config.EHRConfig) *HTTPDispatcher {
	return &HTTPDispatcher{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.ConnTimeout,
		},
	}
}

func (c *HTTPDispatcher) Send(ctx context.Context, req *domain.Request, authToken string) error {
	body := DispatchRequest{
		RequestID:          req.ID,
		URI:                req.QuerySignature,
		CitizenID:          req.CitizenID,
		PreferredLanguages: req.PreferredLanguages,
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("error marshalling json: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/requests", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("error creating request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID)
	if authToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("error making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp ErrorResponse
	if err := json.Unmarshal(raw, &errResp); err != nil || errResp.Err == "" {
		return &application.EHRError{
			Code:       http.StatusText(resp.StatusCode),
			Message:    strings.TrimSpace(string(raw)),
			StatusCode: resp.StatusCode,
		}
	}
	return &application.EHRError{
		Code:       errResp.Err,
		Message:    errResp.Message,
		StatusCode: resp.StatusCode,
	}
}

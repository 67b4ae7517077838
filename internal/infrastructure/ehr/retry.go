package ehr

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// RetryDispatcher retries transient dispatch failures with exponential backoff.
type RetryDispatcher struct {
	inner      application.Dispatcher
	baseDelay  time.Duration
	maxRetries int
	logger     *slog.Logger
}

func NewRetryDispatcher(inner application.Dispatcher, cfg config.RetryConfig, logger *slog.Logger) *RetryDispatcher {
	maxRetries := int(cfg.MaxRetries)
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &RetryDispatcher{
		inner:      inner,
		baseDelay:  time.Duration(cfg.BaseDelay) * time.Second,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

func (r *RetryDispatcher) Send(ctx context.Context, req *domain.Request, authToken string) error {
	var lastErr error

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := r.inner.Send(ctx, req, authToken)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if attempt < r.maxRetries-1 {
			delay := r.backoff(attempt)
			r.logger.Warn("retrying dispatch to EHR middleware",
				"request_id", req.ID,
				"attempt", attempt+1,
				"delay", delay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if r.maxRetries == 1 {
		return lastErr
	}
	return fmt.Errorf("maximum retries exceeded: %w", lastErr)
}

// isRetryable treats 5xx answers and transport failures as transient.
func isRetryable(err error) bool {
	if ehrErr, ok := application.IsEHRError(err); ok {
		return ehrErr.IsRetryable()
	}
	return application.IsRetryable(err)
}

// backoff doubles the base delay per attempt and adds up to half of it as jitter.
func (r *RetryDispatcher) backoff(attempt int) time.Duration {
	base := r.baseDelay * time.Duration(1<<attempt)
	if base <= 0 {
		return 0
	}
	return base + rand.N(base/2+1)
}

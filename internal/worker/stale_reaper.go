// Package worker runs background maintenance over persisted requests.
package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// StaleFailer fails a request that stopped hearing from the EHR middleware.
type StaleFailer interface {
	FailStale(ctx context.Context, requestID string, olderThan time.Time) (bool, error)
}

// ReapObserver is notified for every request the reaper fails.
type ReapObserver interface {
	StaleRequestFailed()
}

type StaleReaper struct {
	requests   application.RequestStore
	failer     StaleFailer
	observer   ReapObserver
	interval   time.Duration
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

func NewStaleReaper(
	requests application.RequestStore,
	failer StaleFailer,
	observer ReapObserver,
	cfg config.WorkerConfig,
	logger *slog.Logger,
) *StaleReaper {
	return &StaleReaper{
		requests:   requests,
		failer:     failer,
		observer:   observer,
		interval:   cfg.Interval,
		staleAfter: cfg.StaleAfter,
		batchSize:  cfg.BatchSize,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (w *StaleReaper) Start(ctx context.Context) {
	if w.staleAfter <= 0 {
		w.logger.Info("stale reaper disabled")
		return
	}

	w.logger.Info("stale reaper started", "interval", w.interval, "stale_after", w.staleAfter, "batch_size", w.batchSize)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("stale reaping failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stale reaper stopping")
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("stale reaping failed", "error", err)
			}
		}
	}
}

// RunOnce processes one batch and returns how many requests were failed.
func (w *StaleReaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.staleAfter)

	stale, err := w.requests.FindStale(ctx, cutoff, w.batchSize)
	if err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}

	var processed, failed int
	for _, req := range stale {
		if ctx.Err() != nil {
			break
		}
		processed++

		ok, err := w.failer.FailStale(ctx, req.ID, cutoff)
		if err != nil {
			w.logSkip(req, err)
			continue
		}
		if ok {
			failed++
			if w.observer != nil {
				w.observer.StaleRequestFailed()
			}
		}
	}

	w.logger.Info("processed stale requests",
		"processed", processed,
		"failed", failed)

	return failed, nil
}

func (w *StaleReaper) logSkip(req *domain.Request, err error) {
	if application.CategorizeError(err) == application.CategoryTransient {
		w.logger.Debug("stale request busy, retrying next tick", "request_id", req.ID, "error", err)
		return
	}
	w.logger.Error("failed to reap stale request", "request_id", req.ID, "error", err)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

const (
	notificationSuccess = "success"
	notificationPartial = "partial"
	notificationFailure = "failure"

	staleFailureMessage = "Request timed out waiting for the EHR middleware."
)

// Coordinator owns the request lifecycle: admission, cache lookup, state
// transitions and finalization of EHR notifications.
type Coordinator struct {
	requests   application.RequestStore
	responses  application.ResponseStore
	tx         application.Transactor
	codec      application.BundleCodec
	dispatcher application.Dispatcher
	locker     application.Locker
	observer   application.LifecycleObserver
	cfg        config.CoordinatorConfig
	logger     *slog.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Coordinator)

func WithObserver(o application.LifecycleObserver) Option {
	return func(c *Coordinator) { c.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(c *Coordinator) { c.newID = newID }
}

func NewCoordinator(
	requests application.RequestStore,
	responses application.ResponseStore,
	tx application.Transactor,
	codec application.BundleCodec,
	dispatcher application.Dispatcher,
	locker application.Locker,
	cfg config.CoordinatorConfig,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		requests:   requests,
		responses:  responses,
		tx:         tx,
		codec:      codec,
		dispatcher: dispatcher,
		locker:     locker,
		observer:   application.NopObserver{},
		cfg:        cfg,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest admits and persists a new request in status NEW.
func (s *Coordinator) CreateRequest(ctx context.Context, resourceLocator, citizenID, preferredLanguages string) (*domain.Request, error) {
	req, err := domain.NewRequest(s.newID(), resourceLocator, citizenID, preferredLanguages, s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context, requests application.RequestStore, _ application.ResponseStore) error {
		if err := requests.LockCitizen(ctx, citizenID); err != nil {
			return err
		}

		// the clock is read under the citizen lock so creation order matches lock order
		now := s.now()
		req.CreatedAt, req.UpdatedAt = now, now

		if err := s.admit(ctx, requests, citizenID, now); err != nil {
			return err
		}
		return requests.Create(ctx, req)
	})
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeTooManyRequests) {
			s.observer.AdmissionDenied()
			s.logger.Warn("admission denied", "citizen_id", citizenID, "error", err)
			return nil, err
		}
		return nil, application.NewInternalError(fmt.Errorf("create request: %w", err))
	}

	s.observer.RequestCreated()
	s.logger.Info("created persistent request",
		"request_id", req.ID,
		"citizen_id", citizenID,
		"query", req.QuerySignature,
	)
	return req, nil
}

// admit denies when the citizen already has the configured number of requests
// in flight within the last 24 hours.
func (s *Coordinator) admit(ctx context.Context, requests application.RequestStore, citizenID string, now time.Time) error {
	limit := s.cfg.MaxConcurrentRunningRequestPerDay
	if limit <= 0 {
		return nil
	}

	count, err := requests.CountRunning(ctx, citizenID, domain.AdmissionWindow(now).From)
	if err != nil {
		return fmt.Errorf("count running requests: %w", err)
	}

	if count >= limit {
		return domain.NewTooManyRequestsError(count)
	}
	return nil
}

// StartRequest completes a NEW request from the cache or dispatches it to the
// EHR middleware. The request lock is released once RUNNING is stored, so a
// notification may arrive while the dispatch is still in progress; the
// returned request is the snapshot taken before dispatch.
func (s *Coordinator) StartRequest(ctx context.Context, requestID, personIdentifier, authToken string) (*domain.Request, error) {
	req, dispatch, err := s.prepareStart(ctx, requestID, personIdentifier)
	if err != nil || !dispatch {
		return req, err
	}

	started := time.Now()
	sendErr := s.dispatcher.Send(ctx, req, authToken)
	s.observer.Dispatched(time.Since(started), sendErr)

	if sendErr != nil {
		s.logger.Error("failed to send request to EHR middleware", "request_id", req.ID, "error", sendErr)
		return s.recordDispatchFailure(ctx, req, sendErr)
	}

	s.logger.Info("request sent to EHR middleware", "request_id", req.ID)
	return req, nil
}

// prepareStart runs under the request lock. It reports whether the request
// was moved to RUNNING and still has to be dispatched.
func (s *Coordinator) prepareStart(ctx context.Context, requestID, personIdentifier string) (*domain.Request, bool, error) {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return nil, false, err
	}
	defer release()

	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, false, s.storeError(err)
	}

	if err := req.CanStart(); err != nil {
		return nil, false, err
	}

	citizenID := personIdentifier
	if citizenID == "" {
		citizenID = req.CitizenID
	}

	cachedID, err := s.findCachedEquivalent(ctx, citizenID, req.QuerySignature)
	if err != nil {
		return nil, false, application.NewInternalError(err)
	}

	if cachedID != "" {
		s.logger.Debug("found a valid cached response", "request_id", req.ID, "response_id", cachedID)
		if err := req.CompleteFromCache(cachedID); err != nil {
			return nil, false, err
		}
		if err := s.persist(ctx, s.requests, req, domain.StatusNew); err != nil {
			return nil, false, s.storeError(err)
		}
		return req, false, nil
	}

	if err := req.MarkRunning(); err != nil {
		return nil, false, err
	}
	if err := s.persist(ctx, s.requests, req, domain.StatusNew); err != nil {
		return nil, false, s.storeError(err)
	}
	return req, true, nil
}

// recordDispatchFailure fails a request that is still RUNNING. A lost
// conditional update means a notification got there first; the EHR middleware
// evidently has the request, so the current state is returned instead.
func (s *Coordinator) recordDispatchFailure(ctx context.Context, req *domain.Request, sendErr error) (*domain.Request, error) {
	// the caller's context may already be done
	ctx = context.WithoutCancel(ctx)

	failed := req.Clone()
	if err := failed.Fail(sendErr.Error()); err != nil {
		return nil, err
	}

	err := s.persist(ctx, s.requests, failed, domain.StatusRunning)
	switch {
	case err == nil:
		return nil, domain.NewCommunicationError(sendErr)
	case domain.IsErrorCode(err, domain.ErrCodeInvalidState):
		current, findErr := s.requests.FindByID(ctx, req.ID)
		if findErr != nil {
			return nil, s.storeError(findErr)
		}
		s.logger.Warn("dispatch failed after the EHR middleware already notified",
			"request_id", req.ID,
			"status", current.Status,
			"error", sendErr,
		)
		return current, nil
	default:
		s.logger.Error("failed to record dispatch failure", "request_id", req.ID, "error", err)
		return nil, domain.NewCommunicationError(sendErr)
	}
}

// AbandonRequest fails a request that never left NEW, releasing its admission
// slot. Requests that moved on are left alone.
func (s *Coordinator) AbandonRequest(ctx context.Context, requestID, reason string) error {
	ctx = context.WithoutCancel(ctx)

	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return s.storeError(err)
	}
	if req.Status != domain.StatusNew {
		return nil
	}

	if err := req.Fail(reason); err != nil {
		return err
	}
	if err := s.persist(ctx, s.requests, req, domain.StatusNew); err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeInvalidState) {
			return nil
		}
		return s.storeError(err)
	}

	s.logger.Warn("abandoned request that could not be started", "request_id", requestID, "reason", reason)
	return nil
}

func (s *Coordinator) findCachedEquivalent(ctx context.Context, citizenID, querySignature string) (string, error) {
	days := s.cfg.CacheDurationInDays
	if days <= 0 {
		return "", nil
	}

	w := domain.CacheWindow(s.now(), days)
	matches, err := s.requests.FindEquivalent(ctx, citizenID, querySignature, w.From, w.To)
	if err != nil {
		return "", fmt.Errorf("find equivalent requests: %w", err)
	}

	for _, m := range matches {
		if m.Status != domain.StatusCompleted {
			continue
		}
		if id, ok := m.FirstResponseID(); ok {
			s.observer.CacheLookup(true)
			return id, nil
		}
	}

	s.observer.CacheLookup(false)
	return "", nil
}

// CompleteSuccessfully stores the annotated final bundle and completes the request.
func (s *Coordinator) CompleteSuccessfully(ctx context.Context, requestID string, payload []byte) error {
	return s.finalize(ctx, requestID, payload, notificationSuccess)
}

// CompletePartially stores a partial bundle as received.
func (s *Coordinator) CompletePartially(ctx context.Context, requestID string, payload []byte) error {
	return s.finalize(ctx, requestID, payload, notificationPartial)
}

// CompleteUnsuccessfully records the failure reported by the EHR middleware.
func (s *Coordinator) CompleteUnsuccessfully(ctx context.Context, requestID, message string) error {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return err
	}
	defer release()

	req, err := s.loadForNotification(ctx, requestID, notificationFailure)
	if err != nil {
		return err
	}

	expected := req.Status
	if err := req.Fail(message); err != nil {
		return err
	}
	if err := s.persist(ctx, s.requests, req, expected); err != nil {
		return s.storeError(err)
	}

	s.observer.Notification(notificationFailure, "applied")
	s.logger.Info("request completed unsuccessfully", "request_id", requestID, "reason", message)
	return nil
}

// FailStale fails a request that has been waiting for the EHR middleware since
// before olderThan. It reports false when the request moved on in the meantime.
func (s *Coordinator) FailStale(ctx context.Context, requestID string, olderThan time.Time) (bool, error) {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return false, err
	}
	defer release()

	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return false, s.storeError(err)
	}
	if req.AcceptsNotifications() != nil || !req.UpdatedAt.Before(olderThan) {
		return false, nil
	}

	expected := req.Status
	if err := req.Fail(staleFailureMessage); err != nil {
		return false, err
	}
	if err := s.persist(ctx, s.requests, req, expected); err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeInvalidState) {
			return false, nil
		}
		return false, s.storeError(err)
	}

	s.logger.Warn("failed stale request", "request_id", requestID, "status", expected)
	return true, nil
}

func (s *Coordinator) finalize(ctx context.Context, requestID string, payload []byte, kind string) error {
	release, err := s.lock(ctx, requestID)
	if err != nil {
		return err
	}
	defer release()

	req, err := s.loadForNotification(ctx, requestID, kind)
	if err != nil {
		return err
	}
	expected := req.Status

	stored, err := s.encodePayload(payload, kind)
	if err != nil {
		invalid := domain.NewInvalidPayloadError(err)
		s.logger.Error("error while parsing the received bundle", "request_id", requestID, "kind", kind, "error", err)

		if err := req.Fail(invalid.Error()); err != nil {
			return err
		}
		if err := s.persist(ctx, s.requests, req, expected); err != nil {
			return s.storeError(err)
		}
		s.observer.Notification(kind, "invalid_payload")
		return nil
	}

	resp, err := domain.NewResponse(s.newID(), req.CitizenID, stored, s.now())
	if err != nil {
		return err
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context, requests application.RequestStore, responses application.ResponseStore) error {
		if err := responses.Create(ctx, resp); err != nil {
			return fmt.Errorf("store response: %w", err)
		}

		if kind == notificationSuccess {
			if err := req.Complete(resp.ID); err != nil {
				return err
			}
		} else if err := req.CompletePartially(resp.ID); err != nil {
			return err
		}

		return s.persistQuiet(ctx, requests, req, expected)
	})
	if err != nil {
		return s.storeError(err)
	}

	s.observer.Transitioned(expected, req.Status)
	s.observer.Notification(kind, "applied")
	s.logger.Info("stored EHR response",
		"request_id", requestID,
		"response_id", resp.ID,
		"status", req.Status,
	)
	return nil
}

// encodePayload validates the bundle; the final one is annotated with
// provenance and re-encoded, partial ones are stored as received.
func (s *Coordinator) encodePayload(payload []byte, kind string) ([]byte, error) {
	bundle, err := s.codec.ParseAndValidate(payload)
	if err != nil {
		return nil, err
	}

	if kind != notificationSuccess {
		return payload, nil
	}

	annotated, err := s.codec.Annotate(bundle)
	if err != nil {
		return nil, err
	}
	return s.codec.Serialize(annotated)
}

func (s *Coordinator) loadForNotification(ctx context.Context, requestID, kind string) (*domain.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		s.observer.Notification(kind, "rejected")
		return nil, s.storeError(err)
	}
	if err := req.AcceptsNotifications(); err != nil {
		s.observer.Notification(kind, "rejected")
		s.logger.Warn("notification rejected", "request_id", requestID, "kind", kind, "status", req.Status)
		return nil, err
	}
	return req, nil
}

func (s *Coordinator) persist(ctx context.Context, store application.RequestStore, req *domain.Request, expected domain.RequestStatus) error {
	if err := s.persistQuiet(ctx, store, req, expected); err != nil {
		return err
	}
	s.observer.Transitioned(expected, req.Status)
	return nil
}

func (s *Coordinator) persistQuiet(ctx context.Context, store application.RequestStore, req *domain.Request, expected domain.RequestStatus) error {
	req.UpdatedAt = s.now()
	return store.UpdateStatus(ctx, req, expected)
}

func (s *Coordinator) lock(ctx context.Context, requestID string) (func(), error) {
	release, err := s.locker.Acquire(ctx, "request:"+requestID)
	if err != nil {
		if errors.Is(err, application.ErrLockNotAcquired) {
			return nil, application.NewRequestProcessingError(err)
		}
		return nil, application.NewInternalError(fmt.Errorf("acquire request lock: %w", err))
	}
	return release, nil
}

// storeError passes domain errors through and hides infrastructure ones.
func (s *Coordinator) storeError(err error) error {
	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if _, ok := application.IsServiceError(err); ok {
		return err
	}
	return application.NewInternalError(err)
}

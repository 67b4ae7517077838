package application

import (
	"context"
	"errors"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// RequestStore is the port for request persistence.
type RequestStore interface {
	Create(ctx context.Context, req *domain.Request) error
	FindByID(ctx context.Context, id string) (*domain.Request, error)
	// UpdateStatus persists req only if the stored status still equals expected.
	UpdateStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error
	CountRunning(ctx context.Context, citizenID string, since time.Time) (int, error)
	// FindEquivalent returns COMPLETED requests with the same signature, most recent first.
	FindEquivalent(ctx context.Context, citizenID, querySignature string, from, to time.Time) ([]*domain.Request, error)
	FindByCitizen(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error)
	FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Request, error)
	// LockCitizen serializes admission for a citizen until the enclosing transaction ends.
	LockCitizen(ctx context.Context, citizenID string) error
}

// ResponseStore is the port for response payload persistence.
type ResponseStore interface {
	Create(ctx context.Context, resp *domain.Response) error
	FindByID(ctx context.Context, id string) (*domain.Response, error)
}

// Transactor runs fn with stores bound to a single transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context, requests RequestStore, responses ResponseStore) error) error
}

// BundleCodec parses, validates and annotates FHIR bundles returned by the EHR middleware.
type BundleCodec interface {
	ParseAndValidate(raw []byte) (*fhir.Bundle, error)
	Annotate(bundle *fhir.Bundle) (*fhir.Bundle, error)
	Serialize(bundle *fhir.Bundle) ([]byte, error)
}

// Dispatcher is the port for the EHR middleware. Completion arrives later as a notification.
type Dispatcher interface {
	Send(ctx context.Context, req *domain.Request, authToken string) error
}

// ErrLockNotAcquired is returned by a Locker that gave up waiting.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Locker provides mutual exclusion keyed by an arbitrary string.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// LifecycleObserver receives lifecycle events for metrics.
type LifecycleObserver interface {
	RequestCreated()
	AdmissionDenied()
	CacheLookup(hit bool)
	Dispatched(duration time.Duration, err error)
	Transitioned(from, to domain.RequestStatus)
	Notification(kind, outcome string)
}

type NopObserver struct{}

func (NopObserver) RequestCreated()                        {}
func (NopObserver) AdmissionDenied()                       {}
func (NopObserver) CacheLookup(bool)                       {}
func (NopObserver) Dispatched(time.Duration, error)        {}
func (NopObserver) Transitioned(_, _ domain.RequestStatus) {}
func (NopObserver) Notification(_, _ string)               {}

package mocks

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// MockRequestStore is an in-memory RequestStore. Fn fields override the default behaviour.
type MockRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*domain.Request

	CreateFn         func(ctx context.Context, req *domain.Request) error
	FindByIDFn       func(ctx context.Context, id string) (*domain.Request, error)
	UpdateStatusFn   func(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error
	CountRunningFn   func(ctx context.Context, citizenID string, since time.Time) (int, error)
	FindEquivalentFn func(ctx context.Context, citizenID, querySignature string, from, to time.Time) ([]*domain.Request, error)
	FindStaleFn      func(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Request, error)
}

func NewMockRequestStore() *MockRequestStore {
	return &MockRequestStore{
		requests: make(map[string]*domain.Request),
	}
}

// Seed stores req as is, bypassing the lifecycle.
func (m *MockRequestStore) Seed(req *domain.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req.Clone()
}

// Get returns the stored copy of a request, or nil.
func (m *MockRequestStore) Get(id string) *domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.requests[id]; ok {
		return r.Clone()
	}
	return nil
}

func (m *MockRequestStore) Create(ctx context.Context, req *domain.Request) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *MockRequestStore) FindByID(ctx context.Context, id string) (*domain.Request, error) {
	if m.FindByIDFn != nil {
		return m.FindByIDFn(ctx, id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.requests[id]; ok {
		return r.Clone(), nil
	}
	return nil, domain.NewRequestNotFoundError(id)
}

func (m *MockRequestStore) UpdateStatus(ctx context.Context, req *domain.Request, expected domain.RequestStatus) error {
	if m.UpdateStatusFn != nil {
		return m.UpdateStatusFn(ctx, req, expected)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[req.ID]
	if !ok {
		return domain.NewRequestNotFoundError(req.ID)
	}
	if current.Status != expected {
		return domain.NewConcurrentModificationError(req.ID, expected)
	}
	m.requests[req.ID] = req.Clone()
	return nil
}

func (m *MockRequestStore) CountRunning(ctx context.Context, citizenID string, since time.Time) (int, error) {
	if m.CountRunningFn != nil {
		return m.CountRunningFn(ctx, citizenID, since)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, r := range m.requests {
		if r.CitizenID == citizenID && r.IsInFlight() && !r.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (m *MockRequestStore) FindEquivalent(ctx context.Context, citizenID, querySignature string, from, to time.Time) ([]*domain.Request, error) {
	if m.FindEquivalentFn != nil {
		return m.FindEquivalentFn(ctx, citizenID, querySignature, from, to)
	}
	w := domain.Window{From: from, To: to}
	return m.filter(func(r *domain.Request) bool {
		return r.CitizenID == citizenID &&
			r.QuerySignature == querySignature &&
			r.Status == domain.StatusCompleted &&
			len(r.ResponseIDs) > 0 &&
			w.Contains(r.CreatedAt)
	}, 0, 0), nil
}

func (m *MockRequestStore) FindByCitizen(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error) {
	return m.filter(func(r *domain.Request) bool {
		return r.CitizenID == citizenID
	}, limit, offset), nil
}

func (m *MockRequestStore) FindStale(ctx context.Context, olderThan time.Time, limit int) ([]*domain.Request, error) {
	if m.FindStaleFn != nil {
		return m.FindStaleFn(ctx, olderThan, limit)
	}
	stale := m.filter(func(r *domain.Request) bool {
		return (r.Status == domain.StatusRunning || r.Status == domain.StatusPartiallyCompleted) &&
			r.UpdatedAt.Before(olderThan)
	}, 0, 0)
	slices.Reverse(stale)
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	return stale, nil
}

func (m *MockRequestStore) LockCitizen(ctx context.Context, citizenID string) error {
	return nil
}

// filter returns matching copies, most recent first.
func (m *MockRequestStore) filter(match func(r *domain.Request) bool, limit, offset int) []*domain.Request {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*domain.Request
	for _, r := range m.requests {
		if match(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset > 0 {
		if offset >= len(out) {
			return nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MockResponseStore is an in-memory ResponseStore.
type MockResponseStore struct {
	mu        sync.RWMutex
	responses map[string]*domain.Response

	CreateFn func(ctx context.Context, resp *domain.Response) error
}

func NewMockResponseStore() *MockResponseStore {
	return &MockResponseStore{
		responses: make(map[string]*domain.Response),
	}
}

func (m *MockResponseStore) Create(ctx context.Context, resp *domain.Response) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, resp)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[resp.ID] = resp
	return nil
}

func (m *MockResponseStore) FindByID(ctx context.Context, id string) (*domain.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.responses[id]; ok {
		return r, nil
	}
	return nil, domain.NewResponseNotFoundError(id)
}

func (m *MockResponseStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.responses)
}

// MockTransactor runs transactions one at a time against the in-memory stores.
type MockTransactor struct {
	mu        sync.Mutex
	Requests  *MockRequestStore
	Responses *MockResponseStore

	WithTransactionFn func(ctx context.Context, fn func(ctx context.Context, requests application.RequestStore, responses application.ResponseStore) error) error
}

func NewMockTransactor(requests *MockRequestStore, responses *MockResponseStore) *MockTransactor {
	return &MockTransactor{Requests: requests, Responses: responses}
}

func (m *MockTransactor) WithTransaction(ctx context.Context, fn func(ctx context.Context, requests application.RequestStore, responses application.ResponseStore) error) error {
	if m.WithTransactionFn != nil {
		return m.WithTransactionFn(ctx, fn)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, m.Requests, m.Responses)
}

package services

import (
	"context"

	"github.com/interopehrate/r2d-access-gateway/internal/application"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// QueryService answers the citizen's read-only questions about their requests.
type QueryService struct {
	requests  application.RequestStore
	responses application.ResponseStore
}

func NewQueryService(requests application.RequestStore, responses application.ResponseStore) *QueryService {
	return &QueryService{
		requests:  requests,
		responses: responses,
	}
}

func (s *QueryService) ListRequests(ctx context.Context, citizenID string, limit, offset int) ([]*domain.Request, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	requests, err := s.requests.FindByCitizen(ctx, citizenID, limit, offset)
	if err != nil {
		return nil, application.NewInternalError(err)
	}
	return requests, nil
}

// GetRequest returns the request only if it belongs to citizenID.
func (s *QueryService) GetRequest(ctx context.Context, requestID, citizenID string) (*domain.Request, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeRequestNotFound) {
			return nil, domain.NewRequestNotOwnedError(requestID)
		}
		return nil, application.NewInternalError(err)
	}

	if req.CitizenID != citizenID {
		return nil, domain.NewRequestNotOwnedError(requestID)
	}
	return req, nil
}

// GetResponse returns a stored bundle of a request whose status allows
// reading results.
func (s *QueryService) GetResponse(ctx context.Context, requestID, responseID, citizenID string) (*domain.Response, error) {
	req, err := s.GetRequest(ctx, requestID, citizenID)
	if err != nil {
		return nil, err
	}

	if req.Status != domain.StatusCompleted && req.Status != domain.StatusPartiallyCompleted {
		return nil, domain.NewResultsNotAvailableError(requestID, req.Status)
	}

	if !req.HasResponse(responseID) {
		return nil, domain.NewResponseNotFoundError(responseID)
	}

	resp, err := s.responses.FindByID(ctx, responseID)
	if err != nil {
		if domain.IsErrorCode(err, domain.ErrCodeResponseNotFound) {
			return nil, err
		}
		return nil, application.NewInternalError(err)
	}

	if resp.CitizenID != citizenID {
		return nil, domain.NewResponseNotFoundError(responseID)
	}
	return resp, nil
}

package application

import (
	"context"
	"errors"
	"net/http"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// ErrorCategory represents the nature of an error for retry logic
type ErrorCategory string

const (
	CategoryTransient      ErrorCategory = "TRANSIENT"
	CategoryPermanent      ErrorCategory = "PERMANENT"
	CategoryBusinessRule   ErrorCategory = "BUSINESS_RULE"
	CategoryClientError    ErrorCategory = "CLIENT_ERROR"
	CategoryInfrastructure ErrorCategory = "INFRASTRUCTURE"
)

// CategorizeError determines error category for retry and logging purposes
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryTransient
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeTooManyRequests,
			domain.ErrCodeInvalidState,
			domain.ErrCodeInvalidTransition:
			return CategoryBusinessRule
		case domain.ErrCodeRequestNotFound,
			domain.ErrCodeResponseNotFound,
			domain.ErrCodeMissingRequiredField,
			domain.ErrCodeInvalidLocator,
			domain.ErrCodeInvalidPayload,
			domain.ErrCodeResultsNotAvailable:
			return CategoryClientError
		case domain.ErrCodeCommunicationError:
			if domainErr.Err != nil {
				return CategorizeError(domainErr.Err)
			}
			return CategoryTransient
		}
	}

	if svcErr, ok := IsServiceError(err); ok {
		switch svcErr.Code {
		case ErrCodeInvalidInput, ErrCodeUnauthorized:
			return CategoryClientError
		case ErrCodeInternal:
			return CategoryInfrastructure
		case ErrCodeRequestProcessing, ErrCodeTimeout:
			return CategoryTransient
		}
	}

	if ehrErr, ok := IsEHRError(err); ok {
		if ehrErr.IsRetryable() {
			return CategoryTransient
		}
		if ehrErr.StatusCode == http.StatusNotFound || ehrErr.StatusCode == http.StatusBadRequest {
			return CategoryClientError
		}
		return CategoryPermanent
	}

	return CategoryTransient
}

// IsRetryable returns true if the error category suggests retry
func IsRetryable(err error) bool {
	category := CategorizeError(err)
	return category == CategoryTransient || category == CategoryInfrastructure
}

// ToHTTPStatus maps error to appropriate HTTP status code
func ToHTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}

	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.HTTPStatus
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		switch domainErr.Code {
		case domain.ErrCodeTooManyRequests:
			return http.StatusTooManyRequests
		case domain.ErrCodeInvalidState, domain.ErrCodeInvalidTransition:
			return http.StatusConflict
		case domain.ErrCodeRequestNotFound, domain.ErrCodeResponseNotFound:
			return http.StatusNotFound
		case domain.ErrCodeCommunicationError:
			return http.StatusBadGateway
		case domain.ErrCodeInvalidPayload,
			domain.ErrCodeMissingRequiredField,
			domain.ErrCodeInvalidLocator,
			domain.ErrCodeResultsNotAvailable:
			return http.StatusBadRequest
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	}

	if _, ok := IsEHRError(err); ok {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}

// ToErrorCode clear error code for API responses
func ToErrorCode(err error) string {
	if svcErr, ok := IsServiceError(err); ok {
		return svcErr.Code
	}

	var domainErr *domain.DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrCodeTimeout
	}

	if _, ok := IsEHRError(err); ok {
		return domain.ErrCodeCommunicationError
	}

	return ErrCodeInternal
}

package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a business logic error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

const (
	ErrCodeTooManyRequests      = "TOO_MANY_REQUESTS"
	ErrCodeInvalidState         = "INVALID_STATE"
	ErrCodeInvalidTransition    = "INVALID_TRANSITION"
	ErrCodeRequestNotFound      = "REQUEST_NOT_FOUND"
	ErrCodeResponseNotFound     = "RESPONSE_NOT_FOUND"
	ErrCodeCommunicationError   = "COMMUNICATION_ERROR"
	ErrCodeInvalidPayload       = "INVALID_PAYLOAD"
	ErrCodeMissingRequiredField = "MISSING_REQUIRED_FIELD"
	ErrCodeInvalidLocator       = "INVALID_LOCATOR"
	ErrCodeResultsNotAvailable  = "RESULTS_NOT_AVAILABLE"
)

func NewTooManyRequestsError(count int) *DomainError {
	return &DomainError{
		Code:    ErrCodeTooManyRequests,
		Message: fmt.Sprintf("Too many concurrent running request: %d. Please try later.", count),
	}
}

func NewCannotStartError(id string, current RequestStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("Current status (%s) of request with id %s does not allow to start it.", current, id),
	}
}

func NewCannotElaborateError(id string, current RequestStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("Current status (%s) of request with id %s does not allow to elaborate it.", current, id),
	}
}

func NewResultsNotAvailableError(id string, current RequestStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeResultsNotAvailable,
		Message: fmt.Sprintf("The status %s of the request %s does not allow to retrieve the results.", current, id),
	}
}

// NewConcurrentModificationError reports a conditional update that lost a race.
func NewConcurrentModificationError(id string, expected RequestStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidState,
		Message: fmt.Sprintf("request %s is no longer in status %s", id, expected),
	}
}

func NewInvalidTransitionError(from, to RequestStatus) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NewRequestNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeRequestNotFound,
		Message: fmt.Sprintf("Request with id %s not found.", id),
	}
}

func NewRequestNotOwnedError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeRequestNotFound,
		Message: fmt.Sprintf("Request with id %s not found or not belonging to requesting citizen.", id),
	}
}

func NewResponseNotFoundError(id string) *DomainError {
	return &DomainError{
		Code:    ErrCodeResponseNotFound,
		Message: fmt.Sprintf("Response with id %s not found.", id),
	}
}

func NewCommunicationError(err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeCommunicationError,
		Message: "error while sending the request to the EHR middleware",
		Err:     err,
	}
}

func NewInvalidPayloadError(err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidPayload,
		Message: "The received bundle is not valid",
		Err:     err,
	}
}

func NewMissingRequiredFieldError(field string) *DomainError {
	return &DomainError{
		Code:    ErrCodeMissingRequiredField,
		Message: fmt.Sprintf("%s is required", field),
	}
}

func NewInvalidLocatorError(locator string, err error) *DomainError {
	return &DomainError{
		Code:    ErrCodeInvalidLocator,
		Message: fmt.Sprintf("invalid resource locator %q", locator),
		Err:     err,
	}
}

// IsErrorCode checks if an error is a DomainError with a specific code
func IsErrorCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

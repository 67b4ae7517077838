// Package domain encodes an R2D request, its lifecycle and the responses it accumulates.
package domain

import (
	"slices"
	"time"
)

// RequestStatus represents the current state of a request in its lifecycle
type RequestStatus string

const (
	StatusNew                RequestStatus = "NEW"
	StatusRunning            RequestStatus = "RUNNING"
	StatusPartiallyCompleted RequestStatus = "PARTIALLY_COMPLETED"
	StatusCompleted          RequestStatus = "COMPLETED"
	StatusFailed             RequestStatus = "FAILED"
)

// InFlightStatuses are the statuses counted by admission control.
var InFlightStatuses = []RequestStatus{StatusNew, StatusRunning}

type Request struct {
	ID                 string
	QuerySignature     string
	CitizenID          string
	PreferredLanguages string
	Status             RequestStatus
	ResponseIDs        []string
	FailureMessage     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func NewRequest(id, resourceLocator, citizenID, preferredLanguages string, now time.Time) (*Request, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("request ID")
	}
	if citizenID == "" {
		return nil, NewMissingRequiredFieldError("citizen ID")
	}

	signature, err := QuerySignature(resourceLocator)
	if err != nil {
		return nil, err
	}

	return &Request{
		ID:                 id,
		QuerySignature:     signature,
		CitizenID:          citizenID,
		PreferredLanguages: preferredLanguages,
		Status:             StatusNew,
		ResponseIDs:        []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// CanStart reports whether start may be applied.
func (r *Request) CanStart() error {
	if r.Status != StatusNew {
		return NewCannotStartError(r.ID, r.Status)
	}
	return nil
}

// AcceptsNotifications reports whether an EHR notification may be applied.
func (r *Request) AcceptsNotifications() error {
	if r.Status != StatusRunning && r.Status != StatusPartiallyCompleted {
		return NewCannotElaborateError(r.ID, r.Status)
	}
	return nil
}

func (r *Request) MarkRunning() error {
	return r.transition(StatusRunning)
}

// CompleteFromCache reuses the response of an equivalent completed request.
func (r *Request) CompleteFromCache(responseID string) error {
	if r.Status != StatusNew {
		return NewInvalidTransitionError(r.Status, StatusCompleted)
	}
	return r.complete(responseID)
}

func (r *Request) Complete(responseID string) error {
	return r.complete(responseID)
}

func (r *Request) CompletePartially(responseID string) error {
	if responseID == "" {
		return NewMissingRequiredFieldError("response ID")
	}
	if err := r.transition(StatusPartiallyCompleted); err != nil {
		return err
	}
	r.ResponseIDs = append(r.ResponseIDs, responseID)
	return nil
}

func (r *Request) Fail(message string) error {
	if err := r.transition(StatusFailed); err != nil {
		return err
	}
	r.FailureMessage = &message
	return nil
}

func (r *Request) complete(responseID string) error {
	if responseID == "" {
		return NewMissingRequiredFieldError("response ID")
	}
	if err := r.transition(StatusCompleted); err != nil {
		return err
	}
	r.ResponseIDs = append(r.ResponseIDs, responseID)
	return nil
}

func (r *Request) transition(target RequestStatus) error {
	if err := r.canTransitionTo(target); err != nil {
		return err
	}
	r.Status = target
	return nil
}

func (r *Request) canTransitionTo(target RequestStatus) error {
	switch r.Status {
	case StatusNew:
		return r.allow(target, StatusRunning, StatusCompleted, StatusFailed)
	case StatusRunning:
		return r.allow(target, StatusPartiallyCompleted, StatusCompleted, StatusFailed)
	case StatusPartiallyCompleted:
		return r.allow(target, StatusPartiallyCompleted, StatusCompleted, StatusFailed)
	}
	return NewInvalidTransitionError(r.Status, target)
}

func (r *Request) allow(target RequestStatus, allowed ...RequestStatus) error {
	if slices.Contains(allowed, target) {
		return nil
	}
	return NewInvalidTransitionError(r.Status, target)
}

func (r *Request) IsTerminal() bool {
	switch r.Status {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// IsInFlight reports whether the request counts against the citizen's admission limit.
func (r *Request) IsInFlight() bool {
	return slices.Contains(InFlightStatuses, r.Status)
}

// FirstResponseID returns the response reused by cache hits.
func (r *Request) FirstResponseID() (string, bool) {
	if len(r.ResponseIDs) == 0 {
		return "", false
	}
	return r.ResponseIDs[0], true
}

func (r *Request) HasResponse(responseID string) bool {
	return slices.Contains(r.ResponseIDs, responseID)
}

// Clone returns a copy that shares no slices or pointers with r.
func (r *Request) Clone() *Request {
	c := *r
	c.ResponseIDs = slices.Clone(r.ResponseIDs)
	if r.FailureMessage != nil {
		msg := *r.FailureMessage
		c.FailureMessage = &msg
	}
	return &c
}

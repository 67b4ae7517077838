package domain

import "time"

// Response is an immutable bundle payload produced for a request.
type Response struct {
	ID        string
	CitizenID string
	Payload   []byte
	CreatedAt time.Time
}

func NewResponse(id, citizenID string, payload []byte, now time.Time) (*Response, error) {
	if id == "" {
		return nil, NewMissingRequiredFieldError("response ID")
	}
	if citizenID == "" {
		return nil, NewMissingRequiredFieldError("citizen ID")
	}
	if len(payload) == 0 {
		return nil, NewMissingRequiredFieldError("payload")
	}

	return &Response{
		ID:        id,
		CitizenID: citizenID,
		Payload:   payload,
		CreatedAt: now,
	}, nil
}

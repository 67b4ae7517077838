package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outcome is the kind of notification the EHR middleware publishes.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeFailure Outcome = "FAILURE"
)

var ErrMalformedMessage = errors.New("malformed notification")

// Notification is the body of a message on the notification queue.
type Notification struct {
	RequestID string          `json:"requestId"`
	Outcome   Outcome         `json:"outcome"`
	Bundle    json.RawMessage `json:"bundle,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func decodeNotification(body []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if n.RequestID == "" {
		return nil, fmt.Errorf("%w: requestId is required", ErrMalformedMessage)
	}

	switch n.Outcome {
	case OutcomeSuccess, OutcomePartial:
	case OutcomeFailure:
		if n.Message == "" {
			n.Message = "The EHR middleware reported a failure."
		}
	default:
		return nil, fmt.Errorf("%w: unknown outcome %q", ErrMalformedMessage, n.Outcome)
	}
	return &n, nil
}

package rest

import (
	"fmt"
	"strings"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

const StillProcessingMessage = "Your request is still under processing, please use again this URL to monitor it."

type Request struct {
	ID                 string    `json:"id"`
	QuerySignature     string    `json:"querySignature"`
	PreferredLanguages string    `json:"preferredLanguages,omitempty"`
	Status             string    `json:"status"`
	ResponseIDs        []string  `json:"responseIds"`
	FailureMessage     string    `json:"failureMessage,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

type RequestEnvelope struct {
	Success bool    `json:"success"`
	Data    Request `json:"data"`
}

type RequestListEnvelope struct {
	Success bool      `json:"success"`
	Data    []Request `json:"data"`
}

type CreateRequestBody struct {
	ResourceLocator    string `json:"resourceLocator"`
	PreferredLanguages string `json:"preferredLanguages"`
}

type FailureNotificationBody struct {
	Message string `json:"message"`
}

type Message struct {
	Message string `json:"message"`
}

type OutputItem struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Outcome is the final answer of the status endpoint.
type Outcome struct {
	TransactionTime time.Time    `json:"transactionTime"`
	Request         string       `json:"request"`
	Output          []OutputItem `json:"output,omitempty"`
	Error           string       `json:"error,omitempty"`
}

func ToAPIRequest(r *domain.Request) Request {
	out := Request{
		ID:                 r.ID,
		QuerySignature:     r.QuerySignature,
		PreferredLanguages: r.PreferredLanguages,
		Status:             string(r.Status),
		ResponseIDs:        r.ResponseIDs,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
	if out.ResponseIDs == nil {
		out.ResponseIDs = []string{}
	}
	if r.FailureMessage != nil {
		out.FailureMessage = *r.FailureMessage
	}
	return out
}

func ToAPIRequests(requests []*domain.Request) []Request {
	out := make([]Request, 0, len(requests))
	for _, r := range requests {
		out = append(out, ToAPIRequest(r))
	}
	return out
}

// ToOutcome builds the status answer of a terminal request.
func ToOutcome(r *domain.Request, publicURL string) Outcome {
	outcome := Outcome{
		TransactionTime: r.UpdatedAt,
		Request:         r.QuerySignature,
	}

	if r.Status == domain.StatusFailed {
		if r.FailureMessage != nil {
			outcome.Error = *r.FailureMessage
		}
		return outcome
	}

	base := strings.TrimRight(publicURL, "/")
	for _, id := range r.ResponseIDs {
		outcome.Output = append(outcome.Output, OutputItem{
			Type: "Bundle",
			URL:  ResponseURL(base, r.ID, id),
		})
	}
	return outcome
}

func StatusURL(publicURL, requestID string) string {
	return fmt.Sprintf("%s/requests/%s/status", strings.TrimRight(publicURL, "/"), requestID)
}

func ResponseURL(publicURL, requestID, responseID string) string {
	return fmt.Sprintf("%s/requests/%s/response/%s", strings.TrimRight(publicURL, "/"), requestID, responseID)
}

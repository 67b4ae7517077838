package postgres

import (
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
)

// RequestModel mirrors a row of the requests table.
type RequestModel struct {
	ID                 string
	QuerySignature     string
	CitizenID          string
	PreferredLanguages string
	Status             string
	ResponseIDs        []string
	FailureMessage     *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type ResponseModel struct {
	ID        string
	CitizenID string
	Payload   []byte
	CreatedAt time.Time
}

func toRequestModel(r *domain.Request) RequestModel {
	ids := r.ResponseIDs
	if ids == nil {
		ids = []string{}
	}
	return RequestModel{
		ID:                 r.ID,
		QuerySignature:     r.QuerySignature,
		CitizenID:          r.CitizenID,
		PreferredLanguages: r.PreferredLanguages,
		Status:             string(r.Status),
		ResponseIDs:        ids,
		FailureMessage:     r.FailureMessage,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func (m RequestModel) toDomain() *domain.Request {
	return &domain.Request{
		ID:                 m.ID,
		QuerySignature:     m.QuerySignature,
		CitizenID:          m.CitizenID,
		PreferredLanguages: m.PreferredLanguages,
		Status:             domain.RequestStatus(m.Status),
		ResponseIDs:        m.ResponseIDs,
		FailureMessage:     m.FailureMessage,
		CreatedAt:          m.CreatedAt.UTC(),
		UpdatedAt:          m.UpdatedAt.UTC(),
	}
}

func (m ResponseModel) toDomain() *domain.Response {
	return &domain.Response{
		ID:        m.ID,
		CitizenID: m.CitizenID,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

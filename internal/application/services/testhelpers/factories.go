package testhelpers

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/interopehrate/r2d-access-gateway/internal/application/services"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/stretchr/testify/require"
)

const (
	DefaultLocator   = "Patient/$patient-summary?_format=json"
	DefaultLanguages = "it,en"
)

// ValidBundle is a minimal searchset bundle accepted by the codec.
const ValidBundle = `{
  "resourceType": "Bundle",
  "type": "searchset",
  "entry": [
    {"resource": {"resourceType": "Patient", "id": "pat-1"}},
    {"resource": {"resourceType": "Observation", "id": "obs-1", "status": "final", "code": {"text": "hr"}}}
  ]
}`

// NewCitizenID returns a fresh citizen identifier so tests do not share admission counts.
func NewCitizenID() string {
	return "citizen-" + uuid.NewString()
}

// CreateRunningRequest uses the Coordinator to create and dispatch a request.
// The dispatcher behind the coordinator must accept the call.
func CreateRunningRequest(
	t *testing.T,
	ctx context.Context,
	coordinator *services.Coordinator,
	citizenID string,
) *domain.Request {
	t.Helper()

	req, err := coordinator.CreateRequest(ctx, DefaultLocator, citizenID, DefaultLanguages)
	require.NoError(t, err)
	require.Equal(t, domain.StatusNew, req.Status)

	started, err := coordinator.StartRequest(ctx, req.ID, citizenID, "token")
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, started.Status)

	return started
}

// CompletedRequest builds a COMPLETED request owned by citizenID pointing at responseID.
func CompletedRequest(citizenID, responseID string, createdAt time.Time) *domain.Request {
	req, err := domain.NewRequest(uuid.NewString(), DefaultLocator, citizenID, DefaultLanguages, createdAt)
	if err != nil {
		panic(err)
	}
	req.Status = domain.StatusCompleted
	req.ResponseIDs = []string{responseID}
	return req
}

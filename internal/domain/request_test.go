package domain_test

import (
	"testing"
	"time"

	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func newRequest(t *testing.T) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest("req-1", "https://r2da.example.org/r2da/Encounter?_sort=date&patient=1", "C1", "en", now)
	require.NoError(t, err)
	return req
}

func TestNewRequest(t *testing.T) {
	t.Run("creates request successfully", func(t *testing.T) {
		req := newRequest(t)

		assert.Equal(t, "req-1", req.ID)
		assert.Equal(t, "r2da/Encounter?_sort=date&patient=1", req.QuerySignature)
		assert.Equal(t, "C1", req.CitizenID)
		assert.Equal(t, "en", req.PreferredLanguages)
		assert.Equal(t, domain.StatusNew, req.Status)
		assert.Empty(t, req.ResponseIDs)
		assert.Nil(t, req.FailureMessage)
		assert.Equal(t, now, req.CreatedAt)
	})

	t.Run("rejects empty citizen ID", func(t *testing.T) {
		_, err := domain.NewRequest("req-1", "Encounter", "", "en", now)

		assert.Error(t, err)
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
		assert.Contains(t, err.Error(), "citizen ID is required")
	})

	t.Run("rejects empty locator", func(t *testing.T) {
		_, err := domain.NewRequest("req-1", "  ", "C1", "en", now)

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
	})
}

func TestRequest_Start(t *testing.T) {
	t.Run("new request can start", func(t *testing.T) {
		req := newRequest(t)
		require.NoError(t, req.CanStart())
		require.NoError(t, req.MarkRunning())
		assert.Equal(t, domain.StatusRunning, req.Status)
	})

	t.Run("running request cannot start again", func(t *testing.T) {
		req := newRequest(t)
		require.NoError(t, req.MarkRunning())

		err := req.CanStart()

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidState))
		assert.Contains(t, err.Error(), "Current status (RUNNING) of request with id req-1 does not allow to start it.")
	})

	t.Run("cache hit completes with the cached response", func(t *testing.T) {
		req := newRequest(t)

		require.NoError(t, req.CompleteFromCache("resp-cached"))

		assert.Equal(t, domain.StatusCompleted, req.Status)
		assert.Equal(t, []string{"resp-cached"}, req.ResponseIDs)
	})

	t.Run("cache completion requires NEW", func(t *testing.T) {
		req := newRequest(t)
		require.NoError(t, req.MarkRunning())

		err := req.CompleteFromCache("resp-cached")

		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidTransition))
		assert.Empty(t, req.ResponseIDs)
	})
}

func TestRequest_StateTransitions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(r *domain.Request)
		action  func(r *domain.Request) error
		want    domain.RequestStatus
		wantErr bool
	}{
		{
			name:   "running to partially completed",
			setup:  func(r *domain.Request) { _ = r.MarkRunning() },
			action: func(r *domain.Request) error { return r.CompletePartially("p1") },
			want:   domain.StatusPartiallyCompleted,
		},
		{
			name: "partially completed re-enters",
			setup: func(r *domain.Request) {
				_ = r.MarkRunning()
				_ = r.CompletePartially("p1")
			},
			action: func(r *domain.Request) error { return r.CompletePartially("p2") },
			want:   domain.StatusPartiallyCompleted,
		},
		{
			name: "partially completed to completed",
			setup: func(r *domain.Request) {
				_ = r.MarkRunning()
				_ = r.CompletePartially("p1")
			},
			action: func(r *domain.Request) error { return r.Complete("f1") },
			want:   domain.StatusCompleted,
		},
		{
			name:   "running to failed",
			setup:  func(r *domain.Request) { _ = r.MarkRunning() },
			action: func(r *domain.Request) error { return r.Fail("boom") },
			want:   domain.StatusFailed,
		},
		{
			name:   "new to failed on dispatch error",
			setup:  func(r *domain.Request) {},
			action: func(r *domain.Request) error { return r.Fail("unreachable") },
			want:   domain.StatusFailed,
		},
		{
			name:    "new cannot go partially completed",
			setup:   func(r *domain.Request) {},
			action:  func(r *domain.Request) error { return r.CompletePartially("p1") },
			want:    domain.StatusNew,
			wantErr: true,
		},
		{
			name: "completed is terminal",
			setup: func(r *domain.Request) {
				_ = r.MarkRunning()
				_ = r.Complete("f1")
			},
			action:  func(r *domain.Request) error { return r.Fail("late") },
			want:    domain.StatusCompleted,
			wantErr: true,
		},
		{
			name: "failed is terminal",
			setup: func(r *domain.Request) {
				_ = r.MarkRunning()
				_ = r.Fail("boom")
			},
			action:  func(r *domain.Request) error { return r.Complete("f1") },
			want:    domain.StatusFailed,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(t)
			tt.setup(req)

			err := tt.action(req)

			if tt.wantErr {
				assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidTransition))
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, req.Status)
		})
	}
}

func TestRequest_ResponseIDsKeepCallOrder(t *testing.T) {
	req := newRequest(t)
	require.NoError(t, req.MarkRunning())
	require.NoError(t, req.CompletePartially("partial-1"))
	require.NoError(t, req.Complete("final-1"))

	assert.Equal(t, []string{"partial-1", "final-1"}, req.ResponseIDs)
	first, ok := req.FirstResponseID()
	assert.True(t, ok)
	assert.Equal(t, "partial-1", first)
	assert.True(t, req.IsTerminal())
}

func TestRequest_AcceptsNotifications(t *testing.T) {
	req := newRequest(t)

	err := req.AcceptsNotifications()
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidState))
	assert.Contains(t, err.Error(), "does not allow to elaborate it")

	require.NoError(t, req.MarkRunning())
	assert.NoError(t, req.AcceptsNotifications())
	assert.True(t, req.IsInFlight())

	require.NoError(t, req.CompletePartially("p1"))
	assert.NoError(t, req.AcceptsNotifications())
	assert.False(t, req.IsInFlight())
}

func TestRequest_Clone(t *testing.T) {
	req := newRequest(t)
	require.NoError(t, req.MarkRunning())
	require.NoError(t, req.Fail("boom"))

	c := req.Clone()
	c.ResponseIDs = append(c.ResponseIDs, "x")
	*c.FailureMessage = "changed"

	assert.Empty(t, req.ResponseIDs)
	assert.Equal(t, "boom", *req.FailureMessage)
}

func TestNewResponse(t *testing.T) {
	resp, err := domain.NewResponse("resp-1", "C1", []byte(`{}`), now)
	require.NoError(t, err)
	assert.Equal(t, "C1", resp.CitizenID)

	_, err = domain.NewResponse("resp-1", "C1", nil, now)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeMissingRequiredField))
}

package services_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/interopehrate/r2d-access-gateway/internal/application/mocks"
	"github.com/interopehrate/r2d-access-gateway/internal/application/services"
	"github.com/interopehrate/r2d-access-gateway/internal/application/services/testhelpers"
	"github.com/interopehrate/r2d-access-gateway/internal/config"
	"github.com/interopehrate/r2d-access-gateway/internal/domain"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/fhirbundle"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/lock"
	"github.com/interopehrate/r2d-access-gateway/internal/infrastructure/persistence/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type QueryServiceTestSuite struct {
	suite.Suite
	testDB         *testhelpers.TestDatabase
	requestRepo    *postgres.RequestRepository
	responseRepo   *postgres.ResponseRepository
	mockDispatcher *mocks.MockDispatcher
	coordinator    *services.Coordinator
	queryService   *services.QueryService
}

func TestQueryServiceSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	suite.Run(t, new(QueryServiceTestSuite))
}

func (suite *QueryServiceTestSuite) SetupSuite() {
	suite.testDB = testhelpers.SetupTestDatabase(suite.T())
	suite.requestRepo = postgres.NewRequestRepository(suite.testDB.DB)
	suite.responseRepo = postgres.NewResponseRepository(suite.testDB.DB)
}

func (suite *QueryServiceTestSuite) TearDownSuite() {
	suite.testDB.Cleanup(suite.T())
}

func (suite *QueryServiceTestSuite) SetupTest() {
	suite.testDB.CleanTables(suite.T())
	suite.mockDispatcher = mocks.NewMockDispatcher(suite.T())

	suite.coordinator = services.NewCoordinator(
		suite.requestRepo,
		suite.responseRepo,
		postgres.NewTransactionCoordinator(suite.testDB.DB),
		fhirbundle.NewBundleCodec("Organization/ehr-middleware"),
		suite.mockDispatcher,
		lock.NewLocalLocker(5*time.Second),
		config.CoordinatorConfig{
			MaxConcurrentRunningRequestPerDay: 2,
			CacheDurationInDays:               3,
		},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	suite.queryService = services.NewQueryService(suite.requestRepo, suite.responseRepo)
}

func (suite *QueryServiceTestSuite) expectDispatch() {
	suite.mockDispatcher.EXPECT().
		Send(mock.Anything, mock.Anything, "token").
		Return(nil).
		Once()
}

// ============================================================================
// QUERIES
// ============================================================================

func (suite *QueryServiceTestSuite) Test_GetRequest_Success() {
	ctx := context.Background()
	t := suite.T()
	citizenID := testhelpers.NewCitizenID()

	suite.expectDispatch()
	created := testhelpers.CreateRunningRequest(t, ctx, suite.coordinator, citizenID)

	found, err := suite.queryService.GetRequest(ctx, created.ID, citizenID)
	require.NoError(t, err)

	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, domain.StatusRunning, found.Status)
	assert.Equal(t, created.QuerySignature, found.QuerySignature)
	assert.Equal(t, testhelpers.DefaultLanguages, found.PreferredLanguages)
	assert.Empty(t, found.ResponseIDs)
	assert.Nil(t, found.FailureMessage)
}

func (suite *QueryServiceTestSuite) Test_GetRequest_OtherCitizenLooksMissing() {
	ctx := context.Background()
	t := suite.T()

	suite.expectDispatch()
	created := testhelpers.CreateRunningRequest(t, ctx, suite.coordinator, testhelpers.NewCitizenID())

	_, err := suite.queryService.GetRequest(ctx, created.ID, testhelpers.NewCitizenID())
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeRequestNotFound))

	_, err = suite.queryService.GetRequest(ctx, uuid.NewString(), testhelpers.NewCitizenID())
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeRequestNotFound))
}

func (suite *QueryServiceTestSuite) Test_ListRequests_MostRecentFirstWithPaging() {
	ctx := context.Background()
	t := suite.T()
	citizenID := testhelpers.NewCitizenID()
	base := time.Now().UTC().Add(-72 * time.Hour).Truncate(time.Millisecond)

	for i := range 3 {
		req := testhelpers.CompletedRequest(citizenID, uuid.NewString(), base.Add(time.Duration(i)*time.Hour))
		require.NoError(t, suite.requestRepo.Create(ctx, req))
	}
	other := testhelpers.CompletedRequest(testhelpers.NewCitizenID(), uuid.NewString(), base)
	require.NoError(t, suite.requestRepo.Create(ctx, other))

	all, err := suite.queryService.ListRequests(ctx, citizenID, 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].CreatedAt.After(all[1].CreatedAt))
	assert.True(t, all[1].CreatedAt.After(all[2].CreatedAt))

	page, err := suite.queryService.ListRequests(ctx, citizenID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, all[1].ID, page[0].ID)
}

func (suite *QueryServiceTestSuite) Test_GetResponse_AfterSuccess() {
	ctx := context.Background()
	t := suite.T()
	citizenID := testhelpers.NewCitizenID()

	suite.expectDispatch()
	req := testhelpers.CreateRunningRequest(t, ctx, suite.coordinator, citizenID)

	_, err := suite.queryService.GetResponse(ctx, req.ID, uuid.NewString(), citizenID)
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeResultsNotAvailable))

	require.NoError(t, suite.coordinator.CompleteSuccessfully(ctx, req.ID, []byte(testhelpers.ValidBundle)))

	completed, err := suite.queryService.GetRequest(ctx, req.ID, citizenID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)
	require.Len(t, completed.ResponseIDs, 1)

	resp, err := suite.queryService.GetResponse(ctx, req.ID, completed.ResponseIDs[0], citizenID)
	require.NoError(t, err)
	assert.Equal(t, citizenID, resp.CitizenID)
	assert.Contains(t, string(resp.Payload), "Provenance")

	_, err = suite.queryService.GetResponse(ctx, req.ID, uuid.NewString(), citizenID)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeResponseNotFound))

	_, err = suite.queryService.GetResponse(ctx, req.ID, completed.ResponseIDs[0], testhelpers.NewCitizenID())
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeRequestNotFound))
}

// ============================================================================
// LIFECYCLE AGAINST POSTGRES
// ============================================================================

func (suite *QueryServiceTestSuite) Test_CacheHitReusesStoredResponse() {
	ctx := context.Background()
	t := suite.T()
	citizenID := testhelpers.NewCitizenID()

	suite.expectDispatch()
	first := testhelpers.CreateRunningRequest(t, ctx, suite.coordinator, citizenID)
	require.NoError(t, suite.coordinator.CompleteSuccessfully(ctx, first.ID, []byte(testhelpers.ValidBundle)))

	firstDone, err := suite.queryService.GetRequest(ctx, first.ID, citizenID)
	require.NoError(t, err)

	second, err := suite.coordinator.CreateRequest(ctx, testhelpers.DefaultLocator, citizenID, testhelpers.DefaultLanguages)
	require.NoError(t, err)

	started, err := suite.coordinator.StartRequest(ctx, second.ID, citizenID, "token")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, started.Status)
	assert.Equal(t, firstDone.ResponseIDs, started.ResponseIDs)

	resp, err := suite.queryService.GetResponse(ctx, second.ID, started.ResponseIDs[0], citizenID)
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Payload)
}

func (suite *QueryServiceTestSuite) Test_ConcurrentCreates_AdvisoryLockHoldsLimit() {
	ctx := context.Background()
	t := suite.T()
	citizenID := testhelpers.NewCitizenID()

	var wg sync.WaitGroup
	results := make(chan error, 6)

	for range 6 {
		wg.Go(func() {
			_, err := suite.coordinator.CreateRequest(ctx, testhelpers.DefaultLocator, citizenID, testhelpers.DefaultLanguages)
			results <- err
		})
	}

	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.True(t, domain.IsErrorCode(err, domain.ErrCodeTooManyRequests), err)
	}
	assert.Equal(t, 2, created)

	list, err := suite.queryService.ListRequests(ctx, citizenID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func (suite *QueryServiceTestSuite) Test_UpdateStatus_ConditionalOnExpectedStatus() {
	ctx := context.Background()
	t := suite.T()

	suite.expectDispatch()
	req := testhelpers.CreateRunningRequest(t, ctx, suite.coordinator, testhelpers.NewCitizenID())

	stale, err := suite.requestRepo.FindByID(ctx, req.ID)
	require.NoError(t, err)

	require.NoError(t, suite.coordinator.CompleteUnsuccessfully(ctx, req.ID, "EHR down"))

	require.NoError(t, stale.Complete(uuid.NewString()))
	err = suite.requestRepo.UpdateStatus(ctx, stale, domain.StatusRunning)
	require.Error(t, err)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeInvalidState))

	missing := testhelpers.CompletedRequest(testhelpers.NewCitizenID(), uuid.NewString(), time.Now().UTC())
	err = suite.requestRepo.UpdateStatus(ctx, missing, domain.StatusRunning)
	assert.True(t, domain.IsErrorCode(err, domain.ErrCodeRequestNotFound))

	final, err := suite.requestRepo.FindByID(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, final.Status)
	require.NotNil(t, final.FailureMessage)
	assert.Equal(t, "EHR down", *final.FailureMessage)
}

func (suite *QueryServiceTestSuite) Test_FindStale_OldestFirst() {
	ctx := context.Background()
	t := suite.T()
	now := time.Now().UTC()

	for i, age := range []time.Duration{3 * time.Hour, 5 * time.Hour, time.Minute} {
		req := testhelpers.CompletedRequest(testhelpers.NewCitizenID(), uuid.NewString(), now.Add(-age))
		req.Status = domain.StatusRunning
		req.ResponseIDs = []string{}
		req.UpdatedAt = now.Add(-age)
		if i == 0 {
			req.Status = domain.StatusPartiallyCompleted
			req.ResponseIDs = []string{uuid.NewString()}
		}
		require.NoError(t, suite.requestRepo.Create(ctx, req))
	}

	stale, err := suite.requestRepo.FindStale(ctx, now.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.True(t, stale[0].UpdatedAt.Before(stale[1].UpdatedAt))
	assert.Equal(t, domain.StatusPartiallyCompleted, stale[1].Status)
}

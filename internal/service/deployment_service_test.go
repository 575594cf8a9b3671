package service

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/repository"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

// deploymentRepoStub mimics the real repository's atomicity: a mutex stands in
// for the transaction, so overlap checks and inserts are indivisible even
// under concurrent callers.
type deploymentRepoStub struct {
	mu          sync.Mutex
	deployments map[string]*models.Deployment
	filter      models.DeploymentFilter
	seq         int
}

func newDeploymentRepoStub() *deploymentRepoStub {
	return &deploymentRepoStub{deployments: make(map[string]*models.Deployment)}
}

func (s *deploymentRepoStub) hasConflict(equipmentID, workerID string, start, end time.Time, excludeID string) bool {
	for _, d := range s.deployments {
		if d.ID == excludeID || !d.Status.Mutable() {
			continue
		}
		if !d.Overlaps(start, end) {
			continue
		}
		if (equipmentID != "" && d.EquipmentID == equipmentID) || (workerID != "" && d.WorkerID == workerID) {
			return true
		}
	}
	return false
}

func (s *deploymentRepoStub) Create(ctx context.Context, deployment *models.Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deployment.IdempotencyKey != "" {
		for _, existing := range s.deployments {
			if existing.IdempotencyKey == deployment.IdempotencyKey {
				*deployment = *existing
				return nil
			}
		}
	}
	if s.hasConflict(deployment.EquipmentID, deployment.WorkerID, deployment.StartDate, deployment.PlannedEndDate, "") {
		return repository.ErrDeploymentConflict
	}
	s.seq++
	if deployment.ID == "" {
		deployment.ID = fmt.Sprintf("dep-%d", s.seq)
	}
	clone := *deployment
	s.deployments[deployment.ID] = &clone
	return nil
}

func (s *deploymentRepoStub) GetByID(ctx context.Context, id string) (*models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.deployments[id]; ok {
		clone := *d
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func (s *deploymentRepoStub) List(ctx context.Context, filter models.DeploymentFilter) ([]models.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	result := make([]models.Deployment, 0, len(s.deployments))
	for _, d := range s.deployments {
		result = append(result, *d)
	}
	return result, nil
}

func (s *deploymentRepoStub) Extend(ctx context.Context, id string, newEndDate, oldEndDate time.Time, reason, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || !d.Status.Mutable() || !newEndDate.After(d.PlannedEndDate) {
		return sql.ErrNoRows
	}
	d.PlannedEndDate = newEndDate
	d.Status = models.DeploymentStatusExtended
	return nil
}

func (s *deploymentRepoStub) ChangeWorker(ctx context.Context, id, oldWorkerID, newWorkerID string, start, end time.Time, reason, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || !d.Status.Mutable() || d.WorkerID != oldWorkerID {
		return sql.ErrNoRows
	}
	if s.hasConflict("", newWorkerID, start, end, id) {
		return repository.ErrDeploymentConflict
	}
	d.WorkerID = newWorkerID
	return nil
}

func (s *deploymentRepoStub) Complete(ctx context.Context, id string, actualEndDate time.Time, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.deployments[id]
	if !ok || !d.Status.Mutable() {
		return sql.ErrNoRows
	}
	end := actualEndDate
	d.ActualEndDate = &end
	d.Status = models.DeploymentStatusCompleted
	return nil
}

type requestLoaderStub struct {
	requests map[string]*models.EntryRequest
}

func (s *requestLoaderStub) GetByID(ctx context.Context, id string) (*models.EntryRequest, error) {
	if request, ok := s.requests[id]; ok {
		clone := *request
		return &clone, nil
	}
	return nil, sql.ErrNoRows
}

func approvedRequest() *models.EntryRequest {
	final := "co-final"
	return &models.EntryRequest{
		ID:                    "req-1",
		RequesterCompanyID:    "co-owner",
		IntermediateCompanyID: "co-mid",
		FinalCompanyID:        &final,
		Status:                models.EntryRequestStatusApproved,
		Items: []models.EntryRequestItem{
			{ItemType: models.EntryRequestItemEquipment, IdentityID: "eq-1"},
			{ItemType: models.EntryRequestItemEquipment, IdentityID: "eq-2"},
			{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-1"},
			{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-2"},
		},
	}
}

func newDeploymentFixture() (*DeploymentService, *deploymentRepoStub, *requestLoaderStub, *eventRecorder) {
	repo := newDeploymentRepoStub()
	requests := &requestLoaderStub{requests: map[string]*models.EntryRequest{
		"req-1": approvedRequest(),
	}}
	events := &eventRecorder{}
	svc := NewDeploymentService(repo, requests, events, &auditStub{}, nil)
	return svc, repo, requests, events
}

func createPayload() dto.CreateDeploymentRequest {
	return dto.CreateDeploymentRequest{
		EntryRequestID: "req-1",
		EquipmentID:    "eq-1",
		WorkerID:       "wk-1",
		FinalCompanyID: "co-final",
		SiteName:       "north yard",
		StartDate:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		PlannedEndDate: time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestDeploymentCreate(t *testing.T) {
	svc, _, _, events := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusActive, deployment.Status)
	require.Equal(t, "user-final", deployment.CreatedBy)
	require.Equal(t, []models.EventName{models.EventDeploymentCreated}, events.names())
}

func TestDeploymentCreateRequiresApprovedRequest(t *testing.T) {
	svc, _, requests, _ := newDeploymentFixture()
	requests.requests["req-1"].Status = models.EntryRequestStatusFinalReviewing

	_, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotApproved.Code, appErrors.FromError(err).Code)
}

func TestDeploymentCreateRejectsOutsideItems(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	payload := createPayload()
	payload.WorkerID = "wk-foreign"
	_, err := svc.Create(context.Background(), payload, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrItemNotInRequest.Code, appErrors.FromError(err).Code)
}

func TestDeploymentCreateRejectsBadDateRange(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	payload := createPayload()
	payload.PlannedEndDate = payload.StartDate
	_, err := svc.Create(context.Background(), payload, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrDateRangeInvalid.Code, appErrors.FromError(err).Code)
}

func TestDeploymentCreateConflict(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	_, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	// Same equipment, overlapping window.
	payload := createPayload()
	payload.WorkerID = "wk-2"
	payload.StartDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	payload.PlannedEndDate = time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	_, err = svc.Create(context.Background(), payload, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflictingDeployment.Code, appErrors.FromError(err).Code)
}

func TestDeploymentCreateIdempotentReplay(t *testing.T) {
	svc, _, _, events := newDeploymentFixture()

	payload := createPayload()
	payload.IdempotencyKey = "key-1"
	first, err := svc.Create(context.Background(), payload, finalClaims())
	require.NoError(t, err)

	second, err := svc.Create(context.Background(), payload, finalClaims())
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	// Replays still emit an event per call; consumers dedupe on deployment id.
	require.Len(t, events.names(), 2)
}

func TestDeploymentConcurrentCreateSingleWinner(t *testing.T) {
	svc, repo, _, _ := newDeploymentFixture()

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			payload := createPayload()
			if i == 1 {
				payload.WorkerID = "wk-2"
			}
			_, results[i] = svc.Create(context.Background(), payload, finalClaims())
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.Equal(t, appErrors.ErrConflictingDeployment.Code, appErrors.FromError(err).Code)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, repo.deployments, 1)
}

func TestDeploymentExtend(t *testing.T) {
	svc, _, _, events := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	extended, err := svc.Extend(context.Background(), deployment.ID, dto.ExtendDeploymentRequest{
		NewEndDate: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC),
		Reason:     "scope grew",
	}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusExtended, extended.Status)
	require.Contains(t, events.names(), models.EventDeploymentExtended)
}

func TestDeploymentExtendRejectsShrink(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	_, err = svc.Extend(context.Background(), deployment.ID, dto.ExtendDeploymentRequest{
		NewEndDate: time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Reason:     "oops",
	}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrDateRangeInvalid.Code, appErrors.FromError(err).Code)
}

func TestDeploymentChangeWorker(t *testing.T) {
	svc, _, _, events := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	changed, err := svc.ChangeWorker(context.Background(), deployment.ID, dto.ChangeWorkerRequest{
		NewWorkerID: "wk-2",
		Reason:      "illness",
	}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, "wk-2", changed.WorkerID)
	require.Contains(t, events.names(), models.EventWorkerChanged)
}

func TestDeploymentChangeWorkerRequiresRequestMembership(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	_, err = svc.ChangeWorker(context.Background(), deployment.ID, dto.ChangeWorkerRequest{
		NewWorkerID: "wk-foreign",
		Reason:      "illness",
	}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrItemNotInRequest.Code, appErrors.FromError(err).Code)
}

func TestDeploymentChangeWorkerConflict(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	first, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	// Occupy wk-2 on other equipment over a window that overlaps the first.
	second := createPayload()
	second.EquipmentID = "eq-2"
	second.WorkerID = "wk-2"
	second.StartDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	second.PlannedEndDate = time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC)
	_, err = svc.Create(context.Background(), second, finalClaims())
	require.NoError(t, err)

	_, err = svc.ChangeWorker(context.Background(), first.ID, dto.ChangeWorkerRequest{
		NewWorkerID: "wk-2",
		Reason:      "illness",
	}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflictingDeployment.Code, appErrors.FromError(err).Code)
}

func TestDeploymentComplete(t *testing.T) {
	svc, _, _, events := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	completed, err := svc.Complete(context.Background(), deployment.ID, dto.CompleteDeploymentRequest{
		ActualEndDate: time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC),
	}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, models.DeploymentStatusCompleted, completed.Status)
	require.NotNil(t, completed.ActualEndDate)
	require.Contains(t, events.names(), models.EventDeploymentCompleted)
}

func TestDeploymentCompletedIsFrozen(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), deployment.ID, dto.CompleteDeploymentRequest{
		ActualEndDate: time.Date(2026, 3, 25, 0, 0, 0, 0, time.UTC),
	}, finalClaims())
	require.NoError(t, err)

	_, err = svc.Extend(context.Background(), deployment.ID, dto.ExtendDeploymentRequest{
		NewEndDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Reason:     "more work",
	}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	_, err = svc.Complete(context.Background(), deployment.ID, dto.CompleteDeploymentRequest{
		ActualEndDate: time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC),
	}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	// A released window may be booked again.
	payload := createPayload()
	payload.StartDate = time.Date(2026, 3, 26, 0, 0, 0, 0, time.UTC)
	payload.PlannedEndDate = time.Date(2026, 4, 10, 0, 0, 0, 0, time.UTC)
	_, err = svc.Create(context.Background(), payload, finalClaims())
	require.NoError(t, err)
}

func TestDeploymentMutationsGuardFinalCompany(t *testing.T) {
	svc, _, _, _ := newDeploymentFixture()

	deployment, err := svc.Create(context.Background(), createPayload(), finalClaims())
	require.NoError(t, err)

	other := &models.JWTClaims{UserID: "u", CompanyID: "co-other", CompanyType: models.CompanyTypeFinal}
	_, err = svc.Extend(context.Background(), deployment.ID, dto.ExtendDeploymentRequest{
		NewEndDate: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Reason:     "more work",
	}, other)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestDeploymentListScopesFinalCompany(t *testing.T) {
	svc, repo, _, _ := newDeploymentFixture()

	_, err := svc.List(context.Background(), dto.DeploymentQuery{}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, "co-final", repo.filter.FinalCompanyID)
}

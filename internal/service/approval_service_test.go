package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/repository"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

type entryRequestRepoStub struct {
	mu       sync.Mutex
	requests map[string]*models.EntryRequest
	filter   models.EntryRequestFilter
}

func newEntryRequestRepoStub() *entryRequestRepoStub {
	return &entryRequestRepoStub{requests: make(map[string]*models.EntryRequest)}
}

func (s *entryRequestRepoStub) Create(ctx context.Context, request *models.EntryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request.ID == "" {
		request.ID = "req-" + request.Purpose
	}
	if request.RequestNumber == "" {
		request.RequestNumber = "ER-2026-000001"
	}
	copy := *request
	s.requests[request.ID] = &copy
	return nil
}

func (s *entryRequestRepoStub) GetByID(ctx context.Context, id string) (*models.EntryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if request, ok := s.requests[id]; ok {
		copy := *request
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *entryRequestRepoStub) List(ctx context.Context, filter models.EntryRequestFilter) ([]models.EntryRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = filter
	result := make([]models.EntryRequest, 0, len(s.requests))
	for _, request := range s.requests {
		result = append(result, *request)
	}
	return result, nil
}

// Transition mirrors the compare-and-set semantics of the real repository:
// the move only lands when the stored status still matches a source status.
func (s *entryRequestRepoStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	matched := false
	for _, from := range params.FromStatuses {
		if request.Status == from {
			matched = true
			break
		}
	}
	if !matched {
		return sql.ErrNoRows
	}
	request.Status = params.ToStatus
	if params.FinalCompanyID != nil {
		request.FinalCompanyID = params.FinalCompanyID
	}
	if params.WorkPlanRef != nil {
		request.WorkPlanRef = params.WorkPlanRef
	}
	if params.RejectionReason != nil {
		request.RejectionReason = params.RejectionReason
	}
	return nil
}

type identityCatalogStub struct {
	owned map[string]string // identity id -> owning company
}

func (s *identityCatalogStub) OwnedByCompany(ctx context.Context, identityType models.IdentityType, identityID, companyID string) (bool, error) {
	return s.owned[identityID] == companyID, nil
}

type companyCatalogStub struct {
	types map[string]models.CompanyType
}

func (s *companyCatalogStub) ExistsWithType(ctx context.Context, id string, companyType models.CompanyType) (bool, error) {
	return s.types[id] == companyType, nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []models.DomainEvent
}

func (r *eventRecorder) Publish(event models.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) names() []models.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]models.EventName, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

type auditStub struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type resolverStub struct {
	known map[string]bool
}

func (r *resolverStub) Resolvable(ref string) bool {
	if r.known == nil {
		return true
	}
	return r.known[ref]
}

func ownerClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-owner", CompanyID: "co-owner", CompanyType: models.CompanyTypeOwner}
}

func intermediateClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-mid", CompanyID: "co-mid", CompanyType: models.CompanyTypeIntermediate}
}

func finalClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-final", CompanyID: "co-final", CompanyType: models.CompanyTypeFinal}
}

func newApprovalFixture() (*ApprovalService, *entryRequestRepoStub, *eventRecorder, *auditStub) {
	repo := newEntryRequestRepoStub()
	events := &eventRecorder{}
	audit := &auditStub{}
	identity := &identityCatalogStub{owned: map[string]string{
		"eq-1": "co-owner",
		"wk-1": "co-owner",
		"wk-2": "co-owner",
	}}
	companies := &companyCatalogStub{types: map[string]models.CompanyType{
		"co-owner": models.CompanyTypeOwner,
		"co-mid":   models.CompanyTypeIntermediate,
		"co-final": models.CompanyTypeFinal,
	}}
	svc := NewApprovalService(repo, identity, companies, &resolverStub{}, events, audit, nil)
	return svc, repo, events, audit
}

func submitPayload() dto.SubmitEntryRequest {
	paired := 0
	return dto.SubmitEntryRequest{
		IntermediateCompanyID: "co-mid",
		Purpose:               "crane work",
		StartDate:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:               time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Items: []dto.EntryRequestItemPayload{
			{ItemType: models.EntryRequestItemEquipment, IdentityID: "eq-1"},
			{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-1", PairedIndex: &paired},
		},
	}
}

func TestApprovalSubmit(t *testing.T) {
	svc, _, events, audit := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)
	require.Equal(t, models.EntryRequestStatusRequested, request.Status)
	require.Equal(t, "co-owner", request.RequesterCompanyID)
	require.Len(t, request.Items, 2)
	require.NotNil(t, request.Items[1].PairedItemID)
	require.Equal(t, request.Items[0].ID, *request.Items[1].PairedItemID)
	require.Equal(t, []models.EventName{models.EventRequestSubmitted}, events.names())
	require.Len(t, audit.logs, 1)
}

func TestApprovalSubmitRejectsForeignIdentity(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	payload := submitPayload()
	payload.Items[0].IdentityID = "eq-other"
	_, err := svc.Submit(context.Background(), payload, ownerClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApprovalSubmitRejectsSameTypePairing(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	paired := 1
	payload := submitPayload()
	payload.Items = []dto.EntryRequestItemPayload{
		{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-1", PairedIndex: &paired},
		{ItemType: models.EntryRequestItemWorker, IdentityID: "wk-2"},
	}
	_, err := svc.Submit(context.Background(), payload, ownerClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApprovalSubmitRequiresOwnerCompany(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	_, err := svc.Submit(context.Background(), submitPayload(), intermediateClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestApprovalIntermediateApprove(t *testing.T) {
	svc, _, events, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	approved, err := svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
		FinalCompanyID: "co-final",
		WorkPlanRef:    "doc://plan.pdf",
		Comment:        "looks fine",
	}, intermediateClaims())
	require.NoError(t, err)
	require.Equal(t, models.EntryRequestStatusFinalReviewing, approved.Status)
	require.NotNil(t, approved.FinalCompanyID)
	require.Equal(t, "co-final", *approved.FinalCompanyID)
	require.NotNil(t, approved.WorkPlanRef)
	require.Contains(t, events.names(), models.EventIntermediateApproved)
}

func TestApprovalIntermediateApproveRequiresWorkPlan(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	_, err = svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
		FinalCompanyID: "co-final",
	}, intermediateClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApprovalIntermediateApproveWrongCompany(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	other := &models.JWTClaims{UserID: "u", CompanyID: "co-other", CompanyType: models.CompanyTypeIntermediate}
	_, err = svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
		FinalCompanyID: "co-final",
		WorkPlanRef:    "doc://plan.pdf",
	}, other)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestApprovalRejectRequiresReason(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	_, err = svc.IntermediateReject(context.Background(), request.ID, dto.RejectEntryRequest{}, intermediateClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApprovalFullChain(t *testing.T) {
	svc, _, events, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	_, err = svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
		FinalCompanyID: "co-final",
		WorkPlanRef:    "doc://plan.pdf",
	}, intermediateClaims())
	require.NoError(t, err)

	approved, err := svc.FinalApprove(context.Background(), request.ID, dto.FinalApproveRequest{Comment: "granted"}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, models.EntryRequestStatusApproved, approved.Status)
	require.Equal(t, []models.EventName{
		models.EventRequestSubmitted,
		models.EventIntermediateApproved,
		models.EventFinalApproved,
	}, events.names())
}

func TestApprovalFinalApproveBeforeForwardFails(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	_, err = svc.FinalApprove(context.Background(), request.ID, dto.FinalApproveRequest{}, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestApprovalTerminalStateFrozen(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	_, err = svc.IntermediateReject(context.Background(), request.ID, dto.RejectEntryRequest{Reason: "no capacity"}, intermediateClaims())
	require.NoError(t, err)

	_, err = svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
		FinalCompanyID: "co-final",
		WorkPlanRef:    "doc://plan.pdf",
	}, intermediateClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestApprovalConcurrentReviewSingleWinner(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, results[0] = svc.IntermediateApprove(context.Background(), request.ID, dto.IntermediateApproveRequest{
			FinalCompanyID: "co-final",
			WorkPlanRef:    "doc://plan.pdf",
		}, intermediateClaims())
	}()
	go func() {
		defer wg.Done()
		_, results[1] = svc.IntermediateReject(context.Background(), request.ID, dto.RejectEntryRequest{
			Reason: "window closed",
		}, intermediateClaims())
	}()
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
		}
	}
	require.Equal(t, 1, succeeded)
}

func TestApprovalListScopesByCompanyType(t *testing.T) {
	svc, repo, _, _ := newApprovalFixture()

	_, err := svc.List(context.Background(), dto.EntryRequestQuery{}, ownerClaims())
	require.NoError(t, err)
	require.Equal(t, "co-owner", repo.filter.RequesterCompanyID)

	_, err = svc.List(context.Background(), dto.EntryRequestQuery{}, intermediateClaims())
	require.NoError(t, err)
	require.Equal(t, "co-mid", repo.filter.IntermediateCompanyID)

	_, err = svc.List(context.Background(), dto.EntryRequestQuery{}, finalClaims())
	require.NoError(t, err)
	require.Equal(t, "co-final", repo.filter.FinalCompanyID)
}

func TestApprovalGetEnforcesVisibility(t *testing.T) {
	svc, _, _, _ := newApprovalFixture()

	request, err := svc.Submit(context.Background(), submitPayload(), ownerClaims())
	require.NoError(t, err)

	// The final company is unknown until the intermediate stage forwards.
	_, err = svc.Get(context.Background(), request.ID, finalClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	got, err := svc.Get(context.Background(), request.ID, ownerClaims())
	require.NoError(t, err)
	require.Equal(t, request.ID, got.ID)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/middleware"
	"github.com/siteops/site-entry-api/internal/models"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
)

type approvalServiceMock struct {
	submitErr   error
	approveErr  error
	lastQuery   dto.EntryRequestQuery
	lastRequest *models.EntryRequest
}

func (m *approvalServiceMock) Submit(ctx context.Context, req dto.SubmitEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	m.lastRequest = &models.EntryRequest{ID: "req-1", Status: models.EntryRequestStatusRequested}
	return m.lastRequest, nil
}

func (m *approvalServiceMock) IntermediateApprove(ctx context.Context, id string, req dto.IntermediateApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	return &models.EntryRequest{ID: id, Status: models.EntryRequestStatusFinalReviewing}, nil
}

func (m *approvalServiceMock) IntermediateReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	return &models.EntryRequest{ID: id, Status: models.EntryRequestStatusRejected}, nil
}

func (m *approvalServiceMock) FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	if m.approveErr != nil {
		return nil, m.approveErr
	}
	return &models.EntryRequest{ID: id, Status: models.EntryRequestStatusApproved}, nil
}

func (m *approvalServiceMock) FinalReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error) {
	return &models.EntryRequest{ID: id, Status: models.EntryRequestStatusRejected}, nil
}

func (m *approvalServiceMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.EntryRequest, error) {
	return &models.EntryRequest{ID: id}, nil
}

func (m *approvalServiceMock) List(ctx context.Context, query dto.EntryRequestQuery, actor *models.JWTClaims) ([]models.EntryRequest, error) {
	m.lastQuery = query
	return []models.EntryRequest{}, nil
}

func testClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", CompanyID: "co-1", CompanyType: models.CompanyTypeOwner}
}

func TestEntryRequestHandlerSubmit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &approvalServiceMock{}
	handler := NewEntryRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(dto.SubmitEntryRequest{
		IntermediateCompanyID: "co-mid",
		Purpose:               "crane assembly",
		StartDate:             time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		EndDate:               time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC),
		Items: []dto.EntryRequestItemPayload{
			{ItemType: models.EntryRequestItemEquipment, IdentityID: "eq-1"},
		},
	})
	req, _ := http.NewRequest(http.MethodPost, "/entry-requests", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestEntryRequestHandlerSubmitWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEntryRequestHandler(&approvalServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/entry-requests", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Submit(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestEntryRequestHandlerSubmitInvalidBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewEntryRequestHandler(&approvalServiceMock{})
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/entry-requests", bytes.NewReader([]byte(`invalid`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims())

	handler.Submit(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEntryRequestHandlerListParsesStatuses(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &approvalServiceMock{}
	handler := NewEntryRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/entry-requests?status=requested,final_reviewing&page=2&size=10", nil)
	c.Request = req
	c.Set(middleware.ContextUserKey, testClaims())

	handler.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.EntryRequestStatus{
		models.EntryRequestStatusRequested,
		models.EntryRequestStatusFinalReviewing,
	}, mock.lastQuery.Status)
	require.Equal(t, 2, mock.lastQuery.Page)
	require.Equal(t, 10, mock.lastQuery.Size)
}

func TestEntryRequestHandlerFinalApproveConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mock := &approvalServiceMock{approveErr: appErrors.ErrInvalidTransition}
	handler := NewEntryRequestHandler(mock)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/entry-requests/req-1/final-approval", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, testClaims())

	handler.FinalApprove(c)
	require.Equal(t, http.StatusConflict, w.Code)
}

package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/response"
)

type approvalService interface {
	Submit(ctx context.Context, req dto.SubmitEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error)
	IntermediateApprove(ctx context.Context, id string, req dto.IntermediateApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error)
	IntermediateReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error)
	FinalApprove(ctx context.Context, id string, req dto.FinalApproveRequest, actor *models.JWTClaims) (*models.EntryRequest, error)
	FinalReject(ctx context.Context, id string, req dto.RejectEntryRequest, actor *models.JWTClaims) (*models.EntryRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.EntryRequest, error)
	List(ctx context.Context, query dto.EntryRequestQuery, actor *models.JWTClaims) ([]models.EntryRequest, error)
}

// EntryRequestHandler exposes REST endpoints for the entry request workflow.
type EntryRequestHandler struct {
	service approvalService
}

// NewEntryRequestHandler constructs the handler.
func NewEntryRequestHandler(service approvalService) *EntryRequestHandler {
	return &EntryRequestHandler{service: service}
}

// Submit godoc
// @Summary Submit an entry request
// @Tags EntryRequests
// @Accept json
// @Produce json
// @Param payload body dto.SubmitEntryRequest true "Entry request payload"
// @Success 201 {object} response.Envelope
// @Router /entry-requests [post]
func (h *EntryRequestHandler) Submit(c *gin.Context) {
	var req dto.SubmitEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid entry request payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Submit(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, request, nil)
}

// List godoc
// @Summary List entry requests visible to the caller's company
// @Tags EntryRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param page query int false "Page number"
// @Param size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /entry-requests [get]
func (h *EntryRequestHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.EntryRequestQuery{}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.EntryRequestStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.EntryRequestStatus(part))
		}
		query.Status = statuses
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.Size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))

	requests, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.Size,
		TotalCount: len(requests),
	})
}

// Get godoc
// @Summary Get entry request detail
// @Tags EntryRequests
// @Produce json
// @Param id path string true "Entry request ID"
// @Success 200 {object} response.Envelope
// @Router /entry-requests/{id} [get]
func (h *EntryRequestHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	request, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// IntermediateApprove godoc
// @Summary Approve a request as the intermediate company
// @Tags EntryRequests
// @Accept json
// @Produce json
// @Param id path string true "Entry request ID"
// @Param payload body dto.IntermediateApproveRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Router /entry-requests/{id}/intermediate-approval [post]
func (h *EntryRequestHandler) IntermediateApprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.IntermediateApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	request, err := h.service.IntermediateApprove(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// IntermediateReject godoc
// @Summary Reject a request as the intermediate company
// @Tags EntryRequests
// @Accept json
// @Produce json
// @Param id path string true "Entry request ID"
// @Param payload body dto.RejectEntryRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /entry-requests/{id}/intermediate-rejection [post]
func (h *EntryRequestHandler) IntermediateReject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
		return
	}
	request, err := h.service.IntermediateReject(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// FinalApprove godoc
// @Summary Approve a request as the final authorizer
// @Tags EntryRequests
// @Accept json
// @Produce json
// @Param id path string true "Entry request ID"
// @Param payload body dto.FinalApproveRequest true "Approval payload"
// @Success 200 {object} response.Envelope
// @Router /entry-requests/{id}/final-approval [post]
func (h *EntryRequestHandler) FinalApprove(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.FinalApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid approval payload"))
		return
	}
	request, err := h.service.FinalApprove(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// FinalReject godoc
// @Summary Reject a request as the final authorizer
// @Tags EntryRequests
// @Accept json
// @Produce json
// @Param id path string true "Entry request ID"
// @Param payload body dto.RejectEntryRequest true "Rejection payload"
// @Success 200 {object} response.Envelope
// @Router /entry-requests/{id}/final-rejection [post]
func (h *EntryRequestHandler) FinalReject(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RejectEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid rejection payload"))
		return
	}
	request, err := h.service.FinalReject(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

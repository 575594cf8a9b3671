package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/siteops/site-entry-api/internal/dto"
	"github.com/siteops/site-entry-api/internal/models"
	"github.com/siteops/site-entry-api/internal/service"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/response"
)

type deploymentService interface {
	Create(ctx context.Context, req dto.CreateDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error)
	Extend(ctx context.Context, id string, req dto.ExtendDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error)
	ChangeWorker(ctx context.Context, id string, req dto.ChangeWorkerRequest, actor *models.JWTClaims) (*models.Deployment, error)
	Complete(ctx context.Context, id string, req dto.CompleteDeploymentRequest, actor *models.JWTClaims) (*models.Deployment, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Deployment, error)
	List(ctx context.Context, query dto.DeploymentQuery, actor *models.JWTClaims) ([]models.Deployment, error)
}

type exportService interface {
	DeploymentReport(ctx context.Context, query dto.DeploymentQuery, format service.ExportFormat, actor *models.JWTClaims) (*service.ExportResult, error)
}

// DeploymentHandler exposes REST endpoints for the deployment lifecycle.
type DeploymentHandler struct {
	service deploymentService
	exports exportService
}

// NewDeploymentHandler constructs the handler.
func NewDeploymentHandler(service deploymentService, exports exportService) *DeploymentHandler {
	return &DeploymentHandler{service: service, exports: exports}
}

// Create godoc
// @Summary Create a deployment from an approved entry request
// @Tags Deployments
// @Accept json
// @Produce json
// @Param payload body dto.CreateDeploymentRequest true "Deployment payload"
// @Success 201 {object} response.Envelope
// @Router /deployments [post]
func (h *DeploymentHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid deployment payload"))
		return
	}
	if key := c.GetHeader("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}
	deployment, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, deployment, nil)
}

// List godoc
// @Summary List deployments visible to the caller's company
// @Tags Deployments
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param equipment_id query string false "Equipment filter"
// @Param worker_id query string false "Worker filter"
// @Param entry_request_id query string false "Entry request filter"
// @Success 200 {object} response.Envelope
// @Router /deployments [get]
func (h *DeploymentHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := parseDeploymentQuery(c)
	deployments, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deployments, &models.Pagination{
		Page:       query.Page,
		PageSize:   query.Size,
		TotalCount: len(deployments),
	})
}

// Get godoc
// @Summary Get deployment detail with its audit trail
// @Tags Deployments
// @Produce json
// @Param id path string true "Deployment ID"
// @Success 200 {object} response.Envelope
// @Router /deployments/{id} [get]
func (h *DeploymentHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	deployment, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deployment, nil)
}

// Extend godoc
// @Summary Extend a deployment's planned end date
// @Tags Deployments
// @Accept json
// @Produce json
// @Param id path string true "Deployment ID"
// @Param payload body dto.ExtendDeploymentRequest true "Extension payload"
// @Success 200 {object} response.Envelope
// @Router /deployments/{id}/extend [post]
func (h *DeploymentHandler) Extend(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ExtendDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid extension payload"))
		return
	}
	deployment, err := h.service.Extend(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deployment, nil)
}

// ChangeWorker godoc
// @Summary Substitute the worker assigned to a deployment
// @Tags Deployments
// @Accept json
// @Produce json
// @Param id path string true "Deployment ID"
// @Param payload body dto.ChangeWorkerRequest true "Substitution payload"
// @Success 200 {object} response.Envelope
// @Router /deployments/{id}/change-worker [post]
func (h *DeploymentHandler) ChangeWorker(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ChangeWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid substitution payload"))
		return
	}
	deployment, err := h.service.ChangeWorker(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deployment, nil)
}

// Complete godoc
// @Summary Complete a deployment
// @Tags Deployments
// @Accept json
// @Produce json
// @Param id path string true "Deployment ID"
// @Param payload body dto.CompleteDeploymentRequest true "Completion payload"
// @Success 200 {object} response.Envelope
// @Router /deployments/{id}/complete [post]
func (h *DeploymentHandler) Complete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CompleteDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid completion payload"))
		return
	}
	deployment, err := h.service.Complete(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, deployment, nil)
}

// Export godoc
// @Summary Export deployments as CSV or PDF
// @Tags Deployments
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} binary
// @Router /deployments/export [get]
func (h *DeploymentHandler) Export(c *gin.Context) {
	if h.exports == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ExportFormat(strings.ToLower(c.DefaultQuery("format", "csv")))
	result, err := h.exports.DeploymentReport(c.Request.Context(), parseDeploymentQuery(c), format, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+result.FileName)
	c.Data(http.StatusOK, result.ContentType, result.Data)
}

func parseDeploymentQuery(c *gin.Context) dto.DeploymentQuery {
	query := dto.DeploymentQuery{
		EquipmentID:    strings.TrimSpace(c.Query("equipment_id")),
		WorkerID:       strings.TrimSpace(c.Query("worker_id")),
		EntryRequestID: strings.TrimSpace(c.Query("entry_request_id")),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.DeploymentStatus, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.DeploymentStatus(part))
		}
		query.Status = statuses
	}
	query.Page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	query.Size, _ = strconv.Atoi(c.DefaultQuery("size", "20"))
	return query
}

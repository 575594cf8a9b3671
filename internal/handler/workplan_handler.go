package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteops/site-entry-api/internal/service"
	appErrors "github.com/siteops/site-entry-api/pkg/errors"
	"github.com/siteops/site-entry-api/pkg/response"
)

// WorkPlanHandler exposes upload and signed download endpoints for work plan
// documents.
type WorkPlanHandler struct {
	service *service.WorkPlanService
}

// NewWorkPlanHandler constructs the handler.
func NewWorkPlanHandler(service *service.WorkPlanService) *WorkPlanHandler {
	return &WorkPlanHandler{service: service}
}

// Upload godoc
// @Summary Upload a work plan document
// @Tags WorkPlans
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Work plan document"
// @Success 201 {object} response.Envelope
// @Router /work-plans [post]
func (h *WorkPlanHandler) Upload(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	header, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "document file is required"))
		return
	}
	doc, err := h.service.Upload(c.Request.Context(), header, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, doc, nil)
}

// SignedURL godoc
// @Summary Issue a time-limited download token for a stored work plan
// @Tags WorkPlans
// @Produce json
// @Param ref query string true "Work plan reference"
// @Success 200 {object} response.Envelope
// @Router /work-plans/signed-url [get]
func (h *WorkPlanHandler) SignedURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ref := c.Query("ref")
	if ref == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "ref query parameter is required"))
		return
	}
	signed, err := h.service.SignedDownloadURL(ref)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, signed, nil)
}

// Download godoc
// @Summary Download a work plan document using a signed token
// @Tags WorkPlans
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /work-plans/download [get]
func (h *WorkPlanHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token query parameter is required"))
		return
	}
	file, name, err := h.service.OpenByToken(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat document"))
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.DataFromReader(http.StatusOK, info.Size(), "application/octet-stream", file, nil)
}

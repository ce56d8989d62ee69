package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/response"
)

type reportService interface {
	Create(ctx context.Context, reporterID string, req dto.CreateReportRequest) (*models.Report, error)
	List(ctx context.Context, actor models.Actor, status string, page, size int) ([]models.Report, *models.Pagination, error)
	Resolve(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error)
	Dismiss(ctx context.Context, id string, actor models.Actor, req dto.ModerateReportRequest) (*models.Report, error)
}

// ReportHandler exposes community reporting and moderation.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs handler.
func NewReportHandler(svc reportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// Create godoc
// @Summary Report content or a member
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateReportRequest true "Report"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Create(c *gin.Context) {
	var req dto.CreateReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid report payload"))
		return
	}
	report, err := h.service.Create(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, report)
}

// List godoc
// @Summary Moderation queue
// @Tags Reports
// @Produce json
// @Security BearerAuth
// @Param status query string false "pending, resolved or dismissed"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /admin/reports [get]
func (h *ReportHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	reports, pagination, err := h.service.List(c.Request.Context(), actorFromContext(c), c.Query("status"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, reports, pagination, middleware.ExtractMeta(c))
}

// Resolve godoc
// @Summary Resolve a report
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Param payload body dto.ModerateReportRequest false "Note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/reports/{id}/resolve [post]
func (h *ReportHandler) Resolve(c *gin.Context) {
	h.moderate(c, h.service.Resolve)
}

// Dismiss godoc
// @Summary Dismiss a report
// @Tags Reports
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Report ID"
// @Param payload body dto.ModerateReportRequest false "Note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/reports/{id}/dismiss [post]
func (h *ReportHandler) Dismiss(c *gin.Context) {
	h.moderate(c, h.service.Dismiss)
}

func (h *ReportHandler) moderate(c *gin.Context, action func(context.Context, string, models.Actor, dto.ModerateReportRequest) (*models.Report, error)) {
	var req dto.ModerateReportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid moderation payload"))
			return
		}
	}
	report, err := action(c.Request.Context(), c.Param("id"), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}

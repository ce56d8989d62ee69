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

type sessionDirectory interface {
	ListAll(ctx context.Context, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error)
}

type disputeService interface {
	Resolve(ctx context.Context, id int64, actor models.Actor, req dto.ResolveSessionRequest) (*models.Session, error)
	ListDisputed(ctx context.Context, page, size int) ([]models.Session, *models.Pagination, error)
}

type bonusGranter interface {
	GrantBonus(ctx context.Context, adminID string, req dto.GrantBonusRequest) (*models.CreditTransaction, error)
}

// AdminHandler serves administrator-only session and credit operations.
type AdminHandler struct {
	sessions sessionDirectory
	disputes disputeService
	credits  bonusGranter
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(sessions sessionDirectory, disputes disputeService, credits bonusGranter) *AdminHandler {
	return &AdminHandler{sessions: sessions, disputes: disputes, credits: credits}
}

// ListSessions godoc
// @Summary All sessions
// @Description Use status=disputed for the dispute queue
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param status query string false "Status filter"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/sessions [get]
func (h *AdminHandler) ListSessions(c *gin.Context) {
	var query dto.SessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	sessions, pagination, err := h.sessions.ListAll(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination, middleware.ExtractMeta(c))
}

// Disputes godoc
// @Summary Dispute queue
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /admin/disputes [get]
func (h *AdminHandler) Disputes(c *gin.Context) {
	page, size := pageParams(c)
	sessions, pagination, err := h.disputes.ListDisputed(c.Request.Context(), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination, middleware.ExtractMeta(c))
}

// ResolveSession godoc
// @Summary Resolve a disputed session
// @Description payout pays the teacher, refund returns the hold to the student
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Param payload body dto.ResolveSessionRequest true "Resolution"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /admin/sessions/{id}/resolve [post]
func (h *AdminHandler) ResolveSession(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.ResolveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid resolution payload"))
		return
	}
	session, err := h.disputes.Resolve(c.Request.Context(), id, actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// GrantBonus godoc
// @Summary Grant bonus credits
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.GrantBonusRequest true "Bonus"
// @Success 201 {object} response.Envelope
// @Router /admin/credits/bonus [post]
func (h *AdminHandler) GrantBonus(c *gin.Context) {
	var req dto.GrantBonusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bonus payload"))
		return
	}
	entry, err := h.credits.GrantBonus(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, entry)
}

package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/response"
)

type sessionService interface {
	Book(ctx context.Context, actor models.Actor, req dto.BookSessionRequest) (*models.Session, error)
	Approve(ctx context.Context, id int64, actor models.Actor) (*models.Session, error)
	Reject(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error)
	Cancel(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error)
	Start(ctx context.Context, id int64, actor models.Actor) (*models.Session, error)
	Complete(ctx context.Context, id int64, actor models.Actor) (*models.Session, error)
	Dispute(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error)
	Get(ctx context.Context, id int64, actor models.Actor) (*models.Session, error)
	History(ctx context.Context, id int64, actor models.Actor) ([]models.SessionTransition, error)
	List(ctx context.Context, actor models.Actor, query dto.SessionListQuery) ([]models.Session, *models.Pagination, error)
}

// SessionHandler exposes the session lifecycle.
type SessionHandler struct {
	service sessionService
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(svc sessionService) *SessionHandler {
	return &SessionHandler{service: svc}
}

// Book godoc
// @Summary Book a session
// @Description Request a session with a teacher. The price is held from the caller's wallet until the session settles.
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.BookSessionRequest true "Booking"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions [post]
func (h *SessionHandler) Book(c *gin.Context) {
	var req dto.BookSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid booking payload"))
		return
	}
	session, err := h.service.Book(c.Request.Context(), actorFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// List godoc
// @Summary List my sessions
// @Description Sessions the caller takes part in. Anonymous callers get an empty list.
// @Tags Sessions
// @Produce json
// @Param status query string false "Status filter"
// @Param role query string false "student or teacher"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sessions [get]
func (h *SessionHandler) List(c *gin.Context) {
	var query dto.SessionListQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	sessions, pagination, err := h.service.List(c.Request.Context(), actorFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /sessions/{id} [get]
func (h *SessionHandler) Get(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	session, err := h.service.Get(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

// History godoc
// @Summary Session transition log
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/history [get]
func (h *SessionHandler) History(c *gin.Context) {
	id, err := sessionIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	history, err := h.service.History(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, history)
}

// Approve godoc
// @Summary Approve a pending session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sessions/{id}/approve [post]
func (h *SessionHandler) Approve(c *gin.Context) {
	h.simple(c, h.service.Approve)
}

// Start godoc
// @Summary Start an approved session
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/start [post]
func (h *SessionHandler) Start(c *gin.Context) {
	h.simple(c, h.service.Start)
}

// Complete godoc
// @Summary Confirm completion
// @Description Each party confirms once; the second confirmation completes the session and pays the teacher.
// @Tags Sessions
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/complete [post]
func (h *SessionHandler) Complete(c *gin.Context) {
	h.simple(c, h.service.Complete)
}

// Reject godoc
// @Summary Reject a pending session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Param payload body dto.SessionReasonRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/reject [post]
func (h *SessionHandler) Reject(c *gin.Context) {
	h.withReason(c, h.service.Reject)
}

// Cancel godoc
// @Summary Cancel a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Param payload body dto.SessionReasonRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/cancel [post]
func (h *SessionHandler) Cancel(c *gin.Context) {
	h.withReason(c, h.service.Cancel)
}

// Dispute godoc
// @Summary Dispute a session
// @Tags Sessions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Session ID"
// @Param payload body dto.SessionReasonRequest true "Reason"
// @Success 200 {object} response.Envelope
// @Router /sessions/{id}/dispute [post]
func (h *SessionHandler) Dispute(c *gin.Context) {
	h.withReason(c, h.service.Dispute)
}

type sessionAction func(ctx context.Context, id int64, actor models.Actor) (*models.Session, error)

type sessionReasonAction func(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Session, error)

func (h *SessionHandler) simple(c *gin.Context, action sessionAction) {
	id, err := sessionIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	session, err := action(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) withReason(c *gin.Context, action sessionReasonAction) {
	id, err := sessionIDParam(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.SessionReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reason payload"))
		return
	}
	session, err := action(c.Request.Context(), id, actorFromContext(c), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, session)
}

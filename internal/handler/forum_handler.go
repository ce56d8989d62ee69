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

type forumService interface {
	Categories(ctx context.Context) ([]models.ForumCategory, error)
	Threads(ctx context.Context, filter models.ThreadFilter) ([]models.ForumThread, *models.Pagination, error)
	Thread(ctx context.Context, id string) (*models.ForumThread, error)
	Replies(ctx context.Context, threadID string, page, size int) ([]models.ForumReply, *models.Pagination, error)
	CreateThread(ctx context.Context, authorID string, req dto.CreateThreadRequest) (*models.ForumThread, error)
	CreateReply(ctx context.Context, authorID string, req dto.CreateReplyRequest) (*models.ForumReply, error)
}

// ForumHandler serves the community forum.
type ForumHandler struct {
	service forumService
}

// NewForumHandler constructs a ForumHandler.
func NewForumHandler(svc forumService) *ForumHandler {
	return &ForumHandler{service: svc}
}

// Categories godoc
// @Summary Forum categories
// @Tags Forum
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /forum/categories [get]
func (h *ForumHandler) Categories(c *gin.Context) {
	categories, err := h.service.Categories(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, categories)
}

// Threads godoc
// @Summary List threads
// @Tags Forum
// @Produce json
// @Param category_id query string false "Category"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /forum/threads [get]
func (h *ForumHandler) Threads(c *gin.Context) {
	page, size := pageParams(c)
	filter := models.ThreadFilter{
		CategoryID: c.Query("category_id"),
		Search:     c.Query("search"),
		Page:       page,
		PageSize:   size,
	}
	threads, pagination, err := h.service.Threads(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, threads, pagination, middleware.ExtractMeta(c))
}

// Thread godoc
// @Summary Get a thread
// @Tags Forum
// @Produce json
// @Param id path string true "Thread ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /forum/threads/{id} [get]
func (h *ForumHandler) Thread(c *gin.Context) {
	thread, err := h.service.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, thread)
}

// Replies godoc
// @Summary Thread replies
// @Tags Forum
// @Produce json
// @Param id path string true "Thread ID"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /forum/threads/{id}/replies [get]
func (h *ForumHandler) Replies(c *gin.Context) {
	page, size := pageParams(c)
	replies, pagination, err := h.service.Replies(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, replies, pagination, middleware.ExtractMeta(c))
}

// CreateThread godoc
// @Summary Start a thread
// @Tags Forum
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateThreadRequest true "Thread"
// @Success 201 {object} response.Envelope
// @Router /forum/threads [post]
func (h *ForumHandler) CreateThread(c *gin.Context) {
	var req dto.CreateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid thread payload"))
		return
	}
	thread, err := h.service.CreateThread(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, thread)
}

// CreateReply godoc
// @Summary Reply to a thread
// @Tags Forum
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateReplyRequest true "Reply"
// @Success 201 {object} response.Envelope
// @Router /forum/replies [post]
func (h *ForumHandler) CreateReply(c *gin.Context) {
	var req dto.CreateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid reply payload"))
		return
	}
	reply, err := h.service.CreateReply(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, reply)
}

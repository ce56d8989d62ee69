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

type storyService interface {
	List(ctx context.Context, viewerID string, page, size int) ([]models.Story, *models.Pagination, error)
	Get(ctx context.Context, id, viewerID string) (*models.Story, error)
	Create(ctx context.Context, authorID string, req dto.CreateStoryRequest) (*models.Story, error)
	Like(ctx context.Context, storyID, userID string) (*models.Story, error)
	Unlike(ctx context.Context, storyID, userID string) (*models.Story, error)
	Comments(ctx context.Context, storyID string, page, size int) ([]models.StoryComment, *models.Pagination, error)
	Comment(ctx context.Context, storyID, authorID string, req dto.CreateCommentRequest) (*models.StoryComment, error)
}

// StoryHandler serves member success stories.
type StoryHandler struct {
	service storyService
}

// NewStoryHandler constructs a StoryHandler.
func NewStoryHandler(svc storyService) *StoryHandler {
	return &StoryHandler{service: svc}
}

// List godoc
// @Summary List stories
// @Tags Stories
// @Produce json
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /stories [get]
func (h *StoryHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	stories, pagination, err := h.service.List(c.Request.Context(), actorFromContext(c).UserID, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stories, pagination, middleware.ExtractMeta(c))
}

// Get godoc
// @Summary Get a story
// @Tags Stories
// @Produce json
// @Param id path string true "Story ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /stories/{id} [get]
func (h *StoryHandler) Get(c *gin.Context) {
	story, err := h.service.Get(c.Request.Context(), c.Param("id"), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, story)
}

// Create godoc
// @Summary Publish a story
// @Tags Stories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateStoryRequest true "Story"
// @Success 201 {object} response.Envelope
// @Router /stories [post]
func (h *StoryHandler) Create(c *gin.Context) {
	var req dto.CreateStoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid story payload"))
		return
	}
	story, err := h.service.Create(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, story)
}

// Like godoc
// @Summary Like a story
// @Tags Stories
// @Produce json
// @Security BearerAuth
// @Param id path string true "Story ID"
// @Success 200 {object} response.Envelope
// @Router /stories/{id}/like [post]
func (h *StoryHandler) Like(c *gin.Context) {
	story, err := h.service.Like(c.Request.Context(), c.Param("id"), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, story)
}

// Unlike godoc
// @Summary Remove a like
// @Tags Stories
// @Produce json
// @Security BearerAuth
// @Param id path string true "Story ID"
// @Success 200 {object} response.Envelope
// @Router /stories/{id}/unlike [post]
func (h *StoryHandler) Unlike(c *gin.Context) {
	story, err := h.service.Unlike(c.Request.Context(), c.Param("id"), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, story)
}

// Comments godoc
// @Summary Story comments
// @Tags Stories
// @Produce json
// @Param id path string true "Story ID"
// @Success 200 {object} response.Envelope
// @Router /stories/{id}/comments [get]
func (h *StoryHandler) Comments(c *gin.Context) {
	page, size := pageParams(c)
	comments, pagination, err := h.service.Comments(c.Request.Context(), c.Param("id"), page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, pagination, middleware.ExtractMeta(c))
}

// Comment godoc
// @Summary Comment on a story
// @Tags Stories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Story ID"
// @Param payload body dto.CreateCommentRequest true "Comment"
// @Success 201 {object} response.Envelope
// @Router /stories/{id}/comments [post]
func (h *StoryHandler) Comment(c *gin.Context) {
	var req dto.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.Comment(c.Request.Context(), c.Param("id"), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

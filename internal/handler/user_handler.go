package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/internal/service"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/response"
)

type userService interface {
	Me(ctx context.Context, userID string) (*models.User, error)
	PublicProfile(ctx context.Context, id string) (*models.PublicProfile, error)
	UpdateProfile(ctx context.Context, userID string, req dto.UpdateProfileRequest, meta service.RequestMeta) (*models.User, error)
}

// UserHandler serves member profiles.
type UserHandler struct {
	service userService
}

// NewUserHandler creates a new user handler.
func NewUserHandler(svc userService) *UserHandler {
	return &UserHandler{service: svc}
}

// Me godoc
// @Summary Current member
// @Tags Users
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /users/me [get]
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.service.Me(c.Request.Context(), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// UpdateMe godoc
// @Summary Update own profile
// @Description Only the supplied fields change. An empty avatar_url clears the avatar.
// @Tags Users
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.UpdateProfileRequest true "Profile changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /users/me [patch]
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req dto.UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid profile payload"))
		return
	}
	user, err := h.service.UpdateProfile(c.Request.Context(), actorFromContext(c).UserID, req, requestMeta(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, user)
}

// Get godoc
// @Summary Public member profile
// @Tags Users
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *gin.Context) {
	profile, err := h.service.PublicProfile(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, profile)
}

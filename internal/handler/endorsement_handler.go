package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/dto"
	"github.com/skillswap/timebank-api/internal/models"
	appErrors "github.com/skillswap/timebank-api/pkg/errors"
	"github.com/skillswap/timebank-api/pkg/response"
)

type endorsementService interface {
	ForUser(ctx context.Context, userID string) (*dto.UserEndorsements, error)
	Create(ctx context.Context, endorserID string, req dto.CreateEndorsementRequest) (*models.Endorsement, error)
}

// EndorsementHandler serves skill endorsements.
type EndorsementHandler struct {
	service endorsementService
}

// NewEndorsementHandler constructs an EndorsementHandler.
func NewEndorsementHandler(svc endorsementService) *EndorsementHandler {
	return &EndorsementHandler{service: svc}
}

// ForUser godoc
// @Summary Endorsements of a member
// @Description Per-skill counts plus the most recent endorsements
// @Tags Endorsements
// @Produce json
// @Param id path string true "User ID"
// @Success 200 {object} response.Envelope
// @Router /endorsements/users/{id} [get]
func (h *EndorsementHandler) ForUser(c *gin.Context) {
	result, err := h.service.ForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, result)
}

// Create godoc
// @Summary Endorse a member
// @Tags Endorsements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body dto.CreateEndorsementRequest true "Endorsement"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /endorsements [post]
func (h *EndorsementHandler) Create(c *gin.Context) {
	var req dto.CreateEndorsementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid endorsement payload"))
		return
	}
	endorsement, err := h.service.Create(c.Request.Context(), actorFromContext(c).UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, endorsement)
}

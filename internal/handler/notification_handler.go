package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
	"github.com/skillswap/timebank-api/pkg/response"
)

type notificationService interface {
	List(ctx context.Context, recipientID string, unreadOnly bool, page, size int) ([]models.Notification, *models.Pagination, int, error)
	MarkRead(ctx context.Context, id, recipientID string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
}

// NotificationHandler serves the in-app inbox.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(svc notificationService) *NotificationHandler {
	return &NotificationHandler{service: svc}
}

// List godoc
// @Summary List notifications
// @Description Newest first. meta.unread carries the unread count.
// @Tags Notifications
// @Produce json
// @Param unread query bool false "Only unread"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	unreadOnly, _ := strconv.ParseBool(c.Query("unread"))
	items, pagination, unread, err := h.service.List(c.Request.Context(), actorFromContext(c).UserID, unreadOnly, page, size)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "unread", unread)
	response.JSON(c, http.StatusOK, items, pagination, middleware.ExtractMeta(c))
}

// MarkRead godoc
// @Summary Mark a notification read
// @Tags Notifications
// @Security BearerAuth
// @Param id path string true "Notification ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /notifications/{id}/read [post]
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	if err := h.service.MarkRead(c.Request.Context(), c.Param("id"), actorFromContext(c).UserID); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// MarkAllRead godoc
// @Summary Mark every notification read
// @Tags Notifications
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /notifications/read-all [post]
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	n, err := h.service.MarkAllRead(c.Request.Context(), actorFromContext(c).UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"updated": n})
}

package handler

import (
	"context"
	"net/http"

	model "bidding-settlement/internal/models"
	"bidding-settlement/services/bidding/helpers"
	"bidding-settlement/utils"

	"github.com/gin-gonic/gin"
)

type NotificationServiceInterface interface {
	ListNotifications(ctx context.Context, userID string) ([]model.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

type NotificationHandler struct {
	service NotificationServiceInterface
}

func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// ListNotificationsHandler handles GET /users/:user_id/notifications
func (h *NotificationHandler) ListNotificationsHandler(c *gin.Context) {
	userID := c.Param("user_id")
	list, err := h.service.ListNotifications(c.Request.Context(), userID)
	if err != nil {
		helpers.RespondError(c, "ListNotificationsHandler", err, map[string]any{"user_id": userID})
		return
	}

	if list == nil {
		list = []model.Notification{}
	}
	utils.JSONResponse(c, http.StatusOK, list, "notifications retrieved successfully")
}

// MarkReadHandler handles POST /users/:user_id/notifications/:notification_id/read
func (h *NotificationHandler) MarkReadHandler(c *gin.Context) {
	userID := c.Param("user_id")
	notificationID := c.Param("notification_id")

	if err := h.service.MarkNotificationRead(c.Request.Context(), userID, notificationID); err != nil {
		helpers.RespondError(c, "MarkReadHandler", err, map[string]any{
			"user_id":         userID,
			"notification_id": notificationID,
		})
		return
	}

	utils.JSONResponse(c, http.StatusOK, gin.H{"notification_id": notificationID, "read": true}, "notification marked as read")
}

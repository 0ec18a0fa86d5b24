package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lifelink/lifelink/internal/services"
	"github.com/lifelink/lifelink/pkg/response"
)

// NotificationHandler exposes the donor alert feed and the seeker inbox.
type NotificationHandler struct {
	notifications *services.NotificationService
	responses     *services.ResponseService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(notifications *services.NotificationService, responses *services.ResponseService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, responses: responses}
}

type respondToNotificationRequest struct {
	Response string `json:"response" validate:"required"`
	Message  string `json:"message" validate:"max=500"`
}

func listInput(c *gin.Context, userID string) services.ListNotificationsInput {
	return services.ListNotificationsInput{
		UserID:     userID,
		UnreadOnly: parseBoolQuery(c, "unread"),
		Limit:      parseIntQuery(c, "limit", 25),
		Offset:     parseIntQuery(c, "offset", 0),
	}
}

// GET /api/lifelink/notifications
func (h *NotificationHandler) ListDonorAlerts(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	items, err := h.notifications.ListDonorAlerts(requestContext(c), listInput(c, actor.UserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, items)
}

// POST /api/lifelink/notifications/:id/read
func (h *NotificationHandler) MarkDonorAlertRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	dto, err := h.notifications.MarkDonorAlertRead(requestContext(c), actor.UserID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// POST /api/lifelink/notifications/:id/respond
func (h *NotificationHandler) Respond(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req respondToNotificationRequest
	if !bindAndValidate(c, &req) {
		return
	}

	result, err := h.responses.RespondToNotification(requestContext(c), actor.UserID, pathID(c), req.Response, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusCreated, result)
}

// GET /api/lifelink/inbox
func (h *NotificationHandler) Inbox(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	ctx := requestContext(c)
	items, err := h.notifications.ListForUser(ctx, listInput(c, actor.UserID))
	if err != nil {
		response.Error(c, err)
		return
	}
	unread, err := h.notifications.UnreadCount(ctx, actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"items": items, "unread": unread})
}

// POST /api/lifelink/inbox/:id/read
func (h *NotificationHandler) MarkInboxRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	dto, err := h.notifications.MarkRead(requestContext(c), actor.UserID, pathID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, dto)
}

// POST /api/lifelink/inbox/read-all
func (h *NotificationHandler) MarkInboxAllRead(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	updated, err := h.notifications.MarkAllRead(requestContext(c), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"updated": updated})
}

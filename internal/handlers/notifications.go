package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/accessd/internal/services"
	apperrors "github.com/charlesng35/accessd/pkg/errors"
	"github.com/charlesng35/accessd/pkg/response"
)

// NotificationHandler exposes direct notification delivery to authenticated callers.
type NotificationHandler struct {
	accounts *services.AccountService
}

// NewNotificationHandler constructs a notification handler.
func NewNotificationHandler(accounts *services.AccountService) *NotificationHandler {
	return &NotificationHandler{accounts: accounts}
}

// POST /api/notifications/send
func (h *NotificationHandler) Send(c *gin.Context) {
	var req services.NotifyInput
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.accounts.Notify(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotificationFailed) {
			c.JSON(http.StatusBadGateway, response.Response{
				Success: false,
				Data:    result,
				Error: &response.ErrorInfo{
					Code:    apperrors.ErrNotificationFailed.Code,
					Message: apperrors.ErrNotificationFailed.Message,
				},
			})
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, http.StatusOK, result)
}

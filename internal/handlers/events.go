package handlers

import (
	"errors"
	"net/http"

	"fitfeed/internal/services"

	"github.com/gin-gonic/gin"
)

type EventHandler struct{}

func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

type eventBatchRequest struct {
	Events []services.EventInput `json:"events" binding:"required"`
}

// SubmitBatch 批量提交交互事件
// POST /api/news/events
func (h *EventHandler) SubmitBatch(c *gin.Context) {
	userID, ok := CurrentUserID(c)
	if !ok {
		JSONError(c, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req eventBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := services.GetEventService().SubmitBatch(userID, req.Events)
	if err != nil {
		// 校验失败整批拒绝
		if errors.Is(err, services.ErrBatchTooLarge) || errors.Is(err, services.ErrUnknownEventType) {
			JSONError(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		JSONError(c, http.StatusInternalServerError, "failed to record events")
		return
	}

	c.JSON(http.StatusOK, result)
}

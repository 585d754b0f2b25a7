package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"timersync/backend/internal/middleware"
	"timersync/backend/internal/service"
)

type ActivityHandler struct {
	activityService *service.ActivityService
}

type registerTokenRequest struct {
	PushToken   string `json:"pushToken"`
	Topic       string `json:"topic"`
	Environment string `json:"environment"`
}

type pushRequest struct {
	UpdateType string `json:"updateType"`
}

func NewActivityHandler(activityService *service.ActivityService) *ActivityHandler {
	return &ActivityHandler{activityService: activityService}
}

func (h *ActivityHandler) RegisterToken(c *gin.Context) {
	var req registerTokenRequest
	if !bindJSON(c, &req) {
		return
	}

	userID := middleware.UserID(c)
	token, apiErr := h.activityService.RegisterToken(c.Request.Context(), userID, c.Param("activityId"), service.RegisterTokenInput{
		PushToken:   req.PushToken,
		Topic:       req.Topic,
		Environment: req.Environment,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (h *ActivityHandler) DeleteToken(c *gin.Context) {
	userID := middleware.UserID(c)
	if apiErr := h.activityService.DeleteToken(c.Request.Context(), userID, c.Param("activityId")); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ActivityHandler) Push(c *gin.Context) {
	var req pushRequest
	if c.Request.ContentLength > 0 {
		if !bindJSON(c, &req) {
			return
		}
	}

	userID := middleware.UserID(c)
	if apiErr := h.activityService.Push(c.Request.Context(), userID, c.Param("activityId"), req.UpdateType); apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": true})
}

func (h *ActivityHandler) ListDeliveries(c *gin.Context) {
	userID := middleware.UserID(c)
	records, apiErr := h.activityService.ListDeliveries(c.Request.Context(), userID, c.Param("activityId"), queryLimit(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": records})
}

package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "timersync/backend/internal/errors"
	"timersync/backend/internal/middleware"
	"timersync/backend/internal/service"
)

type TimerHandler struct {
	timerService *service.TimerService
}

type startRequest struct {
	SessionID              string     `json:"sessionId"`
	ActivityID             string     `json:"activityId"`
	TimerType              string     `json:"timerType"`
	Mode                   string     `json:"mode"`
	Label                  string     `json:"label"`
	PlannedDurationSeconds float64    `json:"plannedDurationSeconds"`
	StartedAt              *time.Time `json:"startedAt"`
}

type transitionRequest struct {
	SessionID string     `json:"sessionId"`
	TimerType string     `json:"timerType"`
	Action    string     `json:"action"`
	IssuedAt  *time.Time `json:"issuedAt"`
}

func NewTimerHandler(timerService *service.TimerService) *TimerHandler {
	return &TimerHandler{timerService: timerService}
}

func (h *TimerHandler) GetState(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		writeError(c, apperrors.Unauthorized(""))
		return
	}

	state, apiErr := h.timerService.GetState(c.Request.Context(), userID, c.Query("timerType"))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Start(c *gin.Context) {
	var req startRequest
	if !bindJSON(c, &req) {
		return
	}

	userID := middleware.UserID(c)
	state, apiErr := h.timerService.Start(c.Request.Context(), userID, service.StartInput{
		SessionID:              req.SessionID,
		ActivityID:             req.ActivityID,
		TimerType:              req.TimerType,
		Mode:                   req.Mode,
		Label:                  req.Label,
		PlannedDurationSeconds: req.PlannedDurationSeconds,
		StartedAt:              req.StartedAt,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": state})
}

func (h *TimerHandler) Transition(c *gin.Context) {
	var req transitionRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Action == "" {
		writeError(c, apperrors.BadRequest("invalid_action", "action is required"))
		return
	}

	userID := middleware.UserID(c)
	result, apiErr := h.timerService.Transition(c.Request.Context(), userID, service.TransitionInput{
		SessionID: req.SessionID,
		TimerType: req.TimerType,
		Action:    req.Action,
		IssuedAt:  req.IssuedAt,
	})
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *TimerHandler) GetHistory(c *gin.Context) {
	userID := middleware.UserID(c)
	if userID == "" {
		writeError(c, apperrors.Unauthorized(""))
		return
	}

	sessions, apiErr := h.timerService.GetHistory(c.Request.Context(), userID, queryLimit(c))
	if apiErr != nil {
		writeError(c, apiErr)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func queryLimit(c *gin.Context) int {
	limit := 50
	rawLimit := c.Query("limit")
	if rawLimit != "" {
		if parsed, err := strconv.Atoi(rawLimit); err == nil {
			limit = parsed
		}
	}
	return limit
}

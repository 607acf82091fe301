package handlers

import (
	"net/http"
	"strconv"
	"time"

	"gateway-service/internal/activity"
	"gateway-service/internal/models"

	"github.com/gin-gonic/gin"
)

type ActivityHandler struct {
	repo *activity.Repository
}

func NewActivityHandler(repo *activity.Repository) *ActivityHandler {
	return &ActivityHandler{repo: repo}
}

type createActivityLogRequest struct {
	UserID      string `json:"userId" binding:"required"`
	Action      string `json:"action" binding:"required"`
	Description string `json:"description"`
}

// CreateActivityLog is the collaborator contract consumed by other services:
// validate, persist, return the row.
func (h *ActivityHandler) CreateActivityLog(c *gin.Context) {
	clientID := c.GetString("client_id")
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req createActivityLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry := &models.ActivityLog{
		ClientID:    clientID,
		UserID:      req.UserID,
		Action:      req.Action,
		Description: req.Description,
		CreatedAt:   time.Now(),
	}
	if err := h.repo.Create(entry); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create activity log"})
		return
	}

	c.JSON(http.StatusCreated, entry)
}

// ListActivityLogs returns the caller tenant's most recent entries.
func (h *ActivityHandler) ListActivityLogs(c *gin.Context) {
	clientID := c.GetString("client_id")
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.repo.ListByClient(clientID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list activity logs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"activityLogs": entries})
}

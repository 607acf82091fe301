package handlers

import (
	"net/http"

	"gateway-service/internal/presence"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	registry *presence.Registry
}

func NewPresenceHandler(registry *presence.Registry) *PresenceHandler {
	return &PresenceHandler{registry: registry}
}

// GetOnlineUsers returns the caller's tenant roster, the same view pushed on
// the socket on join. Used by non-socket clients to bootstrap.
func (h *PresenceHandler) GetOnlineUsers(c *gin.Context) {
	clientID := c.GetString("client_id")
	if clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	roster, err := h.registry.FetchRoster(c.Request.Context(), clientID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch online users"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"onlineUsers": roster})
}

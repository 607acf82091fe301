package handlers

import (
	"net/http"

	"gateway-service/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// HandleWebSocket upgrades an authenticated request into a presence socket.
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	userID := c.GetString("user_id")
	clientID := c.GetString("client_id")
	if userID == "" || clientID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	websocket.ServeWS(h.hub, c.Writer, c.Request, clientID, userID)
}

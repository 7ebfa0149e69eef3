package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/resume-studio/collabsync/internal/relay"
)

// WebSocketHandler upgrades collaboration clients to WebSocket.
type WebSocketHandler struct {
	wsHandler *relay.Handler
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(wsHandler *relay.Handler) *WebSocketHandler {
	return &WebSocketHandler{
		wsHandler: wsHandler,
	}
}

// Connect handles WS /api/ws?userId=&username=. Both parameters are
// optional; the first join frame supplies a missing identity.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	// The upgrader writes its own error response.
	_ = h.wsHandler.HandleConnection(c.Writer, c.Request, getUserID(c), c.Query("username"))
}

// RegisterRoutes registers the WebSocket route on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}

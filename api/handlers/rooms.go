package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/relay"
)

// RoomHandler exposes the relay's room state.
type RoomHandler struct {
	service *relay.Service
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(service *relay.Service) *RoomHandler {
	return &RoomHandler{service: service}
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.service.Rooms()})
}

// Members handles GET /api/rooms/:id/members.
func (h *RoomHandler) Members(c *gin.Context) {
	roomID := c.Param("id")
	members, err := h.service.Members(roomID)
	if err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			sendError(c, http.StatusNotFound, "ROOM_NOT_FOUND", "Room "+roomID+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID, "members": members})
}

// RegisterRoutes registers the room routes on a Gin router group.
func (h *RoomHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/rooms", h.List)
	rg.GET("/rooms/:id/members", h.Members)
}

package relay

import (
	"context"

	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/protocol"
)

// Service owns the hubs and the connection handler of a relay.
type Service struct {
	hubManager *HubManager
	handler    *Handler
}

// NewService creates a relay service answering AI requests with responder.
func NewService(responder Responder, logger pslog.Logger) *Service {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	hubManager := NewHubManager()
	return &Service{
		hubManager: hubManager,
		handler:    NewHandler(hubManager, responder, logger.With("component", "relay")),
	}
}

// Handler returns the WebSocket handler.
func (s *Service) Handler() *Handler {
	return s.handler
}

// HubManager returns the hub manager.
func (s *Service) HubManager() *HubManager {
	return s.hubManager
}

// SetArchiver stores finalized AI responses in a.
func (s *Service) SetArchiver(a Archiver) {
	s.handler.SetArchiver(a)
}

// Rooms lists the active rooms.
func (s *Service) Rooms() []RoomInfo {
	return s.hubManager.Rooms()
}

// Members lists the users in a room. It returns model.ErrRoomNotFound for
// a room without members.
func (s *Service) Members(roomID string) ([]protocol.UserJoined, error) {
	return s.hubManager.Members(roomID)
}

// Close disconnects every client.
func (s *Service) Close() {
	s.handler.Close()
	s.hubManager.Close()
}

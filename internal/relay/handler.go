package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Archiver stores finalized AI responses.
type Archiver interface {
	Create(ctx context.Context, t *model.Transcript) error
}

// Handler handles WebSocket connections of collaboration clients.
type Handler struct {
	hubs      *HubManager
	responder Responder
	archiver  Archiver
	log       pslog.Logger

	clients map[*Client]struct{}
	mu      sync.RWMutex
}

// NewHandler creates a new WebSocket handler. A nil responder selects an
// EchoResponder without delay.
func NewHandler(hubs *HubManager, responder Responder, logger pslog.Logger) *Handler {
	if responder == nil {
		responder = NewEchoResponder(0)
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Handler{
		hubs:      hubs,
		responder: responder,
		log:       logger,
		clients:   make(map[*Client]struct{}),
	}
}

// SetArchiver sets where finalized AI responses are stored.
func (h *Handler) SetArchiver(a Archiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.archiver = a
}

func (h *Handler) getArchiver() Archiver {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.archiver
}

// HandleConnection upgrades the request and serves the connection until
// the peer goes away. userID and username may be empty, in which case the
// first join frame supplies them.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, userID, username string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(conn, userID, username)

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.log.Info("client connected", "conn", client.ID(), "user", userID)

	go h.writePump(client)
	go h.readPump(client)

	return nil
}

// ClientCount returns the number of open connections.
func (h *Handler) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close closes every open connection.
func (h *Handler) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

// readPump pumps frames from the WebSocket connection to the room hubs.
func (h *Handler) readPump(client *Client) {
	defer func() {
		h.disconnect(client)
		client.Conn().Close()
	}()

	conn := client.Conn()
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", "conn", client.ID(), "err", err)
			}
			return
		}

		codec, ok := protocol.CodecForMessageType(mt)
		if !ok {
			continue
		}
		client.setCodec(codec)

		frame, err := codec.Unmarshal(data)
		if err != nil {
			h.log.Warn("failed to decode frame", "conn", client.ID(), "err", err)
			h.sendError(client, protocol.ErrorCodeBadFrame, err.Error())
			continue
		}

		h.HandleFrame(client, frame)
	}
}

// writePump pumps queued messages to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	conn := client.Conn()
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(msg.messageType, msg.data); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// disconnect leaves every joined room and forgets the client.
func (h *Handler) disconnect(client *Client) {
	for _, roomID := range client.Rooms() {
		h.leave(client, roomID)
	}
	client.Close()

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	h.log.Info("client disconnected", "conn", client.ID())
}

// HandleFrame routes one decoded frame from client.
func (h *Handler) HandleFrame(client *Client, frame protocol.Frame) {
	switch frame.Kind {
	case protocol.EventJoinRoom:
		var m protocol.RoomMembership
		if !h.decode(client, frame, &m) {
			return
		}
		if m.RoomID == "" {
			h.sendError(client, protocol.ErrorCodeBadFrame, "roomId is required")
			return
		}
		client.adopt(m.UserID, m.Username)
		if userID, _ := client.Identity(); userID == "" {
			h.sendError(client, protocol.ErrorCodeBadFrame, "userId is required")
			return
		}
		h.join(client, m.RoomID)

	case protocol.EventLeaveRoom:
		var m protocol.RoomMembership
		if !h.decode(client, frame, &m) {
			return
		}
		h.leave(client, m.RoomID)

	case protocol.EventResumeUpdate:
		var u protocol.ResumeUpdate
		if !h.decode(client, frame, &u) {
			return
		}
		hub := h.memberHub(client, u.RoomID)
		if hub == nil {
			return
		}
		if u.UserID == "" {
			u.UserID, _ = client.Identity()
		}
		h.broadcast(hub, protocol.EventResumeUpdated, u, nil)

	case protocol.EventResumeCursor:
		var c protocol.Cursor
		if !h.decode(client, frame, &c) {
			return
		}
		if hub := h.memberHub(client, c.RoomID); hub != nil {
			if c.UserID == "" {
				c.UserID, _ = client.Identity()
			}
			h.broadcast(hub, frame.Kind, c, client)
		}

	case protocol.EventResumeSelection:
		var s protocol.Selection
		if !h.decode(client, frame, &s) {
			return
		}
		if hub := h.memberHub(client, s.RoomID); hub != nil {
			if s.UserID == "" {
				s.UserID, _ = client.Identity()
			}
			h.broadcast(hub, frame.Kind, s, client)
		}

	case protocol.EventUserTyping:
		var t protocol.Typing
		if !h.decode(client, frame, &t) {
			return
		}
		if hub := h.memberHub(client, t.RoomID); hub != nil {
			userID, username := client.Identity()
			if t.UserID == "" {
				t.UserID = userID
			}
			if t.Username == "" {
				t.Username = username
			}
			h.broadcast(hub, frame.Kind, t, client)
		}

	case protocol.EventAIRequest:
		var req protocol.AIRequest
		if !h.decode(client, frame, &req) {
			return
		}
		if req.RequestID == "" || strings.TrimSpace(req.Prompt) == "" {
			h.sendError(client, protocol.ErrorCodeBadFrame, "requestId and prompt are required")
			return
		}
		if req.UserID == "" {
			req.UserID, _ = client.Identity()
		}
		go h.respond(client, req)

	default:
		h.sendError(client, protocol.ErrorCodeUnknownKind, fmt.Sprintf("unsupported frame kind %q", frame.Kind))
	}
}

func (h *Handler) decode(client *Client, frame protocol.Frame, v any) bool {
	if err := frame.Decode(v); err != nil {
		h.log.Warn("failed to decode payload", "conn", client.ID(), "kind", frame.Kind, "err", err)
		h.sendError(client, protocol.ErrorCodeBadFrame, err.Error())
		return false
	}
	return true
}

// join registers client in the room, replays the current members to it and
// announces it to the others.
func (h *Handler) join(client *Client, roomID string) {
	userID, username := client.Identity()
	if !client.joinRoom(roomID) {
		// Already a member: only refresh the roster.
		if hub := h.hubs.Get(roomID); hub != nil {
			h.replay(client, userID, hub.Members())
		}
		return
	}

	hub, existing := h.hubs.Join(roomID, client)
	h.replay(client, userID, existing)

	for _, m := range existing {
		if m.UserID == userID {
			// Another connection of the same user already announced it.
			return
		}
	}
	h.broadcast(hub, protocol.EventUserJoined, protocol.UserJoined{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
	}, client)

	h.log.Info("user joined room", "room", roomID, "user", userID, "members", hub.ClientCount())
}

func (h *Handler) replay(client *Client, userID string, members []protocol.UserJoined) {
	for _, m := range members {
		if m.UserID == userID {
			continue
		}
		if err := client.SendFrame(protocol.EventUserJoined, m); err != nil {
			h.log.Warn("failed to replay member", "room", m.RoomID, "err", err)
		}
	}
}

// leave removes client from the room and announces the departure once the
// user has no connection left in it.
func (h *Handler) leave(client *Client, roomID string) {
	if !client.leaveRoom(roomID) {
		return
	}
	hub := h.hubs.Leave(roomID, client)
	if hub == nil {
		return
	}

	userID, _ := client.Identity()
	if hub.HasUser(userID) {
		return
	}
	h.broadcast(hub, protocol.EventUserLeft, protocol.UserLeft{RoomID: roomID, UserID: userID}, nil)

	h.log.Info("user left room", "room", roomID, "user", userID)
}

// memberHub returns the hub of a room client has joined. Frames for other
// rooms are answered with an error frame.
func (h *Handler) memberHub(client *Client, roomID string) *Hub {
	var hub *Hub
	if roomID != "" && client.inRoom(roomID) {
		hub = h.hubs.Get(roomID)
	}
	if hub == nil {
		h.sendError(client, protocol.ErrorCodeNotInRoom, fmt.Sprintf("not a member of room %q", roomID))
	}
	return hub
}

func (h *Handler) broadcast(hub *Hub, kind protocol.EventKind, payload any, skip *Client) {
	if err := hub.Broadcast(kind, payload, skip); err != nil {
		h.log.Error("failed to broadcast frame", "room", hub.RoomID(), "kind", kind, "err", err)
	}
}

func (h *Handler) sendError(client *Client, code, message string) {
	if err := client.SendFrame(protocol.EventError, protocol.Error{Code: code, Message: message}); err != nil {
		h.log.Error("failed to send error frame", "conn", client.ID(), "err", err)
	}
}

// chunkWriter forwards response chunks to the requesting client.
type chunkWriter struct {
	client *Client
	req    protocol.AIRequest
	text   strings.Builder
}

func (w *chunkWriter) WriteChunk(chunk string) error {
	if chunk == "" {
		return nil
	}
	w.text.WriteString(chunk)
	return w.client.SendFrame(protocol.EventAIResponseChunk, protocol.AIResponseChunk{
		RequestID: w.req.RequestID,
		Chunk:     chunk,
		UserID:    w.req.UserID,
	})
}

// respond streams the response to req back to client and archives it.
func (h *Handler) respond(client *Client, req protocol.AIRequest) {
	log := h.log.With("conn", client.ID(), "request", req.RequestID)
	startedAt := time.Now()

	if err := client.SendFrame(protocol.EventAIResponseStart, protocol.AIResponseStart{
		RequestID: req.RequestID,
		UserID:    req.UserID,
	}); err != nil {
		log.Error("failed to start response", "err", err)
		return
	}

	w := &chunkWriter{client: client, req: req}
	err := h.responder.Respond(client.Context(), req, w)
	if err != nil {
		if errors.Is(err, context.Canceled) || client.Context().Err() != nil {
			log.Debug("response abandoned", "err", err)
			return
		}
		log.Warn("responder failed", "err", err)
		h.sendError(client, protocol.ErrorCodeResponseFailed, err.Error())
	}

	if err := client.SendFrame(protocol.EventAIResponseEnd, protocol.AIResponseEnd{
		RequestID: req.RequestID,
		UserID:    req.UserID,
	}); err != nil {
		log.Error("failed to end response", "err", err)
		return
	}

	archiver := h.getArchiver()
	if archiver == nil {
		return
	}
	t := &model.Transcript{
		RequestID:   req.RequestID,
		UserID:      req.UserID,
		Prompt:      req.Prompt,
		Response:    w.text.String(),
		Status:      model.TranscriptStatusComplete,
		CreatedAt:   startedAt,
		CompletedAt: time.Now(),
	}
	if err := archiver.Create(context.Background(), t); err != nil {
		log.Warn("failed to archive response", "err", err)
	}
}

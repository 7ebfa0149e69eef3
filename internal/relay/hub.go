package relay

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
)

// sendBufferSize is the number of queued frames after which a slow client
// is dropped.
const sendBufferSize = 256

type outbound struct {
	messageType int
	data        []byte
}

// Client is one WebSocket connection.
type Client struct {
	id       string
	conn     *websocket.Conn
	send     chan outbound
	mu       sync.Mutex
	closed   bool
	userID   string
	username string
	codec    protocol.Codec
	rooms    map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewClient creates a client for conn. conn may be nil in tests.
func NewClient(conn *websocket.Conn, userID, username string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ctx:      ctx,
		cancel:   cancel,
		id:       uuid.NewString(),
		conn:     conn,
		send:     make(chan outbound, sendBufferSize),
		userID:   userID,
		username: username,
		codec:    protocol.JSON,
		rooms:    make(map[string]bool),
	}
}

// Conn returns the WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

// Context is cancelled once the connection is gone.
func (c *Client) Context() context.Context {
	return c.ctx
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Identity returns the user the connection speaks for.
func (c *Client) Identity() (userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.username
}

// adopt fills in an identity the connection was opened without.
func (c *Client) adopt(userID, username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		c.userID = userID
	}
	if c.username == "" {
		c.username = username
	}
}

// Codec returns the codec replies are encoded with.
func (c *Client) Codec() protocol.Codec {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codec
}

func (c *Client) setCodec(codec protocol.Codec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codec = codec
}

func (c *Client) joinRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rooms[roomID] {
		return false
	}
	c.rooms[roomID] = true
	return true
}

func (c *Client) leaveRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.rooms[roomID] {
		return false
	}
	delete(c.rooms, roomID)
	return true
}

func (c *Client) inRoom(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rooms[roomID]
}

// Rooms returns the rooms the client has joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

// Send queues an encoded message. A client whose queue is full is closed.
func (c *Client) Send(messageType int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- outbound{messageType: messageType, data: data}:
	default:
		c.closeLocked()
	}
}

// SendFrame encodes a frame with the client's codec and queues it.
func (c *Client) SendFrame(kind protocol.EventKind, payload any) error {
	codec := c.Codec()
	data, err := codec.Marshal(kind, payload)
	if err != nil {
		return err
	}
	c.Send(codec.MessageType(), data)
	return nil
}

// Close stops the write pump and cancels the client context.
func (c *Client) Close() {
	c.cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the client is closed.
func (c *Client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Hub holds the member connections of one room.
type Hub struct {
	roomID  string
	clients map[*Client]bool
	order   []*Client
	mu      sync.RWMutex
}

// NewHub creates an empty hub for roomID.
func NewHub(roomID string) *Hub {
	return &Hub{
		roomID:  roomID,
		clients: make(map[*Client]bool),
	}
}

// RoomID returns the room id for this hub.
func (h *Hub) RoomID() string {
	return h.roomID
}

// Register adds a client. It reports false if the client was already a
// member.
func (h *Hub) Register(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		return false
	}
	h.clients[client] = true
	h.order = append(h.order, client)
	return true
}

// Unregister removes a client and returns the number of remaining members.
func (h *Hub) Unregister(client *Client) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[client] {
		delete(h.clients, client)
		for i, c := range h.order {
			if c == client {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	return len(h.clients)
}

// Members returns the users in the room in join order. A user connected
// more than once is listed once.
func (h *Hub) Members() []protocol.UserJoined {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[string]bool, len(h.order))
	members := make([]protocol.UserJoined, 0, len(h.order))
	for _, c := range h.order {
		userID, username := c.Identity()
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		members = append(members, protocol.UserJoined{RoomID: h.roomID, UserID: userID, Username: username})
	}
	return members
}

// HasUser reports whether any member connection speaks for userID.
func (h *Hub) HasUser(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.order {
		if id, _ := c.Identity(); id == userID {
			return true
		}
	}
	return false
}

// Broadcast sends a frame to every member except skip, encoding it once
// per codec in use.
func (h *Hub) Broadcast(kind protocol.EventKind, payload any, skip *Client) error {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.order))
	for _, c := range h.order {
		if c != skip {
			clients = append(clients, c)
		}
	}
	h.mu.RUnlock()

	encoded := make(map[string][]byte, 2)
	for _, c := range clients {
		codec := c.Codec()
		data, ok := encoded[codec.Name()]
		if !ok {
			var err error
			data, err = codec.Marshal(kind, payload)
			if err != nil {
				return err
			}
			encoded[codec.Name()] = data
		}
		c.Send(codec.MessageType(), data)
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomInfo summarizes a room.
type RoomInfo struct {
	RoomID  string `json:"roomId"`
	Members int    `json:"members"`
}

// HubManager manages the hubs of all rooms.
type HubManager struct {
	hubs map[string]*Hub
	mu   sync.RWMutex
}

// NewHubManager creates a new HubManager.
func NewHubManager() *HubManager {
	return &HubManager{
		hubs: make(map[string]*Hub),
	}
}

// GetOrCreate returns an existing hub or creates a new one for the room.
func (m *HubManager) GetOrCreate(roomID string) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[roomID]; ok {
		return hub
	}

	hub := NewHub(roomID)
	m.hubs[roomID] = hub
	return hub
}

// Get returns the hub for the room, or nil if not found.
func (m *HubManager) Get(roomID string) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[roomID]
}

// Join registers client with the room's hub, creating it if needed. It
// returns the hub and the members present before the client joined.
func (m *HubManager) Join(roomID string, client *Client) (*Hub, []protocol.UserJoined) {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[roomID]
	if !ok {
		hub = NewHub(roomID)
		m.hubs[roomID] = hub
	}
	existing := hub.Members()
	hub.Register(client)
	return hub, existing
}

// Members returns the members of a room.
func (m *HubManager) Members(roomID string) ([]protocol.UserJoined, error) {
	hub := m.Get(roomID)
	if hub == nil {
		return nil, model.ErrRoomNotFound
	}
	return hub.Members(), nil
}

// Leave removes client from the room and drops the hub once it is empty.
// It returns the hub the client left, or nil if it was not a member.
func (m *HubManager) Leave(roomID string, client *Client) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	hub, ok := m.hubs[roomID]
	if !ok {
		return nil
	}
	if hub.Unregister(client) == 0 {
		delete(m.hubs, roomID)
	}
	return hub
}

// Rooms lists every room with its member count, ordered by id.
func (m *HubManager) Rooms() []RoomInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]RoomInfo, 0, len(m.hubs))
	for id, hub := range m.hubs {
		rooms = append(rooms, RoomInfo{RoomID: id, Members: hub.ClientCount()})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomID < rooms[j].RoomID })
	return rooms
}

// Close forgets every hub.
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hubs = make(map[string]*Hub)
}

package collab

import (
	"context"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/clock"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/socket"
)

// DefaultTypingTimeout is how long the local user counts as typing after
// the last keystroke.
const DefaultTypingTimeout = 3 * time.Second

// Bus is the part of the multiplexer a Room needs. *socket.Mux satisfies it.
type Bus interface {
	On(kind protocol.EventKind, fn socket.Listener) func()
	Emit(kind protocol.EventKind, payload any)
}

// Presence is a partial presence update. Nil fields are not sent.
type Presence struct {
	Cursor    *model.Position
	Selection *model.SelectionRect
}

// Options configures a Room.
type Options struct {
	RoomID   string
	UserID   string
	Username string

	// TypingTimeout defaults to DefaultTypingTimeout.
	TypingTimeout time.Duration

	// OnRosterChange receives a snapshot of the roster after every change.
	// Snapshots arrive in order and a stale one is never delivered after a
	// newer one. It must not call Leave or Close.
	OnRosterChange func(roster []model.Collaborator)

	// OnResumeUpdated receives document changes made by other users.
	OnResumeUpdated func(update protocol.ResumeUpdate)

	Logger    pslog.Logger
	AfterFunc clock.AfterFunc
}

// Room is the local view of one collaboration room.
type Room struct {
	bus       Bus
	opts      Options
	log       pslog.Logger
	afterFunc clock.AfterFunc

	mu      sync.Mutex
	joined  bool
	joinGen uint64
	unsubs  []func()
	roster  map[string]*model.Collaborator
	order   []string

	// rosterSeq numbers snapshots under mu; notifyMu orders their delivery.
	rosterSeq   uint64
	notifyMu    sync.Mutex
	notifiedSeq uint64

	typing      bool
	typingTimer clock.Timer
	typingGen   uint64
}

// New creates a Room. It does not join until Join is called.
func New(bus Bus, opts Options) *Room {
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultTypingTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = clock.Real
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	return &Room{
		bus:       bus,
		opts:      opts,
		log:       logger.With("room", opts.RoomID, "user", opts.UserID),
		afterFunc: opts.AfterFunc,
		roster:    make(map[string]*model.Collaborator),
	}
}

// Open creates a Room and joins it. Close must be called when done.
func Open(bus Bus, opts Options) *Room {
	r := New(bus, opts)
	r.Join()
	return r
}

// With joins a room for the duration of fn. The room is left on every exit
// path, including when fn returns an error or panics.
func With(bus Bus, opts Options, fn func(r *Room) error) error {
	r := Open(bus, opts)
	defer r.Close()
	return fn(r)
}

// Close leaves the room.
func (r *Room) Close() {
	r.Leave()
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.opts.RoomID
}

// Joined reports whether the room is currently joined.
func (r *Room) Joined() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joined
}

// Join subscribes to room events and emits the join frame. Joining an
// already joined room is a no-op.
func (r *Room) Join() {
	r.mu.Lock()
	if r.joined {
		r.mu.Unlock()
		return
	}
	r.joined = true
	r.joinGen++
	gen := r.joinGen
	r.mu.Unlock()

	unsubs := []func(){
		r.bus.On(protocol.EventUserJoined, r.handleUserJoined),
		r.bus.On(protocol.EventUserLeft, r.handleUserLeft),
		r.bus.On(protocol.EventResumeUpdated, r.handleResumeUpdated),
		r.bus.On(protocol.EventResumeCursor, r.handleCursor),
		r.bus.On(protocol.EventResumeSelection, r.handleSelection),
		r.bus.On(protocol.EventUserTyping, r.handleTyping),
		r.bus.On(protocol.EventConnect, r.handleConnect),
	}

	r.mu.Lock()
	if !r.joined || r.joinGen != gen {
		// Left while the listeners were being registered.
		r.mu.Unlock()
		for _, unsub := range unsubs {
			unsub()
		}
		return
	}
	r.unsubs = unsubs
	r.mu.Unlock()

	r.log.Info("joining room")
	r.emitJoin()
}

// Leave emits the leave frame and removes every listener registered by
// Join. It is safe to call more than once and without a prior Join.
func (r *Room) Leave() {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	r.joined = false
	unsubs := r.unsubs
	r.unsubs = nil
	wasTyping := r.typing
	r.stopTypingLocked()
	hadRoster := len(r.order) > 0
	r.roster = make(map[string]*model.Collaborator)
	r.order = nil
	seq := r.nextRosterSeqLocked()
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	if wasTyping {
		r.emitTyping(false)
	}
	r.bus.Emit(protocol.EventLeaveRoom, protocol.RoomMembership{
		RoomID: r.opts.RoomID,
		UserID: r.opts.UserID,
	})
	r.log.Info("left room")

	if hadRoster {
		r.notifyRoster(seq, nil)
	}
}

// UpdatePresence emits the cursor and selection carried by p.
func (r *Room) UpdatePresence(p Presence) {
	if p.Cursor != nil {
		r.bus.Emit(protocol.EventResumeCursor, protocol.Cursor{
			RoomID:   r.opts.RoomID,
			UserID:   r.opts.UserID,
			Position: *p.Cursor,
		})
	}
	if p.Selection != nil {
		r.bus.Emit(protocol.EventResumeSelection, protocol.Selection{
			RoomID:    r.opts.RoomID,
			UserID:    r.opts.UserID,
			Selection: *p.Selection,
		})
	}
}

// SetTyping reports the local typing state. While typing, a single expiry
// timer is kept and pushed back on every call; when it fires, typing=false
// is emitted.
func (r *Room) SetTyping(isTyping bool) {
	r.mu.Lock()
	r.stopTypingLocked()
	if isTyping {
		r.typing = true
		gen := r.typingGen
		r.typingTimer = r.afterFunc(r.opts.TypingTimeout, func() {
			r.expireTyping(gen)
		})
	}
	r.mu.Unlock()

	r.emitTyping(isTyping)
}

// SendUpdate emits document changes made by the local user.
func (r *Room) SendUpdate(changes map[string]any) {
	r.bus.Emit(protocol.EventResumeUpdate, protocol.ResumeUpdate{
		RoomID:  r.opts.RoomID,
		UserID:  r.opts.UserID,
		Changes: changes,
	})
}

// Collaborators returns a copy of the roster in the order users were first
// seen.
func (r *Room) Collaborators() []model.Collaborator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// stopTypingLocked cancels the expiry timer and invalidates any callback
// already in flight.
func (r *Room) stopTypingLocked() {
	if r.typingTimer != nil {
		r.typingTimer.Stop()
		r.typingTimer = nil
	}
	r.typingGen++
	r.typing = false
}

func (r *Room) expireTyping(gen uint64) {
	r.mu.Lock()
	if gen != r.typingGen || !r.typing {
		r.mu.Unlock()
		return
	}
	r.typing = false
	r.typingTimer = nil
	r.mu.Unlock()

	r.emitTyping(false)
}

func (r *Room) emitJoin() {
	r.bus.Emit(protocol.EventJoinRoom, protocol.RoomMembership{
		RoomID:   r.opts.RoomID,
		UserID:   r.opts.UserID,
		Username: r.opts.Username,
	})
}

func (r *Room) emitTyping(isTyping bool) {
	r.bus.Emit(protocol.EventUserTyping, protocol.Typing{
		RoomID:   r.opts.RoomID,
		UserID:   r.opts.UserID,
		Username: r.opts.Username,
		IsTyping: isTyping,
	})
}

// accepts reports whether a frame from userID scoped to roomID concerns
// this room. Frames without a room id are accepted.
func (r *Room) accepts(roomID, userID string) bool {
	if roomID != "" && roomID != r.opts.RoomID {
		return false
	}
	return userID != "" && userID != r.opts.UserID
}

func (r *Room) decode(frame protocol.Frame, v any) bool {
	if err := frame.Decode(v); err != nil {
		r.log.Warn("failed to decode frame", "kind", frame.Kind, "err", err)
		return false
	}
	return true
}

func (r *Room) handleConnect(protocol.Frame) {
	if !r.Joined() {
		return
	}
	r.log.Info("rejoining room after reconnect")
	r.emitJoin()
}

func (r *Room) handleUserJoined(frame protocol.Frame) {
	var p protocol.UserJoined
	if !r.decode(frame, &p) || !r.accepts(p.RoomID, p.UserID) {
		return
	}
	r.update(p.UserID, func(c *model.Collaborator) bool {
		if c.Username == p.Username || p.Username == "" {
			return false
		}
		c.Username = p.Username
		return true
	})
}

func (r *Room) handleUserLeft(frame protocol.Frame) {
	var p protocol.UserLeft
	if !r.decode(frame, &p) || !r.accepts(p.RoomID, p.UserID) {
		return
	}

	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	if _, ok := r.roster[p.UserID]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.roster, p.UserID)
	for i, id := range r.order {
		if id == p.UserID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	roster := r.snapshotLocked()
	seq := r.nextRosterSeqLocked()
	r.mu.Unlock()

	r.notifyRoster(seq, roster)
}

func (r *Room) handleCursor(frame protocol.Frame) {
	var p protocol.Cursor
	if !r.decode(frame, &p) || !r.accepts(p.RoomID, p.UserID) {
		return
	}
	r.update(p.UserID, func(c *model.Collaborator) bool {
		pos := p.Position
		c.Cursor = &pos
		return true
	})
}

func (r *Room) handleSelection(frame protocol.Frame) {
	var p protocol.Selection
	if !r.decode(frame, &p) || !r.accepts(p.RoomID, p.UserID) {
		return
	}
	r.update(p.UserID, func(c *model.Collaborator) bool {
		sel := p.Selection
		c.Selection = &sel
		return true
	})
}

func (r *Room) handleTyping(frame protocol.Frame) {
	var p protocol.Typing
	if !r.decode(frame, &p) || !r.accepts(p.RoomID, p.UserID) {
		return
	}
	r.update(p.UserID, func(c *model.Collaborator) bool {
		typing := p.IsTyping
		c.IsTyping = &typing
		if c.Username == "" {
			c.Username = p.Username
		}
		return true
	})
}

func (r *Room) handleResumeUpdated(frame protocol.Frame) {
	var p protocol.ResumeUpdate
	if !r.decode(frame, &p) {
		return
	}
	if p.UserID == r.opts.UserID {
		r.log.Debug("ignoring own update echo")
		return
	}
	if !r.accepts(p.RoomID, p.UserID) || r.opts.OnResumeUpdated == nil {
		return
	}
	r.opts.OnResumeUpdated(p)
}

// update applies merge to the collaborator userID, adding it to the roster
// first if it is new. merge reports whether it changed anything.
func (r *Room) update(userID string, merge func(c *model.Collaborator) bool) {
	r.mu.Lock()
	if !r.joined {
		r.mu.Unlock()
		return
	}
	c, ok := r.roster[userID]
	changed := !ok
	if !ok {
		c = &model.Collaborator{UserID: userID}
		r.roster[userID] = c
		r.order = append(r.order, userID)
	}
	if merge(c) {
		changed = true
	}
	if !changed {
		r.mu.Unlock()
		return
	}
	roster := r.snapshotLocked()
	seq := r.nextRosterSeqLocked()
	r.mu.Unlock()

	r.notifyRoster(seq, roster)
}

func (r *Room) snapshotLocked() []model.Collaborator {
	out := make([]model.Collaborator, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.roster[id].Clone())
	}
	return out
}

func (r *Room) nextRosterSeqLocked() uint64 {
	r.rosterSeq++
	return r.rosterSeq
}

// notifyRoster delivers snapshot seq unless a newer one was already
// delivered.
func (r *Room) notifyRoster(seq uint64, roster []model.Collaborator) {
	if r.opts.OnRosterChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if seq <= r.notifiedSeq {
		return
	}
	r.notifiedSeq = seq
	if roster == nil {
		roster = []model.Collaborator{}
	}
	r.opts.OnRosterChange(roster)
}

// Package aistream reassembles token-streamed AI responses.
//
// A Reassembler issues ai_request frames and rebuilds the response text from
// the ai_response_start, ai_response_chunk and ai_response_end frames that
// carry the same request id. Frames for any other id are discarded, which
// keeps successive or abandoned requests from bleeding into each other.
package aistream

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/socket"
)

// State is the stream state of a Reassembler.
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
)

// Bus is the part of the multiplexer a Reassembler needs.
type Bus interface {
	On(kind protocol.EventKind, fn socket.Listener) func()
	Emit(kind protocol.EventKind, payload any)
}

// Response is a finished or abandoned request.
type Response struct {
	RequestID   string
	Prompt      string
	Text        string
	Status      model.TranscriptStatus
	RequestedAt time.Time
	FinishedAt  time.Time
}

// Transcript converts the response into an archive record.
func (r Response) Transcript(userID, roomID string) *model.Transcript {
	return &model.Transcript{
		RequestID:   r.RequestID,
		UserID:      userID,
		RoomID:      roomID,
		Prompt:      r.Prompt,
		Response:    r.Text,
		Status:      r.Status,
		CreatedAt:   r.RequestedAt,
		CompletedAt: r.FinishedAt,
	}
}

// Options configures a Reassembler.
type Options struct {
	UserID string

	// OnUpdate receives the accumulated text after every accepted chunk.
	OnUpdate func(requestID, text string)

	// OnComplete is called once per matching end frame.
	OnComplete func(resp Response)

	// OnAbandon is called when a streaming request is replaced by a new
	// one or cancelled.
	OnAbandon func(resp Response)

	// NewID generates request ids. Defaults to uuid.NewString.
	NewID func() string

	Logger pslog.Logger
}

// Reassembler tracks at most one active request.
type Reassembler struct {
	bus    Bus
	opts   Options
	log    pslog.Logger
	unsubs []func()

	mu          sync.Mutex
	closed      bool
	state       State
	requestID   string
	prompt      string
	requestedAt time.Time
	text        strings.Builder
	last        *Response
}

// New creates a Reassembler subscribed to the response frames on bus.
// Close removes the subscriptions.
func New(bus Bus, opts Options) *Reassembler {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	r := &Reassembler{
		bus:   bus,
		opts:  opts,
		log:   logger.With("user", opts.UserID),
		state: StateIdle,
	}
	r.unsubs = []func(){
		bus.On(protocol.EventAIResponseStart, r.handleStart),
		bus.On(protocol.EventAIResponseChunk, r.handleChunk),
		bus.On(protocol.EventAIResponseEnd, r.handleEnd),
	}
	return r
}

// Close unsubscribes from the bus. Frames already being dispatched are
// ignored once Close returns. An in-flight request is left as is.
func (r *Reassembler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, unsub := range r.unsubs {
		unsub()
	}
}

// Request emits an ai_request frame for prompt and returns its request id.
// A request still streaming is abandoned; its late frames are ignored.
func (r *Reassembler) Request(prompt string) string {
	id := r.opts.NewID()

	r.mu.Lock()
	abandoned, ok := r.abandonLocked()
	r.requestID = id
	r.prompt = prompt
	r.requestedAt = time.Now()
	r.text.Reset()
	r.state = StateStreaming
	r.mu.Unlock()

	if ok {
		r.log.Info("abandoned ai request", "request", abandoned.RequestID)
		r.notifyAbandon(abandoned)
	}

	r.log.Debug("sending ai request", "request", id)
	r.bus.Emit(protocol.EventAIRequest, protocol.AIRequest{
		RequestID: id,
		Prompt:    prompt,
		UserID:    r.opts.UserID,
	})
	return id
}

// Cancel abandons the active request without issuing a new one.
func (r *Reassembler) Cancel() {
	r.mu.Lock()
	abandoned, ok := r.abandonLocked()
	r.state = StateIdle
	r.mu.Unlock()

	if ok {
		r.log.Info("cancelled ai request", "request", abandoned.RequestID)
		r.notifyAbandon(abandoned)
	}
}

// State returns the current stream state.
func (r *Reassembler) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// RequestID returns the id of the request currently streaming, or "".
func (r *Reassembler) RequestID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requestID
}

// Text returns the text accumulated for the current or last request.
func (r *Reassembler) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text.String()
}

// Last returns the last finished response.
func (r *Reassembler) Last() (Response, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Response{}, false
	}
	return *r.last, true
}

func (r *Reassembler) abandonLocked() (Response, bool) {
	if r.state != StateStreaming {
		return Response{}, false
	}
	resp := Response{
		RequestID:   r.requestID,
		Prompt:      r.prompt,
		Text:        r.text.String(),
		Status:      model.TranscriptStatusAbandoned,
		RequestedAt: r.requestedAt,
		FinishedAt:  time.Now(),
	}
	r.requestID = ""
	return resp, true
}

// matchesLocked reports whether id belongs to the active request of an
// open Reassembler.
func (r *Reassembler) matchesLocked(id string) bool {
	return !r.closed && r.state == StateStreaming && id != "" && id == r.requestID
}

func (r *Reassembler) handleStart(frame protocol.Frame) {
	var p protocol.AIResponseStart
	if err := frame.Decode(&p); err != nil {
		r.log.Warn("failed to decode frame", "kind", frame.Kind, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.matchesLocked(p.RequestID) {
		r.log.Debug("discarding stale frame", "kind", frame.Kind, "request", p.RequestID)
		return
	}
	r.text.Reset()
}

func (r *Reassembler) handleChunk(frame protocol.Frame) {
	var p protocol.AIResponseChunk
	if err := frame.Decode(&p); err != nil {
		r.log.Warn("failed to decode frame", "kind", frame.Kind, "err", err)
		return
	}

	r.mu.Lock()
	if !r.matchesLocked(p.RequestID) {
		r.mu.Unlock()
		r.log.Debug("discarding stale frame", "kind", frame.Kind, "request", p.RequestID)
		return
	}
	r.text.WriteString(p.Chunk)
	text := r.text.String()
	r.mu.Unlock()

	if r.opts.OnUpdate != nil {
		r.opts.OnUpdate(p.RequestID, text)
	}
}

func (r *Reassembler) handleEnd(frame protocol.Frame) {
	var p protocol.AIResponseEnd
	if err := frame.Decode(&p); err != nil {
		r.log.Warn("failed to decode frame", "kind", frame.Kind, "err", err)
		return
	}

	r.mu.Lock()
	if !r.matchesLocked(p.RequestID) {
		r.mu.Unlock()
		r.log.Debug("discarding stale frame", "kind", frame.Kind, "request", p.RequestID)
		return
	}
	resp := Response{
		RequestID:   r.requestID,
		Prompt:      r.prompt,
		Text:        r.text.String(),
		Status:      model.TranscriptStatusComplete,
		RequestedAt: r.requestedAt,
		FinishedAt:  time.Now(),
	}
	r.last = &resp
	r.requestID = ""
	r.state = StateIdle
	r.mu.Unlock()

	r.log.Info("ai response complete", "request", resp.RequestID, "chars", len(resp.Text))
	if r.opts.OnComplete != nil {
		r.opts.OnComplete(resp)
	}
}

func (r *Reassembler) notifyAbandon(resp Response) {
	if r.opts.OnAbandon != nil {
		r.opts.OnAbandon(resp)
	}
}

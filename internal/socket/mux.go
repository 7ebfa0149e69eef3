package socket

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/protocol"
)

// Listener receives frames of one kind.
type Listener func(frame protocol.Frame)

// Recorder observes frames crossing the transport.
type Recorder interface {
	RecordInbound(frame protocol.Frame)
	RecordOutbound(frame protocol.Frame)
}

// link is the Mux's view of the Manager.
type link interface {
	State() State
	send(messageType int, data []byte) error
}

type subscription struct {
	fn     Listener
	active atomic.Bool
}

// Mux fans inbound frames out to listeners registered per event kind.
type Mux struct {
	codec protocol.Codec
	log   pslog.Logger

	mu       sync.RWMutex
	subs     map[protocol.EventKind][]*subscription
	link     link
	recorder Recorder

	dropped atomic.Uint64
}

// NewMux creates a Mux that encodes outbound frames with codec.
// A nil codec selects JSON; a nil logger uses the background logger.
func NewMux(codec protocol.Codec, logger pslog.Logger) *Mux {
	if codec == nil {
		codec = protocol.JSON
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Mux{
		codec: codec,
		log:   logger,
		subs:  make(map[protocol.EventKind][]*subscription),
	}
}

// Codec returns the outbound codec.
func (m *Mux) Codec() protocol.Codec {
	return m.codec
}

// SetRecorder installs a recorder for frames crossing the transport.
func (m *Mux) SetRecorder(r Recorder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorder = r
}

func (m *Mux) bind(l link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.link = l
}

// On registers fn for frames of kind. The returned function removes
// exactly this registration; calling it again is a no-op. It is safe to
// call from inside any listener, including fn itself.
func (m *Mux) On(kind protocol.EventKind, fn Listener) func() {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	m.mu.Lock()
	m.subs[kind] = append(m.subs[kind], sub)
	m.mu.Unlock()

	return func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		list := m.subs[kind]
		for i, s := range list {
			if s == sub {
				m.subs[kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(m.subs[kind]) == 0 {
			delete(m.subs, kind)
		}
	}
}

// ListenerCount returns the number of listeners registered for kind.
func (m *Mux) ListenerCount(kind protocol.EventKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs[kind])
}

// Dropped returns how many emits were dropped because the connection was
// not live.
func (m *Mux) Dropped() uint64 {
	return m.dropped.Load()
}

// Emit sends payload tagged with kind if the connection is live.
// Otherwise the frame is dropped with a warning; it is never queued.
func (m *Mux) Emit(kind protocol.EventKind, payload any) {
	m.mu.RLock()
	l := m.link
	rec := m.recorder
	m.mu.RUnlock()

	if !kind.Outbound() {
		m.log.Warn("emit of non-outbound kind ignored", "kind", kind)
		return
	}
	if l == nil || l.State() != StateConnected {
		m.dropped.Add(1)
		m.log.Warn("emit dropped while disconnected", "kind", kind)
		return
	}

	frame, err := protocol.NewFrame(m.codec, kind, payload)
	if err != nil {
		m.log.Error("failed to encode frame", "kind", kind, "err", err)
		return
	}
	data, err := m.codec.MarshalFrame(frame)
	if err != nil {
		m.log.Error("failed to encode frame", "kind", kind, "err", err)
		return
	}

	if err := l.send(m.codec.MessageType(), data); err != nil {
		m.dropped.Add(1)
		m.log.Warn("emit failed", "kind", kind, "err", err)
		return
	}
	if rec != nil {
		rec.RecordOutbound(frame)
	}
}

// Publish dispatches a locally raised frame to listeners.
func (m *Mux) Publish(kind protocol.EventKind, payload any) {
	frame, err := protocol.NewFrame(m.codec, kind, payload)
	if err != nil {
		m.log.Error("failed to encode local frame", "kind", kind, "err", err)
		return
	}
	m.Dispatch(frame)
}

// deliver records and dispatches a frame read from the transport.
func (m *Mux) deliver(frame protocol.Frame) {
	m.mu.RLock()
	rec := m.recorder
	m.mu.RUnlock()
	if rec != nil {
		rec.RecordInbound(frame)
	}
	m.Dispatch(frame)
}

// Dispatch calls every listener registered for frame.Kind, synchronously
// and in registration order. Listeners registered during dispatch are not
// called for this frame; listeners removed during dispatch are skipped.
func (m *Mux) Dispatch(frame protocol.Frame) {
	m.mu.RLock()
	subs := make([]*subscription, len(m.subs[frame.Kind]))
	copy(subs, m.subs[frame.Kind])
	m.mu.RUnlock()

	for _, sub := range subs {
		if !sub.active.Load() {
			continue
		}
		m.invoke(sub, frame)
	}
}

func (m *Mux) invoke(sub *subscription, frame protocol.Frame) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("listener panicked", "kind", frame.Kind, "panic", fmt.Sprint(r))
		}
	}()
	sub.fn(frame)
}

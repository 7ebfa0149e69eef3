package socket

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/clock"
	"github.com/resume-studio/collabsync/internal/protocol"
)

const (
	// Time allowed to write a message to the server.
	writeWait = 10 * time.Second

	// Close reason sent when the local side disconnects on purpose.
	closeReasonManual = "manual"
)

var errNotConnected = errors.New("not connected")

// State is the connection state of a Manager.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
)

// Config holds connection parameters for a Manager.
type Config struct {
	URL string

	// ReconnectInterval is the delay before the first automatic attempt.
	ReconnectInterval time.Duration

	// ReconnectMaxInterval bounds the delay between attempts.
	ReconnectMaxInterval time.Duration

	// ReconnectMultiplier grows the delay after each failed attempt.
	// A multiplier of 1 keeps the delay fixed.
	ReconnectMultiplier float64

	// MaxReconnectAttempts caps consecutive automatic attempts before the
	// Manager gives up and raises a terminal error frame.
	MaxReconnectAttempts int

	DialTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.ReconnectMaxInterval < c.ReconnectInterval {
		c.ReconnectMaxInterval = c.ReconnectInterval
	}
	if c.ReconnectMultiplier < 1 {
		c.ReconnectMultiplier = 1
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger pslog.Logger) Option {
	return func(m *Manager) {
		m.log = logger
	}
}

// WithAfterFunc replaces the timer used to schedule reconnect attempts.
func WithAfterFunc(f clock.AfterFunc) Option {
	return func(m *Manager) {
		m.afterFunc = f
	}
}

// Manager owns the single transport connection and its connect/retry
// state machine.
type Manager struct {
	cfg       Config
	mux       *Mux
	dialer    Dialer
	log       pslog.Logger
	afterFunc clock.AfterFunc

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	state      State
	dialing    bool
	transport  Transport
	gen        uint64
	retries    int
	retryTimer clock.Timer
	backoff    *backoff.ExponentialBackOff
	closed     bool

	writeMu sync.Mutex
}

// NewManager creates a Manager in the connecting state and binds it to mux.
// It does not dial until Connect is called.
func NewManager(cfg Config, mux *Mux, opts ...Option) *Manager {
	cfg.defaults()

	m := &Manager{
		cfg:       cfg,
		mux:       mux,
		dialer:    WebsocketDialer{},
		afterFunc: clock.Real,
		state:     StateConnecting,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = pslog.Ctx(context.Background())
	}
	m.log = m.log.With("url", cfg.URL)

	m.backoff = &backoff.ExponentialBackOff{
		InitialInterval:     cfg.ReconnectInterval,
		RandomizationFactor: 0,
		Multiplier:          cfg.ReconnectMultiplier,
		MaxInterval:         cfg.ReconnectMaxInterval,
		MaxElapsedTime:      0,
		Clock:               backoff.SystemClock,
	}
	m.backoff.Reset()

	m.ctx, m.cancel = context.WithCancel(context.Background())
	mux.bind(m)
	return m
}

// Mux returns the multiplexer fed by this Manager.
func (m *Manager) Mux() *Mux {
	return m.mux
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Retries returns the number of consecutive failed attempts since the
// last successful connection.
func (m *Manager) Retries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retries
}

// Connect opens the transport. It returns immediately; the outcome is
// reported through connect and disconnect frames. Calling Connect while
// connected or while an attempt is in flight is a no-op.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.closed || m.state == StateConnected || m.dialing {
		m.mu.Unlock()
		return
	}
	gen := m.beginDialLocked()
	m.mu.Unlock()

	go m.dial(gen)
}

// Disconnect cancels any scheduled reconnect and closes the transport with
// the "manual" reason. No automatic retry follows.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.stopRetryLocked()
	m.gen++
	t := m.transport
	m.transport = nil
	m.dialing = false
	prev := m.state
	m.state = StateDisconnected
	m.mu.Unlock()

	if t != nil {
		m.closeTransport(t, closeReasonManual)
	}
	if prev != StateDisconnected {
		m.log.Info("websocket disconnected", "reason", closeReasonManual)
		m.publish(protocol.EventDisconnect, protocol.ConnectionEvent{
			State:  string(StateDisconnected),
			Manual: true,
			Reason: closeReasonManual,
		})
	}
}

// Reconnect closes any existing transport, resets the retry counter and
// dials immediately without waiting for the backoff delay.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.retries = 0
	m.backoff.Reset()
	gen := m.beginDialLocked()
	m.mu.Unlock()

	if t != nil {
		m.closeTransport(t, closeReasonManual)
	}
	m.log.Info("manual reconnect")
	m.publish(protocol.EventReconnect, protocol.ConnectionEvent{
		State:  string(StateConnecting),
		Manual: true,
	})

	go m.dial(gen)
}

// Close disconnects and releases the Manager. It cannot be reused.
func (m *Manager) Close() {
	m.Disconnect()
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
}

func (m *Manager) beginDialLocked() uint64 {
	m.stopRetryLocked()
	m.gen++
	m.dialing = true
	m.state = StateConnecting
	return m.gen
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) dial(gen uint64) {
	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.DialTimeout)
	defer cancel()

	t, err := m.openTransport(ctx)
	if err != nil {
		m.log.Warn("websocket dial failed", "err", err)
		m.fail(gen, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		t.Close()
		return
	}
	m.transport = t
	m.state = StateConnected
	m.dialing = false
	attempt := m.retries
	m.retries = 0
	m.backoff.Reset()
	m.mu.Unlock()

	m.log.Info("websocket connected", "attempt", attempt)
	m.publish(protocol.EventConnect, protocol.ConnectionEvent{
		State:   string(StateConnected),
		Attempt: attempt,
	})

	go m.readLoop(gen, t)
}

// openTransport turns dialer panics into ordinary failed attempts.
func (m *Manager) openTransport(ctx context.Context) (t Transport, err error) {
	defer func() {
		if r := recover(); r != nil {
			t = nil
			err = fmt.Errorf("transport construction panicked: %v", r)
		}
	}()
	return m.dialer.Dial(ctx, m.cfg.URL)
}

// readLoop pumps frames from the transport to the Mux. It runs until the
// transport fails and is the only goroutine dispatching inbound frames
// for this connection.
func (m *Manager) readLoop(gen uint64, t Transport) {
	for {
		mt, data, err := t.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Warn("websocket error", "err", err)
			}
			m.fail(gen, err)
			return
		}

		codec, ok := protocol.CodecForMessageType(mt)
		if !ok {
			continue
		}
		frame, err := codec.Unmarshal(data)
		if err != nil {
			m.log.Warn("failed to decode frame", "err", err)
			continue
		}
		if !frame.Kind.Inbound() {
			m.log.Debug("dropping frame of unexpected kind", "kind", frame.Kind)
			continue
		}

		m.mux.deliver(frame)
	}
}

// fail handles a failed dial or an unexpected close of connection gen.
func (m *Manager) fail(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	t := m.transport
	m.transport = nil
	m.dialing = false
	m.state = StateDisconnected

	exhausted := m.retries >= m.cfg.MaxReconnectAttempts
	var attempt int
	var delay time.Duration
	if !exhausted {
		m.retries++
		attempt = m.retries
		delay = m.backoff.NextBackOff()
		m.retryTimer = m.afterFunc(delay, func() {
			m.retry(gen)
		})
	}
	m.mu.Unlock()

	if t != nil {
		t.Close()
	}

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	m.publish(protocol.EventDisconnect, protocol.ConnectionEvent{
		State:   string(StateDisconnected),
		Attempt: attempt,
		Reason:  reason,
	})

	if exhausted {
		m.log.Error("reconnect attempts exhausted", "attempts", m.cfg.MaxReconnectAttempts)
		m.publish(protocol.EventError, protocol.Error{
			Message: fmt.Sprintf("connection lost after %d reconnect attempts", m.cfg.MaxReconnectAttempts),
			Code:    protocol.ErrorCodeReconnectExhausted,
		})
		return
	}
	m.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay.String())
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.dialing || m.state == StateConnected {
		m.mu.Unlock()
		return
	}
	m.retryTimer = nil
	attempt := m.retries
	next := m.beginDialLocked()
	m.mu.Unlock()

	m.log.Info("reconnecting", "attempt", attempt)
	m.publish(protocol.EventReconnect, protocol.ConnectionEvent{
		State:   string(StateConnecting),
		Attempt: attempt,
	})

	go m.dial(next)
}

func (m *Manager) send(messageType int, data []byte) error {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil {
		return errNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	t.SetWriteDeadline(time.Now().Add(writeWait))
	return t.WriteMessage(messageType, data)
}

func (m *Manager) closeTransport(t Transport, reason string) {
	m.writeMu.Lock()
	t.SetWriteDeadline(time.Now().Add(writeWait))
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	if err := t.WriteMessage(websocket.CloseMessage, msg); err != nil {
		m.log.Debug("failed to write close frame", "err", err)
	}
	m.writeMu.Unlock()
	t.Close()
}

func (m *Manager) publish(kind protocol.EventKind, payload any) {
	m.mux.Publish(kind, payload)
}

package socket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/protocol"
)

type written struct {
	messageType int
	data        []byte
}

// fakeTransport is an in-memory Transport. Frames pushed with deliver are
// returned by ReadMessage until the transport is closed.
type fakeTransport struct {
	inbound chan written
	done    chan struct{}

	mu     sync.Mutex
	writes []written
	closed bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan written, 16),
		done:    make(chan struct{}),
	}
}

func (f *fakeTransport) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-f.inbound:
		return msg.messageType, msg.data, nil
	case <-f.done:
		return 0, nil, io.EOF
	}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return websocket.ErrCloseSent
	}
	f.writes = append(f.writes, written{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error {
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, kind protocol.EventKind, payload any) {
	t.Helper()
	data, err := protocol.JSON.Marshal(kind, payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", kind, err)
	}
	f.inbound <- written{messageType: websocket.TextMessage, data: data}
}

func (f *fakeTransport) Writes() []written {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]written, len(f.writes))
	copy(out, f.writes)
	return out
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out fakeTransports, or fails while failing is set.
type fakeDialer struct {
	mu         sync.Mutex
	dials      int
	failing    bool
	transports []*fakeTransport
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.failing {
		return nil, errors.New("connection refused")
	}
	t := newFakeTransport()
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) setFailing(failing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = failing
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.transports) == 0 {
		return nil
	}
	return d.transports[len(d.transports)-1]
}

// fakeLink is a link whose state is set by the test.
type fakeLink struct {
	mu     sync.Mutex
	state  State
	sent   []written
	sendFn func() error
}

func (l *fakeLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *fakeLink) send(messageType int, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sendFn != nil {
		if err := l.sendFn(); err != nil {
			return err
		}
	}
	l.sent = append(l.sent, written{messageType: messageType, data: data})
	return nil
}

type logCapture struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *logCapture) Entries(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	data := append([]byte(nil), c.buf.Bytes()...)
	c.mu.Unlock()

	var entries []map[string]any
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		entry := map[string]any{}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatalf("parse log entry: %v", err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func (c *logCapture) has(t *testing.T, level, msg string) bool {
	t.Helper()
	for _, entry := range c.Entries(t) {
		lvl, _ := entry["level"].(string)
		if lvl == "" {
			lvl, _ = entry["lvl"].(string)
		}
		m, _ := entry["message"].(string)
		if m == "" {
			m, _ = entry["msg"].(string)
		}
		if strings.HasPrefix(lvl, level) && m == msg {
			return true
		}
	}
	return false
}

func newCapturedLogger() (*logCapture, pslog.Logger) {
	capture := &logCapture{}
	logger := pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		VerboseFields: true,
		MinLevel:      pslog.DebugLevel,
	})
	return capture, logger
}

// eventually polls cond until it holds or a second passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// kindLog collects every frame dispatched for the kinds it listens to.
type kindLog struct {
	mu     sync.Mutex
	frames []protocol.Frame
}

func (k *kindLog) listen(mux *Mux, kinds ...protocol.EventKind) {
	for _, kind := range kinds {
		mux.On(kind, func(frame protocol.Frame) {
			k.mu.Lock()
			defer k.mu.Unlock()
			k.frames = append(k.frames, frame)
		})
	}
}

func (k *kindLog) count(kind protocol.EventKind) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	n := 0
	for _, f := range k.frames {
		if f.Kind == kind {
			n++
		}
	}
	return n
}

func (k *kindLog) last(kind protocol.EventKind) (protocol.Frame, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := len(k.frames) - 1; i >= 0; i-- {
		if k.frames[i].Kind == kind {
			return k.frames[i], true
		}
	}
	return protocol.Frame{}, false
}

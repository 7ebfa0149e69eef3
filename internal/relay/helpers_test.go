package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
)

// receiveFrame reads the next queued frame of a client without a connection.
func receiveFrame(t *testing.T, client *Client, timeout time.Duration) protocol.Frame {
	t.Helper()
	select {
	case msg, ok := <-client.send:
		if !ok {
			t.Fatalf("client %s send channel closed", client.ID())
		}
		codec, ok := protocol.CodecForMessageType(msg.messageType)
		if !ok {
			t.Fatalf("unexpected message type %d", msg.messageType)
		}
		frame, err := codec.Unmarshal(msg.data)
		if err != nil {
			t.Fatalf("failed to decode queued frame: %v", err)
		}
		return frame
	case <-time.After(timeout):
		t.Fatalf("timeout waiting for frame on client %s", client.ID())
	}
	return protocol.Frame{}
}

// expectFrame reads the next frame, checks its kind and decodes it into v.
func expectFrame(t *testing.T, client *Client, kind protocol.EventKind, v any) {
	t.Helper()
	frame := receiveFrame(t, client, time.Second)
	if frame.Kind != kind {
		t.Fatalf("expected %s frame, got %s (%s)", kind, frame.Kind, frame.Payload)
	}
	if v == nil {
		return
	}
	if err := frame.Decode(v); err != nil {
		t.Fatalf("failed to decode %s payload: %v", kind, err)
	}
}

func expectNoFrame(t *testing.T, client *Client) {
	t.Helper()
	select {
	case msg, ok := <-client.send:
		if ok {
			t.Fatalf("unexpected frame for client %s: %s", client.ID(), msg.data)
		}
	case <-time.After(20 * time.Millisecond):
	}
}

func mustFrame(t *testing.T, kind protocol.EventKind, payload any) protocol.Frame {
	t.Helper()
	frame, err := protocol.NewFrame(protocol.JSON, kind, payload)
	if err != nil {
		t.Fatalf("failed to build %s frame: %v", kind, err)
	}
	return frame
}

type fakeArchiver struct {
	mu          sync.Mutex
	transcripts []*model.Transcript
	stored      chan *model.Transcript
}

func newFakeArchiver() *fakeArchiver {
	return &fakeArchiver{stored: make(chan *model.Transcript, 16)}
}

func (a *fakeArchiver) Create(ctx context.Context, t *model.Transcript) error {
	a.mu.Lock()
	a.transcripts = append(a.transcripts, t)
	a.mu.Unlock()
	a.stored <- t
	return nil
}

func (a *fakeArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transcripts)
}

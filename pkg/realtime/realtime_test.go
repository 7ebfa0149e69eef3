package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/relay"
	"github.com/resume-studio/collabsync/internal/socket"
)

func startRelay(t *testing.T) string {
	t.Helper()
	svc := relay.NewService(relay.NewEchoResponder(time.Millisecond), nil)
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		_ = svc.Handler().HandleConnection(w, r, q.Get("userId"), q.Get("username"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type rosterLog struct {
	mu     sync.Mutex
	latest []model.Collaborator
}

func (l *rosterLog) set(roster []model.Collaborator) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.latest = roster
}

func (l *rosterLog) ids() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.latest))
	for _, c := range l.latest {
		ids = append(ids, c.UserID)
	}
	return ids
}

func (l *rosterLog) find(userID string) (model.Collaborator, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, c := range l.latest {
		if c.UserID == userID {
			return c, true
		}
	}
	return model.Collaborator{}, false
}

func newClient(t *testing.T, url string, codec Codec) *Client {
	t.Helper()
	c := New(Config{URL: url, ReconnectInterval: 20 * time.Millisecond, MaxReconnectAttempts: 2}, Options{Codec: codec})
	t.Cleanup(c.Close)
	return c
}

func TestRoomRosterThroughRelay(t *testing.T) {
	url := startRelay(t)

	ada := newClient(t, url, protocol.JSON)
	sam := newClient(t, url, protocol.Msgpack)

	var adaRoster, samRoster rosterLog
	adaRoom := ada.JoinRoom(RoomOptions{RoomID: "r1", UserID: "u1", Username: "Ada", OnRosterChange: adaRoster.set})
	defer adaRoom.Close()

	ada.Connect()
	eventually(t, "ada connected", func() bool { return ada.State() == socket.StateConnected })

	samRoom := sam.JoinRoom(RoomOptions{RoomID: "r1", UserID: "u2", Username: "Sam", OnRosterChange: samRoster.set})
	sam.Connect()

	eventually(t, "ada sees sam", func() bool {
		ids := adaRoster.ids()
		return len(ids) == 1 && ids[0] == "u2"
	})
	eventually(t, "sam sees ada", func() bool {
		ids := samRoster.ids()
		return len(ids) == 1 && ids[0] == "u1"
	})

	samRoom.UpdatePresence(Presence{Cursor: &model.Position{X: 12, Y: 3}})
	samRoom.SetTyping(true)
	eventually(t, "sam's presence reaches ada", func() bool {
		c, ok := adaRoster.find("u2")
		return ok && c.Cursor != nil && c.Cursor.X == 12 && c.IsTyping != nil && *c.IsTyping
	})

	samRoom.Close()
	eventually(t, "ada sees sam leave", func() bool { return len(adaRoster.ids()) == 0 })
}

func TestAssistantStreamsThroughRelay(t *testing.T) {
	url := startRelay(t)
	c := newClient(t, url, protocol.JSON)

	done := make(chan Response, 1)
	assistant := c.Assistant(AssistantOptions{
		UserID:     "u1",
		OnComplete: func(resp Response) { done <- resp },
	})
	defer assistant.Close()

	c.Connect()
	eventually(t, "connected", func() bool { return c.State() == socket.StateConnected })

	id := assistant.Request("Hello streaming world")

	select {
	case resp := <-done:
		if resp.RequestID != id {
			t.Errorf("expected request %s, got %s", id, resp.RequestID)
		}
		if resp.Text != "Hello streaming world" {
			t.Errorf("unexpected text %q", resp.Text)
		}
		if resp.Status != model.TranscriptStatusComplete {
			t.Errorf("unexpected status %s", resp.Status)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("response did not complete")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Codec = protocol.CodecMsgpack

	c, err := FromConfig(cfg, Options{})
	if err != nil {
		t.Fatalf("FromConfig failed: %v", err)
	}
	defer c.Close()
	if c.Mux().Codec().Name() != protocol.CodecMsgpack {
		t.Errorf("expected msgpack codec, got %s", c.Mux().Codec().Name())
	}
	if c.State() != socket.StateConnecting {
		t.Errorf("new client should start connecting, got %s", c.State())
	}

	cfg.Codec = "xml"
	if _, err := FromConfig(cfg, Options{}); err == nil {
		t.Error("unknown codec should be rejected")
	}
}

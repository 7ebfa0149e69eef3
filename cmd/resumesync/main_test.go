package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/db"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/recorder"
	"github.com/resume-studio/collabsync/internal/relay"
)

// safeBuffer is a bytes.Buffer guarded for concurrent writers.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func startRelay(t *testing.T) string {
	t.Helper()
	svc := relay.NewService(relay.NewEchoResponder(0), nil)
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		_ = svc.Handler().HandleConnection(w, r, "", "")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws"
}

func writeConfig(t *testing.T, url string) string {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.URL = url
	cfg.ReconnectIntervalMs = 20
	cfg.ReconnectMaxIntervalMs = 20
	cfg.User = config.UserConfig{ID: "u1", Name: "Ada"}
	cfg.Transcripts.DBPath = filepath.Join(dir, "transcripts.db")

	data, err := cfg.Render()
	if err != nil {
		t.Fatalf("failed to render config: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func execute(t *testing.T, in io.Reader, out io.Writer, args ...string) error {
	t.Helper()
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(out)
	root.SetErr(out)
	if in != nil {
		root.SetIn(in)
	}
	return root.ExecuteContext(context.Background())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestParseCommand(t *testing.T) {
	testCases := []struct {
		line    string
		name    string
		wantErr bool
	}{
		{line: "cursor 1 2", name: "cursor"},
		{line: "select 1 2 3 4", name: "select"},
		{line: "update title=Engineer city=Oslo", name: "update"},
		{line: "type", name: "type"},
		{line: "stop", name: "stop"},
		{line: "reconnect", name: "reconnect"},
		{line: "quit", name: "quit"},
		{line: "cursor 1", wantErr: true},
		{line: "cursor x 2", wantErr: true},
		{line: "select 1 2 3", wantErr: true},
		{line: "update title", wantErr: true},
		{line: "update", wantErr: true},
		{line: "type now", wantErr: true},
		{line: "dance", wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			c, err := parseCommand(tc.line)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.line)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if c.name != tc.name {
				t.Errorf("expected %s, got %s", tc.name, c.name)
			}
		})
	}

	c, _ := parseCommand("select 1 2 3 4.5")
	if c.selection == nil || c.selection.EndY != 4.5 {
		t.Errorf("unexpected selection: %+v", c.selection)
	}
	c, _ = parseCommand("update title=Lead=Dev")
	if c.changes["title"] != "Lead=Dev" {
		t.Errorf("value should keep everything after the first '=': %+v", c.changes)
	}
}

func TestFormatRoster(t *testing.T) {
	if got := formatRoster(nil); got != "roster: (empty)" {
		t.Errorf("unexpected empty roster: %q", got)
	}

	typing := true
	got := formatRoster([]model.Collaborator{
		{UserID: "u2", Username: "Sam", Cursor: &model.Position{X: 3, Y: 4}, IsTyping: &typing},
	})
	want := "roster:\n  Sam (u2) cursor=3,4 typing"
	if got != want {
		t.Errorf("unexpected roster:\n got %q\nwant %q", got, want)
	}
}

func TestConfigCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	var out bytes.Buffer
	if err := execute(t, nil, &out, "config", "init", "--config", path); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if err := execute(t, nil, &out, "config", "init", "--config", path); err == nil {
		t.Error("config init should refuse to overwrite")
	}

	out.Reset()
	if err := execute(t, nil, &out, "config", "--config", path); err != nil {
		t.Fatalf("config failed: %v", err)
	}
	if !strings.Contains(out.String(), "url: ws://localhost:8080/api/ws") {
		t.Errorf("unexpected config output:\n%s", out.String())
	}
}

func TestAskArchivesAndHistoryLists(t *testing.T) {
	db.ResetDB()
	t.Cleanup(db.ResetDB)

	path := writeConfig(t, startRelay(t))

	var out bytes.Buffer
	if err := execute(t, nil, &out, "ask", "--config", path, "Tailor", "my", "summary"); err != nil {
		t.Fatalf("ask failed: %v", err)
	}
	if got := out.String(); got != "Tailor my summary\n" {
		t.Errorf("unexpected ask output %q", got)
	}

	db.ResetDB()

	out.Reset()
	if err := execute(t, nil, &out, "history", "--config", path, "--limit", "5"); err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out.String(), "complete  Tailor my summary") {
		t.Errorf("history should list the archived response:\n%s", out.String())
	}
}

func TestHistoryRequiresUser(t *testing.T) {
	t.Setenv("RESUMESYNC_USER_ID", "")
	path := filepath.Join(t.TempDir(), "missing.yaml")

	var out bytes.Buffer
	if err := execute(t, nil, &out, "history", "--config", path); err == nil {
		t.Error("history without a user id should fail")
	}
}

func TestWatchRecordsSession(t *testing.T) {
	path := writeConfig(t, startRelay(t))
	recordPath := filepath.Join(t.TempDir(), "session.jsonl")

	inR, inW := io.Pipe()
	out := &safeBuffer{}
	errCh := make(chan error, 1)
	go func() {
		errCh <- execute(t, inR, out, "watch", "--config", path, "--room", "r1", "--record", recordPath)
	}()

	waitFor(t, "connection", func() bool { return strings.Contains(out.String(), "connected to") })

	if _, err := io.WriteString(inW, "bogus\ncursor 5 6\nquit\n"); err != nil {
		t.Fatalf("failed to write commands: %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("watch failed: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not exit on quit")
	}
	inW.Close()

	if !strings.Contains(out.String(), `unknown command "bogus"`) {
		t.Errorf("unknown commands should be reported:\n%s", out.String())
	}

	f, err := os.Open(recordPath)
	if err != nil {
		t.Fatalf("failed to open recording: %v", err)
	}
	defer f.Close()

	header, events, err := recorder.Read(f)
	if err != nil {
		t.Fatalf("failed to read recording: %v", err)
	}
	if header.Codec != protocol.CodecJSON {
		t.Errorf("unexpected codec %s", header.Codec)
	}

	kinds := make(map[protocol.EventKind]bool)
	for _, ev := range events {
		if ev.Direction == recorder.DirectionOutbound {
			kinds[ev.Kind] = true
		}
	}
	for _, kind := range []protocol.EventKind{protocol.EventJoinRoom, protocol.EventResumeCursor, protocol.EventLeaveRoom} {
		if !kinds[kind] {
			t.Errorf("recording should contain outbound %s, got %+v", kind, kinds)
		}
	}
}

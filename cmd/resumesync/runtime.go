package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/db"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/repository"
	"github.com/resume-studio/collabsync/pkg/realtime"
)

const guestName = "guest"

// identity returns the configured user, or a one-off guest identity.
func identity(cfg config.Config) (userID, username string) {
	userID, username = cfg.User.ID, cfg.User.Name
	if userID == "" {
		userID = uuid.NewString()
	}
	if username == "" {
		username = guestName
	}
	return userID, username
}

// openArchive opens the transcript store named in cfg.
func openArchive(cfg config.Config) (*repository.TranscriptRepository, func(), error) {
	database, err := db.InitDB(cfg.Transcripts.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewTranscriptRepository(database), func() { _ = db.CloseDB() }, nil
}

// waitConnected connects c and blocks until the first connection succeeds,
// the reconnect budget is spent or ctx is done.
func waitConnected(ctx context.Context, c *realtime.Client) error {
	connected := make(chan struct{}, 1)
	failed := make(chan string, 1)

	unsubConnect := c.On(protocol.EventConnect, func(protocol.Frame) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})
	defer unsubConnect()

	unsubError := c.On(protocol.EventError, func(f protocol.Frame) {
		var e protocol.Error
		if f.Decode(&e) != nil || e.Code != protocol.ErrorCodeReconnectExhausted {
			return
		}
		select {
		case failed <- e.Message:
		default:
		}
	})
	defer unsubError()

	c.Connect()

	select {
	case <-connected:
		return nil
	case msg := <-failed:
		return fmt.Errorf("failed to connect: %s", msg)
	case <-ctx.Done():
		return fmt.Errorf("failed to connect: %w", ctx.Err())
	}
}

// printer serializes output from listener goroutines and the command loop.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = fmt.Fprintf(p.out, format, args...)
}

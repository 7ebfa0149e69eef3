package relay

import (
	"context"
	"strings"
	"time"

	"github.com/resume-studio/collabsync/internal/protocol"
)

// ResponseWriter receives the text of a streamed AI response.
type ResponseWriter interface {
	WriteChunk(chunk string) error
}

// Responder produces the response to an AI request. Respond must return
// once ctx is done.
type Responder interface {
	Respond(ctx context.Context, req protocol.AIRequest, w ResponseWriter) error
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, req protocol.AIRequest, w ResponseWriter) error

// Respond implements Responder.
func (f ResponderFunc) Respond(ctx context.Context, req protocol.AIRequest, w ResponseWriter) error {
	return f(ctx, req, w)
}

// EchoResponder streams the prompt back one word per chunk.
type EchoResponder struct {
	// Delay is the pause before each chunk.
	Delay time.Duration
}

// NewEchoResponder creates an EchoResponder pacing chunks by delay.
func NewEchoResponder(delay time.Duration) *EchoResponder {
	return &EchoResponder{Delay: delay}
}

// Respond implements Responder.
func (e *EchoResponder) Respond(ctx context.Context, req protocol.AIRequest, w ResponseWriter) error {
	words := strings.Fields(req.Prompt)
	for i, word := range words {
		if err := e.wait(ctx); err != nil {
			return err
		}
		if i < len(words)-1 {
			word += " "
		}
		if err := w.WriteChunk(word); err != nil {
			return err
		}
	}
	return nil
}

func (e *EchoResponder) wait(ctx context.Context) error {
	if e.Delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(e.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package realtime is the public entry point to the collaboration client.
package realtime

import (
	"context"

	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/aistream"
	"github.com/resume-studio/collabsync/internal/collab"
	"github.com/resume-studio/collabsync/internal/config"
	"github.com/resume-studio/collabsync/internal/model"
	"github.com/resume-studio/collabsync/internal/protocol"
	"github.com/resume-studio/collabsync/internal/socket"
)

// Re-export types from internal packages for external use
type (
	Config           = socket.Config
	State            = socket.State
	Dialer           = socket.Dialer
	Recorder         = socket.Recorder
	Listener         = socket.Listener
	Frame            = protocol.Frame
	EventKind        = protocol.EventKind
	Codec            = protocol.Codec
	Collaborator     = model.Collaborator
	Presence         = collab.Presence
	Room             = collab.Room
	RoomOptions      = collab.Options
	Assistant        = aistream.Reassembler
	AssistantOptions = aistream.Options
	Response         = aistream.Response
)

// Options configures a Client.
type Options struct {
	// Codec defaults to JSON.
	Codec    Codec
	Logger   pslog.Logger
	Dialer   Dialer
	Recorder Recorder
}

// Client is one connection plus its event multiplexer.
type Client struct {
	*socket.Manager
	mux *socket.Mux
	log pslog.Logger
}

// New creates a Client for cfg. It does not connect until Connect is called.
func New(cfg Config, opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}

	mux := socket.NewMux(opts.Codec, logger)
	if opts.Recorder != nil {
		mux.SetRecorder(opts.Recorder)
	}

	managerOpts := []socket.Option{socket.WithLogger(logger)}
	if opts.Dialer != nil {
		managerOpts = append(managerOpts, socket.WithDialer(opts.Dialer))
	}

	return &Client{
		Manager: socket.NewManager(cfg, mux, managerOpts...),
		mux:     mux,
		log:     logger,
	}
}

// FromConfig creates a Client from loaded configuration. The codec named in
// cfg overrides opts.Codec.
func FromConfig(cfg config.Config, opts Options) (*Client, error) {
	codec, err := protocol.CodecByName(cfg.Codec)
	if err != nil {
		return nil, err
	}
	opts.Codec = codec
	return New(cfg.Socket(), opts), nil
}

// On registers a listener for kind and returns its unsubscribe function.
func (c *Client) On(kind EventKind, fn Listener) func() {
	return c.mux.On(kind, fn)
}

// Emit sends a frame. It is dropped while disconnected.
func (c *Client) Emit(kind EventKind, payload any) {
	c.mux.Emit(kind, payload)
}

// Room creates a room coordinator on this client. Call Join to enter it.
func (c *Client) Room(opts RoomOptions) *Room {
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	return collab.New(c.mux, opts)
}

// JoinRoom creates a room coordinator and joins it. The join is repeated
// after every reconnect.
func (c *Client) JoinRoom(opts RoomOptions) *Room {
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	return collab.Open(c.mux, opts)
}

// Assistant creates an AI stream reassembler on this client.
func (c *Client) Assistant(opts AssistantOptions) *Assistant {
	if opts.Logger == nil {
		opts.Logger = c.log
	}
	return aistream.New(c.mux, opts)
}

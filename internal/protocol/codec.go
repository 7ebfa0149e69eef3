package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/resume-studio/collabsync/internal/model"
)

// Codec encodes frames for one WebSocket message type.
type Codec interface {
	// Name returns the configuration name of the codec.
	Name() string

	// MessageType returns the WebSocket message type the codec writes.
	MessageType() int

	// EncodePayload encodes a payload value on its own.
	EncodePayload(v any) ([]byte, error)

	// DecodePayload decodes a payload produced by EncodePayload.
	DecodePayload(data []byte, v any) error

	// Marshal encodes a complete frame envelope.
	Marshal(kind EventKind, payload any) ([]byte, error)

	// MarshalFrame encodes the envelope of a frame whose payload is
	// already encoded with this codec.
	MarshalFrame(f Frame) ([]byte, error)

	// Unmarshal decodes a complete frame envelope.
	Unmarshal(data []byte) (Frame, error)
}

// Codec names recognized by CodecByName.
const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

var (
	JSON    Codec = jsonCodec{}
	Msgpack Codec = msgpackCodec{}
)

// CodecByName returns the codec registered under name. An empty name
// selects JSON.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", CodecJSON:
		return JSON, nil
	case CodecMsgpack:
		return Msgpack, nil
	}
	return nil, fmt.Errorf("%w: %q", model.ErrUnknownCodec, name)
}

// CodecForMessageType returns the codec that reads WebSocket messages of
// type mt.
func CodecForMessageType(mt int) (Codec, bool) {
	switch mt {
	case websocket.TextMessage:
		return JSON, true
	case websocket.BinaryMessage:
		return Msgpack, true
	}
	return nil, false
}

// Frame is one decoded message. Payload stays encoded until a consumer
// asks for it with Decode.
type Frame struct {
	Kind    EventKind
	Payload []byte
	codec   Codec
}

// NewFrame builds a frame by encoding payload with c.
func NewFrame(c Codec, kind EventKind, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Kind: kind, codec: c}, nil
	}
	data, err := c.EncodePayload(payload)
	if err != nil {
		return Frame{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	return Frame{Kind: kind, Payload: data, codec: c}, nil
}

// Decode decodes the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("%s frame has no payload", f.Kind)
	}
	c := f.codec
	if c == nil {
		c = JSON
	}
	return c.DecodePayload(f.Payload, v)
}

// Codec returns the codec the payload is encoded with.
func (f Frame) Codec() Codec {
	if f.codec == nil {
		return JSON
	}
	return f.codec
}

type jsonEnvelope struct {
	Type    EventKind       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type jsonCodec struct{}

func (jsonCodec) Name() string     { return CodecJSON }
func (jsonCodec) MessageType() int { return websocket.TextMessage }

func (jsonCodec) EncodePayload(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) DecodePayload(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c jsonCodec) Marshal(kind EventKind, payload any) ([]byte, error) {
	f, err := NewFrame(c, kind, payload)
	if err != nil {
		return nil, err
	}
	return c.MarshalFrame(f)
}

func (jsonCodec) MarshalFrame(f Frame) ([]byte, error) {
	return json.Marshal(jsonEnvelope{Type: f.Kind, Payload: f.Payload})
}

func (c jsonCodec) Unmarshal(data []byte) (Frame, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("frame has no type")
	}
	return Frame{Kind: env.Type, Payload: env.Payload, codec: c}, nil
}

type msgpackEnvelope struct {
	Type    EventKind          `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload,omitempty"`
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string     { return CodecMsgpack }
func (msgpackCodec) MessageType() int { return websocket.BinaryMessage }

func (msgpackCodec) EncodePayload(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) DecodePayload(data []byte, v any) error {
	return msgpack.Unmarshal(data, v)
}

func (c msgpackCodec) Marshal(kind EventKind, payload any) ([]byte, error) {
	f, err := NewFrame(c, kind, payload)
	if err != nil {
		return nil, err
	}
	return c.MarshalFrame(f)
}

func (msgpackCodec) MarshalFrame(f Frame) ([]byte, error) {
	return msgpack.Marshal(msgpackEnvelope{Type: f.Kind, Payload: msgpack.RawMessage(f.Payload)})
}

func (c msgpackCodec) Unmarshal(data []byte) (Frame, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Frame{}, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if env.Type == "" {
		return Frame{}, fmt.Errorf("frame has no type")
	}
	return Frame{Kind: env.Type, Payload: []byte(env.Payload), codec: c}, nil
}

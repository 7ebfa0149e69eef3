// Package recorder captures the frames crossing a connection in a
// JSON-Lines file: one header line followed by one event per frame.
package recorder

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"pkt.systems/pslog"

	"github.com/resume-studio/collabsync/internal/protocol"
)

// FormatVersion is the version written to the header.
const FormatVersion = 1

// Event directions.
const (
	DirectionInbound  = "i"
	DirectionOutbound = "o"
)

// Header is the first line of a recording.
type Header struct {
	Version   int    `json:"version"`
	Codec     string `json:"codec"`
	Timestamp int64  `json:"timestamp"`
}

// Event is one recorded frame.
// Format: [time_offset, direction, kind, data]
type Event struct {
	TimeOffset float64
	Direction  string
	Kind       protocol.EventKind
	Data       string
}

// MarshalJSON implements custom JSON marshaling for Event.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{e.TimeOffset, e.Direction, e.Kind, e.Data})
}

// UnmarshalJSON implements custom JSON unmarshaling for Event.
func (e *Event) UnmarshalJSON(data []byte) error {
	var arr []interface{}
	if err := json.Unmarshal(data, &arr); err != nil {
		return err
	}
	if len(arr) != 4 {
		return fmt.Errorf("invalid event format: expected 4 elements, got %d", len(arr))
	}

	timeOffset, ok := arr[0].(float64)
	if !ok {
		return fmt.Errorf("invalid time offset type")
	}
	direction, ok := arr[1].(string)
	if !ok || (direction != DirectionInbound && direction != DirectionOutbound) {
		return fmt.Errorf("invalid event direction")
	}
	kind, ok := arr[2].(string)
	if !ok {
		return fmt.Errorf("invalid event kind")
	}
	eventData, ok := arr[3].(string)
	if !ok {
		return fmt.Errorf("invalid event data type")
	}

	e.TimeOffset = timeOffset
	e.Direction = direction
	e.Kind = protocol.EventKind(kind)
	e.Data = eventData
	return nil
}

// Payload returns the encoded frame payload. Codecs other than JSON store
// it base64-encoded.
func (e Event) Payload(codec string) ([]byte, error) {
	if codec == protocol.CodecJSON {
		return []byte(e.Data), nil
	}
	return base64.StdEncoding.DecodeString(e.Data)
}

// Recorder writes frames to a recording. It implements socket.Recorder.
type Recorder struct {
	writer    io.Writer
	file      *os.File // only set if we own the file
	codec     protocol.Codec
	log       pslog.Logger
	startTime time.Time
	mu        sync.Mutex
}

// New creates a Recorder that writes to the given file path.
func New(filePath string, codec protocol.Codec, logger pslog.Logger) (*Recorder, error) {
	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording: %w", err)
	}

	r := NewWithWriter(file, codec, logger)
	r.file = file
	return r, nil
}

// NewWithWriter creates a Recorder that writes to w.
func NewWithWriter(w io.Writer, codec protocol.Codec, logger pslog.Logger) *Recorder {
	if codec == nil {
		codec = protocol.JSON
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Recorder{
		writer:    w,
		codec:     codec,
		log:       logger,
		startTime: time.Now(),
	}
}

// WriteHeader writes the header line. It should be called once before any
// frame is recorded.
func (r *Recorder) WriteHeader() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	header := Header{
		Version:   FormatVersion,
		Codec:     r.codec.Name(),
		Timestamp: r.startTime.Unix(),
	}
	return r.writeLine(header)
}

// RecordInbound records a frame read from the server.
func (r *Recorder) RecordInbound(frame protocol.Frame) {
	if err := r.WriteFrame(DirectionInbound, frame); err != nil {
		r.log.Warn("failed to record frame", "kind", frame.Kind, "err", err)
	}
}

// RecordOutbound records a frame sent to the server.
func (r *Recorder) RecordOutbound(frame protocol.Frame) {
	if err := r.WriteFrame(DirectionOutbound, frame); err != nil {
		r.log.Warn("failed to record frame", "kind", frame.Kind, "err", err)
	}
}

// WriteFrame writes one event for frame.
func (r *Recorder) WriteFrame(direction string, frame protocol.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := string(frame.Payload)
	if frame.Codec().Name() != protocol.CodecJSON {
		data = base64.StdEncoding.EncodeToString(frame.Payload)
	}

	return r.writeLine(Event{
		TimeOffset: time.Since(r.startTime).Seconds(),
		Direction:  direction,
		Kind:       frame.Kind,
		Data:       data,
	})
}

func (r *Recorder) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal recording line: %w", err)
	}
	if _, err := r.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write recording line: %w", err)
	}
	return nil
}

// Close closes the recording file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Close()
	}
	return nil
}

// StartTime returns the start time of the recording.
func (r *Recorder) StartTime() time.Time {
	return r.startTime
}

// Read parses a recording.
func Read(src io.Reader) (Header, []Event, error) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var header Header
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, nil, fmt.Errorf("failed to read header: %w", err)
		}
		return Header{}, nil, fmt.Errorf("recording is empty")
	}
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		return Header{}, nil, fmt.Errorf("failed to parse header: %w", err)
	}

	var events []Event
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return Header{}, nil, fmt.Errorf("failed to parse event %d: %w", len(events)+1, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("failed to read recording: %w", err)
	}
	return header, events, nil
}

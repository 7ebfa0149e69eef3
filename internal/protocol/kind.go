package protocol

// EventKind identifies the payload carried by a frame.
type EventKind string

const (
	// Client -> Server
	EventJoinRoom     EventKind = "join_resume_room"
	EventLeaveRoom    EventKind = "leave_resume_room"
	EventResumeUpdate EventKind = "resume_update"
	EventAIRequest    EventKind = "ai_request"

	// Server -> Client
	EventUserJoined      EventKind = "user_joined"
	EventUserLeft        EventKind = "user_left"
	EventResumeUpdated   EventKind = "resume_updated"
	EventAIResponseStart EventKind = "ai_response_start"
	EventAIResponseChunk EventKind = "ai_response_chunk"
	EventAIResponseEnd   EventKind = "ai_response_end"
	EventError           EventKind = "error"

	// Both directions
	EventResumeCursor    EventKind = "resume_cursor"
	EventResumeSelection EventKind = "resume_selection"
	EventUserTyping      EventKind = "user_typing"

	// Local connection lifecycle, never sent on the wire
	EventConnect    EventKind = "connect"
	EventDisconnect EventKind = "disconnect"
	EventReconnect  EventKind = "reconnect"
)

// Direction describes where a frame kind may travel.
type Direction uint8

const (
	DirectionInbound Direction = 1 << iota
	DirectionOutbound
	DirectionLocal
)

var directions = map[EventKind]Direction{
	EventJoinRoom:        DirectionOutbound,
	EventLeaveRoom:       DirectionOutbound,
	EventResumeUpdate:    DirectionOutbound,
	EventAIRequest:       DirectionOutbound,
	EventUserJoined:      DirectionInbound,
	EventUserLeft:        DirectionInbound,
	EventResumeUpdated:   DirectionInbound,
	EventAIResponseStart: DirectionInbound,
	EventAIResponseChunk: DirectionInbound,
	EventAIResponseEnd:   DirectionInbound,
	EventError:           DirectionInbound | DirectionLocal,
	EventResumeCursor:    DirectionInbound | DirectionOutbound,
	EventResumeSelection: DirectionInbound | DirectionOutbound,
	EventUserTyping:      DirectionInbound | DirectionOutbound,
	EventConnect:         DirectionLocal,
	EventDisconnect:      DirectionLocal,
	EventReconnect:       DirectionLocal,
}

// Kinds returns every known event kind.
func Kinds() []EventKind {
	return []EventKind{
		EventJoinRoom, EventLeaveRoom, EventResumeUpdate, EventAIRequest,
		EventUserJoined, EventUserLeft, EventResumeUpdated,
		EventAIResponseStart, EventAIResponseChunk, EventAIResponseEnd, EventError,
		EventResumeCursor, EventResumeSelection, EventUserTyping,
		EventConnect, EventDisconnect, EventReconnect,
	}
}

// Valid reports whether k is part of the protocol.
func (k EventKind) Valid() bool {
	_, ok := directions[k]
	return ok
}

// Inbound reports whether the server may send k.
func (k EventKind) Inbound() bool {
	return directions[k]&DirectionInbound != 0
}

// Outbound reports whether the client may send k.
func (k EventKind) Outbound() bool {
	return directions[k]&DirectionOutbound != 0
}

// Local reports whether k is raised by the client itself.
func (k EventKind) Local() bool {
	return directions[k]&DirectionLocal != 0
}

func (k EventKind) String() string {
	return string(k)
}

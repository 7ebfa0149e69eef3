package protocol

import "github.com/resume-studio/collabsync/internal/model"

// RoomMembership is the payload of join_resume_room and leave_resume_room.
type RoomMembership struct {
	RoomID   string `json:"roomId" msgpack:"roomId"`
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
}

// UserJoined announces a member of a room.
type UserJoined struct {
	RoomID   string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username" msgpack:"username"`
}

// UserLeft announces that a member left a room.
type UserLeft struct {
	RoomID string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	UserID string `json:"userId" msgpack:"userId"`
}

// ResumeUpdate carries document changes. It is the payload of both
// resume_update (outbound) and resume_updated (inbound).
type ResumeUpdate struct {
	RoomID  string         `json:"roomId" msgpack:"roomId"`
	UserID  string         `json:"userId" msgpack:"userId"`
	Changes map[string]any `json:"changes" msgpack:"changes"`
}

// Cursor is the payload of resume_cursor.
type Cursor struct {
	RoomID   string         `json:"roomId" msgpack:"roomId"`
	UserID   string         `json:"userId" msgpack:"userId"`
	Position model.Position `json:"position" msgpack:"position"`
}

// Selection is the payload of resume_selection.
type Selection struct {
	RoomID    string              `json:"roomId" msgpack:"roomId"`
	UserID    string              `json:"userId" msgpack:"userId"`
	Selection model.SelectionRect `json:"selection" msgpack:"selection"`
}

// Typing is the payload of user_typing.
type Typing struct {
	RoomID   string `json:"roomId,omitempty" msgpack:"roomId,omitempty"`
	UserID   string `json:"userId" msgpack:"userId"`
	Username string `json:"username" msgpack:"username"`
	IsTyping bool   `json:"isTyping" msgpack:"isTyping"`
}

// AIRequest asks the server to stream a response to Prompt.
type AIRequest struct {
	RequestID string `json:"requestId" msgpack:"requestId"`
	Prompt    string `json:"prompt" msgpack:"prompt"`
	UserID    string `json:"userId" msgpack:"userId"`
}

// AIResponseStart opens the response stream for RequestID.
type AIResponseStart struct {
	RequestID string `json:"requestId" msgpack:"requestId"`
	UserID    string `json:"userId" msgpack:"userId"`
}

// AIResponseChunk carries the next piece of response text.
type AIResponseChunk struct {
	RequestID string `json:"requestId" msgpack:"requestId"`
	Chunk     string `json:"chunk" msgpack:"chunk"`
	UserID    string `json:"userId" msgpack:"userId"`
}

// AIResponseEnd closes the response stream for RequestID.
type AIResponseEnd struct {
	RequestID string `json:"requestId" msgpack:"requestId"`
	UserID    string `json:"userId" msgpack:"userId"`
}

// Error codes used in Error frames.
const (
	ErrorCodeReconnectExhausted = "RECONNECT_EXHAUSTED"
	ErrorCodeBadFrame           = "BAD_FRAME"
	ErrorCodeUnknownKind        = "UNKNOWN_KIND"
	ErrorCodeNotInRoom          = "NOT_IN_ROOM"
	ErrorCodeResponseFailed     = "AI_RESPONSE_FAILED"
)

// Error reports a failure, either from the server or raised locally.
type Error struct {
	Message string `json:"message" msgpack:"message"`
	Code    string `json:"code,omitempty" msgpack:"code,omitempty"`
}

// ConnectionEvent is the payload of the local connect, disconnect and
// reconnect kinds.
type ConnectionEvent struct {
	State   string `json:"state" msgpack:"state"`
	Attempt int    `json:"attempt" msgpack:"attempt"`
	Manual  bool   `json:"manual,omitempty" msgpack:"manual,omitempty"`
	Reason  string `json:"reason,omitempty" msgpack:"reason,omitempty"`
}

package model

// Position is a cursor location inside the edited document.
type Position struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// SelectionRect is the rectangle covered by an active text selection.
type SelectionRect struct {
	StartX float64 `json:"startX" msgpack:"startX"`
	StartY float64 `json:"startY" msgpack:"startY"`
	EndX   float64 `json:"endX" msgpack:"endX"`
	EndY   float64 `json:"endY" msgpack:"endY"`
}

// Collaborator is a remote user present in a room.
// Nil presence fields mean the value is unknown, not zero.
type Collaborator struct {
	UserID    string         `json:"userId"`
	Username  string         `json:"username"`
	Cursor    *Position      `json:"cursor,omitempty"`
	IsTyping  *bool          `json:"isTyping,omitempty"`
	Selection *SelectionRect `json:"selection,omitempty"`
}

// Clone returns a deep copy so callers can hold it without sharing pointers.
func (c Collaborator) Clone() Collaborator {
	out := Collaborator{UserID: c.UserID, Username: c.Username}
	if c.Cursor != nil {
		p := *c.Cursor
		out.Cursor = &p
	}
	if c.IsTyping != nil {
		t := *c.IsTyping
		out.IsTyping = &t
	}
	if c.Selection != nil {
		s := *c.Selection
		out.Selection = &s
	}
	return out
}

// Typing reports whether the collaborator is known to be typing.
func (c Collaborator) Typing() bool {
	return c.IsTyping != nil && *c.IsTyping
}

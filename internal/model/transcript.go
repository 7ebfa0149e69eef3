package model

import "time"

// TranscriptStatus represents how an AI response stream ended.
type TranscriptStatus string

const (
	TranscriptStatusComplete  TranscriptStatus = "complete"
	TranscriptStatusAbandoned TranscriptStatus = "abandoned"
)

// Transcript is an archived AI response.
type Transcript struct {
	RequestID   string           `json:"requestId"`
	UserID      string           `json:"userId"`
	RoomID      string           `json:"roomId,omitempty"`
	Prompt      string           `json:"prompt"`
	Response    string           `json:"response"`
	Status      TranscriptStatus `json:"status"`
	CreatedAt   time.Time        `json:"createdAt"`
	CompletedAt time.Time        `json:"completedAt"`
}

// Validate validates the transcript before it is stored.
func (t *Transcript) Validate() error {
	if t.Prompt == "" {
		return ErrPromptRequired
	}
	return nil
}

// Duration returns how long the response took to stream.
func (t *Transcript) Duration() time.Duration {
	if t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.CreatedAt)
}

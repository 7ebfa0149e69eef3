package model

import "errors"

var (
	// ErrTranscriptNotFound is returned when an archived AI response is not found.
	ErrTranscriptNotFound = errors.New("transcript not found")

	// ErrRoomNotFound is returned when a relay room has no members.
	ErrRoomNotFound = errors.New("room not found")

	// ErrInvalidConfig is returned when a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownCodec is returned when a frame codec name is not recognized.
	ErrUnknownCodec = errors.New("unknown codec")

	// ErrPromptRequired is returned when an AI request is missing its prompt.
	ErrPromptRequired = errors.New("prompt is required")
)

// Package chat drives one analytics chat session: voice capture, transcription
// into the input field, and insight answers appended to the conversation.
package chat

import (
	"errors"
	"fmt"
)

// State is the conversation's activity state.
type State int

const (
	// StateIdle - input enabled, nothing in flight.
	StateIdle State = iota
	// StateCapturing - the microphone is recording.
	StateCapturing
	// StateTranscribing - the recording is being turned into text.
	StateTranscribing
	// StateAwaitingInsight - a question is being answered.
	StateAwaitingInsight
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateAwaitingInsight:
		return "AWAITING_INSIGHT"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// Flags are the transient booleans a UI renders. At most one is true.
type Flags struct {
	Capturing       bool `json:"isCapturing"`
	Transcribing    bool `json:"isTranscribing"`
	AwaitingInsight bool `json:"isAwaitingInsight"`
}

// Flags derives the UI flags from the state.
func (s State) Flags() Flags {
	return Flags{
		Capturing:       s == StateCapturing,
		Transcribing:    s == StateTranscribing,
		AwaitingInsight: s == StateAwaitingInsight,
	}
}

// InputEnabled reports whether the user may type or record.
func (s State) InputEnabled() bool {
	return s == StateIdle
}

// Errors returned by the orchestrator.
var (
	ErrBusy       = errors.New("chat: another operation is in progress")
	ErrEmptyInput = errors.New("chat: message is empty")
	ErrClosed     = errors.New("chat: session is closed")
)

// canTransition encodes the session state machine:
//
//	IDLE → CAPTURING → TRANSCRIBING → IDLE
//	IDLE → AWAITING_INSIGHT → IDLE
//
// CAPTURING may also fall back to IDLE when the device cannot be opened.
func canTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateCapturing || to == StateAwaitingInsight
	case StateCapturing:
		return to == StateTranscribing || to == StateIdle
	case StateTranscribing, StateAwaitingInsight:
		return to == StateIdle
	default:
		return false
	}
}

// Package models defines the event payloads published by the chat pipeline.
package models

const (
	EventTypeTranscriptCompleted = "transcript.completed"
	EventTypeInsightAnswered     = "insight.answered"
)

// TranscriptCompleted is published when a voice recording was transcribed
// into a chat session's input field.
type TranscriptCompleted struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Text      string `json:"text"`
	MIMEType  string `json:"mimeType"`
	SizeBytes int    `json:"sizeBytes"`
	Provider  string `json:"provider"`
}

// InsightAnswered is published when an analytics question was answered,
// by the model or by the local fallback.
type InsightAnswered struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"`
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Kind      string `json:"kind"`
	Source    string `json:"source"`
	Provider  string `json:"provider,omitempty"`
	ErrorKind string `json:"errorKind,omitempty"`
}

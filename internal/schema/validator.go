// Package schema validates API requests and outgoing events.
package schema

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/models"
	"crm-insight-service/internal/service/transcription"
)

const (
	DefaultMaxQuestionLength = 2000
	maxSnapshotRows          = 500
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

type Validator struct {
	maxAudioBytes     int64
	maxQuestionLength int
}

// New creates a validator. maxAudioBytes <= 0 selects transcription.DefaultMaxBytes.
func New(maxAudioBytes int64) *Validator {
	if maxAudioBytes <= 0 {
		maxAudioBytes = transcription.DefaultMaxBytes
	}
	return &Validator{maxAudioBytes: maxAudioBytes, maxQuestionLength: DefaultMaxQuestionLength}
}

// ValidateTranscription checks an uploaded audio file before it is read.
func (v *Validator) ValidateTranscription(filename, mimeType string, size int64) error {
	if size == 0 {
		return invalid("audio", "No audio file provided")
	}
	if size > v.maxAudioBytes {
		return invalid("audio", "Audio file too large (max %d MB)", v.maxAudioBytes>>20)
	}
	if !transcription.Accepted(mimeType, filename) {
		return invalid("audio", "Invalid audio file type. Supported formats: webm, mp3, wav, ogg, m4a, mpeg")
	}
	return nil
}

// ValidateInsight checks a question and the snapshot it should be grounded in.
func (v *Validator) ValidateInsight(text string, snap analytics.Snapshot) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return invalid("text", "Text input is required")
	}
	if utf8.RuneCountInString(text) > v.maxQuestionLength {
		return invalid("text", "Text input must be at most %d characters", v.maxQuestionLength)
	}

	for i, st := range snap.Funnel {
		if strings.TrimSpace(st.Name) == "" {
			return invalid(fmt.Sprintf("analyticsData.funnelData[%d].name", i), "must not be empty")
		}
		if st.Value < 0 {
			return invalid(fmt.Sprintf("analyticsData.funnelData[%d].value", i), "must not be negative")
		}
	}
	for i, m := range snap.Monthly {
		if m.Leads < 0 {
			return invalid(fmt.Sprintf("analyticsData.monthlyLeadData[%d].leads", i), "must not be negative")
		}
	}
	for i, s := range snap.LeadSources {
		if s.Value < 0 || s.Value > 100 {
			return invalid(fmt.Sprintf("analyticsData.leadSourceData[%d].value", i), "must be a percentage")
		}
	}
	for i, p := range snap.Properties {
		if p.Leads < 0 || p.SiteVisits < 0 || p.Tokens < 0 {
			return invalid(fmt.Sprintf("analyticsData.propertyPerformanceData[%d]", i), "counts must not be negative")
		}
	}
	rows := len(snap.Funnel) + len(snap.Monthly) + len(snap.LeadSources) + len(snap.Properties)
	if rows > maxSnapshotRows {
		return invalid("analyticsData", "too many rows (%d > %d)", rows, maxSnapshotRows)
	}
	return nil
}

// Validate checks an outgoing event before it is published.
func (v *Validator) Validate(event any) error {
	switch e := event.(type) {
	case models.TranscriptCompleted:
		return v.Validate(&e)
	case *models.TranscriptCompleted:
		if e.EventType != models.EventTypeTranscriptCompleted {
			return invalid("eventType", "unexpected %q", e.EventType)
		}
		if e.SessionID == "" {
			return invalid("sessionId", "required")
		}
		if e.Timestamp <= 0 {
			return invalid("timestamp", "required")
		}
		if strings.TrimSpace(e.Text) == "" {
			return invalid("text", "required")
		}
		return nil
	case models.InsightAnswered:
		return v.Validate(&e)
	case *models.InsightAnswered:
		if e.EventType != models.EventTypeInsightAnswered {
			return invalid("eventType", "unexpected %q", e.EventType)
		}
		if e.SessionID == "" {
			return invalid("sessionId", "required")
		}
		if e.Timestamp <= 0 {
			return invalid("timestamp", "required")
		}
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			return invalid("question", "question and answer are required")
		}
		if e.Source != "provider" && e.Source != "fallback" {
			return invalid("source", "unexpected %q", e.Source)
		}
		return nil
	default:
		return invalid("event", "unsupported event type %T", event)
	}
}

package transcription

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// Kind classifies transcription failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidFormat
	KindInvalidCredentials
	KindUploadFailed
	KindGenerationFailed
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidFormat:
		return "invalid_format"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUploadFailed:
		return "upload_failed"
	case KindGenerationFailed:
		return "generation_failed"
	default:
		return "unknown"
	}
}

// HTTPStatus maps the kind to its HTTP status band.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidFormat:
		return http.StatusBadRequest
	case KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindUploadFailed, KindGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Summary is the operator-facing description used in API error bodies.
func (k Kind) Summary() string {
	switch k {
	case KindInvalidFormat:
		return "Invalid audio file type. Supported formats: webm, mp3, wav, ogg, m4a, mpeg"
	case KindInvalidCredentials:
		return "Transcription API key not configured"
	case KindUploadFailed:
		return "Failed to upload audio file to the transcription provider"
	case KindGenerationFailed:
		return "Failed to generate transcription"
	default:
		return "Failed to transcribe audio"
	}
}

// Error is a classified transcription failure. Message carries the
// provider's diagnostic text with credentials removed.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transcription %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status for the failure.
func (e *Error) HTTPStatus() int {
	return e.Kind.HTTPStatus()
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	msg := fmt.Sprintf(format, args...)
	if err != nil {
		msg = msg + ": " + err.Error()
	}
	return &Error{Kind: kind, Message: Redact(msg), Err: err}
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnknown
}

var redactions = []struct {
	re   *regexp.Regexp
	with string
}{
	{regexp.MustCompile(`AIza[0-9A-Za-z_\-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(key|api_key|apikey|token)=[^&\s"']+`), "${1}=[REDACTED]"},
	{regexp.MustCompile(`(?i)(bearer|x-goog-api-key:?)\s+[^\s"']+`), "${1} [REDACTED]"},
	{regexp.MustCompile(`sk-[0-9A-Za-z_\-]{16,}`), "[REDACTED]"},
}

// Redact removes API keys and credential-bearing query parameters from s.
func Redact(s string) string {
	for _, r := range redactions {
		s = r.re.ReplaceAllString(s, r.with)
	}
	return s
}

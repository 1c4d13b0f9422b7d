package transcription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Audio is a recording or uploaded file to transcribe.
type Audio struct {
	Data     []byte
	MIMEType string
	// Filename is the client-side name, used only for extension matching.
	Filename string
}

// Request is a validated transcription submission.
type Request struct {
	Data           []byte
	Filename       string
	MIMEType       string
	SourceMIMEType string
	SourceName     string
}

// NewRequest validates a and assigns a unique transient filename.
func NewRequest(a Audio, now time.Time) (*Request, error) {
	if len(a.Data) == 0 {
		return nil, newError(KindInvalidFormat, nil, "audio is empty")
	}
	if !Accepted(a.MIMEType, a.Filename) {
		return nil, newError(KindInvalidFormat, nil, "unsupported audio type %q (filename %q)", a.MIMEType, a.Filename)
	}
	f, ok := ResolveFormat(a.MIMEType, a.Filename)
	if !ok {
		return nil, newError(KindInvalidFormat, nil, "cannot resolve audio type %q (filename %q)", a.MIMEType, a.Filename)
	}
	return &Request{
		Data:           a.Data,
		Filename:       UniqueFilename(now, f.Extension),
		MIMEType:       f.MIMEType,
		SourceMIMEType: a.MIMEType,
		SourceName:     a.Filename,
	}, nil
}

// UniqueFilename returns transcribe-<UTC timestamp>-<uuid><ext>.
// The random component keeps concurrent calls in the same millisecond apart.
func UniqueFilename(now time.Time, ext string) string {
	ts := strings.ReplaceAll(now.UTC().Format("2006-01-02T15-04-05.000Z"), ".", "-")
	return "transcribe-" + ts + "-" + uuid.NewString() + ext
}

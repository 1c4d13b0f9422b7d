package transcription

import (
	"path/filepath"
	"strings"
)

// Format is a supported audio container.
type Format struct {
	MIMEType    string `json:"mimeType"`
	Extension   string `json:"extension"`
	Description string `json:"description"`
}

var supportedFormats = []Format{
	{MIMEType: "audio/webm", Extension: ".webm", Description: "WebM audio"},
	{MIMEType: "audio/mp3", Extension: ".mp3", Description: "MP3 audio"},
	{MIMEType: "audio/mpeg", Extension: ".mpeg", Description: "MPEG audio"},
	{MIMEType: "audio/wav", Extension: ".wav", Description: "WAV audio"},
	{MIMEType: "audio/ogg", Extension: ".ogg", Description: "OGG audio"},
	{MIMEType: "audio/mp4", Extension: ".m4a", Description: "M4A audio"},
}

// Browser-reported MIME types accepted on their own. audio/mp4 is only
// accepted through the .m4a extension.
var allowedMIMETypes = map[string]bool{
	"audio/webm": true,
	"audio/mp3":  true,
	"audio/wav":  true,
	"audio/mpeg": true,
	"audio/ogg":  true,
}

// SupportedFormats lists the accepted formats.
func SupportedFormats() []Format {
	out := make([]Format, len(supportedFormats))
	copy(out, supportedFormats)
	return out
}

// baseMIME strips parameters and lowercases: "audio/webm;codecs=opus" -> "audio/webm".
func baseMIME(mimeType string) string {
	base, _, _ := strings.Cut(mimeType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func extension(filename string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
}

func formatByExtension(ext string) (Format, bool) {
	for _, f := range supportedFormats {
		if f.Extension == ext {
			return f, true
		}
	}
	return Format{}, false
}

func formatByMIME(mimeType string) (Format, bool) {
	for _, f := range supportedFormats {
		if f.MIMEType == mimeType {
			return f, true
		}
	}
	return Format{}, false
}

// Accepted reports whether either the MIME type or the filename extension is
// on the allow-list. Browsers report MIME types unreliably, so one match suffices.
func Accepted(mimeType, filename string) bool {
	if allowedMIMETypes[baseMIME(mimeType)] {
		return true
	}
	_, ok := formatByExtension(extension(filename))
	return ok
}

// ResolveFormat picks the format sent to the provider: the reported MIME type
// when it is an allowed type, otherwise the one implied by the extension.
func ResolveFormat(mimeType, filename string) (Format, bool) {
	if base := baseMIME(mimeType); allowedMIMETypes[base] {
		return formatByMIME(base)
	}
	return formatByExtension(extension(filename))
}

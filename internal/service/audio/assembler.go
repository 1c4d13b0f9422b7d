// Package audio assembles captured chunks into a single recording.
package audio

import (
	"errors"
	"sort"
	"time"

	"crm-insight-service/internal/observability/metrics"
	"crm-insight-service/internal/service/capture"
)

// DefaultMinBytes is the smallest recording worth sending for transcription.
const DefaultMinBytes = 2048

// ErrEmptyInput is returned when there is nothing to assemble.
var ErrEmptyInput = errors.New("audio: no chunks to assemble")

// Recording is the full audio of one capture session.
type Recording struct {
	Data       []byte
	MIMEType   string
	SizeBytes  int
	CreatedAt  time.Time
	ChunkCount int
	// TooShort recordings are kept for inspection but must not be transcribed.
	TooShort bool
}

// Eligible reports whether the recording may be submitted for transcription.
func (r *Recording) Eligible() bool {
	return r != nil && !r.TooShort && len(r.Data) > 0
}

// Release drops the audio bytes once the recording has been consumed.
func (r *Recording) Release() {
	if r == nil {
		return
	}
	r.Data = nil
}

// Assembler concatenates chunks in capture order.
type Assembler struct {
	MinBytes int
	now      func() time.Time
}

// NewAssembler creates an assembler. minBytes <= 0 selects DefaultMinBytes.
func NewAssembler(minBytes int) *Assembler {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Assembler{MinBytes: minBytes, now: time.Now}
}

// Assemble orders chunks by sequence and concatenates their bytes.
// The input slice is not modified.
func (a *Assembler) Assemble(chunks []capture.Chunk, mimeType string) (*Recording, error) {
	if len(chunks) == 0 {
		metrics.DefaultMetrics.RecordRecording("empty")
		return nil, ErrEmptyInput
	}

	ordered := make([]capture.Chunk, len(chunks))
	copy(ordered, chunks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	size := 0
	for _, c := range ordered {
		size += len(c.Data)
	}
	if size == 0 {
		metrics.DefaultMetrics.RecordRecording("empty")
		return nil, ErrEmptyInput
	}
	data := make([]byte, 0, size)
	for _, c := range ordered {
		data = append(data, c.Data...)
	}

	rec := &Recording{
		Data:       data,
		MIMEType:   mimeType,
		SizeBytes:  size,
		CreatedAt:  a.now(),
		ChunkCount: len(ordered),
		TooShort:   size < a.MinBytes,
	}
	if rec.TooShort {
		metrics.DefaultMetrics.RecordRecording("too_short")
	} else {
		metrics.DefaultMetrics.RecordRecording("ok")
	}
	return rec, nil
}

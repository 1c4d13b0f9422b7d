// Package capture records microphone audio into an ordered sequence of chunks.
package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm-insight-service/internal/observability/metrics"
)

// Constraints are the capture settings requested from a device.
type Constraints struct {
	Channels         int
	SampleRateHz     int
	EchoCancellation bool
	NoiseSuppression bool
	MIMEType         string
}

// DefaultConstraints returns mono 16 kHz opus-in-webm with echo cancellation
// and noise suppression enabled.
func DefaultConstraints() Constraints {
	return Constraints{
		Channels:         1,
		SampleRateHz:     16000,
		EchoCancellation: true,
		NoiseSuppression: true,
		MIMEType:         "audio/webm;codecs=opus",
	}
}

// Chunk is a contiguous slice of encoded audio. Seq is the capture order.
type Chunk struct {
	Seq        int
	Data       []byte
	CapturedAt time.Time
}

// Device is a platform audio input.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an open device stream. Frames is closed when the stream ends.
type Stream interface {
	Frames() <-chan []byte
	Close() error
}

// ErrStreamOpen is returned when a FeedDevice already has an open stream.
var ErrStreamOpen = errors.New("capture: device stream already open")

// FeedDevice is a device whose frames are pushed by a remote client, such as
// a browser streaming MediaRecorder output over a WebSocket.
type FeedDevice struct {
	mu          sync.Mutex
	buffer      int
	unavailable error
	stream      *feedStream
	constraints Constraints
}

// NewFeedDevice creates a push-fed device buffering up to buffer frames.
func NewFeedDevice(buffer int) *FeedDevice {
	if buffer <= 0 {
		buffer = 256
	}
	return &FeedDevice{buffer: buffer}
}

// SetUnavailable marks the device as unusable (permission denied, no
// hardware). Passing nil makes it available again.
func (d *FeedDevice) SetUnavailable(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.unavailable = err
}

// Constraints returns the constraints of the most recent Open.
func (d *FeedDevice) Constraints() Constraints {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.constraints
}

// Open starts a new stream.
func (d *FeedDevice) Open(ctx context.Context, c Constraints) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.unavailable != nil {
		return nil, d.unavailable
	}
	if d.stream != nil {
		return nil, ErrStreamOpen
	}
	d.constraints = c
	d.stream = &feedStream{device: d, frames: make(chan []byte, d.buffer)}
	return d.stream, nil
}

// Push delivers a frame to the open stream. Frames arriving with no open
// stream, or when the buffer is full, are dropped and false is returned.
func (d *FeedDevice) Push(frame []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || len(frame) == 0 {
		metrics.DefaultMetrics.RecordFrameDropped()
		return false
	}
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case d.stream.frames <- buf:
		return true
	default:
		metrics.DefaultMetrics.RecordFrameDropped()
		return false
	}
}

// End closes the open stream from the client side, e.g. on disconnect.
func (d *FeedDevice) End() {
	d.mu.Lock()
	s := d.stream
	d.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

type feedStream struct {
	device *FeedDevice
	frames chan []byte
	once   sync.Once
}

func (s *feedStream) Frames() <-chan []byte {
	return s.frames
}

func (s *feedStream) Close() error {
	s.once.Do(func() {
		s.device.mu.Lock()
		defer s.device.mu.Unlock()
		if s.device.stream == s {
			s.device.stream = nil
		}
		close(s.frames)
	})
	return nil
}

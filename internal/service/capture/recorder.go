package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
)

// State is the recorder lifecycle state.
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCapturing:
		return "CAPTURING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

var (
	ErrDeviceUnavailable = errors.New("capture: audio device unavailable")
	ErrAlreadyCapturing  = errors.New("capture: already capturing")
)

// Limits bound a single capture session.
type Limits struct {
	ChunkInterval time.Duration
	MaxDuration   time.Duration
	MaxBytes      int64
}

// DefaultLimits emits a chunk every second and stops after 15 seconds or 10 MiB.
func DefaultLimits() Limits {
	return Limits{
		ChunkInterval: time.Second,
		MaxDuration:   15 * time.Second,
		MaxBytes:      10 * 1024 * 1024,
	}
}

// Recorder runs capture sessions against a device, one at a time.
//
// State transitions:
//
//	IDLE ──Start()──→ CAPTURING ──Stop()/deadline/ctx/limit──→ STOPPED
//	                      ↑                                       │
//	                      └───────────────Start()─────────────────┘
//
// The chunk channel returned by Start is closed exactly once per session,
// after the final partial chunk has been flushed and the device stream released.
type Recorder struct {
	device  Device
	limits  Limits
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
	stop  chan struct{}
	once  *sync.Once
}

// NewRecorder creates a recorder for device.
func NewRecorder(device Device, limits Limits) *Recorder {
	def := DefaultLimits()
	if limits.ChunkInterval <= 0 {
		limits.ChunkInterval = def.ChunkInterval
	}
	if limits.MaxDuration <= 0 {
		limits.MaxDuration = def.MaxDuration
	}
	return &Recorder{
		device:  device,
		limits:  limits,
		log:     logging.WithComponent("capture"),
		metrics: metrics.DefaultMetrics,
		state:   StateIdle,
	}
}

// State returns the current state.
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the device and begins emitting chunks.
func (r *Recorder) Start(ctx context.Context, c Constraints) (<-chan Chunk, error) {
	r.mu.Lock()
	if r.state == StateCapturing {
		r.mu.Unlock()
		return nil, ErrAlreadyCapturing
	}
	prev := r.state
	stop := make(chan struct{})
	r.state = StateCapturing
	r.stop = stop
	r.once = &sync.Once{}
	r.mu.Unlock()

	stream, err := r.device.Open(ctx, c)
	if err != nil {
		r.mu.Lock()
		r.state = prev
		r.mu.Unlock()
		r.metrics.RecordDeviceUnavailable()
		r.log.Warn().Err(err).Msg("Audio device unavailable")
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	r.metrics.RecordCaptureStart()
	r.log.Info().
		Int("channels", c.Channels).
		Int("sampleRateHz", c.SampleRateHz).
		Str("mimeType", c.MIMEType).
		Dur("maxDuration", r.limits.MaxDuration).
		Msg("Capture started")

	out := make(chan Chunk, 16)
	go r.run(ctx, stream, stop, out)
	return out, nil
}

// Stop ends the current session. It is a no-op unless capturing.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateCapturing {
		return
	}
	stop, once := r.stop, r.once
	once.Do(func() { close(stop) })
}

func (r *Recorder) run(ctx context.Context, stream Stream, stop <-chan struct{}, out chan<- Chunk) {
	started := time.Now()
	ticker := time.NewTicker(r.limits.ChunkInterval)
	deadline := time.NewTimer(r.limits.MaxDuration)
	defer ticker.Stop()
	defer deadline.Stop()

	var (
		pending []byte
		seq     int
		total   int64
		reason  string
	)

	emit := func() {
		if len(pending) == 0 {
			return
		}
		chunk := Chunk{Seq: seq, Data: pending, CapturedAt: time.Now()}
		pending = nil
		seq++
		select {
		case out <- chunk:
		case <-ctx.Done():
			select {
			case out <- chunk:
			default:
				r.log.Warn().Int("seq", chunk.Seq).Msg("Chunk dropped, consumer not draining")
			}
		}
	}

	frames := stream.Frames()
loop:
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				reason = "stream_closed"
				break loop
			}
			pending = append(pending, frame...)
			total += int64(len(frame))
			if r.limits.MaxBytes > 0 && total >= r.limits.MaxBytes {
				reason = "max_bytes"
				break loop
			}
		case <-ticker.C:
			emit()
		case <-deadline.C:
			reason = "max_duration"
			break loop
		case <-stop:
			reason = "manual"
			break loop
		case <-ctx.Done():
			reason = "cancelled"
			break loop
		}
	}

	// Frames already buffered belong to this session.
drain:
	for reason != "stream_closed" {
		select {
		case frame, ok := <-frames:
			if !ok {
				break drain
			}
			pending = append(pending, frame...)
			total += int64(len(frame))
		default:
			break drain
		}
	}

	if err := stream.Close(); err != nil {
		r.log.Warn().Err(err).Msg("Failed to release audio stream")
	}
	emit()

	r.mu.Lock()
	r.state = StateStopped
	r.mu.Unlock()
	close(out)

	elapsed := time.Since(started)
	r.metrics.RecordCaptureEnd(reason, int(total), elapsed.Seconds())
	r.log.Info().
		Str("reason", reason).
		Int("chunks", seq).
		Int64("bytes", total).
		Dur("duration", elapsed).
		Msg("Capture stopped")
}

package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/models"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/service/chat"
	"crm-insight-service/internal/service/insight"
)

const (
	defaultBridgeBuffer   = 256
	defaultPublishTimeout = 10 * time.Second
)

// Sink receives pipeline events.
type Sink interface {
	PublishTranscript(ctx context.Context, key string, event *models.TranscriptCompleted) error
	PublishInsight(ctx context.Context, key string, event *models.InsightAnswered) error
}

// EventValidator rejects malformed events before they are published.
type EventValidator interface {
	Validate(event any) error
}

// Bridge forwards chat transcript and answer events to a Sink on a
// background worker so chat listeners never block on Kafka.
type Bridge struct {
	sink      Sink
	validator EventValidator
	now       func() time.Time
	queue     chan any
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewBridge starts the worker. validator may be nil.
func NewBridge(sink Sink, validator EventValidator) *Bridge {
	b := &Bridge{
		sink:      sink,
		validator: validator,
		now:       time.Now,
		queue:     make(chan any, defaultBridgeBuffer),
		logger:    logging.WithComponent("event-bridge"),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Listener returns a chat listener that enqueues publishable events.
// Events are dropped with a warning when the queue is full.
func (b *Bridge) Listener() chat.Listener {
	return func(ev chat.Event) {
		event := b.convert(ev)
		if event == nil {
			return
		}
		b.mu.RLock()
		defer b.mu.RUnlock()
		if b.closed {
			return
		}
		select {
		case b.queue <- event:
		default:
			b.logger.Warn().Str("sessionId", ev.SessionID).Str("type", string(ev.Type)).Msg("event queue full, dropping")
		}
	}
}

func (b *Bridge) convert(ev chat.Event) any {
	switch ev.Type {
	case chat.EventTranscript:
		if ev.Transcript == nil {
			return nil
		}
		return &models.TranscriptCompleted{
			EventType: models.EventTypeTranscriptCompleted,
			SessionID: ev.SessionID,
			Timestamp: b.now().UnixMilli(),
			Text:      ev.Transcript.Text,
			MIMEType:  ev.Transcript.MIMEType,
			SizeBytes: ev.Transcript.SizeBytes,
			Provider:  ev.Transcript.Provider,
		}
	case chat.EventAnswer:
		if ev.Answer == nil {
			return nil
		}
		out := &models.InsightAnswered{
			EventType: models.EventTypeInsightAnswered,
			SessionID: ev.SessionID,
			Timestamp: b.now().UnixMilli(),
			Question:  ev.Question,
			Answer:    ev.Answer.Content,
			Kind:      string(ev.Answer.Kind),
			Source:    ev.Answer.Source,
			Provider:  ev.Answer.Provider,
		}
		if ev.Answer.Err != nil {
			out.ErrorKind = insight.KindOf(ev.Answer.Err).String()
		}
		return out
	}
	return nil
}

func (b *Bridge) run() {
	defer close(b.done)
	for event := range b.queue {
		b.publish(event)
	}
}

func (b *Bridge) publish(event any) {
	if b.validator != nil {
		if err := b.validator.Validate(event); err != nil {
			b.logger.Warn().Err(err).Msg("dropping invalid event")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultPublishTimeout)
	defer cancel()

	var err error
	switch e := event.(type) {
	case *models.TranscriptCompleted:
		err = b.sink.PublishTranscript(ctx, e.SessionID, e)
	case *models.InsightAnswered:
		err = b.sink.PublishInsight(ctx, e.SessionID, e)
	}
	if err != nil {
		b.logger.Error().Err(err).Msg("failed to publish event")
	}
}

// Close stops accepting events and waits for queued ones to be published.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	<-b.done
}

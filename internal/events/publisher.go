// Package events publishes chat pipeline events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"crm-insight-service/internal/models"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
)

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicInsight    string
	Principal       string
	Enabled         bool
}

// route binds one event type to its topic. writer is nil in log-only mode.
type route struct {
	topic     string
	eventType string
	writer    *kafka.Writer
}

// Publisher writes transcript and insight events to separate topics.
type Publisher struct {
	transcript route
	insight    route
	principal  string
	enabled    bool
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

// New creates a publisher. A nil or disabled config, or one without brokers,
// yields a log-only publisher that still records metrics.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		cfg = &Config{}
	}
	p := &Publisher{
		transcript: route{topic: cfg.TopicTranscript, eventType: models.EventTypeTranscriptCompleted},
		insight:    route{topic: cfg.TopicInsight, eventType: models.EventTypeInsightAnswered},
		principal:  cfg.Principal,
		logger:     logging.WithComponent("events"),
		metrics:    metrics.DefaultMetrics,
	}
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		p.logger.Info().Bool("configured", cfg.Enabled).Msg("Kafka disabled, events are logged only")
		return p
	}

	// Generous dial timeout: broker DNS can be slow to resolve inside a cluster.
	dialer := &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true}
	transport := &kafka.Transport{Dial: dialer.DialFunc}
	p.transcript.writer = newWriter(cfg.Brokers, cfg.TopicTranscript, transport)
	p.insight.writer = newWriter(cfg.Brokers, cfg.TopicInsight, transport)
	p.enabled = true

	p.logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicInsight", cfg.TopicInsight).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher ready")
	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{}, // same session, same partition
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events reach Kafka.
func (p *Publisher) Enabled() bool { return p.enabled }

// PublishTranscript publishes a completed transcription keyed by session.
func (p *Publisher) PublishTranscript(ctx context.Context, key string, event *models.TranscriptCompleted) error {
	return p.publish(ctx, p.transcript, key, event)
}

// PublishInsight publishes an answered question keyed by session.
func (p *Publisher) PublishInsight(ctx context.Context, key string, event *models.InsightAnswered) error {
	return p.publish(ctx, p.insight, key, event)
}

func (p *Publisher) publish(ctx context.Context, r route, key string, event any) (err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordKafkaPublish(r.topic, r.eventType, err, time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", r.eventType, err)
	}

	logger := p.logger.With().Str("topic", r.topic).Str("key", key).Logger()
	if r.writer == nil {
		logger.Debug().RawJSON("payload", payload).Msg("Event (log-only)")
		return nil
	}

	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(r.eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	})
	if err != nil {
		logger.Error().Err(err).Msg("Kafka write failed")
		return fmt.Errorf("publish %s to %s: %w", r.eventType, r.topic, err)
	}
	logger.Debug().Int("bytes", len(payload)).Msg("Event published")
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	for _, r := range []route{p.transcript, p.insight} {
		if r.writer == nil {
			continue
		}
		if err := r.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s writer: %w", r.topic, err))
		}
	}
	return errors.Join(errs...)
}

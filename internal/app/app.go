// Package app wires the service's components from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/config"
	"crm-insight-service/internal/events"
	"crm-insight-service/internal/gemini"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/ratelimit"
	"crm-insight-service/internal/schema"
	"crm-insight-service/internal/service/audio"
	"crm-insight-service/internal/service/capture"
	"crm-insight-service/internal/service/chat"
	"crm-insight-service/internal/service/insight"
	insightgemini "crm-insight-service/internal/service/insight/gemini"
	insightopenai "crm-insight-service/internal/service/insight/openai"
	"crm-insight-service/internal/service/stt"
	sttgemini "crm-insight-service/internal/service/stt/gemini"
	sttgoogle "crm-insight-service/internal/service/stt/google"
	sttmock "crm-insight-service/internal/service/stt/mock"
	"crm-insight-service/internal/service/transcription"
	"crm-insight-service/internal/storage"
)

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Transcriber *transcription.Client
	Insights    *insight.Service
	Analytics   analytics.Source
	Validator   *schema.Validator
	// Per-route limiters; nil leaves the route unlimited.
	TranscribeLimiter *ratelimit.Limiter
	InsightLimiter    *ratelimit.Limiter
	Publisher         *events.Publisher
	Bridge            *events.Bridge

	closers []io.Closer
}

// New builds every component named by cfg. Partially built resources are
// released when an error is returned.
func New(ctx context.Context, cfg *config.Config) (_ *Application, err error) {
	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}
	defer func() {
		if err != nil {
			a.Shutdown()
		}
	}()

	provider, err := newSTTProvider(ctx, cfg.Transcription)
	if err != nil {
		return nil, err
	}
	if c, ok := provider.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	store, err := storage.NewDirStore(cfg.Transcription.TempDir)
	if err != nil {
		return nil, fmt.Errorf("transient storage: %w", err)
	}
	a.Transcriber = transcription.New(provider, store, transcription.WithMaxBytes(cfg.Transcription.MaxBytes))

	a.Insights = insight.NewService(newInsightClient(cfg.Insight))

	source, closer, err := analytics.Open(ctx, cfg.Analytics.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}
	a.Analytics = source
	a.closers = append(a.closers, closer)

	a.Validator = schema.New(cfg.Transcription.MaxBytes)
	a.TranscribeLimiter, a.InsightLimiter = NewLimiters(cfg.RateLimit)

	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicInsight:    cfg.Kafka.TopicInsight,
		Principal:       cfg.Kafka.Principal,
	})
	a.Bridge = events.NewBridge(a.Publisher, a.Validator)

	a.Logger.Info().
		Str("sttProvider", provider.Name()).
		Str("insightProvider", cfg.Insight.Provider).
		Bool("analyticsDatabase", cfg.Analytics.DatabaseURL != "").
		Bool("rateLimit", cfg.RateLimit.Enabled).
		Int("transcribePerWindow", cfg.RateLimit.Transcribe.Requests).
		Int("insightsPerWindow", cfg.RateLimit.Insights.Requests).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("CRM insight service application created")
	return a, nil
}

func newSTTProvider(ctx context.Context, cfg config.TranscriptionConfig) (stt.Provider, error) {
	switch cfg.Provider {
	case "gemini":
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		return sttgemini.New(gemini.New(cfg.APIKey, cfg.Model, opts...)), nil
	case "google":
		gcfg := sttgoogle.DefaultConfig()
		if cfg.LanguageCode != "" {
			gcfg.LanguageCode = cfg.LanguageCode
		}
		p, err := sttgoogle.New(ctx, gcfg)
		if err != nil {
			return nil, fmt.Errorf("google speech: %w", err)
		}
		return p, nil
	case "mock", "":
		return sttmock.New(cfg.MockText), nil
	default:
		return nil, fmt.Errorf("unknown STT provider %q", cfg.Provider)
	}
}

// newInsightClient returns nil when no provider is configured; the insight
// service then answers from the local fallback only.
func newInsightClient(cfg config.InsightConfig) *insight.Client {
	var provider insight.Provider
	switch cfg.Provider {
	case "gemini":
		if cfg.APIKey == "" {
			return nil
		}
		var opts []gemini.Option
		if cfg.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.BaseURL))
		}
		provider = insightgemini.New(gemini.New(cfg.APIKey, cfg.Model, opts...))
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		provider = insightopenai.New(cfg.APIKey, cfg.Model, cfg.BaseURL)
	default:
		return nil
	}
	return insight.NewClient(provider,
		insight.WithMaxAttempts(cfg.MaxAttempts),
		insight.WithAttemptTimeout(cfg.AttemptTimeout),
		insight.WithBaseDelay(cfg.BaseDelay),
	)
}

// NewLimiters builds the transcription and insight limiters described by rl.
func NewLimiters(rl config.RateLimitConfig) (transcribe, insights *ratelimit.Limiter) {
	if !rl.Enabled {
		return nil, nil
	}
	build := func(r config.RouteLimit) *ratelimit.Limiter {
		if r.Requests <= 0 {
			return nil
		}
		return ratelimit.New(r.Requests, r.Window)
	}
	return build(rl.Transcribe), build(rl.Insights)
}

// NewChatSession creates an orchestrator whose microphone is device. Its
// transcript and answer events are forwarded to the event bridge.
func (a *Application) NewChatSession(device capture.Device, opts ...chat.Option) *chat.Orchestrator {
	c := a.Cfg.Capture
	recorder := capture.NewRecorder(device, capture.Limits{
		ChunkInterval: c.ChunkInterval,
		MaxDuration:   c.MaxDuration,
		MaxBytes:      c.MaxBytes,
	})
	constraints := capture.DefaultConstraints()
	if c.SampleRateHz > 0 {
		constraints.SampleRateHz = c.SampleRateHz
	}

	base := []chat.Option{
		chat.WithConstraints(constraints),
		chat.WithAutoSubmit(a.Cfg.Chat.AutoSubmit),
	}
	o := chat.New(chat.Deps{
		Recorder:    recorder,
		Assembler:   audio.NewAssembler(c.MinBytes),
		Transcriber: a.Transcriber,
		Responder:   a.Insights,
		Analytics:   a.Analytics,
	}, append(base, opts...)...)

	if a.Bridge != nil {
		o.Subscribe(a.Bridge.Listener())
	}
	return o
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ready reports whether the analytics store is reachable.
func (a *Application) Ready(ctx context.Context) error {
	if p, ok := a.Analytics.(pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Start performs any startup work required before serving traffic.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()
	a.Logger.Info().
		Str("method", "Start").
		Time("startupTime", a.StartupTime).
		Msg("CRM insight service starting")
	return nil
}

// Shutdown drains pending events and releases resources.
func (a *Application) Shutdown() {
	a.Logger.Info().Str("method", "Shutdown").Msg("CRM insight service shutting down")

	if a.Bridge != nil {
		a.Bridge.Close()
	}
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i].Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.Logger.Error().Err(err).Msg("error releasing resources")
	}
}

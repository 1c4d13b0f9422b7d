// Package config loads service configuration from an optional YAML file and
// environment variables. Environment variables always win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Insight       InsightConfig       `yaml:"insight"`
	Capture       CaptureConfig       `yaml:"capture"`
	Chat          ChatConfig          `yaml:"chat"`
	Analytics     AnalyticsConfig     `yaml:"analytics"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds listener and identity settings.
type ServiceConfig struct {
	Principal       string        `yaml:"principal"`
	HTTPPort        string        `yaml:"http_port"`
	GRPCPort        string        `yaml:"grpc_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TranscriptionConfig selects and configures the speech-to-text provider.
type TranscriptionConfig struct {
	Provider     string `yaml:"provider"` // gemini, google, mock
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	BaseURL      string `yaml:"base_url"`
	LanguageCode string `yaml:"language_code"`
	TempDir      string `yaml:"temp_dir"`
	MaxBytes     int64  `yaml:"max_bytes"`
	MockText     string `yaml:"mock_text"`
}

// InsightConfig selects and configures the insight provider.
type InsightConfig struct {
	Provider       string        `yaml:"provider"` // gemini, openai, none
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	BaseURL        string        `yaml:"base_url"`
	MaxAttempts    int           `yaml:"max_attempts"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	BaseDelay      time.Duration `yaml:"base_delay"`
}

// CaptureConfig holds server-side capture session limits.
type CaptureConfig struct {
	SampleRateHz  int           `yaml:"sample_rate_hz"`
	ChunkInterval time.Duration `yaml:"chunk_interval"`
	MaxDuration   time.Duration `yaml:"max_duration"`
	MaxBytes      int64         `yaml:"max_bytes"`
	MinBytes      int           `yaml:"min_bytes"`
}

// ChatConfig holds chat orchestration behaviour.
type ChatConfig struct {
	AutoSubmit bool `yaml:"auto_submit"`
}

// AnalyticsConfig selects the analytics snapshot source.
// An empty DatabaseURL serves the built-in demo snapshot.
type AnalyticsConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// RateLimitConfig bounds requests per client IP on the public API. Each
// route has its own budget; Requests 0 leaves that route unlimited.
type RateLimitConfig struct {
	Enabled    bool       `yaml:"enabled"`
	Transcribe RouteLimit `yaml:"transcribe"`
	Insights   RouteLimit `yaml:"insights"`
}

// RouteLimit is a burst of Requests refilled evenly over Window.
type RouteLimit struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// KafkaConfig holds event publishing settings.
type KafkaConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TopicTranscript string   `yaml:"topic_transcript"`
	TopicInsight    string   `yaml:"topic_insight"`
	Principal       string   `yaml:"principal"`
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsPort string `yaml:"metrics_port"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Service: ServiceConfig{
			Principal:       "svc-crm-insight",
			HTTPPort:        "8080",
			GRPCPort:        "50051",
			ShutdownTimeout: 10 * time.Second,
		},
		Transcription: TranscriptionConfig{
			Provider:     "mock",
			Model:        "gemini-2.5-flash",
			LanguageCode: "en-US",
			TempDir:      os.TempDir(),
			MaxBytes:     100 * 1024 * 1024,
			MockText:     "Show me the conversion rate for this quarter.",
		},
		Insight: InsightConfig{
			Provider:       "gemini",
			Model:          "gemini-2.5-flash",
			MaxAttempts:    3,
			AttemptTimeout: 30 * time.Second,
			BaseDelay:      time.Second,
		},
		Capture: CaptureConfig{
			SampleRateHz:  16000,
			ChunkInterval: time.Second,
			MaxDuration:   15 * time.Second,
			MaxBytes:      10 * 1024 * 1024,
			MinBytes:      2048,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			// Every upload costs a provider upload plus a generation call.
			Transcribe: RouteLimit{Requests: 10, Window: time.Minute},
			// Questions fall back to local answers, so this only caps abuse.
			Insights: RouteLimit{Requests: 60, Window: time.Minute},
		},
		Kafka: KafkaConfig{
			TopicTranscript: "crm.chat.transcript.completed",
			TopicInsight:    "crm.chat.insight.answered",
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			MetricsPort: "9090",
		},
	}
}

// Load builds the configuration from defaults, the optional CONFIG_FILE and the environment.
// A missing or unreadable CONFIG_FILE is ignored.
func Load() *Config {
	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if fileCfg, err := LoadFile(path); err == nil {
			cfg = *fileCfg
		}
	}
	applyEnv(&cfg)
	return &cfg
}

// LoadFile reads a YAML configuration file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Service
	s.Principal = envOrDefault("SERVICE_PRINCIPAL", s.Principal)
	s.HTTPPort = envOrDefault("HTTP_PORT", s.HTTPPort)
	s.GRPCPort = envOrDefault("GRPC_PORT", s.GRPCPort)
	s.ShutdownTimeout = envOrDefaultDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)

	t := &cfg.Transcription
	t.Provider = envOrDefault("STT_PROVIDER", t.Provider)
	t.APIKey = envOrDefault("GEMINI_API_KEY", t.APIKey)
	t.Model = envOrDefault("STT_MODEL", t.Model)
	t.BaseURL = envOrDefault("STT_BASE_URL", t.BaseURL)
	t.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", t.LanguageCode)
	t.TempDir = envOrDefault("STT_TEMP_DIR", t.TempDir)
	t.MaxBytes = envOrDefaultInt64("STT_MAX_BYTES", t.MaxBytes)
	t.MockText = envOrDefault("STT_MOCK_TEXT", t.MockText)

	in := &cfg.Insight
	in.Provider = envOrDefault("INSIGHT_PROVIDER", in.Provider)
	in.APIKey = envOrDefault("INSIGHT_API_KEY", envOrDefault("GEMINI_API_KEY", in.APIKey))
	in.Model = envOrDefault("INSIGHT_MODEL", in.Model)
	in.BaseURL = envOrDefault("INSIGHT_BASE_URL", in.BaseURL)
	in.MaxAttempts = envOrDefaultInt("INSIGHT_MAX_ATTEMPTS", in.MaxAttempts)
	in.AttemptTimeout = envOrDefaultDuration("INSIGHT_ATTEMPT_TIMEOUT", in.AttemptTimeout)
	in.BaseDelay = envOrDefaultDuration("INSIGHT_BASE_DELAY", in.BaseDelay)

	c := &cfg.Capture
	c.SampleRateHz = envOrDefaultInt("CAPTURE_SAMPLE_RATE_HZ", c.SampleRateHz)
	c.ChunkInterval = envOrDefaultDuration("CAPTURE_CHUNK_INTERVAL", c.ChunkInterval)
	c.MaxDuration = envOrDefaultDuration("CAPTURE_MAX_DURATION", c.MaxDuration)
	c.MaxBytes = envOrDefaultInt64("CAPTURE_MAX_BYTES", c.MaxBytes)
	c.MinBytes = envOrDefaultInt("CAPTURE_MIN_BYTES", c.MinBytes)

	cfg.Chat.AutoSubmit = envOrDefaultBool("CHAT_AUTO_SUBMIT", cfg.Chat.AutoSubmit)

	cfg.Analytics.DatabaseURL = envOrDefault("DATABASE_URL", cfg.Analytics.DatabaseURL)

	r := &cfg.RateLimit
	r.Enabled = envOrDefaultBool("RATE_LIMIT_ENABLED", r.Enabled)
	r.Transcribe.Requests = envOrDefaultInt("RATE_LIMIT_TRANSCRIBE_REQUESTS", r.Transcribe.Requests)
	r.Transcribe.Window = envOrDefaultDuration("RATE_LIMIT_TRANSCRIBE_WINDOW", r.Transcribe.Window)
	r.Insights.Requests = envOrDefaultInt("RATE_LIMIT_INSIGHTS_REQUESTS", r.Insights.Requests)
	r.Insights.Window = envOrDefaultDuration("RATE_LIMIT_INSIGHTS_WINDOW", r.Insights.Window)

	k := &cfg.Kafka
	k.Enabled = envOrDefaultBool("KAFKA_ENABLED", k.Enabled)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k.Brokers = splitList(brokers)
	}
	k.TopicTranscript = envOrDefault("KAFKA_TOPIC_TRANSCRIPT", k.TopicTranscript)
	k.TopicInsight = envOrDefault("KAFKA_TOPIC_INSIGHT", k.TopicInsight)
	k.Principal = envOrDefault("KAFKA_PRINCIPAL", k.Principal)
	if k.Principal == "" {
		k.Principal = s.Principal
	}

	o := &cfg.Observability
	o.LogLevel = envOrDefault("LOG_LEVEL", o.LogLevel)
	o.LogFormat = envOrDefault("LOG_FORMAT", o.LogFormat)
	o.MetricsPort = envOrDefault("METRICS_PORT", o.MetricsPort)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.Transcription.Provider {
	case "mock", "google":
	case "gemini":
		if c.Transcription.APIKey == "" {
			errs = append(errs, errors.New("transcription: gemini provider requires GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("transcription: unknown provider %q", c.Transcription.Provider))
	}
	if c.Transcription.MaxBytes <= 0 {
		errs = append(errs, errors.New("transcription: max_bytes must be positive"))
	}

	switch c.Insight.Provider {
	case "gemini", "openai", "none", "":
	default:
		errs = append(errs, fmt.Errorf("insight: unknown provider %q", c.Insight.Provider))
	}
	if c.Insight.MaxAttempts < 1 {
		errs = append(errs, errors.New("insight: max_attempts must be at least 1"))
	}
	if c.Insight.AttemptTimeout <= 0 {
		errs = append(errs, errors.New("insight: attempt_timeout must be positive"))
	}

	if c.Capture.ChunkInterval <= 0 {
		errs = append(errs, errors.New("capture: chunk_interval must be positive"))
	}
	if c.Capture.MaxDuration <= 0 {
		errs = append(errs, errors.New("capture: max_duration must be positive"))
	}

	if c.RateLimit.Enabled {
		routes := []struct {
			name string
			RouteLimit
		}{{"transcribe", c.RateLimit.Transcribe}, {"insights", c.RateLimit.Insights}}
		for _, rl := range routes {
			if rl.Requests < 0 || (rl.Requests > 0 && rl.Window <= 0) {
				errs = append(errs, fmt.Errorf("rate_limit.%s: requests must not be negative and window must be positive", rl.name))
			}
		}
	}

	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka: enabled without brokers"))
	}

	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

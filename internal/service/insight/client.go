package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
)

const (
	DefaultMaxAttempts    = 3
	DefaultAttemptTimeout = 30 * time.Second
	DefaultBaseDelay      = time.Second
)

// SystemInstruction grounds the model in the CRM snapshot appended after it.
const SystemInstruction = `You are an AI analytics assistant for a real estate CRM system. Analyze the provided analytics data and answer the user's question about their real estate business performance. Be concise, professional, and provide actionable insights.`

const answerGuidance = `Provide clear, data-driven insights based on the question. Format your response with emojis and clear sections.`

// ErrEmptyQuestion is returned for a blank question.
var ErrEmptyQuestion = errors.New("insight: question is empty")

// Client sends analytics questions to a Provider with retries.
type Client struct {
	provider       Provider
	params         GenerationParams
	maxAttempts    int
	attemptTimeout time.Duration
	baseDelay      time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option customizes the client.
type Option func(*Client)

// WithMaxAttempts sets the total number of attempts (defaults to 3).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAttemptTimeout bounds each attempt (defaults to 30s).
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithBaseDelay sets the backoff base. The wait after attempt n is base·2^n.
func WithBaseDelay(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.baseDelay = d
		}
	}
}

// WithParams overrides the generation parameters.
func WithParams(p GenerationParams) Option {
	return func(c *Client) {
		c.params = p
	}
}

// WithSleeper overrides how backoff waits are performed (useful for tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient creates a client for provider.
func NewClient(provider Provider, opts ...Option) *Client {
	c := &Client{
		provider:       provider,
		params:         DefaultParams(),
		maxAttempts:    DefaultMaxAttempts,
		attemptTimeout: DefaultAttemptTimeout,
		baseDelay:      DefaultBaseDelay,
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ProviderName returns the backend name, or "" without a provider.
func (c *Client) ProviderName() string {
	if c == nil || c.provider == nil {
		return ""
	}
	return c.provider.Name()
}

// BuildPrompt embeds the snapshot as indented JSON after the instruction.
func BuildPrompt(question string, snap analytics.Snapshot) (Prompt, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Prompt{}, fmt.Errorf("encode snapshot: %w", err)
	}
	var b strings.Builder
	b.WriteString(SystemInstruction)
	b.WriteString("\n\nAvailable analytics data:\n")
	b.Write(data)
	b.WriteString("\n\n")
	b.WriteString(answerGuidance)
	return Prompt{System: b.String(), Question: strings.TrimSpace(question)}, nil
}

// GenerateInsight asks the provider about question. A response without text
// yields "" and no error. Every failure, including cancellation, is an *Error.
func (c *Client) GenerateInsight(ctx context.Context, question string, snap analytics.Snapshot) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	if c == nil || c.provider == nil {
		return "", &Error{Kind: KindNoProvider, Message: "no insight provider configured"}
	}
	prompt, err := BuildPrompt(question, snap)
	if err != nil {
		return "", &Error{Kind: KindUnknown, Message: err.Error(), Err: err}
	}

	name := c.provider.Name()
	logger := logging.WithProvider("insight", name)
	var lastErr error
	var lastKind Kind

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		start := time.Now()
		resp, err := c.attempt(ctx, prompt)
		metrics.DefaultMetrics.RecordInsightLatency(name, time.Since(start).Seconds())
		if err == nil {
			metrics.DefaultMetrics.RecordInsightAttempt(name, "ok")
			return strings.TrimSpace(resp.Text()), nil
		}

		lastErr, lastKind = err, classify(ctx, err)
		metrics.DefaultMetrics.RecordInsightAttempt(name, lastKind.String())
		logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", c.maxAttempts).
			Str("kind", lastKind.String()).
			Msg("Insight attempt failed")

		if lastKind == KindCancelled {
			return "", &Error{Kind: KindCancelled, Attempts: attempt, Message: err.Error(), Err: err}
		}
		if attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
			return "", &Error{Kind: KindCancelled, Attempts: attempt, Message: err.Error(), Err: err}
		}
	}

	return "", &Error{Kind: lastKind, Attempts: c.maxAttempts, Message: lastErr.Error(), Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, prompt Prompt) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()
	return c.provider.Generate(attemptCtx, prompt, c.params)
}

// backoff returns the wait after the given 1-based attempt: base·2^attempt.
func (c *Client) backoff(attempt int) time.Duration {
	return c.baseDelay * time.Duration(1<<attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Package transcription turns recorded audio into text through an STT provider,
// owning the transient artifact lifecycle and the error taxonomy.
package transcription

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
	"crm-insight-service/internal/service/stt"
	"crm-insight-service/internal/storage"
)

const (
	// DefaultInstruction asks the provider for a plain transcript.
	DefaultInstruction = "Generate a transcript of the speech. Please provide a clean, accurate transcription of the audio content."
	// DefaultMaxBytes is the largest accepted upload.
	DefaultMaxBytes = 100 * 1024 * 1024

	cleanupTimeout = 10 * time.Second
)

// Result is a successful transcription.
type Result struct {
	Text        string
	Filename    string
	MIMEType    string
	SizeBytes   int
	Provider    string
	ProcessedAt time.Time
}

// Client transcribes one recording per call. Calls are independent and may run concurrently.
type Client struct {
	provider    stt.Provider
	store       storage.Store
	instruction string
	maxBytes    int64
	now         func() time.Time
	log         zerolog.Logger
	metrics     *metrics.Metrics
}

// Option customizes the client.
type Option func(*Client)

// WithInstruction overrides the transcription instruction.
func WithInstruction(instruction string) Option {
	return func(c *Client) {
		if s := strings.TrimSpace(instruction); s != "" {
			c.instruction = s
		}
	}
}

// WithMaxBytes overrides the upload size limit.
func WithMaxBytes(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a client.
func New(provider stt.Provider, store storage.Store, opts ...Option) *Client {
	c := &Client{
		provider:    provider,
		store:       store,
		instruction: DefaultInstruction,
		maxBytes:    DefaultMaxBytes,
		now:         time.Now,
		metrics:     metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logging.WithProvider("transcription", c.providerName())
	return c
}

// MaxBytes returns the upload size limit.
func (c *Client) MaxBytes() int64 {
	return c.maxBytes
}

func (c *Client) providerName() string {
	if c.provider == nil {
		return "none"
	}
	return c.provider.Name()
}

// Transcribe validates, stores, uploads and transcribes a. The transient
// artifact is always deleted before returning.
func (c *Client) Transcribe(ctx context.Context, a Audio) (res *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = KindOf(err).String()
		}
		c.metrics.RecordTranscription(c.providerName(), outcome, time.Since(start).Seconds())
	}()

	if c.provider == nil {
		return nil, newError(KindInvalidCredentials, nil, "no transcription provider configured")
	}
	req, err := NewRequest(a, c.now())
	if err != nil {
		return nil, err
	}
	if int64(len(req.Data)) > c.maxBytes {
		return nil, newError(KindInvalidFormat, nil, "audio is %d bytes, limit is %d", len(req.Data), c.maxBytes)
	}

	handle, err := c.store.Write(ctx, req.Filename, req.Data)
	if err != nil {
		return nil, newError(KindUnknown, err, "store audio")
	}
	var artifact *stt.Artifact
	defer c.cleanup(ctx, handle, &artifact)

	log := c.log.With().Str("filename", req.Filename).Str("mimeType", req.MIMEType).Logger()
	log.Debug().Int("bytes", len(req.Data)).Msg("Audio stored for transcription")

	body, err := c.store.Open(ctx, handle)
	if err != nil {
		return nil, newError(KindUnknown, err, "open stored audio")
	}
	uploaded, err := c.provider.Upload(ctx, stt.UploadRequest{
		Body:        body,
		Size:        int64(len(req.Data)),
		MIMEType:    req.MIMEType,
		DisplayName: req.Filename,
	})
	body.Close()
	if err != nil {
		log.Warn().Err(err).Msg("Upload failed")
		if errors.Is(err, stt.ErrInvalidCredentials) {
			return nil, newError(KindInvalidCredentials, err, "upload rejected")
		}
		return nil, newError(KindUploadFailed, err, "upload")
	}
	artifact = &uploaded
	if artifact.MIMEType == "" {
		artifact.MIMEType = req.MIMEType
	}

	text, err := c.provider.Generate(ctx, *artifact, c.instruction)
	if err != nil {
		log.Warn().Err(err).Msg("Transcript generation failed")
		if errors.Is(err, stt.ErrInvalidCredentials) {
			return nil, newError(KindInvalidCredentials, err, "generation rejected")
		}
		return nil, newError(KindGenerationFailed, err, "generate")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, newError(KindGenerationFailed, nil, "provider returned an empty transcript")
	}

	log.Info().Int("chars", len(text)).Dur("latency", time.Since(start)).Msg("Transcription completed")
	return &Result{
		Text:        text,
		Filename:    req.Filename,
		MIMEType:    req.MIMEType,
		SizeBytes:   len(req.Data),
		Provider:    c.providerName(),
		ProcessedAt: c.now().UTC(),
	}, nil
}

// cleanup runs on every exit path. It ignores caller cancellation so a
// cancelled request still removes its artifacts.
func (c *Client) cleanup(ctx context.Context, h storage.Handle, artifact **stt.Artifact) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := c.store.Delete(ctx, h); err != nil {
		c.metrics.RecordCleanupFailure("local")
		c.log.Warn().Err(err).Str("filename", h.Name).Msg("Failed to delete transient audio")
	}
	if *artifact == nil {
		return
	}
	if cl, ok := c.provider.(stt.Cleaner); ok {
		if err := cl.Delete(ctx, **artifact); err != nil {
			c.metrics.RecordCleanupFailure("provider")
			c.log.Warn().Str("artifact", (*artifact).Name).Str("error", Redact(err.Error())).Msg("Failed to delete provider artifact")
		}
	}
}

// TranscribeReader is Transcribe for streamed uploads, enforcing the size
// limit while reading.
func (c *Client) TranscribeReader(ctx context.Context, r io.Reader, mimeType, filename string) (*Result, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, c.maxBytes+1))
	if err != nil {
		return nil, newError(KindUnknown, err, "read upload")
	}
	if n > c.maxBytes {
		return nil, newError(KindInvalidFormat, nil, "audio exceeds %d bytes", c.maxBytes)
	}
	return c.Transcribe(ctx, Audio{Data: buf.Bytes(), MIMEType: mimeType, Filename: filename})
}

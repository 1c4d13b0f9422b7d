// Package mock provides a mock STT provider for local development without
// cloud credentials. It returns a fixed transcript for every upload.
package mock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"crm-insight-service/internal/service/stt"
)

// DefaultTranscript is returned when no transcript is configured.
const DefaultTranscript = "Show me the conversion rate for this quarter."

// Adapter implements stt.Provider and stt.Cleaner with a fixed response.
type Adapter struct {
	transcript string

	mu      sync.Mutex
	uploads int
	live    map[string]struct{}
}

// New creates a mock provider. An empty transcript selects DefaultTranscript.
func New(transcript string) *Adapter {
	if transcript == "" {
		transcript = DefaultTranscript
	}
	return &Adapter{transcript: transcript, live: make(map[string]struct{})}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "mock"
}

// Upload drains the body and records a live artifact.
func (a *Adapter) Upload(ctx context.Context, req stt.UploadRequest) (stt.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return stt.Artifact{}, err
	}
	if _, err := io.Copy(io.Discard, req.Body); err != nil {
		return stt.Artifact{}, fmt.Errorf("read audio: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.uploads++
	name := fmt.Sprintf("mock/%d", a.uploads)
	a.live[name] = struct{}{}
	return stt.Artifact{Name: name, URI: "mock://" + name, MIMEType: req.MIMEType}, nil
}

// Generate returns the configured transcript.
func (a *Adapter) Generate(ctx context.Context, art stt.Artifact, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a.mu.Lock()
	_, ok := a.live[art.Name]
	a.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("mock: unknown artifact %q", art.Name)
	}
	return a.transcript, nil
}

// Delete forgets an uploaded artifact.
func (a *Adapter) Delete(_ context.Context, art stt.Artifact) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.live, art.Name)
	return nil
}

// Live returns the number of artifacts uploaded and not yet deleted.
func (a *Adapter) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

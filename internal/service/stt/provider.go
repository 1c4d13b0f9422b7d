// Package stt defines the interface for batch Speech-to-Text providers.
package stt

import (
	"context"
	"errors"
	"io"
)

// ErrInvalidCredentials is returned (wrapped) by providers when the
// configured credentials are missing or rejected.
var ErrInvalidCredentials = errors.New("stt: invalid provider credentials")

// UploadRequest describes audio handed to a provider.
type UploadRequest struct {
	Body        io.Reader
	Size        int64
	MIMEType    string
	DisplayName string
}

// Artifact is the provider-side handle for uploaded audio.
// Providers without a files API keep the bytes in Content.
type Artifact struct {
	Name     string
	URI      string
	MIMEType string
	Content  []byte
}

// Provider defines the interface for STT providers (Gemini, Google, etc.).
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// Upload makes the audio available to the provider.
	Upload(ctx context.Context, req UploadRequest) (Artifact, error)

	// Generate produces a transcript of an uploaded artifact.
	Generate(ctx context.Context, a Artifact, instruction string) (string, error)
}

// Cleaner is implemented by providers that retain uploaded artifacts.
type Cleaner interface {
	Delete(ctx context.Context, a Artifact) error
}

// Package gemini provides a Gemini files API + generateContent STT provider.
package gemini

import (
	"context"
	"fmt"
	"strings"

	"crm-insight-service/internal/gemini"
	"crm-insight-service/internal/service/stt"
)

// Provider implements stt.Provider and stt.Cleaner on the Gemini REST API.
type Provider struct {
	client *gemini.Client
}

// New creates a provider using client.
func New(client *gemini.Client) *Provider {
	return &Provider{client: client}
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "gemini"
}

// Upload sends the audio to the Gemini files API.
func (p *Provider) Upload(ctx context.Context, req stt.UploadRequest) (stt.Artifact, error) {
	f, err := p.client.UploadFile(ctx, req.DisplayName, req.MIMEType, req.Body)
	if err != nil {
		return stt.Artifact{}, classify(err)
	}
	return stt.Artifact{Name: f.Name, URI: f.URI, MIMEType: f.MIMEType}, nil
}

// Generate asks the model to transcribe the uploaded file.
func (p *Provider) Generate(ctx context.Context, a stt.Artifact, instruction string) (string, error) {
	resp, err := p.client.GenerateContent(ctx, gemini.GenerateRequest{
		Contents: []gemini.Content{{
			Role: "user",
			Parts: []gemini.Part{
				{FileData: &gemini.FileData{MIMEType: a.MIMEType, FileURI: a.URI}},
				{Text: instruction},
			},
		}},
	})
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Delete removes the uploaded file.
func (p *Provider) Delete(ctx context.Context, a stt.Artifact) error {
	return p.client.DeleteFile(ctx, a.Name)
}

func classify(err error) error {
	if gemini.IsAuthError(err) {
		return fmt.Errorf("%w: %v", stt.ErrInvalidCredentials, err)
	}
	return err
}

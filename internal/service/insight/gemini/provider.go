// Package gemini answers insight prompts with Gemini generateContent.
package gemini

import (
	"context"
	"errors"
	"net/http"

	"crm-insight-service/internal/gemini"
	"crm-insight-service/internal/service/insight"
)

// Provider implements insight.Provider.
type Provider struct {
	client *gemini.Client
}

func New(client *gemini.Client) *Provider {
	return &Provider{client: client}
}

func (p *Provider) Name() string {
	return "gemini"
}

// Generate sends the prompt as a single user turn.
func (p *Provider) Generate(ctx context.Context, prompt insight.Prompt, params insight.GenerationParams) (*insight.Response, error) {
	resp, err := p.client.GenerateContent(ctx, gemini.GenerateRequest{
		Contents: []gemini.Content{{
			Parts: []gemini.Part{{Text: prompt.Text()}},
		}},
		GenerationConfig: &gemini.GenerationConfig{
			Temperature:     params.Temperature,
			MaxOutputTokens: params.MaxOutputTokens,
			TopP:            params.TopP,
			TopK:            params.TopK,
		},
	})
	if err != nil {
		return nil, statusError(err)
	}

	out := &insight.Response{}
	for _, c := range resp.Candidates {
		var cand insight.Candidate
		if c.Content != nil {
			for _, part := range c.Content.Parts {
				cand.Parts = append(cand.Parts, insight.Part{Text: part.Text})
			}
		}
		out.Candidates = append(out.Candidates, cand)
	}
	return out, nil
}

// statusError converts API errors so the client can classify them. An
// invalid key arrives as 400 and is reported as 401.
func statusError(err error) error {
	var apiErr *gemini.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := apiErr.StatusCode
	if gemini.IsAuthError(err) {
		code = http.StatusUnauthorized
	}
	return &insight.StatusError{Provider: "gemini", StatusCode: code, Message: apiErr.Message}
}

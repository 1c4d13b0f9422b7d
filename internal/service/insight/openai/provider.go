// Package openai answers insight prompts with OpenAI chat completions.
package openai

import (
	"context"
	"errors"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"

	"crm-insight-service/internal/service/insight"
)

const DefaultModel = goopenai.GPT4oMini

// Provider implements insight.Provider.
type Provider struct {
	client *goopenai.Client
	model  string
}

// New creates a provider. baseURL may be empty for the public API.
func New(apiKey, model, baseURL string) *Provider {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = DefaultModel
	}
	return &Provider{client: goopenai.NewClientWithConfig(cfg), model: model}
}

func (p *Provider) Name() string {
	return "openai"
}

// Generate sends the instruction as the system message and the question as
// the user message. TopK has no OpenAI equivalent and is ignored.
func (p *Provider) Generate(ctx context.Context, prompt insight.Prompt, params insight.GenerationParams) (*insight.Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: p.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: goopenai.ChatMessageRoleUser, Content: prompt.Question},
		},
		Temperature: float32(params.Temperature),
		TopP:        float32(params.TopP),
		MaxTokens:   params.MaxOutputTokens,
	})
	if err != nil {
		return nil, statusError(err)
	}

	out := &insight.Response{}
	for _, choice := range resp.Choices {
		out.Candidates = append(out.Candidates, insight.Candidate{
			Parts: []insight.Part{{Text: choice.Message.Content}},
		})
	}
	return out, nil
}

func statusError(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return &insight.StatusError{Provider: "openai", StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode >= http.StatusBadRequest {
		return &insight.StatusError{Provider: "openai", StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return err
}

// Package insight answers analytics questions with a generative model,
// falling back to local heuristics when the model cannot be reached.
package insight

import (
	"context"
	"fmt"
)

// GenerationParams are the sampling parameters sent with every prompt.
type GenerationParams struct {
	Temperature     float64
	MaxOutputTokens int
	TopP            float64
	TopK            int
}

// DefaultParams favours focused, factual answers.
func DefaultParams() GenerationParams {
	return GenerationParams{
		Temperature:     0.3,
		MaxOutputTokens: 1500,
		TopP:            0.8,
		TopK:            40,
	}
}

// Prompt is a single-turn request: the grounding instruction plus the question.
type Prompt struct {
	System   string
	Question string
}

// Text renders the prompt as one message for providers without system roles.
func (p Prompt) Text() string {
	return p.System + "\n\nUser question: " + p.Question
}

// Part is one piece of a candidate answer.
type Part struct {
	Text string
}

// Candidate is one generated answer.
type Candidate struct {
	Parts []Part
}

// Response is what a provider produced for a prompt.
type Response struct {
	Candidates []Candidate
}

// Text returns the first part of the first candidate, or "" for any other shape.
func (r *Response) Text() string {
	if r == nil || len(r.Candidates) == 0 || len(r.Candidates[0].Parts) == 0 {
		return ""
	}
	return r.Candidates[0].Parts[0].Text
}

// Provider is a generative model backend.
type Provider interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt, params GenerationParams) (*Response, error)
}

// StatusError is returned by providers when the backend answered with a non-2xx status.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: http %d: %s", e.Provider, e.StatusCode, e.Message)
}

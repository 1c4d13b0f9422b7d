package insight

import (
	"context"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/observability/metrics"
)

const (
	SourceProvider = "provider"
	SourceFallback = "fallback"
)

// Answer is what the chat shows for a question. Err records why the provider
// was bypassed when Source is SourceFallback.
type Answer struct {
	Content  string
	Kind     ContentKind
	Source   string
	Provider string
	Err      error
}

// Service answers questions and never fails: provider errors and empty
// responses degrade to the local heuristics.
type Service struct {
	client *Client
	logger zerolog.Logger
}

// NewService wraps client. A nil client answers from heuristics only.
func NewService(client *Client) *Service {
	return &Service{
		client: client,
		logger: logging.WithComponent("insight"),
	}
}

// Available reports whether a provider is configured.
func (s *Service) Available() bool {
	return s.client.ProviderName() != ""
}

// Answer responds to question using snap as the only data source.
func (s *Service) Answer(ctx context.Context, question string, snap analytics.Snapshot) Answer {
	text, err := s.client.GenerateInsight(ctx, question, snap)
	if err == nil && text != "" {
		metrics.DefaultMetrics.RecordInsightAnswer(SourceProvider)
		return Answer{
			Content:  text,
			Kind:     ContentInsight,
			Source:   SourceProvider,
			Provider: s.client.ProviderName(),
		}
	}

	if err != nil {
		s.logger.Warn().Err(err).Str("kind", KindOf(err).String()).Msg("Falling back to local insight")
	} else {
		s.logger.Warn().Msg("Provider returned no text, falling back to local insight")
	}
	content, kind := Fallback(question, snap)
	metrics.DefaultMetrics.RecordInsightAnswer(SourceFallback)
	return Answer{
		Content: content,
		Kind:    kind,
		Source:  SourceFallback,
		Err:     err,
	}
}

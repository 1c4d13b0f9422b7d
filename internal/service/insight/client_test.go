package insight

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-insight-service/internal/analytics"
)

// testProvider replays results in order; the last one repeats.
type testProvider struct {
	mu      sync.Mutex
	results []result
	calls   int
	prompts []Prompt
	params  []GenerationParams
	block   bool
}

type result struct {
	resp *Response
	err  error
}

func textResponse(s string) *Response {
	return &Response{Candidates: []Candidate{{Parts: []Part{{Text: s}}}}}
}

func (p *testProvider) Name() string { return "test" }

func (p *testProvider) Generate(ctx context.Context, prompt Prompt, params GenerationParams) (*Response, error) {
	p.mu.Lock()
	i := p.calls
	p.calls++
	p.prompts = append(p.prompts, prompt)
	p.params = append(p.params, params)
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i >= len(p.results) {
		i = len(p.results) - 1
	}
	return p.results[i].resp, p.results[i].err
}

func recordSleeps(out *[]time.Duration) Option {
	return WithSleeper(func(ctx context.Context, d time.Duration) error {
		*out = append(*out, d)
		return ctx.Err()
	})
}

func TestGenerateInsight_Success(t *testing.T) {
	p := &testProvider{results: []result{{resp: textResponse("  Conversion is healthy.  ")}}}
	c := NewClient(p)

	text, err := c.GenerateInsight(context.Background(), "What's our conversion rate?", analytics.DefaultSnapshot())
	if err != nil {
		t.Fatalf("GenerateInsight: %v", err)
	}
	if text != "Conversion is healthy." {
		t.Errorf("unexpected text %q", text)
	}
	if p.calls != 1 {
		t.Errorf("expected 1 call, got %d", p.calls)
	}
	if p.params[0] != DefaultParams() {
		t.Errorf("expected default params, got %+v", p.params[0])
	}
	if !strings.Contains(p.prompts[0].System, `"funnelData"`) || !strings.Contains(p.prompts[0].System, "Olive Heights") {
		t.Error("expected snapshot JSON in prompt")
	}
	if !strings.HasSuffix(p.prompts[0].Text(), "User question: What's our conversion rate?") {
		t.Errorf("unexpected prompt tail %q", p.prompts[0].Text())
	}
}

func TestGenerateInsight_RetriesWithIncreasingDelay(t *testing.T) {
	p := &testProvider{results: []result{{err: &StatusError{Provider: "test", StatusCode: http.StatusInternalServerError, Message: "boom"}}}}
	var slept []time.Duration
	c := NewClient(p, recordSleeps(&slept))

	_, err := c.GenerateInsight(context.Background(), "trend?", analytics.DefaultSnapshot())
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if p.calls != 3 {
		t.Errorf("expected 3 calls, got %d", p.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) {
		t.Fatalf("expected sleeps %v, got %v", want, slept)
	}
	for i := range want {
		if slept[i] != want[i] {
			t.Errorf("sleep %d: expected %v, got %v", i, want[i], slept[i])
		}
	}

	var ie *Error
	if !errors.As(err, &ie) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ie.Kind != KindServerError || ie.Attempts != 3 {
		t.Errorf("unexpected error %+v", ie)
	}
}

func TestGenerateInsight_RecoversOnSecondAttempt(t *testing.T) {
	p := &testProvider{results: []result{
		{err: &StatusError{Provider: "test", StatusCode: http.StatusTooManyRequests, Message: "slow down"}},
		{resp: textResponse("ok")},
	}}
	var slept []time.Duration
	c := NewClient(p, recordSleeps(&slept))

	text, err := c.GenerateInsight(context.Background(), "q", analytics.DefaultSnapshot())
	if err != nil || text != "ok" {
		t.Fatalf("expected recovery, got %q %v", text, err)
	}
	if p.calls != 2 || len(slept) != 1 {
		t.Errorf("expected 2 calls and 1 sleep, got %d and %d", p.calls, len(slept))
	}
}

func TestGenerateInsight_SucceedsOnFinalAttempt(t *testing.T) {
	serverErr := &StatusError{Provider: "test", StatusCode: http.StatusInternalServerError, Message: "boom"}
	p := &testProvider{results: []result{
		{err: serverErr},
		{err: serverErr},
		{resp: textResponse("third time lucky")},
	}}
	var slept []time.Duration
	c := NewClient(p, recordSleeps(&slept))

	text, err := c.GenerateInsight(context.Background(), "Which property is performing best?", analytics.DefaultSnapshot())
	if err != nil {
		t.Fatalf("expected success on the last attempt, got %v", err)
	}
	if text != "third time lucky" {
		t.Errorf("unexpected text %q", text)
	}
	if p.calls != 3 {
		t.Errorf("expected 3 calls, got %d", p.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(slept) != len(want) || slept[0] != want[0] || slept[1] != want[1] {
		t.Errorf("expected sleeps %v, got %v", want, slept)
	}
}

func TestGenerateInsight_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", &StatusError{StatusCode: 429}, KindRateLimited},
		{"unauthorized", &StatusError{StatusCode: 401}, KindAuthFailed},
		{"forbidden", &StatusError{StatusCode: 403}, KindAuthFailed},
		{"server", &StatusError{StatusCode: 503}, KindServerError},
		{"bad request", &StatusError{StatusCode: 400}, KindUnknown},
		{"plain", errors.New("connection reset"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &testProvider{results: []result{{err: tt.err}}}
			c := NewClient(p, WithMaxAttempts(1))
			_, err := c.GenerateInsight(context.Background(), "q", analytics.Snapshot{})
			if got := KindOf(err); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestGenerateInsight_AttemptTimeout(t *testing.T) {
	p := &testProvider{block: true}
	var slept []time.Duration
	c := NewClient(p, WithAttemptTimeout(10*time.Millisecond), WithMaxAttempts(2), recordSleeps(&slept))

	_, err := c.GenerateInsight(context.Background(), "q", analytics.Snapshot{})
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if p.calls != 2 {
		t.Errorf("expected timed-out attempt to be retried, got %d calls", p.calls)
	}
}

func TestGenerateInsight_ParentCancelStopsRetrying(t *testing.T) {
	p := &testProvider{results: []result{{err: &StatusError{StatusCode: 500}}}}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(p, WithSleeper(func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}))

	_, err := c.GenerateInsight(ctx, "q", analytics.Snapshot{})
	if KindOf(err) != KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if p.calls != 1 {
		t.Errorf("expected no retry after cancel, got %d calls", p.calls)
	}
}

func TestGenerateInsight_EmptyResponseShape(t *testing.T) {
	tests := []struct {
		name string
		resp *Response
	}{
		{"nil", nil},
		{"no candidates", &Response{}},
		{"no parts", &Response{Candidates: []Candidate{{}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &testProvider{results: []result{{resp: tt.resp}}}
			text, err := NewClient(p).GenerateInsight(context.Background(), "q", analytics.Snapshot{})
			if err != nil || text != "" {
				t.Errorf("expected empty text without error, got %q %v", text, err)
			}
		})
	}
}

func TestGenerateInsight_Preconditions(t *testing.T) {
	if _, err := NewClient(&testProvider{}).GenerateInsight(context.Background(), "  ", analytics.Snapshot{}); !errors.Is(err, ErrEmptyQuestion) {
		t.Errorf("expected ErrEmptyQuestion, got %v", err)
	}
	var nilClient *Client
	if _, err := nilClient.GenerateInsight(context.Background(), "q", analytics.Snapshot{}); KindOf(err) != KindNoProvider {
		t.Errorf("expected no provider, got %v", err)
	}
	if _, err := NewClient(nil).GenerateInsight(context.Background(), "q", analytics.Snapshot{}); KindOf(err) != KindNoProvider {
		t.Errorf("expected no provider, got %v", err)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled, got %v", err)
	}
}

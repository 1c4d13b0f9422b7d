package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crm-insight-service/internal/gemini"
	"crm-insight-service/internal/service/insight"
)

func TestProvider_Generate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body gemini.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		text := body.Contents[0].Parts[0].Text
		if !strings.HasPrefix(text, "system") || !strings.HasSuffix(text, "User question: why?") {
			t.Errorf("unexpected prompt %q", text)
		}
		cfg := body.GenerationConfig
		if cfg == nil || cfg.Temperature != 0.3 || cfg.MaxOutputTokens != 1500 || cfg.TopP != 0.8 || cfg.TopK != 40 {
			t.Errorf("unexpected generation config %+v", cfg)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"because"}]}}]}`))
	}))
	defer server.Close()

	p := New(gemini.New("key", "m", gemini.WithBaseURL(server.URL)))
	resp, err := p.Generate(context.Background(), insight.Prompt{System: "system", Question: "why?"}, insight.DefaultParams())
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Text() != "because" {
		t.Errorf("expected because, got %q", resp.Text())
	}
}

func TestProvider_StatusErrors(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		body     string
		wantCode int
	}{
		{"invalid key", 400, `{"error":{"code":400,"message":"API key not valid.","status":"INVALID_ARGUMENT"}}`, 401},
		{"quota", 429, `{"error":{"code":429,"message":"quota","status":"RESOURCE_EXHAUSTED"}}`, 429},
		{"server", 500, `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			p := New(gemini.New("key", "m", gemini.WithBaseURL(server.URL)))
			_, err := p.Generate(context.Background(), insight.Prompt{Question: "q"}, insight.DefaultParams())
			se, ok := err.(*insight.StatusError)
			if !ok {
				t.Fatalf("expected *insight.StatusError, got %T %v", err, err)
			}
			if se.StatusCode != tt.wantCode {
				t.Errorf("expected %d, got %d", tt.wantCode, se.StatusCode)
			}
		})
	}
}

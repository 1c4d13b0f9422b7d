package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crm-insight-service/internal/gemini"
	"crm-insight-service/internal/service/stt"
)

func TestProvider_UploadGenerateDelete(t *testing.T) {
	var deleted string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/"):
			w.Write([]byte(`{"file":{"name":"files/x1","uri":"https://files/x1","mimeType":"audio/webm"}}`))
		case strings.HasSuffix(r.URL.Path, ":generateContent"):
			var body gemini.GenerateRequest
			json.NewDecoder(r.Body).Decode(&body)
			parts := body.Contents[0].Parts
			if parts[0].FileData == nil || parts[0].FileData.FileURI != "https://files/x1" {
				t.Errorf("expected file reference first, got %+v", parts[0])
			}
			if parts[1].Text != "transcribe" {
				t.Errorf("expected instruction part, got %+v", parts[1])
			}
			w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  show leads  "}]}}]}`))
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			w.Write([]byte(`{}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	p := New(gemini.New("key", "m", gemini.WithBaseURL(server.URL)))
	ctx := context.Background()

	a, err := p.Upload(ctx, stt.UploadRequest{Body: strings.NewReader("data"), MIMEType: "audio/webm", DisplayName: "clip.webm"})
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	text, err := p.Generate(ctx, a, "transcribe")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "show leads" {
		t.Errorf("expected trimmed transcript, got %q", text)
	}
	if err := p.Delete(ctx, a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted != "/v1beta/files/x1" {
		t.Errorf("expected uploaded file deleted, got %q", deleted)
	}
	if p.Name() != "gemini" {
		t.Errorf("unexpected name %s", p.Name())
	}
}

func TestProvider_InvalidCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"API key not valid","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	p := New(gemini.New("bad", "m", gemini.WithBaseURL(server.URL)))
	_, err := p.Upload(context.Background(), stt.UploadRequest{Body: strings.NewReader("x"), MIMEType: "audio/webm"})
	if !errors.Is(err, stt.ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestProvider_ServerErrorIsNotCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	p := New(gemini.New("key", "m", gemini.WithBaseURL(server.URL)))
	_, err := p.Generate(context.Background(), stt.Artifact{URI: "u", MIMEType: "audio/webm"}, "x")
	if err == nil || errors.Is(err, stt.ErrInvalidCredentials) {
		t.Errorf("expected plain provider error, got %v", err)
	}
}

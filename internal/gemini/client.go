// Package gemini is a small REST client for the Gemini files and
// generateContent APIs shared by the transcription and insight providers.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-2.5-flash"
	defaultHTTPTimeout = 2 * time.Minute
	apiVersion         = "v1beta"
)

// Client talks to the Gemini REST API using an API key.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if s := strings.TrimRight(strings.TrimSpace(baseURL), "/"); s != "" {
			c.baseURL = s
		}
	}
}

// New constructs a client for model.
func New(apiKey, model string, opts ...Option) *Client {
	c := &Client{
		apiKey:     strings.TrimSpace(apiKey),
		model:      strings.TrimSpace(model),
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	return c
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.model
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini: http %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini: http %d: %s", e.StatusCode, e.Message)
}

// IsAuthError reports whether err is a rejected or missing API key.
// Gemini answers an invalid key with 400 INVALID_ARGUMENT, so the message is checked too.
func IsAuthError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
		return true
	case apiErr.Status == "UNAUTHENTICATED", apiErr.Status == "PERMISSION_DENIED":
		return true
	}
	msg := strings.ToLower(apiErr.Message)
	return strings.Contains(msg, "api key") || strings.Contains(msg, "api_key_invalid")
}

// File is an uploaded media file.
type File struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	MIMEType    string `json:"mimeType"`
	SizeBytes   string `json:"sizeBytes,omitempty"`
	URI         string `json:"uri"`
	State       string `json:"state,omitempty"`
}

// Part is one piece of message content.
type Part struct {
	Text     string    `json:"text,omitempty"`
	FileData *FileData `json:"fileData,omitempty"`
}

// FileData references an uploaded file.
type FileData struct {
	MIMEType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// GenerationConfig holds sampling parameters. Zero values are omitted.
type GenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	TopP            float64 `json:"topP,omitempty"`
	TopK            int     `json:"topK,omitempty"`
}

// GenerateRequest is the generateContent request body.
type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Candidate is one generated answer.
type Candidate struct {
	Content      *Content `json:"content"`
	FinishReason string   `json:"finishReason,omitempty"`
}

// GenerateResponse is the generateContent response body.
type GenerateResponse struct {
	Candidates []Candidate `json:"candidates"`
}

// Text returns the first candidate's first text part, or "" when the
// response does not have that shape.
func (r *GenerateResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	content := r.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return ""
	}
	return content.Parts[0].Text
}

// UploadFile uploads media with the multipart protocol of the files API.
func (c *Client) UploadFile(ctx context.Context, displayName, mimeType string, body io.Reader) (*File, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	meta, err := json.Marshal(map[string]any{"file": map[string]string{"displayName": displayName}})
	if err != nil {
		return nil, fmt.Errorf("gemini upload: encode metadata: %w", err)
	}
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return nil, fmt.Errorf("gemini upload: metadata part: %w", err)
	}
	metaPart.Write(meta)

	mediaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mimeType}})
	if err != nil {
		return nil, fmt.Errorf("gemini upload: media part: %w", err)
	}
	if _, err := io.Copy(mediaPart, body); err != nil {
		return nil, fmt.Errorf("gemini upload: read media: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("gemini upload: close body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/upload/%s/files?uploadType=multipart", c.baseURL, apiVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, fmt.Errorf("gemini upload: new request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())
	req.Header.Set("X-Goog-Upload-Protocol", "multipart")

	var out struct {
		File File `json:"file"`
	}
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("gemini upload: %w", err)
	}
	if out.File.URI == "" {
		return nil, errors.New("gemini upload: response missing file uri")
	}
	if out.File.MIMEType == "" {
		out.File.MIMEType = mimeType
	}
	return &out.File, nil
}

// DeleteFile removes an uploaded file by its resource name ("files/abc").
func (c *Client) DeleteFile(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, apiVersion, strings.TrimPrefix(name, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("gemini delete: new request: %w", err)
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("gemini delete: %w", err)
	}
	return nil
}

// GenerateContent runs a single generateContent call against the configured model.
func (c *Client) GenerateContent(ctx context.Context, body GenerateRequest) (*GenerateResponse, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: encode body: %w", err)
	}
	endpoint := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, apiVersion, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("gemini generate: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var out GenerateResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey == "" {
		return &APIError{StatusCode: http.StatusUnauthorized, Status: "UNAUTHENTICATED", Message: "API key not configured"}
	}
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return decodeAPIError(resp.StatusCode, body)
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(code int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: code}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
		apiErr.Status = envelope.Error.Status
		return apiErr
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	if msg == "" {
		msg = http.StatusText(code)
	}
	apiErr.Message = msg
	return apiErr
}

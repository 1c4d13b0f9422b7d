package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/app"
	"crm-insight-service/internal/config"
	"crm-insight-service/internal/ratelimit"
	"crm-insight-service/internal/schema"
	"crm-insight-service/internal/service/insight"
	"crm-insight-service/internal/service/stt/mock"
	"crm-insight-service/internal/service/transcription"
	"crm-insight-service/internal/storage"
)

const testTranscript = "Show me the conversion rate"

func newTestApp(t *testing.T) *app.Application {
	t.Helper()
	store, err := storage.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Capture.ChunkInterval = 10 * time.Millisecond
	cfg.Capture.MaxDuration = 5 * time.Second

	return &app.Application{
		Cfg:         &cfg,
		Transcriber: transcription.New(mock.New(testTranscript), store, transcription.WithMaxBytes(1<<20)),
		Insights:    insight.NewService(nil),
		Analytics:   analytics.NewStaticSource(analytics.Snapshot{}),
		Validator:   schema.New(1 << 20),
	}
}

func multipartBody(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if data != nil {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Disposition", `form-data; name="audio"; filename="`+filename+`"`)
		hdr.Set("Content-Type", contentType)
		part, err := mw.CreatePart(hdr)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(data)
	}
	mw.WriteField("filename", filename)
	mw.Close()
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestProbes(t *testing.T) {
	r := NewRouter(newTestApp(t))
	for _, path := range []string{"/v1/liveness", "/v1/readiness"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}

func TestTranscribe(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		contentType string
		data        []byte
		wantStatus  int
		wantError   string
		wantMIME    string
	}{
		{"webm", "clip.webm", "audio/webm", []byte("webm-bytes"), http.StatusOK, "", "audio/webm"},
		{"m4a by extension", "memo.m4a", "application/octet-stream", []byte("m4a"), http.StatusOK, "", "audio/mp4"},
		{"wav by extension", "memo.wav", "application/octet-stream", []byte("RIFF"), http.StatusOK, "", "audio/wav"},
		{"missing file", "clip.webm", "", nil, http.StatusBadRequest, "No audio file provided", ""},
		{"bad type", "notes.txt", "text/plain", []byte("hello"), http.StatusBadRequest, "Invalid audio file type", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRouter(newTestApp(t))
			body, ct := multipartBody(t, tt.filename, tt.contentType, tt.data)
			req := httptest.NewRequest(http.MethodPost, "/api/audio/transcribe", body)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			got := decode(t, rec)
			if tt.wantError != "" {
				if got["success"] != false || !strings.Contains(got["error"].(string), tt.wantError) {
					t.Errorf("unexpected error body %v", got)
				}
				return
			}
			if got["success"] != true || got["transcription"] != testTranscript {
				t.Errorf("unexpected body %v", got)
			}
			if got["provider"] != "mock" {
				t.Errorf("expected provider mock, got %v", got["provider"])
			}
			if got["mimeType"] != tt.wantMIME {
				t.Errorf("expected resolved MIME type %s, got %v", tt.wantMIME, got["mimeType"])
			}
		})
	}
}

func TestTranscribeFormats(t *testing.T) {
	r := NewRouter(newTestApp(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/audio/transcribe?action=formats", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode(t, rec)
	formats, ok := got["supportedFormats"].([]any)
	if !ok || len(formats) != len(transcription.SupportedFormats()) {
		t.Errorf("unexpected formats %v", got["supportedFormats"])
	}
	if got["maxFileSize"] != float64(1<<20) {
		t.Errorf("unexpected max size %v", got["maxFileSize"])
	}
}

func postJSON(r http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestInsights(t *testing.T) {
	r := NewRouter(newTestApp(t))

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAnswer string
		wantType   string
	}{
		{"default snapshot", `{"text":"What is our conversion rate?"}`, http.StatusOK, "11.3%", "insight"},
		{"body snapshot", `{"text":"top property?","analyticsData":{"propertyPerformanceData":[{"name":"Lake View","leads":9,"siteVisits":3,"tokens":1}]}}`, http.StatusOK, "Lake View", "insight"},
		{"help", `{"text":"hello"}`, http.StatusOK, "", "text"},
		{"blank", `{"text":"  "}`, http.StatusBadRequest, "", ""},
		{"bad json", `{"text":`, http.StatusBadRequest, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(r, "/api/insights", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				return
			}
			got := decode(t, rec)
			if !strings.Contains(got["answer"].(string), tt.wantAnswer) {
				t.Errorf("expected answer containing %q, got %q", tt.wantAnswer, got["answer"])
			}
			if got["type"] != tt.wantType {
				t.Errorf("expected type %s, got %v", tt.wantType, got["type"])
			}
			if got["source"] != insight.SourceFallback {
				t.Errorf("expected fallback source, got %v", got["source"])
			}
		})
	}
}

func TestInsights_RateLimited(t *testing.T) {
	a := newTestApp(t)
	a.InsightLimiter = ratelimit.New(1, time.Minute)
	r := NewRouter(a)

	if rec := postJSON(r, "/api/insights", `{"text":"conversion"}`); rec.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rec.Code)
	}
	rec := postJSON(r, "/api/insights", `{"text":"conversion"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	// Unlimited routes are unaffected.
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected snapshot allowed, got %d", rec.Code)
	}
}

func TestInsights_DefaultLimitsAllowBurst(t *testing.T) {
	a := newTestApp(t)
	a.TranscribeLimiter, a.InsightLimiter = app.NewLimiters(a.Cfg.RateLimit)
	if a.InsightLimiter == nil || a.TranscribeLimiter == nil {
		t.Fatal("expected both routes limited by default")
	}
	r := NewRouter(a)

	for i := 1; i <= 20; i++ {
		rec := postJSON(r, "/api/insights", `{"text":"What is our conversion rate?"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("question %d: expected 200, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}
}

func TestNewLimiters(t *testing.T) {
	rl := config.Default().RateLimit

	rl.Insights.Requests = 0
	transcribe, insights := app.NewLimiters(rl)
	if transcribe == nil || insights != nil {
		t.Errorf("expected only transcribe limited, got %v/%v", transcribe, insights)
	}

	rl.Enabled = false
	if transcribe, insights := app.NewLimiters(rl); transcribe != nil || insights != nil {
		t.Error("expected no limiters when disabled")
	}
}

func TestSnapshot(t *testing.T) {
	r := NewRouter(newTestApp(t))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/snapshot", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	got := decode(t, rec)
	if got["conversionRate"] != 11.3 {
		t.Errorf("expected conversion rate 11.3, got %v", got["conversionRate"])
	}
	data := got["data"].(map[string]any)
	if len(data["funnelData"].([]any)) != 6 {
		t.Errorf("expected 6 funnel stages, got %v", data["funnelData"])
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialChat(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(v any) {
	c.t.Helper()
	if err := c.conn.WriteJSON(v); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// next reads frames until match returns true.
func (c *wsClient) next(match func(wsOutbound) bool) wsOutbound {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var f wsOutbound
		if err := c.conn.ReadJSON(&f); err != nil {
			c.t.Fatalf("read: %v", err)
		}
		if match(f) {
			return f
		}
	}
}

func TestChatSocket_Submit(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newTestApp(t)))
	defer srv.Close()
	c := dialChat(t, srv)

	hello := c.next(func(f wsOutbound) bool { return f.Type == "session" })
	if hello.SessionID == "" || hello.State != "IDLE" || len(hello.Messages) != 1 {
		t.Fatalf("unexpected session frame %+v", hello)
	}
	if hello.InputEnabled == nil || !*hello.InputEnabled {
		t.Error("expected input enabled when idle")
	}

	c.send(wsInbound{Type: wsSubmit, Text: "conversion rate?"})
	busy := c.next(func(f wsOutbound) bool { return f.Type == "state" })
	if busy.State != "AWAITING_INSIGHT" || !busy.Flags.AwaitingInsight {
		t.Errorf("expected awaiting insight, got %+v", busy)
	}
	answer := c.next(func(f wsOutbound) bool {
		return f.Type == "message" && f.Message.Role == "assistant"
	})
	if !strings.Contains(answer.Message.Content, "11.3%") {
		t.Errorf("unexpected answer %q", answer.Message.Content)
	}
	idle := c.next(func(f wsOutbound) bool { return f.Type == "state" })
	if idle.State != "IDLE" {
		t.Errorf("expected IDLE, got %s", idle.State)
	}
}

func TestChatSocket_RecordingPopulatesInput(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newTestApp(t)))
	defer srv.Close()
	c := dialChat(t, srv)
	c.next(func(f wsOutbound) bool { return f.Type == "session" })

	c.send(wsInbound{Type: wsStartRecording})
	c.next(func(f wsOutbound) bool { return f.Type == "state" && f.State == "CAPTURING" })

	if err := c.conn.WriteMessage(websocket.BinaryMessage, bytes.Repeat([]byte{1}, 4096)); err != nil {
		t.Fatal(err)
	}
	c.send(wsInbound{Type: wsStopRecording})

	in := c.next(func(f wsOutbound) bool { return f.Type == "input" && f.Input != nil && *f.Input != "" })
	if *in.Input != testTranscript {
		t.Errorf("expected transcript in input, got %q", *in.Input)
	}
	c.next(func(f wsOutbound) bool { return f.Type == "state" && f.State == "IDLE" })
}

func TestChatSocket_MicUnavailable(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newTestApp(t)))
	defer srv.Close()
	c := dialChat(t, srv)
	c.next(func(f wsOutbound) bool { return f.Type == "session" })

	c.send(wsInbound{Type: wsMicUnavailable, Reason: "NotAllowedError"})
	msg := c.next(func(f wsOutbound) bool { return f.Type == "message" })
	if !strings.Contains(strings.ToLower(msg.Message.Content), "microphone") {
		t.Errorf("expected microphone guidance, got %q", msg.Message.Content)
	}
	c.next(func(f wsOutbound) bool { return f.Type == "state" && f.State == "IDLE" })
}

func TestRouter_ShutdownClosesChatSessions(t *testing.T) {
	rt := NewRouter(newTestApp(t))
	srv := httptest.NewServer(rt)
	defer srv.Close()

	c := dialChat(t, srv)
	c.next(func(f wsOutbound) bool { return f.Type == "session" })
	c.send(wsInbound{Type: wsStartRecording})
	c.next(func(f wsOutbound) bool { return f.Type == "state" && f.State == "CAPTURING" })
	if n := rt.sessions.len(); n != 1 {
		t.Fatalf("expected 1 live session, got %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := rt.sessions.len(); n != 0 {
		t.Errorf("expected no live sessions after shutdown, got %d", n)
	}

	// The client sees the connection end rather than hanging.
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				t.Fatal("expected connection closed by server, read timed out")
			}
			break
		}
	}

	// Sessions opened after shutdown are turned away.
	late := dialChat(t, srv)
	late.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := late.conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Errorf("expected going-away close, got %v", err)
	}
}

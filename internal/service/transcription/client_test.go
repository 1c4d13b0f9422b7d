package transcription

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-insight-service/internal/service/stt"
	"crm-insight-service/internal/storage"
)

// testProvider implements stt.Provider and stt.Cleaner with injectable faults.
type testProvider struct {
	mu          sync.Mutex
	uploadErr   error
	generateErr error
	text        string
	panicAfter  bool
	uploads     []stt.UploadRequest
	uploadBody  []string
	deleted     []string
	instruction string
	onGenerate  func()
}

func (p *testProvider) Name() string { return "test" }

func (p *testProvider) Upload(_ context.Context, req stt.UploadRequest) (stt.Artifact, error) {
	data, _ := io.ReadAll(req.Body)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, req)
	p.uploadBody = append(p.uploadBody, string(data))
	if p.uploadErr != nil {
		return stt.Artifact{}, p.uploadErr
	}
	return stt.Artifact{Name: "files/" + req.DisplayName, URI: "u://" + req.DisplayName}, nil
}

func (p *testProvider) Generate(_ context.Context, a stt.Artifact, instruction string) (string, error) {
	p.mu.Lock()
	p.instruction = instruction
	p.mu.Unlock()
	if p.onGenerate != nil {
		p.onGenerate()
	}
	if p.panicAfter {
		panic("provider crashed")
	}
	if p.generateErr != nil {
		return "", p.generateErr
	}
	return p.text, nil
}

func (p *testProvider) Delete(_ context.Context, a stt.Artifact) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, a.Name)
	return nil
}

// recordingStore wraps a DirStore and tracks writes and deletes.
type recordingStore struct {
	*storage.DirStore
	mu      sync.Mutex
	written []storage.Handle
	removed []string
	delErr  error
}

func (s *recordingStore) Write(ctx context.Context, name string, data []byte) (storage.Handle, error) {
	h, err := s.DirStore.Write(ctx, name, data)
	if err == nil {
		s.mu.Lock()
		s.written = append(s.written, h)
		s.mu.Unlock()
	}
	return h, err
}

func (s *recordingStore) Delete(ctx context.Context, h storage.Handle) error {
	s.mu.Lock()
	s.removed = append(s.removed, h.Name)
	delErr := s.delErr
	s.mu.Unlock()
	if delErr != nil {
		return delErr
	}
	return s.DirStore.Delete(ctx, h)
}

func newStore(t *testing.T) *recordingStore {
	t.Helper()
	ds, err := storage.NewDirStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	return &recordingStore{DirStore: ds}
}

func assertNoFiles(t *testing.T, s *recordingStore) {
	t.Helper()
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected transient dir empty, found %d entries", len(entries))
	}
}

func audio() Audio {
	return Audio{Data: []byte("webm-bytes"), MIMEType: "audio/webm;codecs=opus", Filename: "recording.webm"}
}

func TestTranscribe_Success(t *testing.T) {
	p := &testProvider{text: "  What is our conversion rate?  "}
	s := newStore(t)
	c := New(p, s)

	res, err := c.Transcribe(context.Background(), audio())
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "What is our conversion rate?" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if res.MIMEType != "audio/webm" || res.Provider != "test" || res.SizeBytes != 10 {
		t.Errorf("unexpected result %+v", res)
	}
	if !strings.HasPrefix(res.Filename, "transcribe-") || !strings.HasSuffix(res.Filename, ".webm") {
		t.Errorf("unexpected filename %s", res.Filename)
	}
	if p.instruction != DefaultInstruction {
		t.Errorf("unexpected instruction %q", p.instruction)
	}
	if p.uploadBody[0] != "webm-bytes" || p.uploads[0].DisplayName != res.Filename {
		t.Errorf("expected stored bytes uploaded under the transient name, got %+v", p.uploads[0])
	}
	if len(p.deleted) != 1 {
		t.Errorf("expected provider artifact deleted, got %v", p.deleted)
	}
	assertNoFiles(t, s)
}

func TestTranscribe_CleansUpOnEveryPath(t *testing.T) {
	tests := []struct {
		name         string
		provider     *testProvider
		wantKind     Kind
		wantProvider int
	}{
		{"upload failure", &testProvider{uploadErr: errors.New("connection reset")}, KindUploadFailed, 0},
		{"upload credentials", &testProvider{uploadErr: fmt.Errorf("%w: bad key", stt.ErrInvalidCredentials)}, KindInvalidCredentials, 0},
		{"generate failure", &testProvider{generateErr: errors.New("model overloaded")}, KindGenerationFailed, 1},
		{"generate credentials", &testProvider{generateErr: fmt.Errorf("%w: revoked", stt.ErrInvalidCredentials)}, KindInvalidCredentials, 1},
		{"empty transcript", &testProvider{text: "   "}, KindGenerationFailed, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			c := New(tt.provider, s)

			_, err := c.Transcribe(context.Background(), audio())
			if KindOf(err) != tt.wantKind {
				t.Fatalf("expected %s, got %v", tt.wantKind, err)
			}
			if len(s.removed) != 1 {
				t.Errorf("expected transient delete, got %v", s.removed)
			}
			if len(tt.provider.deleted) != tt.wantProvider {
				t.Errorf("expected %d provider deletes, got %v", tt.wantProvider, tt.provider.deleted)
			}
			assertNoFiles(t, s)
		})
	}
}

func TestTranscribe_CleansUpWhenProviderPanics(t *testing.T) {
	p := &testProvider{panicAfter: true}
	s := newStore(t)
	c := New(p, s)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		c.Transcribe(context.Background(), audio())
	}()

	if len(s.written) != 1 || len(s.removed) != 1 {
		t.Errorf("expected write then delete, got written=%d removed=%d", len(s.written), len(s.removed))
	}
	assertNoFiles(t, s)
}

func TestTranscribe_CleanupFailureDoesNotMaskResult(t *testing.T) {
	p := &testProvider{text: "hello"}
	s := newStore(t)
	s.delErr = errors.New("disk busy")
	c := New(p, s)

	res, err := c.Transcribe(context.Background(), audio())
	if err != nil {
		t.Fatalf("expected success despite cleanup failure, got %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("unexpected text %q", res.Text)
	}
}

func TestTranscribe_RejectsBeforeNetwork(t *testing.T) {
	tests := []struct {
		name  string
		audio Audio
	}{
		{"neither matches", Audio{Data: []byte("x"), MIMEType: "application/octet-stream", Filename: "notes.txt"}},
		{"empty audio", Audio{MIMEType: "audio/webm", Filename: "a.webm"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &testProvider{text: "x"}
			s := newStore(t)
			c := New(p, s)

			_, err := c.Transcribe(context.Background(), tt.audio)
			var te *Error
			if !errors.As(err, &te) || te.Kind != KindInvalidFormat {
				t.Fatalf("expected InvalidFormat, got %v", err)
			}
			if te.HTTPStatus() != 400 {
				t.Errorf("expected 400, got %d", te.HTTPStatus())
			}
			if len(p.uploads) != 0 || len(s.written) != 0 {
				t.Error("expected no storage or provider calls")
			}
		})
	}
}

func TestTranscribe_MaxBytes(t *testing.T) {
	p := &testProvider{text: "x"}
	c := New(p, newStore(t), WithMaxBytes(4))

	_, err := c.Transcribe(context.Background(), Audio{Data: []byte("12345"), MIMEType: "audio/wav"})
	if KindOf(err) != KindInvalidFormat {
		t.Errorf("expected InvalidFormat for oversize audio, got %v", err)
	}
	_, err = c.TranscribeReader(context.Background(), strings.NewReader("123456"), "audio/wav", "")
	if KindOf(err) != KindInvalidFormat {
		t.Errorf("expected InvalidFormat for oversize stream, got %v", err)
	}
}

func TestTranscribe_NoProvider(t *testing.T) {
	c := New(nil, newStore(t))
	_, err := c.Transcribe(context.Background(), audio())
	if KindOf(err) != KindInvalidCredentials {
		t.Errorf("expected InvalidCredentials without provider, got %v", err)
	}
}

func TestTranscribe_ConcurrentCallsUseDistinctFiles(t *testing.T) {
	p := &testProvider{text: "ok"}
	s := newStore(t)
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	c := New(p, s, WithClock(func() time.Time { return fixed }))

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Transcribe(context.Background(), audio()); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, h := range s.written {
		if seen[h.Path] {
			t.Errorf("transient path reused: %s", h.Path)
		}
		seen[h.Path] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d distinct paths, got %d", n, len(seen))
	}
	assertNoFiles(t, s)
}

func TestTranscribe_CancelledContextStillCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &testProvider{generateErr: context.Canceled, onGenerate: cancel}
	s := newStore(t)
	c := New(p, s)

	if _, err := c.Transcribe(ctx, audio()); err == nil {
		t.Fatal("expected error")
	}
	if len(p.deleted) != 1 {
		t.Errorf("expected provider artifact deleted after cancellation, got %v", p.deleted)
	}
	assertNoFiles(t, s)
}

func TestError_RedactsCredentials(t *testing.T) {
	p := &testProvider{uploadErr: errors.New(`POST https://x/upload?key=AIzaSyD-abcdefghijklmnopqrstuvwxyz0123 failed`)}
	c := New(p, newStore(t))

	_, err := c.Transcribe(context.Background(), audio())
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "AIza") {
		t.Errorf("expected API key redacted, got %q", err.Error())
	}
	if !strings.Contains(err.Error(), "key=[REDACTED]") {
		t.Errorf("expected key parameter marker, got %q", err.Error())
	}
}

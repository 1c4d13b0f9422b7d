package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"google.golang.org/grpc"

	"crm-insight-service/internal/analytics"
	grpcapi "crm-insight-service/internal/api/grpc"
	"crm-insight-service/internal/schema"
	"crm-insight-service/internal/service/insight"
)

func setupLocalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("STT_PROVIDER", "mock")
	t.Setenv("STT_MOCK_TEXT", "How many leads did we get last month?")
	t.Setenv("STT_TEMP_DIR", t.TempDir())
	t.Setenv("INSIGHT_PROVIDER", "none")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KAFKA_ENABLED", "false")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAsk_Local(t *testing.T) {
	setupLocalEnv(t)
	out, err := run(t, "ask", "What", "is", "our", "conversion", "rate?")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "11.3%") {
		t.Errorf("expected conversion answer, got %q", out)
	}
}

func TestAsk_LocalJSONWithSnapshotFile(t *testing.T) {
	setupLocalEnv(t)
	path := filepath.Join(t.TempDir(), "snap.json")
	data := `{"propertyPerformanceData":[{"name":"Harbor Point","leads":40,"siteVisits":10,"tokens":4}]}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, "ask", "--json", "--snapshot", path, "best performing property")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if !strings.Contains(got["answer"], "Harbor Point") || got["source"] != "fallback" || got["type"] != "insight" {
		t.Errorf("unexpected output %v", got)
	}
}

func TestAsk_RejectsBlank(t *testing.T) {
	setupLocalEnv(t)
	if _, err := run(t, "ask", "   "); !schema.IsValidationError(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestTranscribe_Local(t *testing.T) {
	setupLocalEnv(t)
	path := filepath.Join(t.TempDir(), "memo.wav")
	if err := os.WriteFile(path, bytes.Repeat([]byte{0}, 4096), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := run(t, "transcribe", path)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if strings.TrimSpace(out) != "How many leads did we get last month?" {
		t.Errorf("unexpected transcript %q", out)
	}
}

func TestTranscribe_UnsupportedFile(t *testing.T) {
	setupLocalEnv(t)
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("hello"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := run(t, "transcribe", path); err == nil {
		t.Error("expected unsupported file rejected")
	}
}

func TestFormats_Local(t *testing.T) {
	out, err := run(t, "formats")
	if err != nil {
		t.Fatalf("formats: %v", err)
	}
	for _, want := range []string{".webm", "audio/ogg", "M4A audio"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

type fallbackResponder struct{}

func (fallbackResponder) Answer(_ context.Context, q string, snap analytics.Snapshot) insight.Answer {
	content, kind := insight.Fallback(q, snap)
	return insight.Answer{Content: content, Kind: kind, Source: insight.SourceFallback}
}

func TestRemote(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := grpc.NewServer()
	grpcapi.Register(srv, grpcapi.NewServer(fallbackResponder{}, analytics.NewStaticSource(analytics.Snapshot{}), nil))
	go srv.Serve(lis)
	defer srv.Stop()
	addr := lis.Addr().String()

	out, err := run(t, "--addr", addr, "ask", "monthly trend")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(out, "Monthly") && !strings.Contains(out, "monthly") {
		t.Errorf("expected trend answer, got %q", out)
	}

	out, err = run(t, "--addr", addr, "snapshot")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	var snap analytics.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("invalid snapshot JSON: %v", err)
	}
	if snap.ConversionRate() != 11.3 {
		t.Errorf("expected 11.3, got %v", snap.ConversionRate())
	}

	if _, err := run(t, "--addr", addr, "transcribe", "x.wav"); err == nil {
		t.Error("expected transcribe to refuse remote mode")
	}
}

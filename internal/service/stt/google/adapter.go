// Package google provides a Google Cloud Speech-to-Text provider.
package google

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"crm-insight-service/internal/service/stt"
)

// Config holds recognition settings.
type Config struct {
	LanguageCode string
	SampleRateHz int
	// AudioEncoding forces an encoding; empty derives it from the artifact MIME type.
	AudioEncoding string
}

// DefaultConfig returns settings matching browser capture (16 kHz, en-US).
func DefaultConfig() Config {
	return Config{
		LanguageCode: "en-US",
		SampleRateHz: 16000,
	}
}

// recognizer is the subset of the speech client the provider needs.
type recognizer interface {
	Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)
	Close() error
}

type speechClient struct {
	c *speech.Client
}

func (s speechClient) Recognize(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
	return s.c.Recognize(ctx, req)
}

func (s speechClient) Close() error {
	return s.c.Close()
}

// Adapter implements stt.Provider using synchronous Recognize.
// Audio is sent inline, so Upload only buffers it.
type Adapter struct {
	client recognizer
	cfg    Config
}

// New creates a new Google STT provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", stt.ErrInvalidCredentials, err)
	}
	return &Adapter{client: speechClient{c: c}, cfg: cfg}, nil
}

func newWithRecognizer(r recognizer, cfg Config) *Adapter {
	return &Adapter{client: r, cfg: cfg}
}

// Name returns the provider name.
func (a *Adapter) Name() string {
	return "google"
}

// Upload reads the audio into memory for an inline Recognize call.
func (a *Adapter) Upload(ctx context.Context, req stt.UploadRequest) (stt.Artifact, error) {
	var buf bytes.Buffer
	if req.Size > 0 {
		buf.Grow(int(req.Size))
	}
	if _, err := io.Copy(&buf, req.Body); err != nil {
		return stt.Artifact{}, fmt.Errorf("read audio: %w", err)
	}
	return stt.Artifact{Name: req.DisplayName, MIMEType: req.MIMEType, Content: buf.Bytes()}, nil
}

// Generate runs recognition and joins the top alternative of every result.
// The instruction is not used; Recognize takes no prompt.
func (a *Adapter) Generate(ctx context.Context, art stt.Artifact, _ string) (string, error) {
	encoding := encodingForMIME(art.MIMEType)
	if a.cfg.AudioEncoding != "" {
		encoding = parseAudioEncoding(a.cfg.AudioEncoding)
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:     encoding,
		LanguageCode: a.cfg.LanguageCode,
	}
	// WAV and FLAC carry their own rate in the header.
	if encoding != speechpb.RecognitionConfig_ENCODING_UNSPECIFIED && encoding != speechpb.RecognitionConfig_FLAC {
		rc.SampleRateHertz = int32(a.cfg.SampleRateHz)
	}

	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: rc,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Content{Content: art.Content}},
	})
	if err != nil {
		switch status.Code(err) {
		case codes.Unauthenticated, codes.PermissionDenied:
			return "", fmt.Errorf("%w: %v", stt.ErrInvalidCredentials, err)
		}
		return "", err
	}

	var parts []string
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		if t := strings.TrimSpace(r.GetAlternatives()[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " "), nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func encodingForMIME(mimeType string) speechpb.RecognitionConfig_AudioEncoding {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0]))
	switch base {
	case "audio/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "audio/ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "audio/flac":
		return speechpb.RecognitionConfig_FLAC
	case "audio/l16", "audio/pcm":
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

// parseAudioEncoding converts a config string to a speechpb encoding.
// Unknown values fall back to LINEAR16.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

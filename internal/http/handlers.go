package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"crm-insight-service/internal/analytics"
	"crm-insight-service/internal/app"
	"crm-insight-service/internal/observability/logging"
	"crm-insight-service/internal/schema"
	"crm-insight-service/internal/service/transcription"
)

const (
	// multipart framing allowance on top of the audio size limit
	uploadOverhead  = 1 << 20
	maxInsightBody  = 1 << 20
	readinessBudget = 2 * time.Second
)

type handlers struct {
	app      *app.Application
	log      zerolog.Logger
	sessions *sessionTracker
}

func newHandlers(a *app.Application) *handlers {
	return &handlers{app: a, log: logging.WithComponent("http"), sessions: newSessionTracker()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type errorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	Timestamp string `json:"timestamp"`
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		Details:   details,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *handlers) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessBudget)
	defer cancel()
	if err := h.app.Ready(ctx); err != nil {
		h.log.Warn().Err(err).Msg("readiness check failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type transcribeResponse struct {
	Success       bool      `json:"success"`
	Transcription string    `json:"transcription"`
	Filename      string    `json:"filename"`
	FileSize      int       `json:"fileSize"`
	MIMEType      string    `json:"mimeType"`
	Provider      string    `json:"provider"`
	ProcessedAt   time.Time `json:"processedAt"`
}

func (h *handlers) transcribe(w http.ResponseWriter, r *http.Request) {
	maxBytes := h.app.Transcriber.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+uploadOverhead)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Audio file too large", "")
			return
		}
		writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided", "")
		return
	}
	defer file.Close()

	name := header.Filename
	if name == "" {
		name = r.FormValue("filename")
	}
	mimeType := header.Header.Get("Content-Type")

	if err := h.app.Validator.ValidateTranscription(name, mimeType, header.Size); err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Message, "")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	res, err := h.app.Transcriber.TranscribeReader(r.Context(), file, mimeType, name)
	if err != nil {
		kind := transcription.KindOf(err)
		h.log.Warn().Str("kind", kind.String()).Str("error", transcription.Redact(err.Error())).Msg("transcription failed")
		writeError(w, kind.HTTPStatus(), kind.Summary(), kind.String())
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		Success:       true,
		Transcription: res.Text,
		Filename:      res.Filename,
		FileSize:      res.SizeBytes,
		MIMEType:      res.MIMEType,
		Provider:      res.Provider,
		ProcessedAt:   res.ProcessedAt,
	})
}

func (h *handlers) transcribeInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("action") == "formats" {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":          true,
			"supportedFormats": transcription.SupportedFormats(),
			"maxFileSize":      h.app.Transcriber.MaxBytes(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Audio transcription service is available",
		"endpoints": map[string]string{
			"POST": "/api/audio/transcribe - Transcribe audio file",
			"GET":  "/api/audio/transcribe?action=formats - Get supported formats",
		},
	})
}

type insightRequest struct {
	Text          string              `json:"text"`
	AnalyticsData *analytics.Snapshot `json:"analyticsData"`
}

type insightResponse struct {
	Success  bool   `json:"success"`
	Answer   string `json:"answer"`
	Type     string `json:"type"`
	Source   string `json:"source"`
	Provider string `json:"provider,omitempty"`
}

// insights answers a question. Without analyticsData in the body, the
// configured analytics source supplies the snapshot.
func (h *handlers) insights(w http.ResponseWriter, r *http.Request) {
	var req insightRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxInsightBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body", "")
		return
	}

	var snap analytics.Snapshot
	if req.AnalyticsData != nil {
		snap = *req.AnalyticsData
	} else {
		s, err := h.app.Analytics.Snapshot(r.Context())
		if err != nil {
			h.log.Error().Err(err).Msg("analytics snapshot unavailable")
		}
		snap = s
	}

	if err := h.app.Validator.ValidateInsight(req.Text, snap); err != nil {
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Message, ve.Field)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	ans := h.app.Insights.Answer(r.Context(), strings.TrimSpace(req.Text), snap)
	writeJSON(w, http.StatusOK, insightResponse{
		Success:  true,
		Answer:   ans.Content,
		Type:     string(ans.Kind),
		Source:   ans.Source,
		Provider: ans.Provider,
	})
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.app.Analytics.Snapshot(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("analytics snapshot failed")
		writeError(w, http.StatusServiceUnavailable, "Analytics data unavailable", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"data":           snap,
		"conversionRate": snap.ConversionRate(),
		"growthRate":     snap.GrowthRate(),
	})
}

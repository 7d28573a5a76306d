package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/types"
)

// StatusError is a non-2xx answer from the speech-to-text API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("stt status %d: %s", e.Code, truncate(e.Body, 200))
}

// Client talks to an OpenAI-compatible /audio/transcriptions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewClient(baseURL, apiKey string, log *logrus.Entry) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		log:        log.WithField("component", "stt-client"),
	}
}

// Request is one transcription call.
type Request struct {
	Audio    ingest.Audio
	Language string
}

// verboseResponse covers both json and verbose_json answers.
type verboseResponse struct {
	Text     string  `json:"text"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start        float64 `json:"start"`
		End          float64 `json:"end"`
		Text         string  `json:"text"`
		NoSpeechProb float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

// Transcribe sends the audio to model. With verbose set it asks for
// segment and word timestamps.
func (c *Client) Transcribe(ctx context.Context, model string, verbose bool, req Request) (Result, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", req.Audio.Filename)
	if err != nil {
		return Result{}, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := fw.Write(req.Audio.Data); err != nil {
		return Result{}, fmt.Errorf("writing audio: %w", err)
	}
	w.WriteField("model", model)
	if req.Language != "" {
		w.WriteField("language", req.Language)
	}
	if verbose {
		w.WriteField("response_format", "verbose_json")
		w.WriteField("timestamp_granularities[]", "segment")
		w.WriteField("timestamp_granularities[]", "word")
	} else {
		w.WriteField("response_format", "json")
	}
	if err := w.Close(); err != nil {
		return Result{}, fmt.Errorf("closing form: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return Result{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("stt request: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	log := c.log.WithFields(logrus.Fields{
		"model":       model,
		"http_status": resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	})
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("stt request rejected")
		return Result{}, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}

	var parsed verboseResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("decoding stt response: %w", err)
	}
	res := Result{Text: strings.TrimSpace(parsed.Text), Model: model, DurationSeconds: parsed.Duration}
	for _, s := range parsed.Segments {
		res.Segments = append(res.Segments, types.TranscriptSegment{
			Start:        s.Start,
			End:          s.End,
			Text:         s.Text,
			NoSpeechProb: s.NoSpeechProb,
		})
	}
	if res.Text == "" && len(res.Segments) == 0 {
		return Result{}, fmt.Errorf("stt model %s returned no speech", model)
	}
	log.WithField("segments", len(res.Segments)).Debug("stt response parsed")
	return res, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

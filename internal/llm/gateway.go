package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
)

type GatewayConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	EmbeddingModel string
	HTTPTimeout    time.Duration
	MaxRetryTime   time.Duration
}

// GatewayClient talks to an OpenAI-compatible /chat/completions and
// /embeddings API.
type GatewayClient struct {
	cfg        GatewayConfig
	httpClient *http.Client
	log        *logrus.Entry

	newBackOff func() backoff.BackOff
}

func NewGatewayClient(cfg GatewayConfig, log *logrus.Entry) *GatewayClient {
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 25 * time.Second
	}
	if cfg.MaxRetryTime == 0 {
		cfg.MaxRetryTime = 45 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if log == nil {
		log = logger.Discard()
	}
	g := &GatewayClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        log.WithField("component", "llm-gateway"),
	}
	g.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = g.cfg.MaxRetryTime
		return b
	}
	return g
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatPayload struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

func (g *GatewayClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	payload := chatPayload{
		Model:       g.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, chatMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		payload.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var content string
	err := g.post(ctx, "/chat/completions", payload, func(body []byte) error {
		content = strings.TrimSpace(contentFromChoices(body))
		if content == "" {
			return ErrEmptyResponse
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	return content, nil
}

func (g *GatewayClient) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model": g.cfg.EmbeddingModel,
		"input": text,
	}

	var vec []float32
	err := g.post(ctx, "/embeddings", payload, func(body []byte) error {
		var parsed struct {
			Data []struct {
				Embedding []float32 `json:"embedding"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding embedding: %w", err))
		}
		if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
			return backoff.Permanent(ErrEmptyResponse)
		}
		vec = parsed.Data[0].Embedding
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	return vec, nil
}

// post sends payload with retry/backoff. Client errors other than 429 are
// not retried. handle parses a 2xx body.
func (g *GatewayClient) post(ctx context.Context, path string, payload any, handle func([]byte) error) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	url := g.cfg.BaseURL + path
	log := g.log.WithField("path", path)

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if g.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
		}

		resp, err := g.httpClient.Do(req)
		if err != nil {
			log.WithError(err).Warn("llm request failed")
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		log.WithField("http_status", resp.StatusCode).Debug("llm raw:\n" + string(body))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				// Permanent: don't retry on client errors
				return backoff.Permanent(statusErr)
			}
			return statusErr
		}
		return handle(body)
	}

	return backoff.Retry(op, backoff.WithContext(g.newBackOff(), ctx))
}

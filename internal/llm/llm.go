package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/config"
)

// ErrEmptyResponse is returned when the model answered without any text.
var ErrEmptyResponse = errors.New("llm: empty response")

// ChatRequest is a single-turn completion.
type ChatRequest struct {
	System      string
	Prompt      string
	Temperature float64
	// JSON asks the backend for a bare JSON object when it supports it.
	JSON      bool
	MaxTokens int
}

type Generator interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FromConfig picks the text backend named by cfg.Provider. Embeddings always
// go through the OpenAI-compatible gateway.
func FromConfig(cfg config.LLMConfig, log *logrus.Entry) (Generator, Embedder, error) {
	gw := NewGatewayClient(GatewayConfig{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
	}, log)

	switch cfg.Provider {
	case "", "openai":
		return gw, gw, nil
	case "anthropic":
		return NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, log), gw, nil
	default:
		return nil, nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// contentFromChoices reads openai-style choices[0].message.content.
func contentFromChoices(body []byte) string {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return ""
	}

	choices, ok := obj["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	c0, _ := choices[0].(map[string]any)
	if c0 == nil {
		return ""
	}
	msg, _ := c0["message"].(map[string]any)
	if msg == nil {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

// ExtractJSON finds the first balanced JSON object in a string and returns it.
// It strips common markdown fences first.
func ExtractJSON(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ReplaceAll(s, "\r\n", "\n")

	// Remove markdown fences (commonly output by LLMs)
	for _, r := range []string{"```json", "```yaml", "```text", "```", "`json", "`"} {
		s = strings.ReplaceAll(s, r, "")
	}

	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1])
			}
		}
	}

	// no balanced found
	return ""
}

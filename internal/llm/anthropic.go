package llm

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
)

const jsonOnlyInstruction = "Responde únicamente con un objeto JSON válido, sin texto adicional."

// AnthropicClient implements Generator over the Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	log       *logrus.Entry
}

func NewAnthropicClient(apiKey, model string, log *logrus.Entry, opts ...option.RequestOption) *AnthropicClient {
	if log == nil {
		log = logger.Discard()
	}
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: 4096,
		log:       log.WithField("component", "llm-anthropic"),
	}
}

func (a *AnthropicClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	system := req.System
	if req.JSON {
		if system != "" {
			system += "\n\n"
		}
		system += jsonOnlyInstruction
	}
	maxTokens := a.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := a.client.Messages.New(ctx, params)
	if err != nil {
		a.log.WithError(err).Warn("anthropic request failed")
		return "", fmt.Errorf("anthropic: %w", err)
	}

	for _, block := range message.Content {
		if block.Type == "text" && block.Text != "" {
			a.log.WithFields(logrus.Fields{
				"tokens_in":  message.Usage.InputTokens,
				"tokens_out": message.Usage.OutputTokens,
			}).Debug("anthropic response")
			return block.Text, nil
		}
	}
	return "", ErrEmptyResponse
}

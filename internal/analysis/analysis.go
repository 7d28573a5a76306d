package analysis

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/llm"
	"call-pipeline-go/internal/logger"
)

const (
	SummaryTemperature  = 0.2
	TopicTemperature    = 0.0
	FeedbackTemperature = 0.3

	// GenericTopic is reported when topic detection fails.
	GenericTopic = "General"

	summaryExcerptRunes = 500
	maxEmbeddingRunes   = 8000
)

// Outcome describes how a stage ended. A stage that fell back still
// produced a usable value.
type Outcome struct {
	Fallback bool
	Err      error
	Duration time.Duration
}

// Analyzer runs the text stages that follow transcription. Every method
// degrades to a fixed value instead of failing.
type Analyzer struct {
	gen llm.Generator
	emb llm.Embedder
	log *logrus.Entry
}

func New(gen llm.Generator, emb llm.Embedder, log *logrus.Entry) *Analyzer {
	if log == nil {
		log = logger.Discard()
	}
	return &Analyzer{gen: gen, emb: emb, log: log.WithField("component", "analysis")}
}

// Summarize produces a short summary. customPrompt, when set, replaces the
// default instruction.
func (a *Analyzer) Summarize(ctx context.Context, transcript, customPrompt string) (string, Outcome) {
	start := time.Now()
	out, err := a.gen.Complete(ctx, llm.ChatRequest{
		System:      summarySystem,
		Prompt:      summaryPrompt(transcript, customPrompt),
		Temperature: SummaryTemperature,
	})
	if err != nil {
		a.log.WithError(err).Warn("summary failed, using transcript excerpt")
		return Excerpt(transcript, summaryExcerptRunes), Outcome{Fallback: true, Err: err, Duration: time.Since(start)}
	}
	return out, Outcome{Duration: time.Since(start)}
}

// DetectTopic classifies the call into one of Topics.
func (a *Analyzer) DetectTopic(ctx context.Context, transcript, summary string) (string, Outcome) {
	start := time.Now()
	out, err := a.gen.Complete(ctx, llm.ChatRequest{
		System:      topicSystem,
		Prompt:      topicPrompt(transcript, summary),
		Temperature: TopicTemperature,
		MaxTokens:   20,
	})
	if err != nil {
		a.log.WithError(err).Warn("topic detection failed")
		return GenericTopic, Outcome{Fallback: true, Err: err, Duration: time.Since(start)}
	}
	return NormalizeTopic(out), Outcome{Duration: time.Since(start)}
}

// Evaluate asks for structured feedback. Parse failures return the
// fallback object.
func (a *Analyzer) Evaluate(ctx context.Context, in FeedbackInput) (Feedback, Outcome) {
	start := time.Now()
	raw, err := a.gen.Complete(ctx, llm.ChatRequest{
		System:      feedbackSystem,
		Prompt:      feedbackPrompt(in),
		Temperature: FeedbackTemperature,
		JSON:        true,
	})
	if err == nil {
		var fb Feedback
		if fb, err = ParseFeedback(raw, in.Behaviors); err == nil {
			return fb, Outcome{Duration: time.Since(start)}
		}
	}
	a.log.WithError(err).Warn("feedback failed, using fallback object")
	return FallbackFeedback(in.Behaviors), Outcome{Fallback: true, Err: err, Duration: time.Since(start)}
}

// Embed returns nil when the embedding call fails.
func (a *Analyzer) Embed(ctx context.Context, in EmbeddingInput) ([]float32, Outcome) {
	start := time.Now()
	if a.emb == nil {
		return nil, Outcome{Fallback: true, Duration: time.Since(start)}
	}
	vec, err := a.emb.Embed(ctx, EmbeddingText(in))
	if err != nil {
		a.log.WithError(err).Warn("embedding failed, skipping")
		return nil, Outcome{Fallback: true, Err: err, Duration: time.Since(start)}
	}
	return vec, Outcome{Duration: time.Since(start)}
}

// Excerpt cuts s to n runes, marking the cut with "...".
func Excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

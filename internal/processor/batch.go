package processor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/speakers"
	"call-pipeline-go/internal/transcription"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (ingest.Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio ingest.Audio) (transcription.Result, error)
}

// BatchResult is returned per audio file by the bulk endpoint.
type BatchResult struct {
	AudioURL   string `json:"audio_url"`
	Transcript string `json:"transcript,omitempty"`
	Model      string `json:"model,omitempty"`
	Attempts   int    `json:"attempts,omitempty"`
	DurationMs int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}

// Batch transcribes many recordings through the worker pool.
type Batch struct {
	fetcher     Fetcher
	transcriber Transcriber
	concurrency int
	log         *logrus.Entry
}

func NewBatch(f Fetcher, t Transcriber, concurrency int, log *logrus.Entry) *Batch {
	if log == nil {
		log = logger.Discard()
	}
	return &Batch{fetcher: f, transcriber: t, concurrency: concurrency, log: log.WithField("component", "batch")}
}

// Transcribe returns one result per url, in input order.
func (b *Batch) Transcribe(ctx context.Context, urls []string) []BatchResult {
	b.log.WithFields(logrus.Fields{
		"files":   len(urls),
		"workers": Workers(b.concurrency, len(urls)),
	}).Info("batch transcription started")

	outcomes := Map(ctx, urls, b.concurrency, b.transcribeOne)

	results := make([]BatchResult, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		r := o.Value
		r.AudioURL = urls[i]
		r.DurationMs = o.Duration.Milliseconds()
		if o.Err != nil {
			failed++
			r.Error = o.Err.Error()
			b.log.WithField("audio_url", urls[i]).WithError(o.Err).Warn("batch item failed")
		}
		results[i] = r
	}
	b.log.WithFields(logrus.Fields{"files": len(urls), "failed": failed}).Info("batch transcription finished")
	return results
}

func (b *Batch) transcribeOne(ctx context.Context, url string) (BatchResult, error) {
	audio, err := b.fetcher.Fetch(ctx, url)
	if err != nil {
		return BatchResult{}, fmt.Errorf("fetching audio: %w", err)
	}
	tr, err := b.transcriber.Transcribe(ctx, audio)
	if err != nil {
		return BatchResult{}, err
	}

	res := BatchResult{Model: tr.Model, Attempts: tr.Attempts, Transcript: tr.Text}
	if t, err := speakers.Build(tr.Segments, tr.Text); err == nil {
		res.Transcript = t.String()
	}
	return res, nil
}

// Package transcription turns call audio into text through a chain of
// speech-to-text models with a shared retry envelope.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/provider"
	"call-pipeline-go/internal/types"
)

// SentinelTooLarge replaces the transcription when the file cannot be sent.
const SentinelTooLarge = "No hay transcripción disponible: el archivo es demasiado grande para transcribir."

// ErrFailed means every attempt of every model failed.
var ErrFailed = errors.New("transcription failed")

const defaultMaxAttempts = 3

// Result is the raw model output before speaker attribution.
type Result struct {
	Segments        []types.TranscriptSegment
	Text            string
	Model           string
	DurationSeconds float64
	Attempts        int
	// TooLarge marks the degraded sentinel result.
	TooLarge bool
}

// TooLargeResult is the degraded result used instead of calling a model.
func TooLargeResult() Result {
	return Result{Text: SentinelTooLarge, TooLarge: true}
}

// Model is one entry of the fallback chain.
type Model = provider.Provider[Request, Result]

type Options struct {
	Language    string
	MaxAttempts int
	// Timer and Rand are replaced in tests.
	Timer backoff.Timer
	Rand  func() float64
}

type Transcriber struct {
	models []Model
	opts   Options
	log    *logrus.Entry
}

// ModelChain builds the standard chain: every model but the last returns
// flat text, the last one is asked for segment timestamps.
func ModelChain(c *Client, names []string) []Model {
	models := make([]Model, 0, len(names))
	for i, name := range names {
		name, verbose := name, i == len(names)-1
		models = append(models, Model{
			Name: name,
			Call: func(ctx context.Context, req Request) (Result, error) {
				return c.Transcribe(ctx, name, verbose, req)
			},
		})
	}
	return models
}

func NewTranscriber(models []Model, opts Options, log *logrus.Entry) *Transcriber {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.Rand == nil {
		opts.Rand = rand.Float64
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Transcriber{models: models, opts: opts, log: log.WithField("component", "transcription")}
}

// Transcribe runs the model chain inside the retry envelope. A 413 from any
// model ends the stage with the too-large sentinel instead of an error.
func (t *Transcriber) Transcribe(ctx context.Context, audio ingest.Audio) (Result, error) {
	req := Request{Audio: audio, Language: t.opts.Language}
	policy := newRetryPolicy(t.opts.Rand)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.opts.MaxAttempts-1)), ctx)

	var (
		out      Result
		attempts int
		tooLarge bool
	)
	op := func() error {
		attempts++
		res, err := provider.Attempt(ctx, t.models, req, isTooLarge)
		if err == nil {
			out = res.Value
			out.Model = res.Provider
			if len(res.Failures) > 0 {
				t.log.WithFields(logrus.Fields{
					"model":   res.Provider,
					"skipped": len(res.Failures),
				}).Info("transcribed with fallback model")
			}
			return nil
		}
		if isTooLarge(err) {
			tooLarge = true
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		policy.rateLimited = hasStatus(err, http.StatusTooManyRequests)
		return err
	}
	notify := func(err error, wait time.Duration) {
		t.log.WithFields(logrus.Fields{
			"attempt":      attempts,
			"wait_ms":      wait.Milliseconds(),
			"rate_limited": policy.rateLimited,
			"error":        err.Error(),
		}).Warn("transcription attempt failed, backing off")
	}

	err := backoff.RetryNotifyWithTimer(op, b, notify, t.opts.Timer)
	if tooLarge {
		t.log.Warn("audio rejected as too large, using sentinel transcription")
		res := TooLargeResult()
		res.Attempts = attempts
		return res, nil
	}
	if err != nil {
		return Result{Attempts: attempts}, fmt.Errorf("%w after %d attempts: %w", ErrFailed, attempts, err)
	}
	out.Attempts = attempts
	return out, nil
}

func isTooLarge(err error) bool {
	return hasStatus(err, http.StatusRequestEntityTooLarge) || errors.Is(err, ingest.ErrPayloadTooLarge)
}

// hasStatus walks the whole error tree, including joined errors, looking
// for a StatusError with the given code.
func hasStatus(err error, code int) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Code == code {
		return true
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, e := range u.Unwrap() {
			if hasStatus(e, code) {
				return true
			}
		}
	case interface{ Unwrap() error }:
		return hasStatus(u.Unwrap(), code)
	}
	return false
}

// retryPolicy doubles a base delay per attempt up to a cap and adds up to
// two seconds of jitter. Rate-limited attempts use a longer curve.
type retryPolicy struct {
	base, max         time.Duration
	rateBase, rateMax time.Duration
	jitter            time.Duration
	rand              func() float64

	attempt     int
	rateLimited bool
}

func newRetryPolicy(r func() float64) *retryPolicy {
	return &retryPolicy{
		base:     1 * time.Second,
		max:      10 * time.Second,
		rateBase: 5 * time.Second,
		rateMax:  30 * time.Second,
		jitter:   2 * time.Second,
		rand:     r,
	}
}

func (p *retryPolicy) Reset() {
	p.attempt = 0
	p.rateLimited = false
}

func (p *retryPolicy) NextBackOff() time.Duration {
	base, limit := p.base, p.max
	if p.rateLimited {
		base, limit = p.rateBase, p.rateMax
	}
	d := base << uint(p.attempt)
	if d > limit || d <= 0 {
		d = limit
	}
	p.attempt++
	return d + time.Duration(p.rand()*float64(p.jitter))
}

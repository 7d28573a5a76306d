package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/analysis"
	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/storage"
	"call-pipeline-go/internal/transcription"
	"call-pipeline-go/internal/types"
)

// Progress checkpoints written as the run advances.
const (
	ProgressTranscribing = 10
	ProgressAnalyzing    = 30
	ProgressSummary      = 50
	ProgressTopic        = 60
	ProgressFeedback     = 80
	ProgressEmbedding    = 90
	ProgressComplete     = 100
)

// StaleRunAfter is how long an in-progress call may go without a write
// before a new trigger may take it over.
const StaleRunAfter = time.Hour

var (
	ErrMissingCallID   = errors.New("callId is required")
	ErrNoAudio         = errors.New("call has no audio url")
	ErrAccountMismatch = errors.New("call belongs to another account")
)

type Store interface {
	GetCall(ctx context.Context, id string) (types.CallRecord, error)
	ClaimCall(ctx context.Context, id string, progress int, staleAfter time.Duration) (bool, error)
	UpdateCall(ctx context.Context, id string, u storage.CallUpdate) error
	InsertFeedback(ctx context.Context, f *types.FeedbackRecord) error
	GetBehaviors(ctx context.Context, accountID string, ids []string) ([]types.Behavior, error)
}

type AudioSource interface {
	Check(ctx context.Context, url string) (ingest.Info, error)
	Fetch(ctx context.Context, url string) (ingest.Audio, error)
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio ingest.Audio) (transcription.Result, error)
}

type Analyzer interface {
	Summarize(ctx context.Context, transcript, customPrompt string) (string, analysis.Outcome)
	DetectTopic(ctx context.Context, transcript, summary string) (string, analysis.Outcome)
	Evaluate(ctx context.Context, in analysis.FeedbackInput) (analysis.Feedback, analysis.Outcome)
	Embed(ctx context.Context, in analysis.EmbeddingInput) ([]float32, analysis.Outcome)
}

// Request is one invocation of the pipeline. AccountID and UserID come from
// the caller's context; when AccountID is set it must own the call.
type Request struct {
	CallID              string   `json:"callId"`
	AccountID           string   `json:"accountId,omitempty"`
	UserID              string   `json:"userId,omitempty"`
	AudioURL            string   `json:"audioUrl,omitempty"`
	SummaryPrompt       string   `json:"summaryPrompt,omitempty"`
	FeedbackPrompt      string   `json:"feedbackPrompt,omitempty"`
	SelectedBehaviorIDs []string `json:"selectedBehaviorIds,omitempty"`
}

// Metrics describes what each stage did.
type Metrics struct {
	TranscriptionModel    string           `json:"transcriptionModel,omitempty"`
	TranscriptionAttempts int              `json:"transcriptionAttempts"`
	TranscriptChars       int              `json:"transcriptChars"`
	SpeakerTurns          int              `json:"speakerTurns"`
	SegmentTimestamps     bool             `json:"segmentTimestamps"`
	Topic                 string           `json:"topic,omitempty"`
	Score                 int              `json:"score"`
	BehaviorsEvaluated    int              `json:"behaviorsEvaluated"`
	CustomSummaryPrompt   bool             `json:"customSummaryPrompt"`
	CustomFeedbackPrompt  bool             `json:"customFeedbackPrompt"`
	Fallbacks             []string         `json:"fallbacks,omitempty"`
	StageMs               map[string]int64 `json:"stageMs"`
	TotalMs               int64            `json:"totalMs"`
}

type Result struct {
	CallID           string `json:"callId"`
	AccountID        string `json:"accountId"`
	Message          string `json:"message"`
	AlreadyCompleted bool   `json:"alreadyCompleted,omitempty"`
	// AlreadyRunning is set when another run holds the call.
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
	// Degraded is set when the run ended through the no-content path.
	Degraded bool `json:"degraded,omitempty"`
	Metrics
}

type Deps struct {
	Store       Store
	Audio       AudioSource
	Transcriber Transcriber
	Analyzer    Analyzer
}

// Runner executes the stages for one call, strictly in order.
type Runner struct {
	deps Deps
	log  *logrus.Entry
}

func New(deps Deps, log *logrus.Entry) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{deps: deps, log: log.WithField("component", "pipeline")}
}

// Run processes req.CallID. Only ingestion, transcription and persistence
// failures are returned; they leave the call in status error. Analysis
// failures degrade to fallback values.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	if req.CallID == "" {
		return Result{}, ErrMissingCallID
	}

	call, err := r.deps.Store.GetCall(ctx, req.CallID)
	if err != nil {
		return Result{CallID: req.CallID}, fmt.Errorf("loading call %s: %w", req.CallID, err)
	}
	if req.AccountID != "" && req.AccountID != call.AccountID {
		return Result{CallID: call.ID}, ErrAccountMismatch
	}

	res := Result{CallID: call.ID, AccountID: call.AccountID}
	res.StageMs = map[string]int64{}
	log := logger.WithCall(r.log, call.ID, call.AccountID)
	if req.UserID != "" {
		log = log.WithField("user_id", req.UserID)
	}

	if call.Status == types.StatusComplete {
		return skipComplete(log, res), nil
	}

	claimed, err := r.deps.Store.ClaimCall(ctx, call.ID, ProgressTranscribing, StaleRunAfter)
	if err != nil {
		return res, fmt.Errorf("claiming call %s: %w", call.ID, err)
	}
	if !claimed {
		// Lost the claim: the call finished or another run owns it.
		if cur, err := r.deps.Store.GetCall(ctx, call.ID); err == nil && cur.Status == types.StatusComplete {
			return skipComplete(log, res), nil
		}
		log.Info("call is being processed by another run, skipping")
		res.AlreadyRunning = true
		res.Message = "La llamada ya se está procesando"
		return res, nil
	}

	audioURL := req.AudioURL
	if audioURL == "" {
		audioURL = call.AudioURL
	}
	if audioURL == "" {
		return r.fail(ctx, log, res, ErrNoAudio)
	}

	run := &run{Runner: r, ctx: ctx, log: log, call: call, res: &res}

	tr, err := run.transcribe(audioURL)
	if err != nil {
		return r.fail(ctx, log, res, err)
	}
	res.TranscriptionModel = tr.Model
	res.TranscriptionAttempts = tr.Attempts

	text, turns, gateErr := buildTranscript(tr)
	res.TranscriptChars = len([]rune(text))
	res.SpeakerTurns = turns
	res.SegmentTimestamps = len(tr.Segments) > 0 && !tr.TooLarge
	if gateErr != nil {
		if err := run.finishWithoutContent(text, tr.DurationSeconds, gateErr); err != nil {
			return r.fail(ctx, log, res, err)
		}
		res.Degraded = true
		res.Message = "Llamada sin contenido analizable"
		res.TotalMs = time.Since(start).Milliseconds()
		return res, nil
	}

	if err := run.update(storage.CallUpdate{
		Status:        types.StatusAnalyzing,
		Progress:      progress(ProgressAnalyzing),
		Transcription: &text,
		Duration:      durationOrNil(tr.DurationSeconds),
	}); err != nil {
		return r.fail(ctx, log, res, err)
	}

	if err := run.analyze(text, req); err != nil {
		return r.fail(ctx, log, res, err)
	}

	res.Message = "Llamada procesada correctamente"
	res.TotalMs = time.Since(start).Milliseconds()
	log.WithFields(logrus.Fields{
		"score":     res.Score,
		"topic":     res.Topic,
		"fallbacks": len(res.Fallbacks),
		"total_ms":  res.TotalMs,
	}).Info("call processed")
	return res, nil
}

func skipComplete(log *logrus.Entry, res Result) Result {
	log.Info("call already complete, skipping")
	res.AlreadyCompleted = true
	res.Message = "La llamada ya fue procesada"
	return res
}

// fail marks the call as errored. The write survives cancellation of ctx.
func (r *Runner) fail(ctx context.Context, log *logrus.Entry, res Result, cause error) (Result, error) {
	log.WithError(cause).Error("pipeline failed")
	wctx := context.WithoutCancel(ctx)
	if err := r.deps.Store.UpdateCall(wctx, res.CallID, storage.CallUpdate{Status: types.StatusError, Progress: progress(0)}); err != nil {
		log.WithError(err).Error("could not mark call as errored")
	}
	return res, cause
}

type run struct {
	*Runner
	ctx  context.Context
	log  *logrus.Entry
	call types.CallRecord
	res  *Result
}

func (r *run) update(u storage.CallUpdate) error {
	if err := r.deps.Store.UpdateCall(r.ctx, r.call.ID, u); err != nil {
		return fmt.Errorf("persisting call %s: %w", r.call.ID, err)
	}
	return nil
}

func (r *run) timed(stage string, started time.Time) {
	r.res.StageMs[stage] = time.Since(started).Milliseconds()
}

// transcribe validates and downloads the audio, then runs the model chain.
// Files over the transcription ceiling yield the sentinel result without a
// model call.
func (r *run) transcribe(audioURL string) (transcription.Result, error) {
	started := time.Now()
	defer r.timed("transcription", started)

	info, err := r.deps.Audio.Check(r.ctx, audioURL)
	if err != nil {
		return transcription.Result{}, fmt.Errorf("ingestion: %w", err)
	}
	if info.TooLargeForTranscription {
		r.log.WithField("content_length", info.ContentLength).Warn("audio over transcription ceiling")
		return transcription.TooLargeResult(), nil
	}

	audio, err := r.deps.Audio.Fetch(r.ctx, audioURL)
	if errors.Is(err, ingest.ErrPayloadTooLarge) {
		r.log.Warn("audio stream over transcription ceiling")
		return transcription.TooLargeResult(), nil
	}
	if err != nil {
		return transcription.Result{}, fmt.Errorf("ingestion: %w", err)
	}

	tr, err := r.deps.Transcriber.Transcribe(r.ctx, audio)
	if err != nil {
		return transcription.Result{}, err
	}
	return tr, nil
}

// finishWithoutContent is the designed early exit for transcripts that
// cannot be analyzed.
func (r *run) finishWithoutContent(text string, duration float64, reason error) error {
	r.log.WithField("reason", reason.Error()).Warn("transcript rejected, writing minimal feedback")

	if err := r.update(storage.CallUpdate{Transcription: &text, Duration: durationOrNil(duration)}); err != nil {
		return err
	}
	fb := analysis.NoContentFeedback(reason.Error())
	rec := fb.Record("", r.call.ID, r.call.AccountID, time.Now())
	if err := r.deps.Store.InsertFeedback(r.ctx, &rec); err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	neutral := analysis.SentimentNeutral
	return r.update(storage.CallUpdate{
		Status:    types.StatusComplete,
		Progress:  progress(ProgressComplete),
		Sentiment: &neutral,
	})
}

// analyze runs summary, topic, feedback and embedding, persisting after each.
func (r *run) analyze(transcript string, req Request) error {
	a := r.deps.Analyzer
	r.res.CustomSummaryPrompt = req.SummaryPrompt != ""
	r.res.CustomFeedbackPrompt = req.FeedbackPrompt != ""

	summary, out := a.Summarize(r.ctx, transcript, req.SummaryPrompt)
	r.record("summary", out)
	if err := r.update(storage.CallUpdate{Progress: progress(ProgressSummary), Summary: &summary}); err != nil {
		return err
	}

	topic, out := a.DetectTopic(r.ctx, transcript, summary)
	r.record("topic", out)
	r.res.Topic = topic
	if err := r.update(storage.CallUpdate{Progress: progress(ProgressTopic), CallTopic: &topic}); err != nil {
		return err
	}

	var behaviors []types.Behavior
	if len(req.SelectedBehaviorIDs) > 0 {
		var err error
		behaviors, err = r.deps.Store.GetBehaviors(r.ctx, r.call.AccountID, req.SelectedBehaviorIDs)
		if err != nil {
			r.log.WithError(err).Warn("could not load behaviors, evaluating without them")
			behaviors = nil
		}
	}
	fb, out := a.Evaluate(r.ctx, analysis.FeedbackInput{
		Transcript:   transcript,
		Summary:      summary,
		Topic:        topic,
		CustomPrompt: req.FeedbackPrompt,
		Behaviors:    behaviors,
	})
	r.record("feedback", out)
	r.res.Score = fb.Score
	r.res.BehaviorsEvaluated = len(fb.Behaviors)
	if err := r.update(storage.CallUpdate{
		Progress:  progress(ProgressFeedback),
		Sentiment: &fb.Sentiment,
		Entities:  fb.Entities,
		Topics:    fb.Topics,
	}); err != nil {
		return err
	}

	vec, out := a.Embed(r.ctx, analysis.EmbeddingInput{
		Title:      r.call.Title,
		Agent:      r.call.AgentName,
		Summary:    summary,
		Topics:     fb.Topics,
		Category:   topic,
		Entities:   fb.Entities,
		Transcript: transcript,
	})
	r.record("embedding", out)
	if err := r.update(storage.CallUpdate{Progress: progress(ProgressEmbedding), Embedding: vec}); err != nil {
		return err
	}

	rec := fb.Record("", r.call.ID, r.call.AccountID, time.Now())
	if err := r.deps.Store.InsertFeedback(r.ctx, &rec); err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}
	return r.update(storage.CallUpdate{Status: types.StatusComplete, Progress: progress(ProgressComplete)})
}

func (r *run) record(stage string, out analysis.Outcome) {
	r.res.StageMs[stage] = out.Duration.Milliseconds()
	if out.Fallback {
		r.res.Fallbacks = append(r.res.Fallbacks, stage)
	}
}

func progress(p int) *int { return &p }

func durationOrNil(d float64) *float64 {
	if d <= 0 {
		return nil
	}
	return &d
}

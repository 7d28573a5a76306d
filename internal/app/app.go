// Package app wires the configured components into a running pipeline.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"call-pipeline-go/internal/analysis"
	"call-pipeline-go/internal/config"
	"call-pipeline-go/internal/ingest"
	"call-pipeline-go/internal/llm"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/processor"
	"call-pipeline-go/internal/storage"
	"call-pipeline-go/internal/sweeper"
	"call-pipeline-go/internal/transcription"
)

type App struct {
	Config      config.Config
	Store       *storage.Store
	Audio       *ingest.Validator
	Transcriber *transcription.Transcriber
	Runner      *pipeline.Runner
	Batch       *processor.Batch
	// Sweeper is nil when the schedule is disabled.
	Sweeper *sweeper.Sweeper
}

func Build(cfg config.Config, log *logger.Logger) (*App, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	audio := ingest.NewValidator(&http.Client{}, ingest.Limits{
		HeadTimeout:           cfg.Ingest.HeadTimeout,
		MaxFileBytes:          cfg.Ingest.MaxFileBytes,
		MaxTranscriptionBytes: cfg.Ingest.MaxTranscriptionBytes,
	}, log.Entry)

	stt := transcription.NewClient(cfg.STT.BaseURL, cfg.STT.APIKey, log.Entry)
	transcriber := transcription.NewTranscriber(
		transcription.ModelChain(stt, cfg.STT.Models),
		transcription.Options{Language: cfg.STT.Language},
		log.Entry,
	)

	gen, emb, err := llm.FromConfig(cfg.LLM, log.Entry)
	if err != nil {
		store.Close()
		return nil, err
	}

	runner := pipeline.New(pipeline.Deps{
		Store:       store,
		Audio:       audio,
		Transcriber: transcriber,
		Analyzer:    analysis.New(gen, emb, log.Entry),
	}, log.Entry)

	a := &App{
		Config:      cfg,
		Store:       store,
		Audio:       audio,
		Transcriber: transcriber,
		Runner:      runner,
		Batch:       processor.NewBatch(audio, transcriber, cfg.Batch.Concurrency, log.Entry),
	}

	sw, err := sweeper.New(cfg.Sweeper.Schedule, store, runner, cfg.Batch.Concurrency, log.Entry)
	switch {
	case errors.Is(err, sweeper.ErrDisabled):
		log.Info("pending-call sweeper disabled")
	case err != nil:
		store.Close()
		return nil, err
	default:
		a.Sweeper = sw
	}
	return a, nil
}

func (a *App) Close() error {
	return a.Store.Close()
}

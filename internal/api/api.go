// Package api exposes the call pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/processor"
	"call-pipeline-go/internal/types"
)

const (
	maxRequestBodySize = 1 << 20
	maxBatchFiles      = 500
)

type Store interface {
	CreateCall(ctx context.Context, c *types.CallRecord) error
	GetCall(ctx context.Context, id string) (types.CallRecord, error)
	ListFeedbackByCall(ctx context.Context, callID string) ([]types.FeedbackRecord, error)
	ListFeedbackByAccount(ctx context.Context, accountID string) ([]types.FeedbackRecord, error)
	SaveBehavior(ctx context.Context, b *types.Behavior) error
}

type Runner interface {
	Run(ctx context.Context, req pipeline.Request) (pipeline.Result, error)
}

type BatchTranscriber interface {
	Transcribe(ctx context.Context, urls []string) []processor.BatchResult
}

type Deps struct {
	Store  Store
	Runner Runner
	Batch  BatchTranscriber
	Log    *logger.Logger
	// Shutdown, when set, aborts pipeline runs once it is done. Runs are
	// otherwise detached from the request so a client disconnect does not
	// cancel them.
	Shutdown context.Context
}

func NewHandler(deps Deps) http.Handler {
	if deps.Log == nil {
		deps.Log = &logger.Logger{Entry: logger.Discard()}
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(deps.Log))

	r.Get("/healthz", handleHealth)
	r.Post("/process", handleProcess(deps))
	r.Post("/calls", handleCreateCall(deps))
	r.Get("/calls/{id}", handleGetCall(deps))
	r.Get("/calls/{id}/feedback", handleCallFeedback(deps))
	r.Post("/behaviors", handleSaveBehavior(deps))
	r.Get("/accounts/{id}/insights", handleInsights(deps))
	r.Post("/transcriptions/batch", handleBatch(deps))

	return r
}

// runContext detaches r's context from the client connection while keeping
// its values, bounded by deps.Shutdown.
func runContext(r *http.Request, shutdown context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	if shutdown == nil {
		return ctx, cancel
	}
	stop := context.AfterFunc(shutdown, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.WithRequest(r).WithFields(logrus.Fields{
				"status":      ww.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
			}).Info("request handled")
		})
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "ok")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// httpError writes {error, timestamp} and, when known, the call id.
func httpError(w http.ResponseWriter, code int, callID string, format string, args ...any) {
	body := map[string]any{
		"error":     fmt.Sprintf(format, args...),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if callID != "" {
		body["callId"] = callID
	}
	writeJSON(w, code, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"call-pipeline-go/internal/actionable"
	"call-pipeline-go/internal/aggregator"
	"call-pipeline-go/internal/logger"
	"call-pipeline-go/internal/pipeline"
	"call-pipeline-go/internal/processor"
	"call-pipeline-go/internal/storage"
	"call-pipeline-go/internal/types"
)

type processResponse struct {
	Success bool `json:"success"`
	pipeline.Result
}

func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req pipeline.Request
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "", "invalid request body: %v", err)
			return
		}
		req.CallID = strings.TrimSpace(req.CallID)
		if req.CallID == "" {
			httpError(w, http.StatusBadRequest, "", "callId is required")
			return
		}

		ctx, cancel := runContext(r, deps.Shutdown)
		defer cancel()
		res, err := deps.Runner.Run(ctx, req)
		if err != nil {
			logger.WithCall(deps.Log.WithRequest(r), req.CallID, req.AccountID).WithField("error", err.Error()).Error("process failed")
			httpError(w, http.StatusInternalServerError, req.CallID, "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, processResponse{Success: true, Result: res})
	}
}

type createCallRequest struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Title     string `json:"title"`
	AgentName string `json:"agentName"`
	AudioURL  string `json:"audioUrl"`
}

func handleCreateCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCallRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "", "invalid request body: %v", err)
			return
		}
		if req.AccountID == "" || req.AudioURL == "" {
			httpError(w, http.StatusBadRequest, "", "accountId and audioUrl are required")
			return
		}
		call := types.CallRecord{
			ID:        req.ID,
			AccountID: req.AccountID,
			Title:     req.Title,
			AgentName: req.AgentName,
			AudioURL:  req.AudioURL,
		}
		if err := deps.Store.CreateCall(r.Context(), &call); err != nil {
			httpError(w, http.StatusInternalServerError, req.ID, "failed to create call: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, call)
	}
}

func handleGetCall(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		call, err := deps.Store.GetCall(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, id, "call not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, id, "failed to load call: %v", err)
			return
		}
		// Embeddings are large and only useful to search backends.
		call.ContentEmbedding = nil
		writeJSON(w, http.StatusOK, call)
	}
}

func handleCallFeedback(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetCall(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, id, "call not found")
			return
		}
		rows, err := deps.Store.ListFeedbackByCall(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, id, "failed to list feedback: %v", err)
			return
		}
		if rows == nil {
			rows = []types.FeedbackRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"feedback": rows})
	}
}

type behaviorRequest struct {
	ID          string `json:"id"`
	AccountID   string `json:"accountId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func handleSaveBehavior(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req behaviorRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "", "invalid request body: %v", err)
			return
		}
		if req.AccountID == "" || strings.TrimSpace(req.Name) == "" {
			httpError(w, http.StatusBadRequest, "", "accountId and name are required")
			return
		}
		b := types.Behavior{ID: req.ID, AccountID: req.AccountID, Name: req.Name, Description: req.Description}
		if err := deps.Store.SaveBehavior(r.Context(), &b); err != nil {
			httpError(w, http.StatusInternalServerError, "", "failed to save behavior: %v", err)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	}
}

func handleInsights(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		account := chi.URLParam(r, "id")
		rows, err := deps.Store.ListFeedbackByAccount(r.Context(), account)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "", "failed to list feedback: %v", err)
			return
		}
		ins := aggregator.Aggregate(account, rows)
		writeJSON(w, http.StatusOK, map[string]any{
			"insight": ins,
			"action":  actionable.Generate(ins),
		})
	}
}

type batchRequest struct {
	AudioURLs []string `json:"audioUrls"`
}

func handleBatch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "", "invalid request body: %v", err)
			return
		}
		if len(req.AudioURLs) == 0 {
			httpError(w, http.StatusBadRequest, "", "audioUrls is required")
			return
		}
		if len(req.AudioURLs) > maxBatchFiles {
			httpError(w, http.StatusBadRequest, "", "at most %d files per batch, got %d", maxBatchFiles, len(req.AudioURLs))
			return
		}

		results := deps.Batch.Transcribe(r.Context(), req.AudioURLs)
		failed := 0
		for _, res := range results {
			if res.Error != "" {
				failed++
			}
		}
		writeJSON(w, http.StatusOK, struct {
			Total   int                     `json:"total"`
			Failed  int                     `json:"failed"`
			Results []processor.BatchResult `json:"results"`
		}{len(results), failed, results})
	}
}

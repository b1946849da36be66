// Package api exposes the paperlens pipeline over HTTP and over MCP. The
// HTTP surface never returns 5xx for a degraded-but-usable result: fallback
// analyses and context-free chat answers are 200s, and hard failures carry a
// generic message with detail kept in server logs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/paperlens/paperlens/internal/analysis"
	"github.com/paperlens/paperlens/internal/chat"
	"github.com/paperlens/paperlens/internal/paper"
	"github.com/paperlens/paperlens/internal/review"
	"github.com/paperlens/paperlens/internal/task"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps carries the pipeline services the handlers dispatch to.
type Deps struct {
	Source   paper.Source
	Analyses *analysis.Orchestrator
	Chat     *chat.Streamer
	Reviews  *review.Synthesizer
	Tasks    *task.Tracker
	Logger   *slog.Logger
}

// NewHandler returns the paperlens REST API handler.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/analysis/{paperID}", handleAnalyze(deps))
	r.Post("/analysis/{paperID}/deep", handleDeepen(deps))
	r.Get("/analysis/{paperID}", handleGetAnalysis(deps))
	r.Post("/papers/{paperID}/chat", handleChat(deps))
	r.Post("/review/generate", handleGenerateReview(deps))
	r.Get("/tasks/{taskID}", handleTaskStatus(deps))
	r.Post("/tasks/{taskID}/cancel", handleCancelTask(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// resolve turns a path paper id into a Document, mapping missing papers to
// a 404 and anything else to a generic 500. Returns nil after writing the
// error response.
func resolve(w http.ResponseWriter, r *http.Request, deps Deps) (*paper.Document, paper.Metadata) {
	paperID := chi.URLParam(r, "paperID")
	raw, meta, err := deps.Source.Fetch(r.Context(), paperID)
	if err != nil {
		if errors.Is(err, paper.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "paper not found")
		} else {
			deps.Logger.Error("paper fetch failed", "paper_id", paperID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "could not load paper")
		}
		return nil, paper.Metadata{}
	}
	return paper.NewDocument(paperID, meta.Source, raw), meta
}

func handleAnalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, meta := resolve(w, r, deps)
		if doc == nil {
			return
		}
		force := r.URL.Query().Get("force_refresh") == "true"

		rec, err := deps.Analyses.Analyze(r.Context(), doc, meta, force)
		if err != nil {
			deps.Logger.Error("analysis failed", "paper_id", doc.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "analysis unavailable")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleDeepen(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, meta := resolve(w, r, deps)
		if doc == nil {
			return
		}

		rec, err := deps.Analyses.Deepen(r.Context(), doc, meta)
		if err != nil {
			deps.Logger.Error("deep analysis failed", "paper_id", doc.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "analysis unavailable")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func handleGetAnalysis(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, _ := resolve(w, r, deps)
		if doc == nil {
			return
		}

		rec, ok := deps.Analyses.Cached(r.Context(), doc.Fingerprint)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no cached analysis for paper")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

type chatRequest struct {
	Question string      `json:"question"`
	History  []chat.Turn `json:"history"`
}

// chatEvent is one SSE data payload. The first event carries context_free;
// later events each carry one token. Error is set on at most one event,
// right before the end marker, when generation failed after retries.
type chatEvent struct {
	Token       string `json:"token,omitempty"`
	ContextFree *bool  `json:"context_free,omitempty"`
	Error       string `json:"error,omitempty"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, _ := resolve(w, r, deps)
		if doc == nil {
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		events, err := deps.Chat.Stream(r.Context(), doc, req.Question, req.History)
		if err != nil {
			deps.Logger.Error("chat stream start failed", "paper_id", doc.ID, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "chat unavailable")
			return
		}

		streamEvents(w, deps.Logger, events)
	}
}

func streamEvents(w http.ResponseWriter, logger *slog.Logger, events <-chan chat.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	first := true
	for ev := range events {
		switch {
		case ev.Done:
			if ev.Err != nil {
				// Tell the client the answer is incomplete; detail stays in logs.
				logger.Warn("chat stream ended abnormally", "error", ev.Err)
				writeSSE(w, chatEvent{Error: "the model could not complete a response"})
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return
		case first:
			cf := ev.ContextFree
			writeSSE(w, chatEvent{ContextFree: &cf})
			flusher.Flush()
			first = false
		default:
			writeSSE(w, chatEvent{Token: ev.Token})
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

type reviewRequest struct {
	PaperIDs []string `json:"paper_ids"`
	Topic    string   `json:"topic"`
}

func handleGenerateReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req reviewRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Topic == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "topic is required")
			return
		}
		if len(req.PaperIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "paper_ids is required and must not be empty")
			return
		}
		if len(req.PaperIDs) > review.MaxPapers {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"too many papers: %d exceeds limit of %d", len(req.PaperIDs), review.MaxPapers)
			return
		}

		// Resolve every paper up front so bad ids fail the request, not
		// the background task.
		papers := make([]review.Paper, 0, len(req.PaperIDs))
		for _, id := range req.PaperIDs {
			raw, meta, err := deps.Source.Fetch(r.Context(), id)
			if err != nil {
				if errors.Is(err, paper.ErrNotFound) {
					httpError(w, http.StatusNotFound, "not_found", "paper not found: %s", id)
				} else {
					deps.Logger.Error("paper fetch failed", "paper_id", id, "error", err)
					httpError(w, http.StatusInternalServerError, "api_error", "could not load paper")
				}
				return
			}
			papers = append(papers, review.Paper{
				Doc:  paper.NewDocument(id, meta.Source, raw),
				Meta: meta,
			})
		}

		topic := req.Topic
		taskID := deps.Tasks.Submit("review", func(ctx context.Context) (any, error) {
			return deps.Reviews.Synthesize(ctx, topic, papers)
		})

		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID})
	}
}

func handleTaskStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Tasks.Poll(chi.URLParam(r, "taskID"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleCancelTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "taskID")
		err := deps.Tasks.Cancel(id)
		switch {
		case errors.Is(err, task.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "task not found")
			return
		case errors.Is(err, task.ErrTerminal):
			httpError(w, http.StatusConflict, "invalid_request_error", "task already finished")
			return
		case err != nil:
			deps.Logger.Error("task cancel failed", "task_id", id, "error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "could not cancel task")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelling"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

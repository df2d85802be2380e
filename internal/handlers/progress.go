package handlers

import (
	"net/http"
	"strconv"
	"time"

	"docembed/internal/contextutil"
	"docembed/internal/service"
	"docembed/internal/storage"
)

// ProgressHandler reports how many chunks of a source are persisted.
type ProgressHandler struct {
	svc service.IngestService
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(svc service.IngestService) *ProgressHandler {
	return &ProgressHandler{svc: svc}
}

// RunResponse is the JSON form of a ledger entry.
type RunResponse struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Collection  string `json:"collection"`
	DocHash     string `json:"doc_hash"`
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Skipped     int    `json:"skipped"`
	Embedded    int    `json:"embedded"`
	Written     int    `json:"written"`
	Batches     int    `json:"batches"`
	FailedBatch int    `json:"failed_batch,omitempty"`
	Error       string `json:"error,omitempty"`
	StartedAt   string `json:"started_at"`
	FinishedAt  string `json:"finished_at,omitempty"`
}

// ProgressResponse represents the HTTP response payload for progress.
type ProgressResponse struct {
	Source     string       `json:"source"`
	Collection string       `json:"collection"`
	Persisted  int          `json:"persisted"`
	LastRun    *RunResponse `json:"last_run,omitempty"`
}

// ServeHTTP handles GET /api/progress?source=...&collection=...
func (h *ProgressHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	query := r.URL.Query()
	progress, err := h.svc.Progress(ctx, service.ProgressRequest{
		Source:     query.Get("source"),
		Collection: query.Get("collection"),
	})
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	resp := ProgressResponse{
		Source:     progress.Source,
		Collection: progress.Collection,
		Persisted:  progress.Persisted,
	}
	if progress.LastRun != nil {
		run := toRunResponse(*progress.LastRun)
		resp.LastRun = &run
	}
	writeJSON(w, http.StatusOK, resp)
}

// RunsHandler lists ledger entries.
type RunsHandler struct {
	svc service.IngestService
}

// NewRunsHandler creates a new RunsHandler.
func NewRunsHandler(svc service.IngestService) *RunsHandler {
	return &RunsHandler{svc: svc}
}

// RunsResponse represents the HTTP response payload for the run list.
type RunsResponse struct {
	Runs []RunResponse `json:"runs"`
}

// ServeHTTP handles GET /api/runs?limit=N.
func (h *RunsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodGet {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	runs, err := h.svc.Runs(ctx, limit)
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	resp := RunsResponse{Runs: make([]RunResponse, 0, len(runs))}
	for _, run := range runs {
		resp.Runs = append(resp.Runs, toRunResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toRunResponse(run storage.Run) RunResponse {
	out := RunResponse{
		ID:          run.ID,
		Source:      run.Source,
		Collection:  run.Collection,
		DocHash:     run.DocHash,
		Status:      run.Status,
		Total:       run.Total,
		Skipped:     run.Skipped,
		Embedded:    run.Embedded,
		Written:     run.Written,
		Batches:     run.Batches,
		FailedBatch: run.FailedBatch,
		Error:       run.Error,
		StartedAt:   run.StartedAt.UTC().Format(time.RFC3339),
	}
	if run.FinishedAt != nil {
		out.FinishedAt = run.FinishedAt.UTC().Format(time.RFC3339)
	}
	return out
}

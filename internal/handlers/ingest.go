package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"docembed/internal/contextutil"
	"docembed/internal/indexer"
	"docembed/internal/service"
)

// maxDocumentBytes bounds the ingest request body.
const maxDocumentBytes = 64 << 20

// IngestHandler handles HTTP requests for document ingestion.
type IngestHandler struct {
	svc service.IngestService
}

// NewIngestHandler creates a new IngestHandler.
func NewIngestHandler(svc service.IngestService) *IngestHandler {
	return &IngestHandler{svc: svc}
}

// IngestRequest represents the HTTP request payload for ingestion.
type IngestRequest struct {
	Source       string `json:"source"`
	Collection   string `json:"collection,omitempty"`
	Document     string `json:"document"`
	BatchSize    int    `json:"batch_size,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
	AllowChanged bool   `json:"allow_changed,omitempty"`
}

// BatchPlan describes one pending batch of a dry run.
type BatchPlan struct {
	Number     int `json:"number"`
	FirstIndex int `json:"first_index"`
	LastIndex  int `json:"last_index"`
	Size       int `json:"size"`
}

// FailedBatch locates the batch a run stopped at.
type FailedBatch struct {
	Number     int `json:"number"`
	FirstIndex int `json:"first_index"`
	LastIndex  int `json:"last_index"`
}

// IngestResponse represents the HTTP response payload for ingestion. Failed
// runs carry the counts reached before the failure.
type IngestResponse struct {
	RunID       string       `json:"run_id,omitempty"`
	Source      string       `json:"source"`
	Collection  string       `json:"collection"`
	DocHash     string       `json:"doc_hash"`
	Total       int          `json:"total"`
	Skipped     int          `json:"skipped"`
	Embedded    int          `json:"embedded"`
	Written     int          `json:"written"`
	Batches     int          `json:"batches"`
	BatchesDone int          `json:"batches_done"`
	Planned     []BatchPlan  `json:"planned,omitempty"`
	Error       string       `json:"error,omitempty"`
	Kind        string       `json:"kind,omitempty"`
	FailedBatch *FailedBatch `json:"failed_batch,omitempty"`
}

// ServeHTTP handles POST /api/ingest.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxDocumentBytes)).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.svc.Ingest(ctx, service.IngestRequest{
		Source:       req.Source,
		Collection:   req.Collection,
		Document:     []byte(req.Document),
		BatchSize:    req.BatchSize,
		DryRun:       req.DryRun,
		AllowChanged: req.AllowChanged,
	})
	if resp == nil {
		if err == nil {
			writeError(w, http.StatusInternalServerError, "Empty ingest response")
			return
		}
		handleServiceError(w, ctx, err)
		return
	}

	body := toIngestResponse(resp)
	if err != nil {
		status := statusFor(err)
		logger.ErrorContext(ctx, "ingestion failed", "status", status, "written", body.Written, "error", err)
		body.Error = err.Error()
		body.Kind = errorKind(err)
		var batchErr *indexer.BatchError
		if errors.As(err, &batchErr) {
			body.FailedBatch = &FailedBatch{
				Number:     batchErr.Batch,
				FirstIndex: batchErr.FirstIndex,
				LastIndex:  batchErr.LastIndex,
			}
		}
		writeJSON(w, status, body)
		return
	}

	writeJSON(w, http.StatusOK, body)
}

func toIngestResponse(resp *service.IngestResponse) IngestResponse {
	out := IngestResponse{
		RunID:       resp.RunID,
		Source:      resp.Source,
		Collection:  resp.Collection,
		DocHash:     resp.DocHash,
		Total:       resp.Result.Total,
		Skipped:     resp.Result.Skipped,
		Embedded:    resp.Result.Embedded,
		Written:     resp.Result.Written,
		Batches:     resp.Result.Batches,
		BatchesDone: resp.Result.BatchesDone,
	}
	for _, p := range resp.Result.Planned {
		out.Planned = append(out.Planned, BatchPlan{
			Number:     p.Number,
			FirstIndex: p.FirstIndex,
			LastIndex:  p.LastIndex,
			Size:       p.Size,
		})
	}
	return out
}

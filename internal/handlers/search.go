package handlers

import (
	"encoding/json"
	"net/http"

	"docembed/internal/contextutil"
	"docembed/internal/service"
)

// SearchHandler handles similarity search requests.
type SearchHandler struct {
	svc service.IngestService
}

// NewSearchHandler creates a new SearchHandler.
func NewSearchHandler(svc service.IngestService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

// SearchRequest represents the HTTP request payload for search.
type SearchRequest struct {
	Query      string `json:"query"`
	Collection string `json:"collection,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
	Chapter    string `json:"chapter,omitempty"`
	Source     string `json:"source,omitempty"`
}

// SearchHit is one result.
type SearchHit struct {
	Score      float32 `json:"score"`
	Text       string  `json:"text"`
	Heading    string  `json:"heading"`
	Chapter    string  `json:"chapter"`
	Source     string  `json:"source"`
	ChunkIndex int     `json:"chunk_index"`
}

// SearchResponse represents the HTTP response payload for search.
type SearchResponse struct {
	Results []SearchHit `json:"results"`
}

// ServeHTTP handles POST /api/search.
func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := contextutil.LoggerFromContext(ctx)

	if r.Method != http.MethodPost {
		logger.WarnContext(ctx, "method not allowed", "method", r.Method)
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.WarnContext(ctx, "invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	results, err := h.svc.Search(ctx, service.SearchRequest{
		Query:      req.Query,
		Collection: req.Collection,
		TopK:       req.TopK,
		Chapter:    req.Chapter,
		Source:     req.Source,
	})
	if err != nil {
		handleServiceError(w, ctx, err)
		return
	}

	resp := SearchResponse{Results: make([]SearchHit, 0, len(results))}
	for _, res := range results {
		resp.Results = append(resp.Results, SearchHit{
			Score:      res.Score,
			Text:       res.Record.Text,
			Heading:    res.Record.Heading,
			Chapter:    res.Record.Chapter,
			Source:     res.Record.Source,
			ChunkIndex: res.Record.ChunkIndex,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

package service

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_ingester.go -package=mocks docembed/internal/service Ingester
//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_ingest_service.go -package=mocks docembed/internal/service IngestService

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"docembed/internal/apperr"
	"docembed/internal/config"
	"docembed/internal/contextutil"
	"docembed/internal/indexer"
	"docembed/internal/llm"
	"docembed/internal/storage"
	"docembed/internal/vectorstore"
)

const (
	// DefaultTopK is the number of search hits returned when none is requested.
	DefaultTopK = 3
	// MaxTopK caps search requests.
	MaxTopK = 100
)

// Ingester runs one ingestion. *indexer.Pipeline implements it.
type Ingester interface {
	Ingest(ctx context.Context, req indexer.Request) (*indexer.Result, error)
}

// IngestRequest represents an ingestion request in the domain layer.
type IngestRequest struct {
	Source       string
	Collection   string // Empty uses the configured collection
	Document     []byte
	BatchSize    int // 0 uses the configured batch size
	DryRun       bool
	AllowChanged bool // Ingest even if the document differs from the last recorded run
}

// IngestResponse reports a run. On failure it still carries the counts
// reached before the failing batch.
type IngestResponse struct {
	RunID      string // Empty for dry runs or when the ledger is unavailable
	Source     string
	Collection string
	DocHash    string
	Result     indexer.Result
}

// SearchRequest represents a similarity search.
type SearchRequest struct {
	Query      string
	Collection string
	TopK       int
	Chapter    string
	Source     string
}

// ProgressRequest asks how far a document got. Document is optional; when
// given, the response includes the total and the missing indices.
type ProgressRequest struct {
	Source     string
	Collection string
	Document   []byte
}

// Progress describes the persisted state of one source.
type Progress struct {
	Source        string       `json:"source"`
	Collection    string       `json:"collection"`
	Persisted     int          `json:"persisted"`
	DocumentGiven bool         `json:"document_given"`
	Total         int          `json:"total,omitempty"`   // Set when DocumentGiven
	Missing       []int        `json:"missing,omitempty"` // Set when DocumentGiven
	LastRun       *storage.Run `json:"last_run,omitempty"`
}

// IngestService provides ingestion, progress and search.
type IngestService interface {
	// Ingest validates the request, records it in the ledger and runs the pipeline.
	Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error)
	// Progress reports which chunks of a source are already persisted.
	Progress(ctx context.Context, req ProgressRequest) (*Progress, error)
	// Search embeds the query and returns the nearest chunks.
	Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error)
	// Runs lists recorded runs, newest first.
	Runs(ctx context.Context, limit int) ([]storage.Run, error)
}

// ingestService implements IngestService.
type ingestService struct {
	ingester   Ingester
	chunker    indexer.Chunker
	embedder   llm.Embedder
	store      vectorstore.Store
	runs       storage.RunStore
	collection string
}

// NewIngestService creates a new IngestService. collection is the default
// used when a request names none.
func NewIngestService(ingester Ingester, chunker indexer.Chunker, embedder llm.Embedder,
	store vectorstore.Store, runs storage.RunStore, collection string) IngestService {
	return &ingestService{
		ingester:   ingester,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		runs:       runs,
		collection: collection,
	}
}

// Ingest runs the pipeline for one document.
func (s *ingestService) Ingest(ctx context.Context, req IngestRequest) (*IngestResponse, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.Collection == "" {
		req.Collection = s.collection
	}
	if err := validateTarget(req.Source, req.Collection); err != nil {
		logger.WarnContext(ctx, "invalid ingest request", "error", err)
		return nil, err
	}
	if req.BatchSize < 0 {
		return nil, &ValidationError{Field: "batch_size", Message: "must not be negative"}
	}

	hash := sha256.Sum256(req.Document)
	resp := &IngestResponse{
		Source:     req.Source,
		Collection: req.Collection,
		DocHash:    hex.EncodeToString(hash[:]),
	}
	logger = logger.With("source", req.Source, "collection", req.Collection)
	ctx = contextutil.WithLogger(ctx, logger)

	if !req.AllowChanged {
		if err := s.checkUnchanged(ctx, resp); err != nil {
			return resp, err
		}
	}

	var run *storage.Run
	if !req.DryRun {
		run = &storage.Run{
			Source:      req.Source,
			Collection:  req.Collection,
			DocHash:     resp.DocHash,
			ChunkConfig: s.chunker.Version(),
		}
		if err := s.runs.Start(ctx, run); err != nil {
			logger.WarnContext(ctx, "failed to record run start", "error", err)
			run = nil
		} else {
			resp.RunID = run.ID
			ctx = contextutil.WithLogger(ctx, logger.With("run_id", run.ID))
		}
	}

	result, err := s.ingester.Ingest(ctx, indexer.Request{
		Document:   req.Document,
		Source:     req.Source,
		Collection: req.Collection,
		BatchSize:  req.BatchSize,
		DryRun:     req.DryRun,
	})
	if result != nil {
		resp.Result = *result
	}

	if run != nil {
		// An interrupted run is still recorded after ctx is cancelled.
		s.finishRun(context.WithoutCancel(ctx), run, resp.Result, err)
	}
	return resp, err
}

// checkUnchanged refuses a document whose hash or chunking config differs
// from the last recorded run while chunks of that run are still persisted:
// new chunk indices would not line up with the stored ones. Runs recorded
// without a chunking config only have their hash compared.
func (s *ingestService) checkUnchanged(ctx context.Context, resp *IngestResponse) error {
	logger := contextutil.LoggerFromContext(ctx)

	prev, err := s.runs.LatestBySource(ctx, resp.Source, resp.Collection)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		logger.WarnContext(ctx, "failed to read run ledger, skipping change check", "error", err)
		return nil
	}
	var changed []string
	if prev.DocHash != resp.DocHash {
		changed = append(changed, "document")
	}
	if prev.ChunkConfig != "" && prev.ChunkConfig != s.chunker.Version() {
		changed = append(changed, "chunking config")
	}
	if len(changed) == 0 {
		return nil
	}

	exists, err := s.store.CollectionExists(ctx, resp.Collection)
	if err != nil || !exists {
		return err
	}
	existing, err := s.store.ExistingIndices(ctx, resp.Collection, resp.Source)
	if err != nil {
		return err
	}
	if existing.Len() == 0 {
		return nil
	}
	return apperr.New(apperr.ErrConfig,
		"%s of %s changed since run %s (%d chunks persisted); delete its chunks or allow changed documents",
		strings.Join(changed, " and "), resp.Source, prev.ID, existing.Len())
}

func (s *ingestService) finishRun(ctx context.Context, run *storage.Run, result indexer.Result, runErr error) {
	logger := contextutil.LoggerFromContext(ctx)

	run.Total = result.Total
	run.Skipped = result.Skipped
	run.Embedded = result.Embedded
	run.Written = result.Written
	run.Batches = result.Batches
	run.Status = storage.RunSucceeded
	if runErr != nil {
		run.Status = storage.RunFailed
		run.Error = runErr.Error()
		var batchErr *indexer.BatchError
		if errors.As(runErr, &batchErr) {
			run.FailedBatch = batchErr.Batch
		}
	}

	if err := s.runs.Finish(ctx, run); err != nil {
		logger.WarnContext(ctx, "failed to record run result", "error", err)
	}
}

// Progress reports which chunks of a source are persisted.
func (s *ingestService) Progress(ctx context.Context, req ProgressRequest) (*Progress, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.Collection == "" {
		req.Collection = s.collection
	}
	if err := validateTarget(req.Source, req.Collection); err != nil {
		return nil, err
	}

	existing, err := s.store.ExistingIndices(ctx, req.Collection, req.Source)
	if err != nil {
		return nil, err
	}

	progress := &Progress{
		Source:     req.Source,
		Collection: req.Collection,
		Persisted:  existing.Len(),
	}

	if req.Document != nil {
		progress.DocumentGiven = true
		progress.Missing = []int{}
		for chunk := range s.chunker.Chunks(req.Document, req.Source) {
			progress.Total++
			if !existing.Has(chunk.Index) {
				progress.Missing = append(progress.Missing, chunk.Index)
			}
		}
	}

	if run, err := s.runs.LatestBySource(ctx, req.Source, req.Collection); err == nil {
		progress.LastRun = run
	} else if !errors.Is(err, storage.ErrNotFound) {
		logger.WarnContext(ctx, "failed to read run ledger", "error", err)
	}

	return progress, nil
}

// Search embeds the query and runs a filtered similarity search.
func (s *ingestService) Search(ctx context.Context, req SearchRequest) ([]vectorstore.SearchResult, error) {
	logger := contextutil.LoggerFromContext(ctx)

	if req.Query == "" {
		return nil, &ValidationError{Field: "query", Message: "cannot be empty"}
	}
	if req.Collection == "" {
		req.Collection = s.collection
	}
	if !config.ValidCollectionName(req.Collection) {
		return nil, &ValidationError{Field: "collection", Message: "must start with a letter and contain only letters, digits and underscores"}
	}
	if req.TopK == 0 {
		req.TopK = DefaultTopK
	}
	if req.TopK < 0 || req.TopK > MaxTopK {
		return nil, &ValidationError{Field: "top_k", Message: fmt.Sprintf("must be between 1 and %d", MaxTopK)}
	}

	vectors, err := s.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil {
		logger.ErrorContext(ctx, "failed to embed query", "error", err)
		return nil, WrapError(err, "failed to embed query")
	}
	if len(vectors) != 1 {
		return nil, apperr.New(apperr.ErrProtocol, "expected 1 query embedding, got %d", len(vectors))
	}

	results, err := s.store.Search(ctx, req.Collection, vectors[0], req.TopK, vectorstore.Filter{
		Chapter: req.Chapter,
		Source:  req.Source,
	})
	if err != nil {
		logger.ErrorContext(ctx, "search failed", "collection", req.Collection, "error", err)
		return nil, WrapError(err, "failed to search")
	}

	logger.InfoContext(ctx, "search completed", "collection", req.Collection, "hits", len(results))
	return results, nil
}

// Runs lists recorded runs, newest first.
func (s *ingestService) Runs(ctx context.Context, limit int) ([]storage.Run, error) {
	if limit < 0 {
		return nil, &ValidationError{Field: "limit", Message: "must not be negative"}
	}
	runs, err := s.runs.List(ctx, limit)
	if err != nil {
		return nil, WrapError(err, "failed to list runs")
	}
	return runs, nil
}

func validateTarget(source, collection string) error {
	if source == "" {
		return &ValidationError{Field: "source", Message: "cannot be empty"}
	}
	if collection == "" {
		return &ValidationError{Field: "collection", Message: "cannot be empty"}
	}
	if !config.ValidCollectionName(collection) {
		return &ValidationError{Field: "collection", Message: "must start with a letter and contain only letters, digits and underscores"}
	}
	return nil
}

package indexer

import (
	"context"
	"fmt"
	"iter"

	"docembed/internal/apperr"
	"docembed/internal/contextutil"
	"docembed/internal/llm"
	"docembed/internal/vectorstore"
)

// DefaultBatchSize is the number of chunks embedded and written per batch.
const DefaultBatchSize = 16

// Chunker turns a document into ordered chunks.
type Chunker interface {
	Chunks(content []byte, source string) iter.Seq[Chunk]
	// Version identifies the chunking implementation and params. Two chunkers
	// with the same version assign the same indices to the same document.
	Version() string
}

// Pipeline drives a resumable ingestion of one document into a collection.
// Progress lives only in the vector store: every run asks the store which
// chunk indices exist and sends the rest, one batch at a time.
type Pipeline struct {
	chunker   Chunker
	embedder  llm.Embedder
	store     vectorstore.Store
	writer    *vectorstore.Writer
	dimension int
	batchSize int
}

// NewPipeline creates a new ingestion pipeline. batchSize <= 0 uses DefaultBatchSize.
func NewPipeline(chunker Chunker, embedder llm.Embedder, store vectorstore.Store, dimension, batchSize int) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		writer:    vectorstore.NewWriter(store, dimension),
		dimension: dimension,
		batchSize: batchSize,
	}
}

// Request describes one ingestion run.
type Request struct {
	Document   []byte
	Source     string
	Collection string
	BatchSize  int  // Overrides the pipeline default when > 0
	DryRun     bool // Plan only: nothing is created, embedded or written
}

// Result reports what a run did. On failure it holds the counts reached
// before the failing batch.
type Result struct {
	Total       int // Chunks in the document
	Skipped     int // Chunks already persisted before this run
	Embedded    int
	Written     int
	Batches     int // Batches needed for the pending chunks
	BatchesDone int
	Planned     []BatchPlan // Only for dry runs
}

// BatchPlan describes one pending batch.
type BatchPlan struct {
	Number     int
	FirstIndex int
	LastIndex  int
	Size       int
}

// BatchError reports the batch a run stopped at.
type BatchError struct {
	Batch      int // 1-based
	Batches    int
	FirstIndex int
	LastIndex  int
	Err        error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d of %d (chunks %d-%d): %v", e.Batch, e.Batches, e.FirstIndex, e.LastIndex, e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Ingest chunks req.Document and persists every chunk the store does not
// already hold for req.Source. Batches run in ascending index order and each
// is written before the next is embedded, so an interrupted run resumes at
// the first missing batch.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	logger := contextutil.LoggerFromContext(ctx).With("source", req.Source, "collection", req.Collection)

	if req.Source == "" {
		return nil, apperr.New(apperr.ErrConfig, "source is required")
	}
	if req.Collection == "" {
		return nil, apperr.New(apperr.ErrConfig, "collection is required")
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = p.batchSize
	}

	result := &Result{}

	exists := true
	if req.DryRun {
		var err error
		if exists, err = p.store.CollectionExists(ctx, req.Collection); err != nil {
			return result, err
		}
	} else if err := p.store.EnsureCollection(ctx, req.Collection, p.dimension); err != nil {
		return result, err
	}

	chunks := make([]Chunk, 0)
	for chunk := range p.chunker.Chunks(req.Document, req.Source) {
		chunks = append(chunks, chunk)
	}
	result.Total = len(chunks)

	existing := vectorstore.NewIndexSet()
	if exists {
		var err error
		if existing, err = p.store.ExistingIndices(ctx, req.Collection, req.Source); err != nil {
			return result, err
		}
	}

	pending := pendingChunks(chunks, existing)
	result.Skipped = len(chunks) - len(pending)
	batches := partition(pending, batchSize)
	result.Batches = len(batches)

	logger.InfoContext(ctx, "ingestion planned", "total", result.Total, "skipped", result.Skipped,
		"pending", len(pending), "batches", result.Batches, "batch_size", batchSize, "dry_run", req.DryRun)

	if req.DryRun {
		result.Planned = make([]BatchPlan, 0, len(batches))
		for i, batch := range batches {
			result.Planned = append(result.Planned, BatchPlan{
				Number:     i + 1,
				FirstIndex: batch[0].Index,
				LastIndex:  batch[len(batch)-1].Index,
				Size:       len(batch),
			})
		}
		return result, nil
	}

	for i, batch := range batches {
		batchErr := func(err error) *BatchError {
			return &BatchError{
				Batch:      i + 1,
				Batches:    len(batches),
				FirstIndex: batch[0].Index,
				LastIndex:  batch[len(batch)-1].Index,
				Err:        err,
			}
		}

		if err := ctx.Err(); err != nil {
			return result, batchErr(err)
		}

		embedded, written, err := p.processBatch(ctx, req.Collection, batch)
		result.Embedded += embedded
		result.Written += written
		if err != nil {
			logger.ErrorContext(ctx, "batch failed", "batch", i+1, "batches", len(batches),
				"kind", apperr.KindName(err), "error", err)
			return result, batchErr(err)
		}
		result.BatchesDone++

		logger.InfoContext(ctx, fmt.Sprintf("batch %d of %d", i+1, len(batches)),
			"first_index", batch[0].Index, "last_index", batch[len(batch)-1].Index, "written", written)
	}

	logger.InfoContext(ctx, "ingestion completed", "total", result.Total, "skipped", result.Skipped,
		"written", result.Written)
	return result, nil
}

// processBatch embeds one batch and writes it. It returns how many chunks
// were embedded and written.
func (p *Pipeline) processBatch(ctx context.Context, collection string, batch []Chunk) (int, int, error) {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		if apperr.Kind(err) == nil {
			err = apperr.Wrap(apperr.ErrTransient, "failed to generate embeddings", err)
		}
		return 0, 0, err
	}
	if len(vectors) != len(batch) {
		return 0, 0, apperr.New(apperr.ErrProtocol, "embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
	}

	records := make([]vectorstore.Record, len(batch))
	for i, chunk := range batch {
		records[i] = vectorstore.Record{
			Vector:     vectors[i],
			Text:       chunk.Text,
			Heading:    chunk.Heading,
			Chapter:    chunk.Chapter,
			Source:     chunk.Source,
			ChunkIndex: chunk.Index,
		}
	}

	written, err := p.writer.Write(ctx, collection, records)
	if err != nil {
		return len(batch), 0, err
	}
	return len(batch), written, nil
}

// pendingChunks keeps the chunks whose index is not in existing, in order.
func pendingChunks(chunks []Chunk, existing vectorstore.IndexSet) []Chunk {
	pending := make([]Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if !existing.Has(chunk.Index) {
			pending = append(pending, chunk)
		}
	}
	return pending
}

// partition splits chunks into consecutive batches of at most size.
func partition(chunks []Chunk, size int) [][]Chunk {
	var batches [][]Chunk
	for start := 0; start < len(chunks); start += size {
		end := min(start+size, len(chunks))
		batches = append(batches, chunks[start:end])
	}
	return batches
}

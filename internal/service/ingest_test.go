package service_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"docembed/internal/apperr"
	"docembed/internal/indexer"
	llm_mocks "docembed/internal/llm/mocks"
	"docembed/internal/service"
	service_mocks "docembed/internal/service/mocks"
	"docembed/internal/storage"
	storage_mocks "docembed/internal/storage/mocks"
	"docembed/internal/vectorstore"
	vectorstore_mocks "docembed/internal/vectorstore/mocks"
)

func init() {
	// Set default logger to discard output for cleaner test output
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

const threeChunks = "# A\n\na\n\n# B\n\nb\n\n# C\n\nc\n"

type fixture struct {
	ingester *service_mocks.MockIngester
	embedder *llm_mocks.MockEmbedder
	store    *vectorstore_mocks.MockStore
	runs     *storage_mocks.MockRunStore
	svc      service.IngestService
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithChunking(t, indexer.DefaultChunkConfig())
}

func newFixtureWithChunking(t *testing.T, cfg indexer.ChunkConfig) *fixture {
	ctrl := gomock.NewController(t)
	f := &fixture{
		ingester: service_mocks.NewMockIngester(ctrl),
		embedder: llm_mocks.NewMockEmbedder(ctrl),
		store:    vectorstore_mocks.NewMockStore(ctrl),
		runs:     storage_mocks.NewMockRunStore(ctrl),
	}
	f.svc = service.NewIngestService(f.ingester, indexer.NewGoldmarkChunker(cfg),
		f.embedder, f.store, f.runs, "books")
	return f
}

func TestIngestService_Ingest_Validation(t *testing.T) {
	tests := []struct {
		name      string
		req       service.IngestRequest
		wantField string
	}{
		{name: "missing source", req: service.IngestRequest{Document: []byte("x")}, wantField: "source"},
		{name: "collection starts with digit", req: service.IngestRequest{Source: "a.md", Collection: "1books"}, wantField: "collection"},
		{name: "collection with dash", req: service.IngestRequest{Source: "a.md", Collection: "my-books"}, wantField: "collection"},
		{name: "negative batch size", req: service.IngestRequest{Source: "a.md", BatchSize: -1}, wantField: "batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			resp, err := f.svc.Ingest(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, resp)

			var ve *service.ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.wantField, ve.Field)
			assert.True(t, errors.Is(err, service.ErrInvalidInput))
		})
	}
}

func TestIngestService_Ingest_Succeeds(t *testing.T) {
	f := newFixture(t)
	doc := []byte(threeChunks)

	f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, storage.ErrNotFound)
	f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		assert.Equal(t, "book.md", run.Source)
		assert.Equal(t, "books", run.Collection)
		assert.Len(t, run.DocHash, 64)
		assert.Equal(t, indexer.NewGoldmarkChunker(indexer.DefaultChunkConfig()).Version(), run.ChunkConfig)
		run.ID = "run-1"
		run.Status = storage.RunRunning
		return nil
	})
	f.ingester.EXPECT().Ingest(gomock.Any(), indexer.Request{
		Document: doc, Source: "book.md", Collection: "books", BatchSize: 2,
	}).Return(&indexer.Result{Total: 3, Embedded: 3, Written: 3, Batches: 2, BatchesDone: 2}, nil)
	f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		assert.Equal(t, "run-1", run.ID)
		assert.Equal(t, storage.RunSucceeded, run.Status)
		assert.Equal(t, 3, run.Written)
		assert.Equal(t, 2, run.Batches)
		assert.Zero(t, run.FailedBatch)
		assert.Empty(t, run.Error)
		return nil
	})

	resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: doc, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "books", resp.Collection)
	assert.Equal(t, 3, resp.Result.Written)
}

func TestIngestService_Ingest_RecordsFailure(t *testing.T) {
	f := newFixture(t)
	cause := apperr.New(apperr.ErrTransient, "store unavailable")
	batchErr := &indexer.BatchError{Batch: 2, Batches: 2, FirstIndex: 2, LastIndex: 2, Err: cause}

	f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, storage.ErrNotFound)
	f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		run.ID = "run-2"
		return nil
	})
	f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).
		Return(&indexer.Result{Total: 3, Embedded: 3, Written: 2, Batches: 2, BatchesDone: 1}, batchErr)
	f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		assert.Equal(t, storage.RunFailed, run.Status)
		assert.Equal(t, 2, run.FailedBatch)
		assert.Equal(t, 2, run.Written)
		assert.Contains(t, run.Error, "batch 2 of 2")
		return nil
	})

	resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: []byte(threeChunks)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.ErrTransient))
	require.NotNil(t, resp)
	assert.Equal(t, 2, resp.Result.Written)
	assert.Equal(t, 1, resp.Result.BatchesDone)
}

func TestIngestService_Ingest_ChangedDocument(t *testing.T) {
	prev := &storage.Run{ID: "run-0", Source: "book.md", Collection: "books", DocHash: "different"}

	t.Run("refused while old chunks exist", func(t *testing.T) {
		f := newFixture(t)
		f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(prev, nil)
		f.store.EXPECT().CollectionExists(gomock.Any(), "books").Return(true, nil)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "books", "book.md").Return(vectorstore.NewIndexSet(0, 1), nil)

		resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: []byte(threeChunks)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrConfig))
		assert.Contains(t, err.Error(), "run-0")
		assert.Empty(t, resp.RunID)
	})

	t.Run("allowed when nothing is persisted", func(t *testing.T) {
		f := newFixture(t)
		f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(prev, nil)
		f.store.EXPECT().CollectionExists(gomock.Any(), "books").Return(true, nil)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "books", "book.md").Return(vectorstore.NewIndexSet(), nil)
		f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Return(nil)
		f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).Return(&indexer.Result{Total: 3, Written: 3}, nil)
		f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Return(nil)

		_, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: []byte(threeChunks)})
		require.NoError(t, err)
	})

	t.Run("allowed with override", func(t *testing.T) {
		f := newFixture(t)
		f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Return(nil)
		f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).Return(&indexer.Result{Total: 3}, nil)
		f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Return(nil)

		_, err := f.svc.Ingest(context.Background(), service.IngestRequest{
			Source: "book.md", Document: []byte(threeChunks), AllowChanged: true,
		})
		require.NoError(t, err)
	})
}

func TestIngestService_Ingest_ChangedChunkConfig(t *testing.T) {
	doc := []byte(threeChunks)

	// First run with small chunks; it stops after persisting two of them.
	first := newFixtureWithChunking(t, indexer.ChunkConfig{SplitDepth: 6, ChapterLevel: 1, MaxChunkRunes: 100})
	var recorded storage.Run
	first.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, storage.ErrNotFound)
	first.runs.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		run.ID = "run-1"
		recorded = *run
		return nil
	})
	first.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).
		Return(&indexer.Result{Total: 3, Written: 2}, &indexer.BatchError{Batch: 2, Batches: 2, Err: errors.New("boom")})
	first.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Return(nil)

	_, err := first.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: doc})
	require.Error(t, err)
	require.NotEmpty(t, recorded.ChunkConfig)

	rerun := func(t *testing.T, cfg indexer.ChunkConfig) *fixture {
		f := newFixtureWithChunking(t, cfg)
		f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(&recorded, nil)
		return f
	}

	t.Run("refused with a different config", func(t *testing.T) {
		f := rerun(t, indexer.ChunkConfig{SplitDepth: 6, ChapterLevel: 1, MaxChunkRunes: 1000})
		f.store.EXPECT().CollectionExists(gomock.Any(), "books").Return(true, nil)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "books", "book.md").Return(vectorstore.NewIndexSet(0, 1), nil)
		f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Times(0)

		_, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: doc})
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrConfig))
		assert.Contains(t, err.Error(), "chunking config")
		assert.NotContains(t, err.Error(), "document and")
		assert.Contains(t, err.Error(), "run-1")
	})

	t.Run("resumes with the same config", func(t *testing.T) {
		f := rerun(t, indexer.ChunkConfig{SplitDepth: 6, ChapterLevel: 1, MaxChunkRunes: 100})
		f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Return(nil)
		f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).Return(&indexer.Result{Total: 3, Skipped: 2, Written: 1}, nil)
		f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Return(nil)

		resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: doc})
		require.NoError(t, err)
		assert.Equal(t, 1, resp.Result.Written)
	})

	t.Run("runs recorded without a config compare only the hash", func(t *testing.T) {
		legacy := recorded
		legacy.ChunkConfig = ""
		f := newFixtureWithChunking(t, indexer.ChunkConfig{SplitDepth: 6, ChapterLevel: 1, MaxChunkRunes: 1000})
		f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(&legacy, nil)
		f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Return(nil)
		f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).Return(&indexer.Result{Total: 3}, nil)
		f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Return(nil)

		_, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: doc})
		require.NoError(t, err)
	})
}

func TestIngestService_Ingest_RecordsInterruptedRun(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, storage.ErrNotFound)
	f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, run *storage.Run) error {
		run.ID = "run-3"
		return nil
	})
	f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ indexer.Request) (*indexer.Result, error) {
			cancel()
			return &indexer.Result{Total: 3, Embedded: 2, Written: 2, Batches: 2, BatchesDone: 1},
				&indexer.BatchError{Batch: 2, Batches: 2, FirstIndex: 2, LastIndex: 2, Err: context.Canceled}
		})
	f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, run *storage.Run) error {
		assert.NoError(t, ctx.Err(), "ledger update must not see the cancelled context")
		assert.Equal(t, "run-3", run.ID)
		assert.Equal(t, storage.RunFailed, run.Status)
		assert.Equal(t, 2, run.FailedBatch)
		assert.Equal(t, 2, run.Written)
		return nil
	})

	_, err := f.svc.Ingest(ctx, service.IngestRequest{Source: "book.md", Document: []byte(threeChunks)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestIngestService_Ingest_LedgerFailuresDoNotAbort(t *testing.T) {
	f := newFixture(t)
	f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, errors.New("database is locked"))
	f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Return(errors.New("disk full"))
	f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).Return(&indexer.Result{Total: 3, Written: 3}, nil)
	f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Times(0)

	resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: []byte(threeChunks)})
	require.NoError(t, err)
	assert.Empty(t, resp.RunID)
	assert.Equal(t, 3, resp.Result.Written)
}

func TestIngestService_Ingest_DryRunIsNotRecorded(t *testing.T) {
	f := newFixture(t)
	f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(nil, storage.ErrNotFound)
	f.runs.EXPECT().Start(gomock.Any(), gomock.Any()).Times(0)
	f.runs.EXPECT().Finish(gomock.Any(), gomock.Any()).Times(0)
	f.ingester.EXPECT().Ingest(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, req indexer.Request) (*indexer.Result, error) {
			assert.True(t, req.DryRun)
			return &indexer.Result{Total: 3, Batches: 1, Planned: []indexer.BatchPlan{{Number: 1, LastIndex: 2, Size: 3}}}, nil
		})

	resp, err := f.svc.Ingest(context.Background(), service.IngestRequest{Source: "book.md", Document: []byte(threeChunks), DryRun: true})
	require.NoError(t, err)
	assert.Len(t, resp.Result.Planned, 1)
}

func TestIngestService_Progress(t *testing.T) {
	last := &storage.Run{ID: "run-9", Status: storage.RunFailed}

	t.Run("with document", func(t *testing.T) {
		f := newFixture(t)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "books", "book.md").Return(vectorstore.NewIndexSet(0, 2), nil)
		f.runs.EXPECT().LatestBySource(gomock.Any(), "book.md", "books").Return(last, nil)

		got, err := f.svc.Progress(context.Background(), service.ProgressRequest{Source: "book.md", Document: []byte(threeChunks)})
		require.NoError(t, err)
		assert.Equal(t, &service.Progress{
			Source: "book.md", Collection: "books", Persisted: 2,
			DocumentGiven: true, Total: 3, Missing: []int{1}, LastRun: last,
		}, got)
	})

	t.Run("without document", func(t *testing.T) {
		f := newFixture(t)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "notes", "a.md").Return(vectorstore.NewIndexSet(0, 1, 2, 3), nil)
		f.runs.EXPECT().LatestBySource(gomock.Any(), "a.md", "notes").Return(nil, storage.ErrNotFound)

		got, err := f.svc.Progress(context.Background(), service.ProgressRequest{Source: "a.md", Collection: "notes"})
		require.NoError(t, err)
		assert.Equal(t, 4, got.Persisted)
		assert.False(t, got.DocumentGiven)
		assert.Nil(t, got.Missing)
		assert.Nil(t, got.LastRun)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newFixture(t)
		f.store.EXPECT().ExistingIndices(gomock.Any(), "books", "book.md").
			Return(nil, apperr.New(apperr.ErrTransient, "timeout"))

		_, err := f.svc.Progress(context.Background(), service.ProgressRequest{Source: "book.md"})
		assert.True(t, errors.Is(err, apperr.ErrTransient))
	})
}

func TestIngestService_Search(t *testing.T) {
	t.Run("embeds and filters", func(t *testing.T) {
		f := newFixture(t)
		hits := []vectorstore.SearchResult{{Score: 0.9, Record: vectorstore.Record{ChunkIndex: 4, Chapter: "Chapter 2"}}}
		f.embedder.EXPECT().EmbedTexts(gomock.Any(), []string{"what is a cadence"}).Return([][]float32{{1, 0}}, nil)
		f.store.EXPECT().Search(gomock.Any(), "books", []float32{1, 0}, service.DefaultTopK,
			vectorstore.Filter{Chapter: "Chapter 2"}).Return(hits, nil)

		got, err := f.svc.Search(context.Background(), service.SearchRequest{Query: "what is a cadence", Chapter: "Chapter 2"})
		require.NoError(t, err)
		assert.Equal(t, hits, got)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		for _, req := range []service.SearchRequest{
			{Query: ""},
			{Query: "q", TopK: -1},
			{Query: "q", TopK: service.MaxTopK + 1},
			{Query: "q", Collection: "bad name"},
		} {
			_, err := f.svc.Search(context.Background(), req)
			assert.True(t, errors.Is(err, service.ErrInvalidInput), "request %+v: got %v", req, err)
		}
	})

	t.Run("embedding failure keeps its kind", func(t *testing.T) {
		f := newFixture(t)
		f.embedder.EXPECT().EmbedTexts(gomock.Any(), gomock.Any()).Return(nil, apperr.New(apperr.ErrTransient, "refused"))

		_, err := f.svc.Search(context.Background(), service.SearchRequest{Query: "q"})
		assert.True(t, errors.Is(err, apperr.ErrTransient))
	})
}

func TestIngestService_Runs(t *testing.T) {
	f := newFixture(t)
	runs := []storage.Run{{ID: "b"}, {ID: "a"}}
	f.runs.EXPECT().List(gomock.Any(), 10).Return(runs, nil)

	got, err := f.svc.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, runs, got)

	_, err = f.svc.Runs(context.Background(), -1)
	assert.True(t, errors.Is(err, service.ErrInvalidInput))
}

package app

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docembed/internal/apperr"
	"docembed/internal/config"
	"docembed/internal/indexer"
	"docembed/internal/llm"
	"docembed/internal/service"
	"docembed/internal/vectorstore"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		LogLevel:          slog.LevelInfo,
		LogFormat:         "text",
		VectorBackend:     config.BackendSQLite,
		SQLitePath:        filepath.Join(dir, "vectors.db"),
		Collection:        "books",
		VectorSize:        4,
		EmbeddingProvider: config.ProviderOpenAICompat,
		EmbeddingBaseURL:  "http://localhost:1",
		EmbeddingModel:    "test-model",
		BatchSize:         8,
		ChunkMaxRunes:     500,
		ChunkOverlapRunes: 50,
		ChunkSplitDepth:   3,
		ChapterLevel:      1,
		LedgerPath:        filepath.Join(dir, "ledger.db"),
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  slog.Level
		want   string
	}{
		{name: "text", format: "text", level: slog.LevelInfo, want: "msg=hello"},
		{name: "json", format: "json", level: slog.LevelInfo, want: `"msg":"hello"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLogger(&buf, tt.level, tt.format)
			logger.Info("hello")
			logger.Debug("hidden")

			assert.Contains(t, buf.String(), tt.want)
			assert.NotContains(t, buf.String(), "hidden")
		})
	}
}

func TestChunkConfig(t *testing.T) {
	cfg := testConfig(t)
	assert.Equal(t, indexer.ChunkConfig{SplitDepth: 3, ChapterLevel: 1, MaxChunkRunes: 500, OverlapRunes: 50}, ChunkConfig(cfg))
}

func TestNewStore(t *testing.T) {
	t.Run("sqlite", func(t *testing.T) {
		store, err := NewStore(testConfig(t))
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &vectorstore.SQLiteStore{}, store)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.VectorBackend = "pinecone"
		_, err := NewStore(cfg)
		assert.ErrorIs(t, err, apperr.ErrConfig)
	})
}

func TestNewEmbedder(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		wantErr  bool
	}{
		{name: "ollama", provider: config.ProviderOllama},
		{name: "openai", provider: config.ProviderOpenAI},
		{name: "openai compatible", provider: config.ProviderOpenAICompat},
		{name: "unknown", provider: "cohere", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.EmbeddingProvider = tt.provider
			cfg.EmbeddingAPIKey = "key"

			embedder, err := NewEmbedder(cfg)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrConfig)
				return
			}
			require.NoError(t, err)
			assert.IsType(t, &llm.CheckedEmbedder{}, embedder)
		})
	}
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	defer func() {
		assert.NoError(t, a.Close())
	}()

	assert.Same(t, cfg, a.Config)
	assert.NotNil(t, a.Pipeline)
	assert.Equal(t, ChunkConfig(cfg), a.Chunker.Config())

	// The ledger is migrated and reachable through the service.
	runs, err := a.Service.Runs(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	// Dry runs touch neither the embedder nor the collection.
	resp, err := a.Service.Ingest(context.Background(), service.IngestRequest{
		Source:   "a.md",
		Document: []byte("# A\n\nText.\n\n# B\n\nMore.\n"),
		DryRun:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Result.Total)
	assert.Equal(t, 1, resp.Result.Batches)
}

func TestNew_BadLedgerPath(t *testing.T) {
	cfg := testConfig(t)
	cfg.LedgerPath = filepath.Join(t.TempDir(), "missing", "dir", "ledger.db")

	_, err := New(cfg)
	assert.Error(t, err)
}

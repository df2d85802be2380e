// Package app wires configuration into the components shared by the API
// server and the CLI.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"docembed/internal/apperr"
	"docembed/internal/config"
	"docembed/internal/indexer"
	"docembed/internal/llm"
	"docembed/internal/service"
	"docembed/internal/storage"
	"docembed/internal/vectorstore"
)

// Version is set at build time with -ldflags "-X docembed/internal/app.Version=...".
var Version = "dev"

// App holds the wired components.
type App struct {
	Config   *config.Config
	Store    vectorstore.Store
	Embedder llm.Embedder
	Chunker  *indexer.GoldmarkChunker
	Pipeline *indexer.Pipeline
	Runs     *storage.RunRepo
	Service  service.IngestService

	ledger *sql.DB
}

// NewLogger builds the process logger from the configured level and format.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// ChunkConfig maps the chunking settings of cfg.
func ChunkConfig(cfg *config.Config) indexer.ChunkConfig {
	return indexer.ChunkConfig{
		SplitDepth:    cfg.ChunkSplitDepth,
		ChapterLevel:  cfg.ChapterLevel,
		MaxChunkRunes: cfg.ChunkMaxRunes,
		OverlapRunes:  cfg.ChunkOverlapRunes,
	}
}

// NewStore opens the configured vector store backend.
func NewStore(cfg *config.Config) (vectorstore.Store, error) {
	var (
		store vectorstore.Store
		err   error
	)
	switch cfg.VectorBackend {
	case config.BackendQdrant:
		store, err = vectorstore.NewQdrantStore(cfg.QdrantURL, cfg.QdrantAPIKey)
	case config.BackendWeaviate:
		store, err = vectorstore.NewWeaviateStore(cfg.WeaviateHost, cfg.WeaviateScheme)
	case config.BackendSQLite:
		store, err = vectorstore.NewSQLiteStore(cfg.SQLitePath)
	default:
		return nil, apperr.New(apperr.ErrConfig, "unknown vector backend %q", cfg.VectorBackend)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewEmbedder creates the configured embedding provider. The result checks
// the vector count and size of every response.
func NewEmbedder(cfg *config.Config) (llm.Embedder, error) {
	var inner llm.Embedder
	switch cfg.EmbeddingProvider {
	case config.ProviderOllama:
		ollama, err := llm.NewOllamaEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingModel)
		if err != nil {
			return nil, err
		}
		inner = ollama
	case config.ProviderOpenAI:
		inner = llm.NewOpenAIEmbedder(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	case config.ProviderOpenAICompat:
		inner = llm.NewEmbeddingsClient(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel)
	default:
		return nil, apperr.New(apperr.ErrConfig, "unknown embedding provider %q", cfg.EmbeddingProvider)
	}
	return llm.NewCheckedEmbedder(inner, cfg.VectorSize), nil
}

// New wires every component from cfg. Nothing here contacts the embedding
// service or the vector store; the first ingest does.
func New(cfg *config.Config) (*App, error) {
	db, err := storage.New(cfg.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open run ledger: %w", err)
	}
	if err := storage.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate run ledger: %w", err)
	}

	store, err := NewStore(cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		_ = store.Close()
		_ = db.Close()
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	chunker := indexer.NewGoldmarkChunker(ChunkConfig(cfg))
	pipeline := indexer.NewPipeline(chunker, embedder, store, cfg.VectorSize, cfg.BatchSize)
	runs := storage.NewRunRepo(db)

	return &App{
		Config:   cfg,
		Store:    store,
		Embedder: embedder,
		Chunker:  chunker,
		Pipeline: pipeline,
		Runs:     runs,
		Service:  service.NewIngestService(pipeline, chunker, embedder, store, runs, cfg.Collection),
		ledger:   db,
	}, nil
}

// Close releases the vector store client and the ledger.
func (a *App) Close() error {
	return errors.Join(a.Store.Close(), a.ledger.Close())
}

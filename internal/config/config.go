package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// ErrMissingRequired is returned when a required setting is absent.
var ErrMissingRequired = errors.New("missing required configuration")

// ErrInvalid is returned when a setting is present but unusable.
var ErrInvalid = errors.New("invalid configuration")

// Vector store backends.
const (
	BackendQdrant   = "qdrant"
	BackendWeaviate = "weaviate"
	BackendSQLite   = "sqlite"
)

// Embedding providers.
const (
	ProviderOllama       = "ollama"
	ProviderOpenAI       = "openai"
	ProviderOpenAICompat = "openai-compat"
)

var collectionPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Config holds all configuration for the application.
type Config struct {
	LogLevel  slog.Level `envconfig:"LOG_LEVEL" default:"INFO"`
	LogFormat string     `envconfig:"LOG_FORMAT" default:"text"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"qdrant"`
	QdrantURL      string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	QdrantAPIKey   string `envconfig:"QDRANT_API_KEY"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	SQLitePath     string `envconfig:"VECTOR_SQLITE_PATH" default:"./data/vectors.db"`
	Collection     string `envconfig:"COLLECTION" default:"music_processing"`
	// VectorSize must match the embedding model output; an existing
	// collection with another size is rejected at startup.
	VectorSize int `envconfig:"VECTOR_SIZE"`

	EmbeddingProvider string `envconfig:"EMBEDDING_PROVIDER" default:"ollama"`
	EmbeddingBaseURL  string `envconfig:"EMBEDDING_BASE_URL" default:"http://localhost:11434"`
	EmbeddingModel    string `envconfig:"EMBEDDING_MODEL" default:"qwen3-embedding:8b"`
	EmbeddingAPIKey   string `envconfig:"EMBEDDING_API_KEY"`

	BatchSize         int `envconfig:"BATCH_SIZE" default:"16"`
	ChunkMaxRunes     int `envconfig:"CHUNK_MAX_RUNES" default:"1500"`
	ChunkOverlapRunes int `envconfig:"CHUNK_OVERLAP_RUNES" default:"200"`
	ChunkSplitDepth   int `envconfig:"CHUNK_SPLIT_DEPTH" default:"6"`
	ChapterLevel      int `envconfig:"CHAPTER_LEVEL" default:"1"`

	LedgerPath string `envconfig:"LEDGER_PATH" default:"./data/ledger.db"`
	APIPort    string `envconfig:"API_PORT" default:"9000"`
}

// Load reads configuration from environment variables and returns a Config struct.
// If a .env file exists in the current directory or one of its parents, it is loaded first.
// Environment variables already set take precedence over .env file values.
func Load() (*Config, error) {
	loadDotEnv()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Create data directories for the SQLite files
	for _, p := range []string{cfg.LedgerPath, cfg.SQLitePath} {
		if cfg.VectorBackend != BackendSQLite && p == cfg.SQLitePath {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return &cfg, nil
}

// loadDotEnv walks up from the working directory looking for a .env file.
func loadDotEnv() {
	_ = godotenv.Load()

	wd, err := os.Getwd()
	if err != nil {
		return
	}
	dir := wd
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: VECTOR_SIZE", ErrMissingRequired)
	}
	if c.VectorSize < 0 {
		return fmt.Errorf("%w: VECTOR_SIZE must be greater than 0", ErrInvalid)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: COLLECTION", ErrMissingRequired)
	}
	if !ValidCollectionName(c.Collection) {
		return fmt.Errorf("%w: COLLECTION %q must match %s", ErrInvalid, c.Collection, collectionPattern)
	}

	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantURL == "" {
			return fmt.Errorf("%w: QDRANT_URL", ErrMissingRequired)
		}
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: VECTOR_SQLITE_PATH", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown VECTOR_BACKEND %q", ErrInvalid, c.VectorBackend)
	}

	switch c.EmbeddingProvider {
	case ProviderOllama, ProviderOpenAICompat:
		if c.EmbeddingBaseURL == "" {
			return fmt.Errorf("%w: EMBEDDING_BASE_URL", ErrMissingRequired)
		}
	case ProviderOpenAI:
		if c.EmbeddingAPIKey == "" {
			return fmt.Errorf("%w: EMBEDDING_API_KEY", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("%w: unknown EMBEDDING_PROVIDER %q", ErrInvalid, c.EmbeddingProvider)
	}
	if c.EmbeddingModel == "" {
		return fmt.Errorf("%w: EMBEDDING_MODEL", ErrMissingRequired)
	}

	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("%w: LOG_FORMAT must be text or json", ErrInvalid)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: BATCH_SIZE must be greater than 0", ErrInvalid)
	}
	if c.ChunkMaxRunes <= 0 {
		return fmt.Errorf("%w: CHUNK_MAX_RUNES must be greater than 0", ErrInvalid)
	}
	if c.ChunkOverlapRunes < 0 || c.ChunkOverlapRunes >= c.ChunkMaxRunes {
		return fmt.Errorf("%w: CHUNK_OVERLAP_RUNES must be in [0, CHUNK_MAX_RUNES)", ErrInvalid)
	}
	if c.ChunkSplitDepth < 1 || c.ChunkSplitDepth > 6 {
		return fmt.Errorf("%w: CHUNK_SPLIT_DEPTH must be between 1 and 6", ErrInvalid)
	}
	if c.ChapterLevel < 0 || c.ChapterLevel > 6 {
		return fmt.Errorf("%w: CHAPTER_LEVEL must be between 0 and 6", ErrInvalid)
	}
	if c.LedgerPath == "" {
		return fmt.Errorf("%w: LEDGER_PATH", ErrMissingRequired)
	}
	return nil
}

// ValidCollectionName reports whether name is usable as a collection name on
// every backend (qdrant, weaviate class, sqlite table suffix).
func ValidCollectionName(name string) bool {
	return collectionPattern.MatchString(name)
}

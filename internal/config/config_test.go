package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

var configEnvVars = []string{
	"LOG_LEVEL", "LOG_FORMAT", "VECTOR_BACKEND", "QDRANT_URL", "QDRANT_API_KEY",
	"WEAVIATE_HOST", "WEAVIATE_SCHEME", "VECTOR_SQLITE_PATH", "COLLECTION", "VECTOR_SIZE",
	"EMBEDDING_PROVIDER", "EMBEDDING_BASE_URL", "EMBEDDING_MODEL", "EMBEDDING_API_KEY",
	"BATCH_SIZE", "CHUNK_MAX_RUNES", "CHUNK_OVERLAP_RUNES", "CHUNK_SPLIT_DEPTH",
	"CHAPTER_LEVEL", "LEDGER_PATH", "API_PORT",
}

// clearEnv unsets every config variable and restores it after the test.
// Variables must be unset rather than empty so envconfig applies defaults.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnvVars {
		if value, ok := os.LookupEnv(key); ok {
			t.Cleanup(func() { _ = os.Setenv(key, value) })
		}
		_ = os.Unsetenv(key)
	}
	t.Setenv("LEDGER_PATH", filepath.Join(t.TempDir(), "ledger.db"))
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setupEnv    func(*testing.T)
		wantErr     error
		checkConfig func(*testing.T, *Config)
	}{
		{
			name: "defaults with vector size",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "4096")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.VectorSize != 4096 {
					t.Errorf("VectorSize = %d, want 4096", cfg.VectorSize)
				}
				if cfg.VectorBackend != BackendQdrant {
					t.Errorf("VectorBackend = %q, want qdrant", cfg.VectorBackend)
				}
				if cfg.EmbeddingProvider != ProviderOllama {
					t.Errorf("EmbeddingProvider = %q, want ollama", cfg.EmbeddingProvider)
				}
				if cfg.EmbeddingModel != "qwen3-embedding:8b" {
					t.Errorf("EmbeddingModel = %q", cfg.EmbeddingModel)
				}
				if cfg.BatchSize != 16 {
					t.Errorf("BatchSize = %d, want 16", cfg.BatchSize)
				}
				if cfg.ChunkMaxRunes != 1500 || cfg.ChunkOverlapRunes != 200 {
					t.Errorf("chunk sizes = %d/%d, want 1500/200", cfg.ChunkMaxRunes, cfg.ChunkOverlapRunes)
				}
				if cfg.Collection != "music_processing" {
					t.Errorf("Collection = %q", cfg.Collection)
				}
				if cfg.LogLevel != slog.LevelInfo {
					t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
				}
			},
		},
		{
			name: "debug level and json format",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("LOG_LEVEL", "debug")
				t.Setenv("LOG_FORMAT", "json")
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.LogLevel != slog.LevelDebug {
					t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
				}
				if cfg.LogFormat != "json" {
					t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
				}
			},
		},
		{
			name:     "missing vector size",
			setupEnv: func(t *testing.T) {},
			wantErr:  ErrMissingRequired,
		},
		{
			name: "vector size not a number",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "big")
			},
			wantErr: ErrInvalid,
		},
		{
			name: "negative vector size",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "-1")
			},
			wantErr: ErrInvalid,
		},
		{
			name: "unknown backend",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("VECTOR_BACKEND", "milvus")
			},
			wantErr: ErrInvalid,
		},
		{
			name: "openai provider requires api key",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "1536")
				t.Setenv("EMBEDDING_PROVIDER", "openai")
			},
			wantErr: ErrMissingRequired,
		},
		{
			name: "invalid collection name",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("COLLECTION", "my-docs")
			},
			wantErr: ErrInvalid,
		},
		{
			name: "overlap not below max",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "768")
				t.Setenv("CHUNK_MAX_RUNES", "100")
				t.Setenv("CHUNK_OVERLAP_RUNES", "100")
			},
			wantErr: ErrInvalid,
		},
		{
			name: "sqlite backend creates data directory",
			setupEnv: func(t *testing.T) {
				t.Setenv("VECTOR_SIZE", "8")
				t.Setenv("VECTOR_BACKEND", "sqlite")
				t.Setenv("VECTOR_SQLITE_PATH", filepath.Join(t.TempDir(), "nested", "vectors.db"))
			},
			checkConfig: func(t *testing.T, cfg *Config) {
				if cfg.VectorBackend != BackendSQLite {
					t.Errorf("VectorBackend = %q, want sqlite", cfg.VectorBackend)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			tt.setupEnv(t)

			cfg, err := Load()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load() unexpected error: %v", err)
			}
			if tt.checkConfig != nil {
				tt.checkConfig(t, cfg)
			}
		})
	}
}

func TestValidCollectionName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"music_processing", true},
		{"Notes2", true},
		{"", false},
		{"2notes", false},
		{"my-docs", false},
		{"docs; DROP TABLE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidCollectionName(tt.name); got != tt.want {
				t.Errorf("ValidCollectionName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

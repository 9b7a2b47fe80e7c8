// Package config loads service configuration from defaults, a JSON file,
// a .env file and LANGSERVER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Model       ModelConfig
	VectorStore VectorStoreConfig
	Retrieval   RetrievalConfig
	Ingest      IngestConfig
	DB          DBConfig
}

type ServerConfig struct {
	Host   string
	Port   int
	APIKey string
}

type LogConfig struct {
	Level string
}

type ModelConfig struct {
	Backend           string
	BaseURL           string
	APIKey            string
	EmbedModel        string
	LLMModel          string
	ContextWindow     int
	MaxTokens         int
	Stream            bool
	RetryCount        int
	RetryDelay        time.Duration
	RequestsPerSecond float64
}

type VectorStoreConfig struct {
	Backend           string
	URL               string
	APIKey            string
	Path              string
	CacheTTL          time.Duration
	DefaultCollection string
	DefaultVectorSize int
}

type RetrievalConfig struct {
	TopK int
	// RerankTimeout bounds LLM reranking of hybrid results; on expiry the
	// vector ranking is kept.
	RerankTimeout   time.Duration
	RerankThreshold float64
}

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	EmbedBatchSize int
	SnippetLength  int
	FeedTimeout    time.Duration
	FeedURLs       string // comma-separated
	FeedInterval   time.Duration
}

// FeedURLList splits FeedURLs on commas, dropping blanks.
func (c IngestConfig) FeedURLList() []string {
	var out []string
	for _, u := range strings.Split(c.FeedURLs, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// DBConfig is the database read by table ingestion when a request names
// only a table.
type DBConfig struct {
	Driver string
	DSN    string
	// AllowRequestDSN lets API callers name their own driver and DSN.
	AllowRequestDSN bool
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Log: LogConfig{Level: "info"},
		Model: ModelConfig{
			Backend:       "ollama",
			BaseURL:       "http://127.0.0.1:11434",
			EmbedModel:    "nomic-embed-text",
			LLMModel:      "llama3:8b",
			ContextWindow: 4096,
			MaxTokens:     300,
			RetryCount:    3,
			RetryDelay:    2 * time.Second,
		},
		VectorStore: VectorStoreConfig{
			Backend:           "qdrant",
			URL:               "http://127.0.0.1:6333",
			Path:              "langserver.db",
			CacheTTL:          10 * time.Second,
			DefaultCollection: "knowledge",
			DefaultVectorSize: 1536,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			RerankTimeout:   10 * time.Second,
			RerankThreshold: 0.3,
		},
		Ingest: IngestConfig{
			ChunkSize:      800,
			ChunkOverlap:   120,
			EmbedBatchSize: 64,
			SnippetLength:  1000,
			FeedTimeout:    30 * time.Second,
			FeedInterval:   15 * time.Minute,
		},
		DB: DBConfig{Driver: "postgres"},
	}
}

// Load reads configuration in increasing precedence: built-in defaults,
// the JSON file at FilePath, then environment variables. A .env file in the
// working directory is loaded into the environment first; variables already
// set win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	return loadWith(newFileBackend(FilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first setting that cannot work.
func (c Config) Validate() error {
	if c.Server.APIKey == "" {
		return errors.New("missing required config: API key. Set it via environment variable LANGSERVER_API_KEY or in .env")
	}
	switch c.Model.Backend {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid model.backend %q: want ollama or openai", c.Model.Backend)
	}
	if c.Model.BaseURL == "" {
		return errors.New("missing required config: model.base_url")
	}
	switch c.VectorStore.Backend {
	case "qdrant":
		if c.VectorStore.URL == "" {
			return errors.New("missing required config: vectorstore.url")
		}
	case "sqlite":
		if c.VectorStore.Path == "" {
			return errors.New("missing required config: vectorstore.path")
		}
	default:
		return fmt.Errorf("invalid vectorstore.backend %q: want qdrant or sqlite", c.VectorStore.Backend)
	}
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("invalid ingest.chunk_size %d: must be positive", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("invalid ingest.chunk_overlap %d: must be in [0, chunk_size)", c.Ingest.ChunkOverlap)
	}
	if c.Model.RetryCount < 1 {
		return fmt.Errorf("invalid model.retry_count %d: must be at least 1", c.Model.RetryCount)
	}
	return nil
}

// SlogLevel maps log.level to a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

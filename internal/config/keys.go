package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "LANGSERVER_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "LANGSERVER_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_key", typ: kString, env: "LANGSERVER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIKey },
	},
	{
		key: "log.level", typ: kString, env: "LANGSERVER_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "model.backend", typ: kString, env: "LANGSERVER_MODEL_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Model.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.Backend },
	},
	{
		key: "model.base_url", typ: kString, env: "LANGSERVER_MODEL_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Model.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.BaseURL },
	},
	{
		key: "model.api_key", typ: kString, env: "LANGSERVER_MODEL_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Model.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.APIKey },
	},
	{
		key: "model.embed_model", typ: kString, env: "LANGSERVER_MODEL_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.EmbedModel },
	},
	{
		key: "model.llm_model", typ: kString, env: "LANGSERVER_MODEL_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Model.LLMModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Model.LLMModel },
	},
	{
		key: "model.context_window", typ: kInt, env: "LANGSERVER_MODEL_CONTEXT_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Model.ContextWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.ContextWindow },
	},
	{
		key: "model.max_tokens", typ: kInt, env: "LANGSERVER_MODEL_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Model.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.MaxTokens },
	},
	{
		key: "model.stream", typ: kBool, env: "LANGSERVER_MODEL_STREAM",
		apply:   func(cfg *Config, v any) { cfg.Model.Stream = v.(bool) },
		extract: func(cfg Config) any { return cfg.Model.Stream },
	},
	{
		key: "model.retry_count", typ: kInt, env: "LANGSERVER_MODEL_RETRY_COUNT",
		apply:   func(cfg *Config, v any) { cfg.Model.RetryCount = v.(int) },
		extract: func(cfg Config) any { return cfg.Model.RetryCount },
	},
	{
		key: "model.retry_delay", typ: kDuration, env: "LANGSERVER_MODEL_RETRY_DELAY",
		apply:   func(cfg *Config, v any) { cfg.Model.RetryDelay = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Model.RetryDelay },
	},
	{
		key: "model.requests_per_second", typ: kFloat, env: "LANGSERVER_MODEL_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Model.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Model.RequestsPerSecond },
	},
	{
		key: "vectorstore.backend", typ: kString, env: "LANGSERVER_VECTORSTORE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.Backend },
	},
	{
		key: "vectorstore.url", typ: kString, env: "LANGSERVER_VECTORSTORE_URL",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.URL = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.URL },
	},
	{
		key: "vectorstore.api_key", typ: kString, env: "LANGSERVER_VECTORSTORE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.VectorStore.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.APIKey },
	},
	{
		key: "vectorstore.path", typ: kString, env: "LANGSERVER_VECTORSTORE_PATH",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.Path = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.Path },
	},
	{
		key: "vectorstore.cache_ttl", typ: kDuration, env: "LANGSERVER_VECTORSTORE_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.VectorStore.CacheTTL },
	},
	{
		key: "vectorstore.default_collection", typ: kString, env: "LANGSERVER_VECTORSTORE_DEFAULT_COLLECTION",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.DefaultCollection = v.(string) },
		extract: func(cfg Config) any { return cfg.VectorStore.DefaultCollection },
	},
	{
		key: "vectorstore.default_vector_size", typ: kInt, env: "LANGSERVER_VECTORSTORE_DEFAULT_VECTOR_SIZE",
		apply:   func(cfg *Config, v any) { cfg.VectorStore.DefaultVectorSize = v.(int) },
		extract: func(cfg Config) any { return cfg.VectorStore.DefaultVectorSize },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "LANGSERVER_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "retrieval.rerank_timeout", typ: kDuration, env: "LANGSERVER_RETRIEVAL_RERANK_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankTimeout },
	},
	{
		key: "retrieval.rerank_threshold", typ: kFloat, env: "LANGSERVER_RETRIEVAL_RERANK_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.RerankThreshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Retrieval.RerankThreshold },
	},
	{
		key: "ingest.chunk_size", typ: kInt, env: "LANGSERVER_INGEST_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkSize },
	},
	{
		key: "ingest.chunk_overlap", typ: kInt, env: "LANGSERVER_INGEST_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Ingest.ChunkOverlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.ChunkOverlap },
	},
	{
		key: "ingest.embed_batch_size", typ: kInt, env: "LANGSERVER_INGEST_EMBED_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.EmbedBatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.EmbedBatchSize },
	},
	{
		key: "ingest.snippet_length", typ: kInt, env: "LANGSERVER_INGEST_SNIPPET_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Ingest.SnippetLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.SnippetLength },
	},
	{
		key: "ingest.feed_timeout", typ: kDuration, env: "LANGSERVER_INGEST_FEED_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FeedTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.FeedTimeout },
	},
	{
		key: "ingest.feed_urls", typ: kString, env: "LANGSERVER_INGEST_FEED_URLS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FeedURLs = v.(string) },
		extract: func(cfg Config) any { return cfg.Ingest.FeedURLs },
	},
	{
		key: "ingest.feed_interval", typ: kDuration, env: "LANGSERVER_INGEST_FEED_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ingest.FeedInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Ingest.FeedInterval },
	},
	{
		key: "db.driver", typ: kString, env: "LANGSERVER_DB_DRIVER",
		apply:   func(cfg *Config, v any) { cfg.DB.Driver = v.(string) },
		extract: func(cfg Config) any { return cfg.DB.Driver },
	},
	{
		key: "db.dsn", typ: kString, env: "LANGSERVER_DB_DSN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.DB.DSN = v.(string) },
		extract: func(cfg Config) any { return cfg.DB.DSN },
	},
	{
		key: "db.allow_request_dsn", typ: kBool, env: "LANGSERVER_DB_ALLOW_REQUEST_DSN",
		apply:   func(cfg *Config, v any) { cfg.DB.AllowRequestDSN = v.(bool) },
		extract: func(cfg Config) any { return cfg.DB.AllowRequestDSN },
	},
}

// parse converts raw into the value type of s.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	}
	return raw, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse config key, using default", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse env var, using default", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

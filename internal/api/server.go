// Package api is the HTTP and MCP boundary of langserver: generation, chat,
// ingestion, retrieval and collection management over JSON.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/langserver/internal/ingest"
	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/metrics"
	"github.com/kalambet/langserver/internal/retrieval"
	"github.com/kalambet/langserver/internal/vectorstore"
)

// Deps holds everything the handlers need.
type Deps struct {
	Requester *llm.Requester
	Pipeline  *ingest.Pipeline
	Retriever *retrieval.Engine
	Store     *vectorstore.Gateway
	Metrics   *metrics.Metrics

	// APIKey guards every route except health, ping, chunk debugging and
	// metrics. Empty disables authentication.
	APIKey string

	// Stream is the default for /chat requests that leave stream unset.
	Stream bool

	// Database supplies the driver and DSN for /ingest_db table sources.
	Database ingest.TableSource
	// AllowRequestDSN lets /ingest_db requests override Database's driver
	// and DSN. Off by default.
	AllowRequestDSN bool
}

// NewHandler returns the langserver REST API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/ping", handlePing)
	r.Post("/debug/chunk", handleDebugChunk(deps))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(deps.APIKey))

		r.Post("/generate", handleGenerate(deps))
		r.Post("/chat", handleChat(deps))

		r.Post("/ingest_texts", handleIngestTexts(deps))
		r.Post("/ingest_file", handleIngestFile(deps))
		r.Post("/ingest_logs", handleIngestLogs(deps))
		r.Post("/ingest_db", handleIngestDB(deps))
		r.Post("/ingest_rss", handleIngestRSS(deps))
		r.Post("/ingest_social", handleIngestSocial(deps))
		r.Post("/fetch_rss_feeds", handleFetchRSS(deps))

		r.Post("/query", handleQuery(deps))
		r.Post("/query_hybrid", handleQueryHybrid(deps))
		r.Post("/query_multi", handleQueryMulti(deps))

		r.Get("/collections", handleListCollections(deps))
		r.Post("/collections/delete", handleDeleteCollection(deps))

		r.Post("/debug/embeds", handleDebugEmbeds(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok","message":"pong"}`))
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/langserver/internal/api"
	"github.com/kalambet/langserver/internal/config"
	"github.com/kalambet/langserver/internal/engine"
	"github.com/kalambet/langserver/internal/ingest"
	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/metrics"
	"github.com/kalambet/langserver/internal/reranking"
	"github.com/kalambet/langserver/internal/retrieval"
	"github.com/kalambet/langserver/internal/vectorstore"
	"github.com/kalambet/langserver/internal/vectorstore/qdrant"
	"github.com/kalambet/langserver/internal/vectorstore/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, model backend and vector store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// services is the wired object graph shared by serve and mcp.
type services struct {
	engine    engine.Engine
	requester *llm.Requester
	gateway   *vectorstore.Gateway
	pipeline  *ingest.Pipeline
	retriever *retrieval.Engine
	metrics   *metrics.Metrics
	close     func() error
}

func openBackend(cfg config.VectorStoreConfig) (vectorstore.Backend, func() error, error) {
	switch cfg.Backend {
	case "sqlite":
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening vector store: %w", err)
		}
		return db, db.Close, nil
	default:
		c := qdrant.New(qdrant.Config{URL: cfg.URL, APIKey: cfg.APIKey})
		return c, func() error { return nil }, nil
	}
}

func buildServices(cfg config.Config, logger *slog.Logger) (*services, error) {
	eng, err := engine.Detect(engine.DetectConfig{
		Backend: cfg.Model.Backend,
		BaseURL: cfg.Model.BaseURL,
		APIKey:  cfg.Model.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("detecting inference engine: %w", err)
	}

	backend, closeFn, err := openBackend(cfg.VectorStore)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	gw := vectorstore.NewGateway(backend,
		vectorstore.WithCacheTTL(cfg.VectorStore.CacheTTL),
		vectorstore.WithDefaultVectorSize(cfg.VectorStore.DefaultVectorSize),
		vectorstore.WithLogger(logger),
		vectorstore.WithMetrics(m),
	)

	req := llm.New(eng, llm.Config{
		EmbedModel:        cfg.Model.EmbedModel,
		LLMModel:          cfg.Model.LLMModel,
		ContextWindow:     cfg.Model.ContextWindow,
		MaxTokens:         cfg.Model.MaxTokens,
		RetryCount:        cfg.Model.RetryCount,
		RetryDelay:        cfg.Model.RetryDelay,
		RequestsPerSecond: cfg.Model.RequestsPerSecond,
	}, llm.WithMetrics(m), llm.WithLogger(logger))

	pipe := ingest.New(req, gw, ingest.Options{
		DefaultCollection: cfg.VectorStore.DefaultCollection,
		ChunkSize:         cfg.Ingest.ChunkSize,
		ChunkOverlap:      cfg.Ingest.ChunkOverlap,
		BatchSize:         cfg.Ingest.EmbedBatchSize,
		SnippetLen:        cfg.Ingest.SnippetLength,
		EmbedModel:        cfg.Model.EmbedModel,
	},
		ingest.WithMetrics(m),
		ingest.WithLogger(logger),
		ingest.WithFeedFetcher(ingest.NewFeedFetcher(cfg.Ingest.FeedTimeout)),
	)

	rr := reranking.New(req, cfg.Retrieval.RerankTimeout, cfg.Retrieval.RerankThreshold, reranking.WithLogger(logger))
	ret := retrieval.New(req, gw, req, retrieval.Defaults{
		Collection: cfg.VectorStore.DefaultCollection,
		TopK:       cfg.Retrieval.TopK,
		EmbedModel: cfg.Model.EmbedModel,
	}, retrieval.WithMetrics(m), retrieval.WithLogger(logger), retrieval.WithReranker(rr))

	return &services{
		engine:    eng,
		requester: req,
		gateway:   gw,
		pipeline:  pipe,
		retriever: ret,
		metrics:   m,
		close:     closeFn,
	}, nil
}

func setupLogging(cfg config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	return logger
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "langserver version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.close(); err != nil {
			printWarning("closing vector store: %v", err)
		}
	}()

	if cfg.Model.Backend == engine.BackendOllama {
		if err := engine.EnsureReady(ctx, svc.engine, os.Stderr, cfg.Model.LLMModel, cfg.Model.EmbedModel); err != nil {
			return err
		}
	} else if !svc.engine.IsRunning(ctx) {
		slog.Warn("model backend not reachable", "base_url", cfg.Model.BaseURL)
	}

	handler := api.NewHandler(api.Deps{
		Requester: svc.requester,
		Pipeline:  svc.pipeline,
		Retriever: svc.retriever,
		Store:     svc.gateway,
		Metrics:   svc.metrics,
		APIKey:    cfg.Server.APIKey,
		Stream:    cfg.Model.Stream,
		Database:  ingest.TableSource{Driver: cfg.DB.Driver, DSN: cfg.DB.DSN},

		AllowRequestDSN: cfg.DB.AllowRequestDSN,
	})

	if urls := cfg.Ingest.FeedURLList(); len(urls) > 0 {
		poller := ingest.NewPoller(svc.pipeline, cfg.VectorStore.DefaultCollection, urls, cfg.Ingest.FeedInterval)
		go poller.Run(ctx)
		slog.Info("feed poller started", "feeds", len(urls), "interval", cfg.Ingest.FeedInterval)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "langserver listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the MCP tools on stdin/stdout. Logs go to stderr so they
// never interleave with the protocol stream.
func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := buildServices(cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Ingester:    svc.pipeline,
		Retriever:   svc.retriever,
		Collections: svc.gateway,
		Version:     version,
	})
	slog.Info("MCP server started (stdio transport)")
	if err := server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.get(ctx, "/health")
	switch {
	case err != nil:
		printStatus("Server", "stopped")
	case resp.StatusCode == http.StatusOK:
		resp.Body.Close()
		printStatus("Server", "running at %s", client.baseURL)
	default:
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	eng, err := engine.Detect(engine.DetectConfig{Backend: cfg.Model.Backend, BaseURL: cfg.Model.BaseURL, APIKey: cfg.Model.APIKey})
	if err != nil {
		printStatus("Model backend", "%v", err)
	} else if eng.IsRunning(ctx) {
		printStatus("Model backend", "%s running at %s", cfg.Model.Backend, cfg.Model.BaseURL)
	} else {
		printStatus("Model backend", "%s not reachable at %s", cfg.Model.Backend, cfg.Model.BaseURL)
	}

	printStatus("LLM model", "%s", cfg.Model.LLMModel)
	printStatus("Embed model", "%s", cfg.Model.EmbedModel)
	switch cfg.VectorStore.Backend {
	case "sqlite":
		printStatus("Vector store", "sqlite at %s", cfg.VectorStore.Path)
	default:
		printStatus("Vector store", "%s at %s", cfg.VectorStore.Backend, cfg.VectorStore.URL)
	}
	printStatus("Default collection", "%s", cfg.VectorStore.DefaultCollection)
	return nil
}

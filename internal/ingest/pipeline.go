// Package ingest turns heterogeneous content into chunks, embeds them and
// upserts them into the vector store.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"
	"github.com/kalambet/langserver/internal/chunker"
	"github.com/kalambet/langserver/internal/metrics"
)

// Embedder produces one vector per text.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string, numCtx int) ([][]float32, error)
}

// Store persists chunk vectors and answers point lookups.
type Store interface {
	Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, metadatas []map[string]any) error
	Exists(ctx context.Context, collection, id string) (bool, error)
}

// Options tunes chunking and batching. Zero values take the defaults.
type Options struct {
	DefaultCollection string
	ChunkSize         int
	ChunkOverlap      int
	BatchSize         int
	SnippetLen        int
	EmbedModel        string
}

const (
	DefaultCollection = "knowledge"
	DefaultBatchSize  = 64
	DefaultSnippetLen = 1000
)

func (o Options) withDefaults() Options {
	if o.DefaultCollection == "" {
		o.DefaultCollection = DefaultCollection
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = chunker.DefaultChunkSize
	}
	if o.ChunkOverlap < 0 {
		o.ChunkOverlap = 0
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SnippetLen <= 0 {
		o.SnippetLen = DefaultSnippetLen
	}
	return o
}

// Summary is the result of one ingestion call.
type Summary struct {
	OK         bool   `json:"ok"`
	Collection string `json:"collection"`
	Count      int    `json:"count"`
}

// Pipeline runs the ingestion pipelines against one embedder and store.
type Pipeline struct {
	embedder Embedder
	store    Store
	opts     Options
	feeds    *FeedFetcher
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithMetrics records ingested chunk counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLogger sets the logger used for batch progress.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithFeedFetcher replaces the fetcher used by FetchRSS.
func WithFeedFetcher(f *FeedFetcher) Option {
	return func(p *Pipeline) { p.feeds = f }
}

// New creates a Pipeline.
func New(embedder Embedder, store Store, opts Options, options ...Option) *Pipeline {
	p := &Pipeline{
		embedder: embedder,
		store:    store,
		opts:     opts.withDefaults(),
		logger:   slog.Default(),
	}
	for _, o := range options {
		o(p)
	}
	if p.feeds == nil {
		p.feeds = NewFeedFetcher(0)
	}
	return p
}

// Options returns the effective options.
func (p *Pipeline) Options() Options { return p.opts }

// pending is one chunk ready to be embedded.
type pending struct {
	id       string
	text     string
	metadata map[string]any
}

// source describes one item before chunking.
type source struct {
	parentID string
	text     string
	base     map[string]any // caller metadata, copied first
	fields   map[string]any // source-specific fields, override base
}

func (p *Pipeline) collection(name string) string {
	if name == "" {
		return p.opts.DefaultCollection
	}
	return name
}

// chunks splits every source and builds the per-chunk metadata.
func (p *Pipeline) chunks(sources []source, size, overlap int) []pending {
	var out []pending
	for _, s := range sources {
		parent := s.parentID
		if parent == "" {
			parent = uuid.NewString()
		}
		for i, text := range chunker.Split(s.text, size, overlap) {
			md := make(map[string]any, len(s.base)+len(s.fields)+2)
			maps.Copy(md, s.base)
			maps.Copy(md, s.fields)
			md["chunk_index"] = i
			md["snippet"] = chunker.Preview(text, p.opts.SnippetLen)
			out = append(out, pending{id: chunker.Identify(parent, i), text: text, metadata: md})
		}
	}
	return out
}

// commit embeds and upserts chunks in sequential batches. Batches committed
// before a failure stay committed.
func (p *Pipeline) commit(ctx context.Context, collection, sourceType string, chunks []pending) (Summary, error) {
	done := 0
	for start := 0; start < len(chunks); start += p.opts.BatchSize {
		batch := chunks[start:min(start+p.opts.BatchSize, len(chunks))]

		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		metas := make([]map[string]any, len(batch))
		for i, c := range batch {
			texts[i], ids[i], metas[i] = c.text, c.id, c.metadata
		}

		vectors, err := p.embedder.Embed(ctx, texts, p.opts.EmbedModel, 0)
		if err != nil {
			p.logger.Warn("ingestion stopped", "collection", collection, "source_type", sourceType, "committed", done, "error", err)
			return Summary{}, fmt.Errorf("embedding batch at chunk %d: %w", start, err)
		}
		if err := p.store.Upsert(ctx, collection, ids, vectors, metas); err != nil {
			p.logger.Warn("ingestion stopped", "collection", collection, "source_type", sourceType, "committed", done, "error", err)
			return Summary{}, fmt.Errorf("upserting batch at chunk %d: %w", start, err)
		}

		done += len(batch)
		p.metrics.ChunksIngested(sourceType, len(batch))
		p.logger.Debug("batch committed", "collection", collection, "source_type", sourceType, "count", done, "total", len(chunks))
	}

	p.logger.Info("ingested", "collection", collection, "source_type", sourceType, "count", done)
	return Summary{OK: true, Collection: collection, Count: done}, nil
}

// exists reports whether id is already stored. Lookup failures count as
// absent so the item is (re)ingested.
func (p *Pipeline) exists(ctx context.Context, collection, id string) bool {
	ok, err := p.store.Exists(ctx, collection, id)
	if err != nil {
		p.logger.Debug("existence check failed", "collection", collection, "id", id, "error", err)
		return false
	}
	return ok
}

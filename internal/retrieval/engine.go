// Package retrieval answers semantic queries over one or many collections.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/metrics"
	"github.com/kalambet/langserver/internal/vectorstore"
)

// Embedder produces query vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string, model string, numCtx int) ([][]float32, error)
}

// Searcher runs similarity searches against one collection.
type Searcher interface {
	Search(ctx context.Context, vector []float32, collection string, topK int, filter map[string]any) ([]vectorstore.Result, error)
}

// Completer synthesizes answers.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// Reranker re-scores and reorders results for a query.
type Reranker interface {
	Rerank(ctx context.Context, model, query string, results []vectorstore.Result) []vectorstore.Result
}

// DefaultTopK is used when a request does not set one.
const DefaultTopK = 5

// Defaults fill in request fields left empty.
type Defaults struct {
	Collection string
	TopK       int
	EmbedModel string
}

// Engine runs queries.
type Engine struct {
	embedder  Embedder
	searcher  Searcher
	completer Completer
	reranker  Reranker
	defaults  Defaults
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records query latency on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithReranker enables hybrid requests that name a rerank model.
func WithReranker(r Reranker) Option {
	return func(e *Engine) { e.reranker = r }
}

// New creates an Engine. completer may be nil, in which case no answers are
// synthesized.
func New(embedder Embedder, searcher Searcher, completer Completer, defaults Defaults, opts ...Option) *Engine {
	if defaults.TopK <= 0 {
		defaults.TopK = DefaultTopK
	}
	if defaults.Collection == "" {
		defaults.Collection = "knowledge"
	}
	e := &Engine{
		embedder:  embedder,
		searcher:  searcher,
		completer: completer,
		defaults:  defaults,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Request is a single-collection query.
type Request struct {
	Query      string         `json:"query"`
	Collection string         `json:"collection,omitempty"`
	TopK       int            `json:"top_k,omitempty"`
	LLMModel   string         `json:"llm_model,omitempty"`
	EmbedModel string         `json:"embed_model,omitempty"`
	Filters    map[string]any `json:"filters,omitempty"`
	ReturnRaw  bool           `json:"return_raw,omitempty"`
}

// HybridRequest searches several collections with keyword filtering and a
// recency boost.
type HybridRequest struct {
	Query           string            `json:"query"`
	Collections     []string          `json:"collections,omitempty"`
	TopK            int               `json:"top_k,omitempty"`
	LLMModel        string            `json:"llm_model,omitempty"`
	EmbedModel      string            `json:"embed_model,omitempty"`
	KeywordFilters  map[string]string `json:"keyword_filters,omitempty"`
	BoostRecentDays int               `json:"boost_recent_days,omitempty"`
	RerankModel     string            `json:"rerank_model,omitempty"`
	ReturnRaw       bool              `json:"return_raw,omitempty"`
}

// MultiRequest searches several collections with the same equality filter.
type MultiRequest struct {
	Query       string         `json:"query"`
	Collections []string       `json:"collections"`
	TopK        int            `json:"top_k,omitempty"`
	LLMModel    string         `json:"llm_model,omitempty"`
	EmbedModel  string         `json:"embed_model,omitempty"`
	Filters     map[string]any `json:"filters,omitempty"`
	ReturnRaw   bool           `json:"return_raw,omitempty"`
}

// Response holds the ranked results and the synthesized answer, if any.
type Response struct {
	Query       string
	Collections []string
	Results     []vectorstore.Result
	Answer      string
}

// Payloads returns the payload of every result, in order.
func (r Response) Payloads() []map[string]any {
	out := make([]map[string]any, len(r.Results))
	for i, res := range r.Results {
		out[i] = res.Payload
	}
	return out
}

func (e *Engine) topK(k int) int {
	if k <= 0 {
		return e.defaults.TopK
	}
	return k
}

func (e *Engine) collections(names []string) []string {
	if len(names) == 0 {
		return []string{e.defaults.Collection}
	}
	return names
}

func (e *Engine) embed(ctx context.Context, query, model string) ([]float32, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &vectorstore.ValidationError{Field: "query", Msg: "must not be empty"}
	}
	if model == "" {
		model = e.defaults.EmbedModel
	}
	vecs, err := e.embedder.Embed(ctx, []string{query}, model, 0)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vecs[0], nil
}

// Query embeds the query, searches one collection and optionally answers.
func (e *Engine) Query(ctx context.Context, req Request) (Response, error) {
	defer e.observe("single", time.Now())

	vec, err := e.embed(ctx, req.Query, req.EmbedModel)
	if err != nil {
		return Response{}, err
	}
	coll := req.Collection
	if coll == "" {
		coll = e.defaults.Collection
	}
	results, err := e.searcher.Search(ctx, vec, coll, e.topK(req.TopK), req.Filters)
	if err != nil {
		return Response{}, fmt.Errorf("searching %s: %w", coll, err)
	}

	resp := Response{Query: req.Query, Collections: []string{coll}, Results: results}
	if resp.Answer, err = e.answer(ctx, req.LLMModel, results); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Hybrid searches each collection without a backend filter, keeps results
// matching every keyword filter, boosts recent results within each
// collection, then merges all collections by descending score. With a
// RerankModel and a configured Reranker the merged top k are re-scored.
func (e *Engine) Hybrid(ctx context.Context, req HybridRequest) (Response, error) {
	defer e.observe("hybrid", time.Now())

	vec, err := e.embed(ctx, req.Query, req.EmbedModel)
	if err != nil {
		return Response{}, err
	}
	k := e.topK(req.TopK)
	colls := e.collections(req.Collections)

	var all []vectorstore.Result
	for _, coll := range colls {
		results, err := e.searcher.Search(ctx, vec, coll, k, nil)
		if err != nil {
			return Response{}, fmt.Errorf("searching %s: %w", coll, err)
		}
		results = MatchKeywords(results, req.KeywordFilters)
		if req.BoostRecentDays > 0 {
			BoostRecent(results, req.BoostRecentDays, e.now())
		}
		all = append(all, results...)
	}
	all = rankByScore(all, k)
	if req.RerankModel != "" && e.reranker != nil {
		all = e.reranker.Rerank(ctx, req.RerankModel, req.Query, all)
	}

	resp := Response{Query: req.Query, Collections: colls, Results: all}
	if resp.Answer, err = e.answer(ctx, req.LLMModel, all); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// Multi searches each collection, tags results with their collection and
// merges them by descending score.
func (e *Engine) Multi(ctx context.Context, req MultiRequest) (Response, error) {
	defer e.observe("multi", time.Now())

	vec, err := e.embed(ctx, req.Query, req.EmbedModel)
	if err != nil {
		return Response{}, err
	}
	k := e.topK(req.TopK)
	colls := e.collections(req.Collections)

	var all []vectorstore.Result
	for _, coll := range colls {
		results, err := e.searcher.Search(ctx, vec, coll, k, req.Filters)
		if err != nil {
			return Response{}, fmt.Errorf("searching %s: %w", coll, err)
		}
		for i := range results {
			results[i].Collection = coll
		}
		all = append(all, results...)
	}
	all = rankByScore(all, k)

	resp := Response{Query: req.Query, Collections: colls, Results: all}
	if resp.Answer, err = e.answer(ctx, req.LLMModel, all); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// SummaryPrompt builds the grounding prompt from result snippets.
func SummaryPrompt(results []vectorstore.Result) string {
	var snippets []string
	for _, r := range results {
		if s, _ := r.Payload["snippet"].(string); s != "" {
			snippets = append(snippets, s)
		}
	}
	return "Here are some factual snippets from the knowledge base:\n\n" +
		strings.Join(snippets, "\n\n") +
		"\n\nPlease provide a concise summary or highlight key points without adding new information."
}

// answer synthesizes a summary when a model is requested and there is
// something to summarize.
func (e *Engine) answer(ctx context.Context, model string, results []vectorstore.Result) (string, error) {
	if model == "" || len(results) == 0 || e.completer == nil {
		return "", nil
	}
	text, err := e.completer.Complete(ctx, llm.CompletionRequest{Prompt: SummaryPrompt(results), Model: model})
	if err != nil {
		return "", fmt.Errorf("synthesizing answer: %w", err)
	}
	return text, nil
}

func (e *Engine) observe(mode string, start time.Time) {
	e.metrics.ObserveQuery(mode, time.Since(start))
}

// rankByScore stable-sorts by descending score and keeps the first k.
func rankByScore(results []vectorstore.Result, k int) []vectorstore.Result {
	slices.SortStableFunc(results, func(a, b vectorstore.Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// Package reranking re-scores search results with an LLM.
package reranking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/vectorstore"
)

const (
	defaultConcurrency = 3
	defaultTimeout     = 10 * time.Second

	// scoreSnippetLen caps how much of a snippet goes into one scoring prompt.
	scoreSnippetLen = 1500
)

// Completer runs one prompt to completion.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

// LLMReranker asks a model to rate each (query, snippet) pair. Scoring runs
// concurrently, bounded to defaultConcurrency requests.
type LLMReranker struct {
	completer   Completer
	timeout     time.Duration
	threshold   float64
	concurrency int
	logger      *slog.Logger
}

// Option configures an LLMReranker.
type Option func(*LLMReranker)

func WithConcurrency(n int) Option {
	return func(r *LLMReranker) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *LLMReranker) { r.logger = l }
}

// New creates an LLMReranker. Results scoring below threshold are dropped.
// A timeout <= 0 uses 10s.
func New(c Completer, timeout time.Duration, threshold float64, opts ...Option) *LLMReranker {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &LLMReranker{
		completer:   c,
		timeout:     timeout,
		threshold:   threshold,
		concurrency: defaultConcurrency,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Rerank replaces each result's score with the model's relevance rating,
// drops results under the threshold and sorts the rest by descending score.
//
// A result whose rating fails keeps its vector score. If the timeout fires
// before every result is rated, results are returned unchanged.
func (r *LLMReranker) Rerank(ctx context.Context, model, query string, results []vectorstore.Result) []vectorstore.Result {
	if len(results) == 0 {
		return results
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	scored := slices.Clone(results)
	sem := make(chan struct{}, r.concurrency)

	var wg sync.WaitGroup
	for i := range scored {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-timeoutCtx.Done():
				return
			}
			defer func() { <-sem }()

			score, err := r.score(timeoutCtx, model, query, scored[i])
			if err != nil {
				if timeoutCtx.Err() == nil {
					r.logger.Debug("rerank: scoring failed, keeping vector score", "id", scored[i].ID, "error", err)
				}
				return
			}
			scored[i].Score = float32(score)
		}()
	}
	wg.Wait()

	if timeoutCtx.Err() != nil {
		r.logger.Warn("rerank timed out, keeping vector ranking", "results", len(results), "timeout", r.timeout)
		return results
	}

	kept := make([]vectorstore.Result, 0, len(scored))
	for _, res := range scored {
		if float64(res.Score) >= r.threshold {
			kept = append(kept, res)
		}
	}
	slices.SortStableFunc(kept, func(a, b vectorstore.Result) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	return kept
}

func (r *LLMReranker) score(ctx context.Context, model, query string, res vectorstore.Result) (float64, error) {
	snippet, _ := res.Payload["snippet"].(string)
	if len(snippet) > scoreSnippetLen {
		snippet = snippet[:scoreSnippetLen]
	}
	prompt := "Rate the relevance of the following text to the query on a scale of 0.0 to 1.0.\n" +
		"Query: " + query + "\n" +
		"Text: " + snippet + "\n" +
		`Respond with only a JSON object: {"score": <float>}`

	text, err := r.completer.Complete(ctx, llm.CompletionRequest{Prompt: prompt, Model: model, MaxTokens: 20})
	if err != nil {
		return 0, err
	}
	return parseScore(text)
}

var errNoScore = errors.New("no JSON object in response")

// parseScore pulls {"score": x} out of a model reply, tolerating markdown
// fences and surrounding chatter.
func parseScore(resp string) (float64, error) {
	s := strings.TrimSpace(resp)

	if idx := strings.Index(s, "```"); idx != -1 {
		s = strings.TrimPrefix(s[idx+3:], "json")
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return 0, errNoScore
	}

	var obj struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), &obj); err != nil {
		return 0, err
	}
	if obj.Score == nil {
		return 0, errNoScore
	}
	return min(max(*obj.Score, 0), 1), nil
}

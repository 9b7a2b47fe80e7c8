// Package llm is the resilient model-request layer: embeddings, completions
// and streamed completions with a fixed retry discipline on top of an
// engine.Engine.
package llm

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/langserver/internal/engine"
	"github.com/kalambet/langserver/internal/metrics"
)

// Config holds defaults and the retry policy.
type Config struct {
	EmbedModel    string
	LLMModel      string
	ContextWindow int
	MaxTokens     int

	// RetryCount is the total number of attempts per request (at least 1).
	RetryCount int
	RetryDelay time.Duration

	// RequestsPerSecond throttles attempts client-side. Zero disables it.
	RequestsPerSecond float64
}

// Requester issues model requests with retry and optional throttling.
// It is safe for concurrent use.
type Requester struct {
	engine  engine.Engine
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Requester.
type Option func(*Requester)

// WithMetrics records retries and failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Requester) { r.metrics = m }
}

// WithLogger sets the logger used for retry warnings.
func WithLogger(l *slog.Logger) Option {
	return func(r *Requester) { r.logger = l }
}

// New creates a Requester on top of e.
func New(e engine.Engine, cfg Config, opts ...Option) *Requester {
	if cfg.RetryCount < 1 {
		cfg.RetryCount = 1
	}
	r := &Requester{
		engine: e,
		cfg:    cfg,
		logger: slog.Default(),
	}
	if cfg.RequestsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// do runs fn up to RetryCount times, sleeping RetryDelay between attempts.
// Malformed responses and context cancellation end the loop immediately.
func (r *Requester) do(ctx context.Context, op string, fn func(context.Context) error) error {
	var lastErr error
	for attempt := range r.cfg.RetryCount {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if engine.IsMalformed(err) {
			r.metrics.ModelFailure(op, "malformed")
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		lastErr = err
		if attempt < r.cfg.RetryCount-1 {
			r.metrics.ModelRetry(op)
			r.logger.Warn("model request failed, retrying",
				"op", op, "attempt", attempt+1, "of", r.cfg.RetryCount, "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.RetryDelay):
			}
		}
	}

	r.metrics.ModelFailure(op, "unavailable")
	return fmt.Errorf("%w: %s failed after %d attempts: %w", ErrBackendUnavailable, op, r.cfg.RetryCount, lastErr)
}

// Embed returns one vector per text, issuing one backend call per text in
// order. Empty model and numCtx fall back to the configured defaults.
// Any failure aborts the whole call with an *EmbeddingError.
func (r *Requester) Embed(ctx context.Context, texts []string, model string, numCtx int) ([][]float32, error) {
	if model == "" {
		model = r.cfg.EmbedModel
	}
	if numCtx <= 0 {
		numCtx = r.cfg.ContextWindow
	}

	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		var vec []float32
		err := r.do(ctx, "embed", func(ctx context.Context) error {
			v, err := r.engine.Embed(ctx, model, text, numCtx)
			vec = v
			return err
		})
		if err != nil {
			return nil, &EmbeddingError{Index: i, Err: err}
		}
		out = append(out, vec)
	}
	return out, nil
}

// EmbedQuery embeds a single query text with the default model.
func (r *Requester) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.Embed(ctx, []string{text}, "", 0)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// CompletionRequest describes one completion. Zero values take the
// configured defaults.
type CompletionRequest struct {
	Prompt    string
	Model     string
	MaxTokens int
	NumCtx    int
}

func (r *Requester) generateRequest(req CompletionRequest) engine.GenerateRequest {
	gr := engine.GenerateRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
		NumCtx:    req.NumCtx,
	}
	if gr.Model == "" {
		gr.Model = r.cfg.LLMModel
	}
	if gr.MaxTokens <= 0 {
		gr.MaxTokens = r.cfg.MaxTokens
	}
	if gr.NumCtx <= 0 {
		gr.NumCtx = r.cfg.ContextWindow
	}
	return gr
}

// Complete runs a non-streaming completion and returns the full text.
func (r *Requester) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	gr := r.generateRequest(req)
	var text string
	err := r.do(ctx, "generate", func(ctx context.Context) error {
		t, err := r.engine.Generate(ctx, gr)
		text = t
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// Stream runs a streaming completion and returns the fragments as a lazy,
// single-use sequence. Opening the stream is retried like any other
// request; errors after the first byte end the sequence. Stopping the
// iteration early closes the response body.
func (r *Requester) Stream(ctx context.Context, req CompletionRequest) iter.Seq2[string, error] {
	gr := r.generateRequest(req)
	return func(yield func(string, error) bool) {
		var body io.ReadCloser
		err := r.do(ctx, "stream", func(ctx context.Context) error {
			rc, err := r.engine.GenerateStream(ctx, gr)
			body = rc
			return err
		})
		if err != nil {
			yield("", err)
			return
		}
		defer body.Close()

		for frag, err := range Fragments(body) {
			if !yield(frag, err) {
				return
			}
		}
	}
}

package engine

import (
	"context"
	"io"

	"github.com/kalambet/langserver/internal/ollama"
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Embed(ctx context.Context, model, text string, numCtx int) ([]float32, error) {
	return e.client.Embedding(ctx, model, text, numCtx)
}

func (e *OllamaEngine) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	return e.client.Generate(ctx, toOllama(req))
}

func (e *OllamaEngine) GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	return e.client.GenerateStream(ctx, toOllama(req))
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

func toOllama(req GenerateRequest) ollama.GenerateRequest {
	return ollama.GenerateRequest{
		Model:     req.Model,
		Prompt:    req.Prompt,
		MaxTokens: req.MaxTokens,
		NumCtx:    req.NumCtx,
	}
}

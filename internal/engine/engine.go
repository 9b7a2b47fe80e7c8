package engine

import (
	"context"
	"io"
)

// Engine abstracts an inference backend (Ollama or any OpenAI-compatible
// server). Every method makes a single attempt; retry policy lives in the
// caller (see internal/llm).
type Engine interface {
	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model, text string, numCtx int) ([]float32, error)

	// Generate runs a non-streaming completion and returns the full text.
	Generate(ctx context.Context, req GenerateRequest) (string, error)

	// GenerateStream runs a streaming completion. The returned body yields
	// newline-delimited JSON objects carrying a "response" fragment each.
	GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool

	// ListModels returns the names of all available models.
	ListModels(ctx context.Context) ([]string, error)

	// HasModel reports whether the given model name is available.
	HasModel(ctx context.Context, name string) bool

	// PullModel downloads a model. The optional callback receives progress updates.
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

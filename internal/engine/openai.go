package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/kalambet/langserver/internal/ollama"
)

// OpenAIEngine talks to any OpenAI-compatible server (vLLM, LM Studio,
// llama.cpp server, OpenAI itself). baseURL must include the API prefix,
// e.g. http://localhost:8080/v1.
type OpenAIEngine struct {
	client *openai.Client
}

// NewOpenAIEngine creates an OpenAIEngine. apiKey may be empty for local servers.
func NewOpenAIEngine(baseURL, apiKey string) *OpenAIEngine {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAIEngine{client: openai.NewClientWithConfig(cfg)}
}

func (e *OpenAIEngine) Embed(ctx context.Context, model, text string, _ int) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, &ollama.ResponseError{Op: "embed", Msg: "missing embedding data"}
	}
	return resp.Data[0].Embedding, nil
}

func (e *OpenAIEngine) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	resp, err := e.client.CreateChatCompletion(ctx, chatRequest(req, false))
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", &ollama.ResponseError{Op: "generate", Msg: "no choices in response"}
	}
	pieces := make([]string, len(resp.Choices))
	for i, ch := range resp.Choices {
		pieces[i] = ch.Message.Content
	}
	return strings.Join(pieces, "\n"), nil
}

// GenerateStream re-encodes the SSE delta stream into the same NDJSON line
// format Ollama uses, so downstream fragmenting is backend-agnostic.
func (e *OpenAIEngine) GenerateStream(ctx context.Context, req GenerateRequest) (io.ReadCloser, error) {
	stream, err := e.client.CreateChatCompletionStream(ctx, chatRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("generate stream request: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		enc := json.NewEncoder(pw)
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				enc.Encode(ollama.StreamChunk{Done: true})
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			for _, ch := range resp.Choices {
				if ch.Delta.Content == "" {
					continue
				}
				if err := enc.Encode(ollama.StreamChunk{Response: ch.Delta.Content}); err != nil {
					// Reader closed.
					return
				}
			}
		}
	}()
	return pr, nil
}

func (e *OpenAIEngine) IsRunning(ctx context.Context) bool {
	_, err := e.client.ListModels(ctx)
	return err == nil
}

func (e *OpenAIEngine) ListModels(ctx context.Context) ([]string, error) {
	list, err := e.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	names := make([]string, len(list.Models))
	for i, m := range list.Models {
		names[i] = m.ID
	}
	return names, nil
}

func (e *OpenAIEngine) HasModel(ctx context.Context, name string) bool {
	models, err := e.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m == name {
			return true
		}
	}
	return false
}

// PullModel is unsupported: OpenAI-compatible servers load models out of band.
func (e *OpenAIEngine) PullModel(_ context.Context, name string, _ func(PullProgress)) error {
	return fmt.Errorf("model %s is not served and cannot be pulled through the OpenAI API", name)
}

func chatRequest(req GenerateRequest, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxTokens: req.MaxTokens,
		Stream:    stream,
	}
}

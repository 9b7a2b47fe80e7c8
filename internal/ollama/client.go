package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client communicates with an Ollama instance over HTTP. Every method makes
// exactly one attempt; retrying is the caller's business.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client targeting the given Ollama base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 0,
		},
	}
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []modelEntry `json:"models"`
}

type modelEntry struct {
	Name string `json:"name"`
}

// IsRunning returns true if the Ollama server responds to GET /api/tags with 200.
func (c *Client) IsRunning(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of all models available in the Ollama instance.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting model list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("tags", resp)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	names := make([]string, len(tags.Models))
	for i, m := range tags.Models {
		names[i] = m.Name
	}
	return names, nil
}

// HasModel reports whether the given model name is present locally.
func (c *Client) HasModel(ctx context.Context, name string) bool {
	models, err := c.ListModels(ctx)
	if err != nil {
		return false
	}
	for _, m := range models {
		// Ollama may return "llama3:8b" or "nomic-embed-text:latest".
		if m == name || strings.HasPrefix(m, name+":") {
			return true
		}
	}
	return false
}

// pullRequest is the JSON body for POST /api/pull.
type pullRequest struct {
	Name   string `json:"name"`
	Stream bool   `json:"stream"`
}

// PullProgress is one line of the streamed pull response.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// PullModel downloads a model, reading the streamed progress to completion.
// The optional progress callback receives each progress line; pass nil to ignore.
func (c *Client) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	resp, err := c.post(ctx, "/api/pull", pullRequest{Name: name, Stream: true})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return statusError("pull "+name, resp)
	}

	dec := json.NewDecoder(resp.Body)
	for {
		var p PullProgress
		if err := dec.Decode(&p); err == io.EOF {
			break
		} else if err != nil {
			return fmt.Errorf("reading pull progress: %w", err)
		}
		if onProgress != nil {
			onProgress(p)
		}
	}

	return nil
}

// embeddingRequest is the JSON body for POST /api/embeddings.
type embeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	NumCtx int    `json:"num_ctx,omitempty"`
}

// embeddingResponse is the JSON returned by POST /api/embeddings.
type embeddingResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embedding returns the embedding vector for a single text.
// A reply without a non-empty "embedding" field is a *ResponseError.
func (c *Client) Embedding(ctx context.Context, model, text string, numCtx int) ([]float32, error) {
	resp, err := c.post(ctx, "/api/embeddings", embeddingRequest{Model: model, Prompt: text, NumCtx: numCtx})
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("embed", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embed response: %w", err)
	}

	var result embeddingResponse
	if err := decodeFirstDocument(body, &result); err != nil {
		return nil, &ResponseError{Op: "embed", Msg: fmt.Sprintf("undecodable body: %v", err)}
	}
	if len(result.Embedding) == 0 {
		return nil, &ResponseError{Op: "embed", Msg: "missing embedding field"}
	}
	return result.Embedding, nil
}

// GenerateRequest is the JSON body for POST /api/generate.
type GenerateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens,omitempty"`
	NumCtx    int    `json:"num_ctx,omitempty"`
	Stream    bool   `json:"stream"`
}

// Generate runs a non-streaming completion and returns the generated text,
// whichever of the supported response shapes the server answered with.
func (c *Client) Generate(ctx context.Context, gr GenerateRequest) (string, error) {
	gr.Stream = false
	resp, err := c.post(ctx, "/api/generate", gr)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("generate", resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading generate response: %w", err)
	}

	comp, err := parseCompletion(body)
	if err != nil {
		return "", err
	}
	return comp.Text(), nil
}

// GenerateStream starts a streaming completion and returns the NDJSON body.
// Each line carries a "response" fragment. The caller must close the body.
func (c *Client) GenerateStream(ctx context.Context, gr GenerateRequest) (io.ReadCloser, error) {
	gr.Stream = true
	resp, err := c.post(ctx, "/api/generate", gr)
	if err != nil {
		return nil, fmt.Errorf("generate stream request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, statusError("generate stream", resp)
	}
	return resp.Body, nil
}

func (c *Client) post(ctx context.Context, path string, v any) (*http.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(req)
}

// decodeFirstDocument decodes body as one JSON document. Some Ollama builds
// answer with NDJSON even when stream is false; in that case the first line
// is used.
func decodeFirstDocument(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	err := json.Unmarshal(body, v)
	if err == nil {
		return nil
	}
	first, _, found := bytes.Cut(body, []byte("\n"))
	if !found {
		return err
	}
	return json.Unmarshal(first, v)
}

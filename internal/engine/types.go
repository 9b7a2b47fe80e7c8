package engine

import "github.com/kalambet/langserver/internal/ollama"

// GenerateRequest is a single completion request.
type GenerateRequest struct {
	Model     string
	Prompt    string
	MaxTokens int
	NumCtx    int
}

// PullProgress reports download progress for a model pull operation.
type PullProgress struct {
	Status    string `json:"status"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
}

// ErrMalformedResponse marks replies that arrived but lack the expected field.
// Both engines wrap it, so callers can test with errors.Is.
var ErrMalformedResponse = ollama.ErrMalformedResponse

// IsMalformed reports whether err wraps ErrMalformedResponse.
func IsMalformed(err error) bool {
	return ollama.IsMalformed(err)
}

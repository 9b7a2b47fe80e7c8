package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Placeholders used when a field cannot be extracted.
const (
	NoSummary   = "No summary generated."
	NoCanonical = "No canonical_embedding_text generated."
)

// Structured is the two-field record extracted from a free-text completion.
type Structured struct {
	Summary                string `json:"summary"`
	CanonicalEmbeddingText string `json:"canonical_embedding_text"`
}

// Structured completes req and extracts a Structured record from the reply.
// Extraction never fails; only the completion itself can.
func (r *Requester) Structured(ctx context.Context, req CompletionRequest) (Structured, error) {
	text, err := r.Complete(ctx, req)
	if err != nil {
		return Structured{}, err
	}
	return ParseStructured(text), nil
}

// ParseStructured tries the reply as a JSON object first. If it does not
// decode as one, each line mentioning "summary" or "canonical" takes the
// following line as the value. Missing fields get placeholder text.
func ParseStructured(text string) Structured {
	var s Structured

	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil && obj != nil {
		s.Summary = stringField(obj, "summary")
		s.CanonicalEmbeddingText = stringField(obj, "canonical_embedding_text")
	} else {
		lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
		for i, line := range lines {
			lower := strings.ToLower(line)
			if i+1 >= len(lines) {
				break
			}
			if s.Summary == "" && strings.Contains(lower, "summary") {
				s.Summary = strings.TrimSpace(lines[i+1])
			}
			if s.CanonicalEmbeddingText == "" && strings.Contains(lower, "canonical") {
				s.CanonicalEmbeddingText = strings.TrimSpace(lines[i+1])
			}
		}
	}

	if s.Summary == "" {
		s.Summary = NoSummary
	}
	if s.CanonicalEmbeddingText == "" {
		s.CanonicalEmbeddingText = NoCanonical
	}
	return s
}

func stringField(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

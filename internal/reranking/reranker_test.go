package reranking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/vectorstore"
)

// --- mock completer ---

type mockCompleter struct {
	fn    func(ctx context.Context, req llm.CompletionRequest) (string, error)
	calls atomic.Int32
}

func (m *mockCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	m.calls.Add(1)
	if m.fn != nil {
		return m.fn(ctx, req)
	}
	return `{"score": 0.5}`, nil
}

// scoreBySnippet rates each result by a score keyed on its snippet, so the
// outcome does not depend on goroutine scheduling.
func scoreBySnippet(scores map[string]string) *mockCompleter {
	return &mockCompleter{fn: func(_ context.Context, req llm.CompletionRequest) (string, error) {
		for snippet, reply := range scores {
			if strings.Contains(req.Prompt, "Text: "+snippet+"\n") {
				return reply, nil
			}
		}
		return "", errors.New("unexpected prompt")
	}}
}

func makeResults(snippets ...string) []vectorstore.Result {
	out := make([]vectorstore.Result, len(snippets))
	for i, s := range snippets {
		out[i] = vectorstore.Result{
			ID:      fmt.Sprintf("r-%d", i),
			Score:   0.5,
			Payload: map[string]any{"snippet": s},
		}
	}
	return out
}

func ids(results []vectorstore.Result) string {
	var parts []string
	for _, r := range results {
		parts = append(parts, fmt.Sprintf("%s=%g", r.ID, r.Score))
	}
	return strings.Join(parts, ",")
}

// --- tests ---

func TestRerank_Reorders(t *testing.T) {
	c := scoreBySnippet(map[string]string{
		"alpha": `{"score": 0.9}`,
		"beta":  `{"score": 0.3}`,
		"gamma": `{"score": 0.7}`,
	})
	r := New(c, 5*time.Second, 0.3)

	got := r.Rerank(context.Background(), "phi3.5", "query", makeResults("alpha", "beta", "gamma"))
	if want := "r-0=0.9,r-2=0.7,r-1=0.3"; ids(got) != want {
		t.Errorf("got %s, want %s", ids(got), want)
	}
}

func TestRerank_DropsBelowThreshold(t *testing.T) {
	c := scoreBySnippet(map[string]string{
		"alpha": `{"score": 0.8}`,
		"beta":  `{"score": 0.1}`,
	})
	r := New(c, 5*time.Second, 0.3)

	got := r.Rerank(context.Background(), "m", "q", makeResults("alpha", "beta"))
	if want := "r-0=0.8"; ids(got) != want {
		t.Errorf("got %s, want %s", ids(got), want)
	}
}

func TestRerank_FailedScoreKeepsVectorScore(t *testing.T) {
	c := scoreBySnippet(map[string]string{
		"alpha": `{"score": 0.9}`,
		"beta":  "I cannot rate this.",
	})
	r := New(c, 5*time.Second, 0)

	got := r.Rerank(context.Background(), "m", "q", makeResults("alpha", "beta"))
	if want := "r-0=0.9,r-1=0.5"; ids(got) != want {
		t.Errorf("got %s, want %s", ids(got), want)
	}
}

func TestRerank_TimeoutKeepsOriginal(t *testing.T) {
	c := &mockCompleter{fn: func(ctx context.Context, _ llm.CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	r := New(c, 20*time.Millisecond, 0.3)

	in := makeResults("alpha", "beta")
	got := r.Rerank(context.Background(), "m", "q", in)
	if ids(got) != ids(in) {
		t.Errorf("got %s, want original %s", ids(got), ids(in))
	}
}

func TestRerank_Empty(t *testing.T) {
	c := &mockCompleter{}
	r := New(c, time.Second, 0.3)
	if got := r.Rerank(context.Background(), "m", "q", nil); len(got) != 0 {
		t.Errorf("got %d results", len(got))
	}
	if c.calls.Load() != 0 {
		t.Errorf("completer called %d times", c.calls.Load())
	}
}

func TestRerank_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	c := &mockCompleter{fn: func(_ context.Context, _ llm.CompletionRequest) (string, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return `{"score": 0.5}`, nil
	}}
	r := New(c, 5*time.Second, 0, WithConcurrency(2))

	r.Rerank(context.Background(), "m", "q", makeResults("a", "b", "c", "d", "e", "f"))
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
	if c.calls.Load() != 6 {
		t.Errorf("calls = %d, want 6", c.calls.Load())
	}
}

func TestRerank_PromptCarriesModel(t *testing.T) {
	var model string
	var maxTokens int
	c := &mockCompleter{fn: func(_ context.Context, req llm.CompletionRequest) (string, error) {
		model, maxTokens = req.Model, req.MaxTokens
		return `{"score": 1}`, nil
	}}
	New(c, time.Second, 0).Rerank(context.Background(), "phi3.5", "q", makeResults("a"))
	if model != "phi3.5" || maxTokens != 20 {
		t.Errorf("model = %q, max tokens = %d", model, maxTokens)
	}
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		want    float64
		wantErr bool
	}{
		{"plain", `{"score": 0.8}`, 0.8, false},
		{"fenced", "```json\n{\"score\": 0.6}\n```", 0.6, false},
		{"chatter", `Sure! Here you go: {"score": 0.4} Hope that helps.`, 0.4, false},
		{"clamped high", `{"score": 7}`, 1, false},
		{"clamped low", `{"score": -2}`, 0, false},
		{"no object", "0.9", 0, true},
		{"missing field", `{"relevance": 0.9}`, 0, true},
		{"broken json", `{"score": }`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.resp)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("score = %g, want %g", got, tt.want)
			}
		})
	}
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/langserver/internal/engine"
	"github.com/kalambet/langserver/internal/ollama"
)

// fakeEngine scripts backend replies. Each call pops the next error from
// errs (nil means success); when errs is exhausted calls succeed.
type fakeEngine struct {
	mu     sync.Mutex
	calls  int
	errs   []error
	vec    []float32
	text   string
	stream string
	last   engine.GenerateRequest
	texts  []string
}

func (f *fakeEngine) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeEngine) Embed(_ context.Context, _, text string, _ int) ([]float32, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	f.texts = append(f.texts, text)
	return f.vec, nil
}

func (f *fakeEngine) Generate(_ context.Context, req engine.GenerateRequest) (string, error) {
	f.last = req
	if err := f.next(); err != nil {
		return "", err
	}
	return f.text, nil
}

func (f *fakeEngine) GenerateStream(_ context.Context, req engine.GenerateRequest) (io.ReadCloser, error) {
	f.last = req
	if err := f.next(); err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeEngine) IsRunning(context.Context) bool { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error { return nil }

func testConfig() Config {
	return Config{
		EmbedModel:    "nomic-embed-text",
		LLMModel:      "llama3:8b",
		ContextWindow: 4096,
		MaxTokens:     300,
		RetryCount:    3,
		RetryDelay:    time.Millisecond,
	}
}

var errTransient = errors.New("connection refused")

func TestEmbed_RetriesExactlyRetryCount(t *testing.T) {
	f := &fakeEngine{errs: []error{errTransient, errTransient, errTransient, errTransient}}
	r := New(f, testConfig())

	_, err := r.Embed(context.Background(), []string{"hello"}, "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 3 {
		t.Errorf("backend called %d times, want 3", f.calls)
	}
	var ee *EmbeddingError
	if !errors.As(err, &ee) || ee.Index != 0 {
		t.Errorf("err = %v, want *EmbeddingError{Index: 0}", err)
	}
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestEmbed_RecoversAfterTransientFailure(t *testing.T) {
	f := &fakeEngine{errs: []error{errTransient}, vec: []float32{1, 2}}
	r := New(f, testConfig())

	vecs, err := r.Embed(context.Background(), []string{"a", "b"}, "", 0)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("got %d vectors, want 2", len(vecs))
	}
	if f.calls != 3 {
		t.Errorf("backend called %d times, want 3", f.calls)
	}
	if strings.Join(f.texts, ",") != "a,b" {
		t.Errorf("texts embedded in order %q", f.texts)
	}
}

func TestEmbed_MalformedNotRetried(t *testing.T) {
	f := &fakeEngine{errs: []error{&ollama.ResponseError{Op: "embed", Msg: "missing embedding field"}}}
	r := New(f, testConfig())

	_, err := r.Embed(context.Background(), []string{"x", "y"}, "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if f.calls != 1 {
		t.Errorf("backend called %d times, want 1", f.calls)
	}
	if !engine.IsMalformed(err) {
		t.Errorf("err = %v, want malformed", err)
	}
	if errors.Is(err, ErrBackendUnavailable) {
		t.Error("malformed response must not be reported as unavailable backend")
	}
}

func TestEmbed_IndexOfFailingText(t *testing.T) {
	f := &fakeEngine{vec: []float32{1}}
	r := New(f, Config{RetryCount: 1})
	f.errs = []error{nil, &ollama.ResponseError{Op: "embed", Msg: "empty"}}

	_, err := r.Embed(context.Background(), []string{"ok", "bad", "never"}, "m", 0)
	var ee *EmbeddingError
	if !errors.As(err, &ee) || ee.Index != 1 {
		t.Fatalf("err = %v, want *EmbeddingError{Index: 1}", err)
	}
	if f.calls != 2 {
		t.Errorf("backend called %d times, want 2", f.calls)
	}
}

func TestDo_ContextCancelledDuringDelay(t *testing.T) {
	f := &fakeEngine{errs: []error{errTransient, errTransient, errTransient}}
	cfg := testConfig()
	cfg.RetryDelay = time.Hour
	r := New(f, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := r.Complete(ctx, CompletionRequest{Prompt: "p"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	if f.calls != 1 {
		t.Errorf("backend called %d times, want 1", f.calls)
	}
}

func TestComplete_Defaults(t *testing.T) {
	f := &fakeEngine{text: "answer"}
	r := New(f, testConfig())

	got, err := r.Complete(context.Background(), CompletionRequest{Prompt: "q"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "answer" {
		t.Errorf("Complete() = %q", got)
	}
	want := engine.GenerateRequest{Model: "llama3:8b", Prompt: "q", MaxTokens: 300, NumCtx: 4096}
	if f.last != want {
		t.Errorf("request = %+v, want %+v", f.last, want)
	}
}

func TestComplete_Throttled(t *testing.T) {
	f := &fakeEngine{text: "ok"}
	cfg := testConfig()
	cfg.RequestsPerSecond = 20
	r := New(f, cfg)

	start := time.Now()
	for range 3 {
		if _, err := r.Complete(context.Background(), CompletionRequest{Prompt: "p"}); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}
	// Burst of 1 at 20/s: the second and third calls each wait ~50ms.
	if elapsed := time.Since(start); elapsed < 80*time.Millisecond {
		t.Errorf("3 throttled calls took %v, want >= 80ms", elapsed)
	}
}

func TestStream_Fragments(t *testing.T) {
	var lines []string
	for _, p := range []string{"Hel", "lo ", "wor", "ld", ".", " How", " are", " you"} {
		lines = append(lines, fmt.Sprintf(`{"response":%q}`, p))
	}
	lines = append(lines, `{"response":"","done":true}`)
	f := &fakeEngine{stream: strings.Join(lines, "\n") + "\n"}
	r := New(f, testConfig())

	var got []string
	for frag, err := range r.Stream(context.Background(), CompletionRequest{Prompt: "p"}) {
		if err != nil {
			t.Fatalf("Stream: %v", err)
		}
		got = append(got, frag)
	}
	want := []string{"Hello ", "world.", " How are you"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("fragments = %q, want %q", got, want)
	}
}

func TestStream_OpenFailureRetried(t *testing.T) {
	f := &fakeEngine{errs: []error{errTransient, errTransient, errTransient}}
	r := New(f, testConfig())

	var gotErr error
	for _, err := range r.Stream(context.Background(), CompletionRequest{Prompt: "p"}) {
		gotErr = err
	}
	if !errors.Is(gotErr, ErrBackendUnavailable) {
		t.Errorf("err = %v, want ErrBackendUnavailable", gotErr)
	}
	if f.calls != 3 {
		t.Errorf("backend called %d times, want 3", f.calls)
	}
}

func TestStream_EarlyStop(t *testing.T) {
	f := &fakeEngine{stream: "{\"response\":\"a \"}\n{\"response\":\"b \"}\n{\"response\":\"c \"}\n"}
	r := New(f, testConfig())

	var got []string
	for frag := range r.Stream(context.Background(), CompletionRequest{Prompt: "p"}) {
		got = append(got, frag)
		break
	}
	if len(got) != 1 || got[0] != "a " {
		t.Errorf("got %q, want [\"a \"]", got)
	}
}

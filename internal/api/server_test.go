package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/langserver/internal/engine"
	"github.com/kalambet/langserver/internal/ingest"
	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/metrics"
	"github.com/kalambet/langserver/internal/retrieval"
	"github.com/kalambet/langserver/internal/vectorstore"
	"github.com/kalambet/langserver/internal/vectorstore/sqlite"
)

const testKey = "secret"

// fakeEngine answers every call locally. Embeddings are a fixed-size vector
// derived from the text length so that searches have something to rank.
type fakeEngine struct {
	mu        sync.Mutex
	reply     string
	stream    string
	embedErr  error
	streamErr error
	prompts   []string
}

func (f *fakeEngine) Embed(_ context.Context, _, text string, _ int) ([]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, float32(len(text) % 7), 0.5}, nil
}

func (f *fakeEngine) Generate(_ context.Context, req engine.GenerateRequest) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()
	return f.reply, nil
}

func (f *fakeEngine) GenerateStream(_ context.Context, req engine.GenerateRequest) (io.ReadCloser, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	return io.NopCloser(strings.NewReader(f.stream)), nil
}

func (f *fakeEngine) IsRunning(context.Context) bool { return true }
func (f *fakeEngine) ListModels(context.Context) ([]string, error) { return nil, nil }
func (f *fakeEngine) HasModel(context.Context, string) bool { return true }
func (f *fakeEngine) PullModel(context.Context, string, func(engine.PullProgress)) error {
	return nil
}

type testEnv struct {
	handler http.Handler
	engine  *fakeEngine
	store   *vectorstore.Gateway
	deps    Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng := &fakeEngine{reply: `{"summary":"short","canonical_embedding_text":"canonical"}`}
	m := metrics.New()
	gw := vectorstore.NewGateway(db, vectorstore.WithMetrics(m))
	req := llm.New(eng, llm.Config{
		EmbedModel: "nomic-embed-text",
		LLMModel:   "llama3:8b",
		RetryCount: 1,
	}, llm.WithMetrics(m))
	pipe := ingest.New(req, gw, ingest.Options{ChunkSize: 10, ChunkOverlap: 2}, ingest.WithMetrics(m))
	ret := retrieval.New(req, gw, req, retrieval.Defaults{Collection: "knowledge", TopK: 5}, retrieval.WithMetrics(m))

	deps := Deps{
		Requester: req,
		Pipeline:  pipe,
		Retriever: ret,
		Store:     gw,
		Metrics:   m,
		APIKey:    testKey,
	}
	return &testEnv{handler: NewHandler(deps), engine: eng, store: gw, deps: deps}
}

// do sends a JSON request with the API key and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody[map[string]map[string]string](t, rr)
	return body["error"]["type"]
}

func TestHealthAndPing(t *testing.T) {
	env := newTestEnv(t)

	for path, want := range map[string]string{"/health": "", "/ping": "pong"} {
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s status = %d, want 200", path, rr.Code)
		}
		body := decodeBody[map[string]string](t, rr)
		if body["status"] != "ok" || body["message"] != want {
			t.Errorf("%s body = %v", path, body)
		}
	}
}

func TestAPIKeyAuth(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key", "X-API-Key", testKey, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + testKey, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/collections", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized {
				body := decodeBody[map[string]map[string]string](t, rr)
				if body["error"]["message"] != "Unauthorized" {
					t.Errorf("message = %q", body["error"]["message"])
				}
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	h := APIKeyAuth("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 with auth disabled", rr.Code)
	}
}

func TestDebugChunk_NoAuth(t *testing.T) {
	env := newTestEnv(t)

	body := strings.NewReader(`{"text":"Hello world. This is a test."}`)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/debug/chunk", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	got := decodeBody[debugChunkResponse](t, rr)
	want := []string{"Hello", "world.", "This is a", "a test."}
	if got.TotalChunks != len(want) || strings.Join(got.Chunks, "|") != strings.Join(want, "|") {
		t.Errorf("chunks = %d %q, want %q", got.TotalChunks, got.Chunks, want)
	}
	if len(got.Preview) != len(want) {
		t.Errorf("preview = %q", got.Preview)
	}
}

func TestDebugEmbeds(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/debug/embeds", map[string]any{"texts": []string{"a", "bb"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	got := decodeBody[debugEmbedResponse](t, rr)
	if got.Count != 2 || got.Dims == nil || *got.Dims != 3 {
		t.Errorf("response = %+v", got)
	}
	if got.Vectors != nil {
		t.Error("vectors returned without return_vectors")
	}

	rr = env.do(t, http.MethodPost, "/debug/embeds", map[string]any{"texts": []string{"a"}, "return_vectors": true})
	if got := decodeBody[debugEmbedResponse](t, rr); len(got.Vectors) != 1 {
		t.Errorf("vectors = %v, want one", got.Vectors)
	}
}

func TestBackendDown_BadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.engine.embedErr = errors.New("connection refused")

	rr := env.do(t, http.MethodPost, "/debug/embeds", map[string]any{"texts": []string{"a"}})
	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rr.Code)
	}
	if typ := errorType(t, rr); typ != "backend_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestInvalidJSON(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/query", strings.NewReader("{"))
	req.Header.Set("X-API-Key", testKey)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/ingest_texts", map[string]any{
		"items": []map[string]any{{"id": "a1", "text": "Hello world. This is a test."}},
	})

	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `langserver_ingest_chunks_total{source_type="text"} 4`) {
		t.Errorf("metrics missing ingested chunk count:\n%s", rr.Body)
	}
}

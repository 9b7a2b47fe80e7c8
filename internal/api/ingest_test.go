package api

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/kalambet/langserver/internal/ingest"
)

func TestIngestTexts(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest_texts", map[string]any{
		"collection": "kb",
		"items":      []map[string]any{{"id": "a1", "text": "Hello world. This is a test."}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	got := decodeBody[ingest.Summary](t, rr)
	if want := (ingest.Summary{OK: true, Collection: "kb", Count: 4}); got != want {
		t.Errorf("summary = %+v, want %+v", got, want)
	}
}

func TestIngestTexts_DefaultCollection(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest_texts", map[string]any{
		"items": []map[string]any{{"text": "no id given"}},
	})
	if got := decodeBody[ingest.Summary](t, rr); got.Collection != ingest.DefaultCollection || got.Count == 0 {
		t.Errorf("summary = %+v", got)
	}
}

func uploadRequest(t *testing.T, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(data)
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/ingest_file", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-API-Key", testKey)
	return req
}

func TestIngestFile(t *testing.T) {
	env := newTestEnv(t)

	req := uploadRequest(t, "notes.txt", []byte("Hello world. This is a test."), map[string]string{
		"collection": "docs",
		"chunk_size": "100",
	})
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := decodeBody[ingest.Summary](t, rr); got.Collection != "docs" || got.Count != 1 {
		t.Errorf("summary = %+v, want one chunk in docs", got)
	}
}

func TestIngestFile_Errors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  *http.Request
	}{
		{"broken pdf", uploadRequest(t, "report.pdf", []byte("not a pdf"), nil)},
		{"bad chunk size", uploadRequest(t, "a.txt", []byte("x"), map[string]string{"chunk_size": "big"})},
		{"not multipart", func() *http.Request {
			r := httptest.NewRequest(http.MethodPost, "/ingest_file", bytes.NewReader([]byte("{}")))
			r.Header.Set("X-API-Key", testKey)
			return r
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			env.handler.ServeHTTP(rr, tt.req)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rr.Code, rr.Body)
			}
		})
	}
}

func TestIngestLogs(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest_logs", map[string]any{
		"collection": "logs",
		"logs": []map[string]any{
			{"id": "l1", "timestamp": "2024-01-01T00:00:00Z", "vm_id": "vm1", "message": "disk full"},
		},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := decodeBody[ingest.Summary](t, rr); got.Count == 0 {
		t.Errorf("summary = %+v", got)
	}
}

func TestIngestDB_NoRows(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest_db", map[string]any{"rows": []any{}})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if typ := errorType(t, rr); typ != "invalid_request_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestIngestDB_Rows(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/ingest_db", map[string]any{
		"collection": "crm",
		"rows": []map[string]any{
			{"id": "r1", "table": "customers", "row_data": map[string]any{"name": "Ada", "city": "London"}},
		},
		"text_columns": []string{"name"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := decodeBody[ingest.Summary](t, rr); got.Count != 1 {
		t.Errorf("summary = %+v", got)
	}
}

func TestIngestDB_TableSourceUsesConfiguredDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE tickets (id INTEGER PRIMARY KEY, subject TEXT)`,
		`INSERT INTO tickets (subject) VALUES ('jam'), ('vpn down')`,
	} {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	env := newTestEnv(t)
	env.deps.Database = ingest.TableSource{Driver: ingest.DriverSQLite, DSN: path}
	env.handler = NewHandler(env.deps)

	rr := env.do(t, http.MethodPost, "/ingest_db", map[string]any{
		"source":       map[string]any{"table": "tickets"},
		"text_columns": []string{"subject"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := decodeBody[ingest.Summary](t, rr); got.Count != 2 {
		t.Errorf("summary = %+v, want 2 chunks", got)
	}

	rr = env.do(t, http.MethodPost, "/ingest_db", map[string]any{
		"source": map[string]any{"table": "tickets; DROP TABLE tickets"},
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("invalid table: status = %d, want 400", rr.Code)
	}
}

func TestIngestDB_RequestDSNRefused(t *testing.T) {
	env := newTestEnv(t)
	env.deps.Database = ingest.TableSource{Driver: ingest.DriverSQLite, DSN: filepath.Join(t.TempDir(), "configured.db")}
	env.handler = NewHandler(env.deps)

	target := filepath.Join(t.TempDir(), "chosen-by-caller.db")
	for _, source := range []map[string]any{
		{"driver": "sqlite", "dsn": target, "table": "sqlite_master"},
		{"dsn": target, "table": "sqlite_master"},
		{"driver": "postgres", "table": "tickets"},
	} {
		rr := env.do(t, http.MethodPost, "/ingest_db", map[string]any{"source": source})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("source %v: status = %d, want 400", source, rr.Code)
		}
		if typ := errorType(t, rr); typ != "invalid_request_error" {
			t.Errorf("source %v: error type = %q", source, typ)
		}
	}
	if _, err := os.Stat(target); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("request DSN touched the filesystem: stat err = %v", err)
	}
}

func TestIngestDB_RequestDSNWhenAllowed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crm.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	for _, stmt := range []string{
		`CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO notes (body) VALUES ('renew license')`,
	} {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("%s: %v", stmt, err)
		}
	}
	db.Close()

	env := newTestEnv(t)
	env.deps.Database = ingest.TableSource{Driver: ingest.DriverPostgres}
	env.deps.AllowRequestDSN = true
	env.handler = NewHandler(env.deps)

	rr := env.do(t, http.MethodPost, "/ingest_db", map[string]any{
		"source":       map[string]any{"driver": "sqlite", "dsn": path, "table": "notes"},
		"text_columns": []string{"body"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body)
	}
	if got := decodeBody[ingest.Summary](t, rr); got.Count != 1 {
		t.Errorf("summary = %+v, want 1 chunk", got)
	}
}

func TestIngestRSSAndSocial_Dedupe(t *testing.T) {
	env := newTestEnv(t)

	article := map[string]any{"url": "https://example.com/post", "title": "Go", "content": "Go 1.25 released.", "published_at": "2024-01-01"}
	post := map[string]any{"id": "s1", "platform": "mastodon", "user_id": "u1", "post_id": "p1", "content": "hello fediverse"}

	var counts []int
	for range 2 {
		rr := env.do(t, http.MethodPost, "/ingest_rss", map[string]any{"collection": "news", "articles": []any{article}})
		counts = append(counts, decodeBody[ingest.Summary](t, rr).Count)
		rr = env.do(t, http.MethodPost, "/ingest_social", map[string]any{"collection": "social", "posts": []any{post}})
		counts = append(counts, decodeBody[ingest.Summary](t, rr).Count)
	}
	if counts[0] == 0 || counts[1] == 0 {
		t.Fatalf("first round ingested nothing: %v", counts)
	}
	if counts[2] != 0 || counts[3] != 0 {
		t.Errorf("second round re-ingested chunks: %v", counts)
	}
}

func TestFetchRSS_Validation(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/fetch_rss_feeds", map[string]any{"urls": []string{}})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty urls: status = %d, want 400", rr.Code)
	}

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer bad.Close()

	rr = env.do(t, http.MethodPost, "/fetch_rss_feeds", map[string]any{"urls": []string{bad.URL}})
	if rr.Code != http.StatusBadGateway {
		t.Errorf("failing feed: status = %d, want 502", rr.Code)
	}
	if typ := errorType(t, rr); typ != "feed_error" {
		t.Errorf("error type = %q", typ)
	}
}

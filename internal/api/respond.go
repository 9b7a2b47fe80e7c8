package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalambet/langserver/internal/engine"
	"github.com/kalambet/langserver/internal/ingest"
	"github.com/kalambet/langserver/internal/llm"
	"github.com/kalambet/langserver/internal/vectorstore"
)

const (
	maxRequestBodySize = 10 << 20 // 10MB
	maxUploadSize      = 32 << 20
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("writing response failed", "error", err)
	}
}

// decodeJSON reads a size-limited JSON body into v. On failure it writes a
// 400 response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

// writeError maps domain errors to status codes: bad input is 400, a model
// backend that failed every attempt is 502, anything else is 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *vectorstore.ValidationError
	var eerr *llm.EmbeddingError

	switch {
	case errors.As(err, &verr), errors.Is(err, ingest.ErrNoRows), errors.Is(err, ingest.ErrInvalidSource):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, llm.ErrBackendUnavailable), errors.As(err, &eerr), engine.IsMalformed(err):
		slog.Warn("model backend error", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusBadGateway, "backend_error", "%v", err)
	case errors.Is(err, context.Canceled):
		slog.Debug("request canceled", "path", r.URL.Path)
	default:
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		httpError(w, http.StatusInternalServerError, "server_error", "%v", err)
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/langserver/internal/llm"
)

type generateRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	NumCtx    int    `json:"num_ctx"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Prompt) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "prompt is required")
			return
		}

		out, err := deps.Requester.Structured(r.Context(), llm.CompletionRequest{
			Prompt:    req.Prompt,
			Model:     req.Model,
			MaxTokens: req.MaxTokens,
			NumCtx:    req.NumCtx,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"response": out})
	}
}

type chatRequest struct {
	Messages  []llm.Message `json:"messages"`
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	NumCtx    int           `json:"num_ctx"`
	Stream    *bool         `json:"stream"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.Messages) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "messages is required and must not be empty")
			return
		}

		creq := llm.CompletionRequest{Model: req.Model, MaxTokens: req.MaxTokens, NumCtx: req.NumCtx}
		stream := deps.Stream
		if req.Stream != nil {
			stream = *req.Stream
		}

		if stream {
			streamChat(w, r, deps, req.Messages, creq)
			return
		}

		reply, err := deps.Requester.Chat(r.Context(), req.Messages, creq)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"response": reply})
	}
}

// streamChat relays completion fragments as server-sent events and ends
// with a [DONE] event. Headers are written with the first fragment, so a
// backend that cannot be reached still gets a regular error response.
func streamChat(w http.ResponseWriter, r *http.Request, deps Deps, messages []llm.Message, creq llm.CompletionRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
		return
	}

	started := false
	start := func() {
		if started {
			return
		}
		started = true
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
	}

	for frag, err := range deps.Requester.ChatStream(r.Context(), messages, creq) {
		if err != nil {
			if !started {
				writeError(w, r, err)
				return
			}
			slog.Warn("chat stream interrupted", "error", err)
			payload, _ := json.Marshal(map[string]any{
				"error": map[string]any{
					"message": err.Error(),
					"type":    "server_error",
				},
			})
			writeEvent(w, string(payload))
			flusher.Flush()
			return
		}
		start()
		writeEvent(w, frag)
		flusher.Flush()
	}

	start()
	writeEvent(w, "[DONE]")
	flusher.Flush()
}

// writeEvent writes data as one SSE event, one data line per text line.
func writeEvent(w http.ResponseWriter, data string) {
	for line := range strings.SplitSeq(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

package api

import (
	"net/http"

	"github.com/kalambet/langserver/internal/chunker"
)

const previewLen = 200

type debugChunkRequest struct {
	Text         string `json:"text"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

type debugChunkResponse struct {
	TotalChunks int      `json:"total_chunks"`
	Chunks      []string `json:"chunks"`
	Preview     []string `json:"preview"`
}

func handleDebugChunk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req debugChunkRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		opts := deps.Pipeline.Options()
		if req.ChunkSize <= 0 {
			req.ChunkSize = opts.ChunkSize
		}
		if req.ChunkOverlap <= 0 {
			req.ChunkOverlap = opts.ChunkOverlap
		}

		chunks := chunker.Split(req.Text, req.ChunkSize, req.ChunkOverlap)
		preview := make([]string, len(chunks))
		for i, c := range chunks {
			preview[i] = chunker.Preview(c, previewLen)
		}
		writeJSON(w, http.StatusOK, debugChunkResponse{
			TotalChunks: len(chunks),
			Chunks:      append([]string{}, chunks...),
			Preview:     preview,
		})
	}
}

type debugEmbedRequest struct {
	Texts         []string `json:"texts"`
	Model         string   `json:"model"`
	ReturnVectors bool     `json:"return_vectors"`
}

type debugEmbedResponse struct {
	Count   int         `json:"count"`
	Dims    *int        `json:"dims"`
	Vectors [][]float32 `json:"vectors,omitempty"`
}

func handleDebugEmbeds(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req debugEmbedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		vectors, err := deps.Requester.Embed(r.Context(), req.Texts, req.Model, 0)
		if err != nil {
			writeError(w, r, err)
			return
		}

		resp := debugEmbedResponse{Count: len(vectors)}
		if len(vectors) > 0 {
			dims := len(vectors[0])
			resp.Dims = &dims
		}
		if req.ReturnVectors {
			resp.Vectors = vectors
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

package api

import (
	"net/http"
	"strings"

	"github.com/kalambet/langserver/internal/retrieval"
)

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrieval.Request
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := deps.Retriever.Query(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}

		out := map[string]any{"results": resp.Results}
		if resp.Answer != "" {
			out["enriched"] = resp.Answer
		}
		writeJSON(w, http.StatusOK, out)
	}
}

type hybridResponse struct {
	Query       string   `json:"query"`
	Collections []string `json:"collections"`
	Results     any      `json:"results"`
	Enriched    *string  `json:"enriched"`
}

func handleQueryHybrid(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrieval.HybridRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := deps.Retriever.Hybrid(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, hybridResponse{
			Query:       resp.Query,
			Collections: resp.Collections,
			Results:     results(resp, req.ReturnRaw),
			Enriched:    optional(resp.Answer),
		})
	}
}

type multiResponse struct {
	Results any     `json:"results"`
	Answer  *string `json:"answer"`
}

func handleQueryMulti(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retrieval.MultiRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := deps.Retriever.Multi(r.Context(), req)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, multiResponse{
			Results: results(resp, req.ReturnRaw),
			Answer:  optional(resp.Answer),
		})
	}
}

// results returns the full hits when raw is set, otherwise only payloads.
func results(resp retrieval.Response, raw bool) any {
	if raw {
		return resp.Results
	}
	return resp.Payloads()
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func handleListCollections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"collections": deps.Store.ListCollections(r.Context())})
	}
}

type deleteCollectionRequest struct {
	Collection string `json:"collection"`
}

func handleDeleteCollection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deleteCollectionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Collection) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "collection is required")
			return
		}
		existed, err := deps.Store.DeleteCollection(r.Context(), req.Collection)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "deleted": req.Collection, "existed": existed})
	}
}

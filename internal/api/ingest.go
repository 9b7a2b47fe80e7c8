package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kalambet/langserver/internal/ingest"
)

type ingestTextsRequest struct {
	Collection string            `json:"collection"`
	Items      []ingest.TextItem `json:"items"`
}

func handleIngestTexts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestTextsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sum, err := deps.Pipeline.Texts(r.Context(), req.Collection, req.Items)
		respondSummary(w, r, sum, err)
	}
}

// handleIngestFile accepts a multipart upload in the "file" field. The
// optional "collection", "chunk_size" and "chunk_overlap" form fields
// override the defaults.
func handleIngestFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		size, err := formInt(r, "chunk_size")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chunk_size: %v", err)
			return
		}
		overlap, err := formInt(r, "chunk_overlap")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "chunk_overlap: %v", err)
			return
		}

		data, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		sum, err := deps.Pipeline.File(r.Context(), r.FormValue("collection"), header.Filename, data, size, overlap)
		respondSummary(w, r, sum, err)
	}
}

func formInt(r *http.Request, key string) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

type ingestLogsRequest struct {
	Collection string            `json:"collection"`
	Logs       []ingest.LogEntry `json:"logs"`
}

func handleIngestLogs(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestLogsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sum, err := deps.Pipeline.Logs(r.Context(), req.Collection, req.Logs)
		respondSummary(w, r, sum, err)
	}
}

// ingestDBRequest carries either literal rows or a table to read them from.
type ingestDBRequest struct {
	Collection  string         `json:"collection"`
	Rows        []ingest.DBRow `json:"rows"`
	Source      *tableRequest  `json:"source"`
	TextColumns []string       `json:"text_columns"`
}

// tableRequest names a table in the configured database. Driver and DSN are
// honored only when Deps.AllowRequestDSN is set.
type tableRequest struct {
	Table    string `json:"table"`
	IDColumn string `json:"id_column,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Driver   string `json:"driver,omitempty"`
	DSN      string `json:"dsn,omitempty"`
}

// tableSource resolves req against the configured database.
func tableSource(deps Deps, req tableRequest) (ingest.TableSource, error) {
	src := deps.Database
	src.Table, src.IDColumn, src.Limit = req.Table, req.IDColumn, req.Limit
	if req.Driver == "" && req.DSN == "" {
		return src, nil
	}
	if !deps.AllowRequestDSN {
		return ingest.TableSource{}, fmt.Errorf("%w: driver and dsn are set by the server (db.driver, db.dsn)", ingest.ErrInvalidSource)
	}
	if req.Driver != "" {
		src.Driver = req.Driver
	}
	if req.DSN != "" {
		src.DSN = req.DSN
	}
	return src, nil
}

func handleIngestDB(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestDBRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		if req.Source == nil {
			sum, err := deps.Pipeline.DBRows(r.Context(), req.Collection, req.Rows, req.TextColumns)
			respondSummary(w, r, sum, err)
			return
		}

		src, err := tableSource(deps, *req.Source)
		if err != nil {
			writeError(w, r, err)
			return
		}
		sum, err := deps.Pipeline.Table(r.Context(), req.Collection, src, req.TextColumns)
		respondSummary(w, r, sum, err)
	}
}

type ingestRSSRequest struct {
	Collection string           `json:"collection"`
	Articles   []ingest.Article `json:"articles"`
}

func handleIngestRSS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRSSRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sum, err := deps.Pipeline.RSS(r.Context(), req.Collection, req.Articles)
		respondSummary(w, r, sum, err)
	}
}

type ingestSocialRequest struct {
	Collection string              `json:"collection"`
	Posts      []ingest.SocialPost `json:"posts"`
}

func handleIngestSocial(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestSocialRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		sum, err := deps.Pipeline.Social(r.Context(), req.Collection, req.Posts)
		respondSummary(w, r, sum, err)
	}
}

type fetchRSSRequest struct {
	URLs       []string `json:"urls"`
	Collection string   `json:"collection"`
}

func handleFetchRSS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req fetchRSSRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.URLs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "urls is required and must not be empty")
			return
		}
		sum, err := deps.Pipeline.FetchRSS(r.Context(), req.Collection, req.URLs)
		var ferr *ingest.FeedError
		if errors.As(err, &ferr) {
			httpError(w, http.StatusBadGateway, "feed_error", "%v", err)
			return
		}
		respondSummary(w, r, sum, err)
	}
}

func respondSummary(w http.ResponseWriter, r *http.Request, sum ingest.Summary, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

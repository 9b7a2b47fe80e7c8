// Package qdrant is a minimal REST client for Qdrant implementing
// vectorstore.Backend. Collections use cosine distance.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kalambet/langserver/internal/vectorstore"
)

var _ vectorstore.Backend = (*Client)(nil)

// Config for a Client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client talks to Qdrant over its REST API.
type Client struct {
	url    string
	apiKey string
	client *http.Client
}

// New creates a Client. A zero timeout defaults to 15 seconds.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		url:    strings.TrimRight(cfg.URL, "/"),
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx reply from Qdrant.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s: status %d: %s", e.Method, e.Path, e.Code, e.Body)
}

func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	var resp struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	names := make([]string, len(resp.Result.Collections))
	for i, col := range resp.Result.Collections {
		names[i] = col.Name
	}
	return names, nil
}

// CreateCollection treats a 409 "already exists" reply as success.
func (c *Client) CreateCollection(ctx context.Context, name string, size int) error {
	body := map[string]any{
		"vectors": map[string]any{
			"size":     size,
			"distance": "Cosine",
		},
	}
	err := c.do(ctx, http.MethodPut, collectionPath(name), body, nil)
	if se, ok := err.(*StatusError); ok && (se.Code == http.StatusConflict || strings.Contains(se.Body, "already exists")) {
		return nil
	}
	return err
}

func (c *Client) DeleteCollection(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, collectionPath(name), nil, nil)
}

type point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

func (c *Client) Upsert(ctx context.Context, collection string, points []vectorstore.Point) error {
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, len(points))}
	for i, p := range points {
		payload := p.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		body.Points[i] = point{ID: p.ID, Vector: p.Vector, Payload: payload}
	}
	return c.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", body, nil)
}

type match struct {
	Key   string `json:"key"`
	Match struct {
		Value any `json:"value"`
	} `json:"match"`
}

func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, filter []vectorstore.Condition) ([]vectorstore.Result, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if len(filter) > 0 {
		must := make([]match, len(filter))
		for i, cond := range filter {
			must[i].Key = cond.Key
			must[i].Match.Value = cond.Value
		}
		req["filter"] = map[string]any{"must": must}
	}

	var resp struct {
		Result []struct {
			ID      json.RawMessage `json:"id"`
			Score   float32         `json:"score"`
			Payload map[string]any  `json:"payload"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", req, &resp); err != nil {
		return nil, err
	}

	results := make([]vectorstore.Result, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, vectorstore.Result{
			ID:      pointID(r.ID),
			Score:   r.Score,
			Payload: r.Payload,
		})
	}
	return results, nil
}

// GetPoint reports false without error when Qdrant answers 404.
func (c *Client) GetPoint(ctx context.Context, collection, id string) (bool, error) {
	var resp struct {
		Result *json.RawMessage `json:"result"`
	}
	err := c.do(ctx, http.MethodGet, collectionPath(collection)+"/points/"+url.PathEscape(id), nil, &resp)
	if se, ok := err.(*StatusError); ok && se.Code == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Result != nil, nil
}

func (c *Client) Count(ctx context.Context, collection string) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := c.do(ctx, http.MethodPost, collectionPath(collection)+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

// pointID renders a Qdrant id, which is either a UUID string or an integer.
func pointID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url+path, r)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding qdrant response: %w", err)
		}
	}
	return nil
}

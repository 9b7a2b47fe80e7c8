package ingest

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/langserver/internal/chunker"
	"github.com/kalambet/langserver/internal/extract"
)

// TextItem is a free-text document.
type TextItem struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// LogEntry is one structured log line.
type LogEntry struct {
	ID        string         `json:"id,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
	VMID      string         `json:"vm_id"`
	LogLevel  string         `json:"log_level,omitempty"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// DBRow is one row of a database table.
type DBRow struct {
	ID       string         `json:"id,omitempty"`
	Table    string         `json:"table"`
	RowData  map[string]any `json:"row_data"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Article is one RSS or news article.
type Article struct {
	ID          string         `json:"id,omitempty"`
	URL         string         `json:"url"`
	Title       string         `json:"title"`
	Content     string         `json:"content"`
	PublishedAt string         `json:"published_at,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// SocialPost is one post from a social platform.
type SocialPost struct {
	ID        string         `json:"id,omitempty"`
	Platform  string         `json:"platform"`
	UserID    string         `json:"user_id"`
	PostID    string         `json:"post_id"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func now() string { return time.Now().UTC().Format(time.RFC3339) }

// Texts ingests free text verbatim. The source_type defaults to "text"
// unless the caller's metadata sets one.
func (p *Pipeline) Texts(ctx context.Context, collection string, items []TextItem) (Summary, error) {
	collection = p.collection(collection)
	sources := make([]source, len(items))
	for i, it := range items {
		st, _ := it.Metadata["source_type"].(string)
		if st == "" {
			st = "text"
		}
		sources[i] = source{
			parentID: it.ID,
			text:     it.Text,
			base:     it.Metadata,
			fields:   map[string]any{"source_type": st},
		}
	}
	return p.commit(ctx, collection, "text", p.chunks(sources, p.opts.ChunkSize, p.opts.ChunkOverlap))
}

// File extracts the text of an uploaded document and ingests it. The
// filename is the parent id, so re-uploading a file overwrites its chunks.
// Non-positive size and overlap take the configured values.
func (p *Pipeline) File(ctx context.Context, collection, filename string, data []byte, size, overlap int) (Summary, error) {
	collection = p.collection(collection)
	if filename == "" {
		return Summary{}, fmt.Errorf("%w: missing filename", ErrInvalidSource)
	}
	text, err := extract.Text(filename, data)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: %w", ErrInvalidSource, err)
	}
	if size <= 0 {
		size = p.opts.ChunkSize
	}
	if overlap <= 0 {
		overlap = p.opts.ChunkOverlap
	}

	src := source{
		parentID: filename,
		text:     text,
		fields:   map[string]any{"source_type": "file", "source": filename},
	}
	return p.commit(ctx, collection, "file", p.chunks([]source{src}, size, overlap))
}

// FormatLog renders a log entry as "[timestamp] [vm_id] [level] message".
func FormatLog(e LogEntry) string {
	return fmt.Sprintf("[%s] [%s] [%s] %s", e.Timestamp, e.VMID, e.LogLevel, e.Message)
}

// Logs ingests structured log entries. Missing levels default to INFO and
// missing timestamps to the current time.
func (p *Pipeline) Logs(ctx context.Context, collection string, entries []LogEntry) (Summary, error) {
	collection = p.collection(collection)
	sources := make([]source, len(entries))
	for i, e := range entries {
		if e.LogLevel == "" {
			e.LogLevel = "INFO"
		}
		if e.Timestamp == "" {
			e.Timestamp = now()
		}
		sources[i] = source{
			parentID: e.ID,
			text:     FormatLog(e),
			base:     e.Metadata,
			fields: map[string]any{
				"source_type": "log",
				"vm_id":       e.VMID,
				"timestamp":   e.Timestamp,
				"log_level":   e.LogLevel,
			},
		}
	}
	return p.commit(ctx, collection, "log", p.chunks(sources, p.opts.ChunkSize, p.opts.ChunkOverlap))
}

// RowText joins the selected column values of a row, one per line. With no
// columns selected every column is used, in name order.
func RowText(row map[string]any, columns []string) string {
	if len(columns) == 0 {
		columns = slices.Sorted(maps.Keys(row))
	}
	lines := make([]string, len(columns))
	for i, c := range columns {
		if v, ok := row[c]; ok && v != nil {
			lines[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(lines, "\n")
}

// DBRows ingests database rows. textColumns selects which columns make up
// the embedded text.
func (p *Pipeline) DBRows(ctx context.Context, collection string, rows []DBRow, textColumns []string) (Summary, error) {
	if len(rows) == 0 {
		return Summary{}, ErrNoRows
	}
	collection = p.collection(collection)
	sources := make([]source, len(rows))
	for i, r := range rows {
		sources[i] = source{
			parentID: r.ID,
			text:     RowText(r.RowData, textColumns),
			base:     r.Metadata,
			fields:   map[string]any{"source_type": "db", "table": r.Table},
		}
	}
	return p.commit(ctx, collection, "db", p.chunks(sources, p.opts.ChunkSize, p.opts.ChunkOverlap))
}

// RSS ingests articles, skipping chunks already present in the collection.
// Articles without an id get one derived from their url and publish date.
func (p *Pipeline) RSS(ctx context.Context, collection string, articles []Article) (Summary, error) {
	collection = p.collection(collection)
	sources := make([]source, len(articles))
	for i, a := range articles {
		id := a.ID
		if strings.TrimSpace(id) == "" {
			id = chunker.DeterministicID(a.URL, a.PublishedAt)
		}
		if a.PublishedAt == "" {
			a.PublishedAt = now()
		}
		sources[i] = source{
			parentID: id,
			text:     a.Title + "\n\n" + a.Content,
			base:     a.Metadata,
			fields: map[string]any{
				"source_type":  "rss",
				"url":          a.URL,
				"title":        a.Title,
				"published_at": a.PublishedAt,
			},
		}
	}
	chunks := p.unseen(ctx, collection, p.chunks(sources, p.opts.ChunkSize, p.opts.ChunkOverlap))
	return p.commit(ctx, collection, "rss", chunks)
}

// Social ingests social posts, skipping chunks already present.
func (p *Pipeline) Social(ctx context.Context, collection string, posts []SocialPost) (Summary, error) {
	collection = p.collection(collection)
	sources := make([]source, len(posts))
	for i, s := range posts {
		if s.Timestamp == "" {
			s.Timestamp = now()
		}
		sources[i] = source{
			parentID: s.ID,
			text:     s.Content,
			base:     s.Metadata,
			fields: map[string]any{
				"source_type": "social",
				"platform":    s.Platform,
				"user_id":     s.UserID,
				"post_id":     s.PostID,
				"timestamp":   s.Timestamp,
			},
		}
	}
	chunks := p.unseen(ctx, collection, p.chunks(sources, p.opts.ChunkSize, p.opts.ChunkOverlap))
	return p.commit(ctx, collection, "social", chunks)
}

func (p *Pipeline) unseen(ctx context.Context, collection string, chunks []pending) []pending {
	return slices.DeleteFunc(chunks, func(c pending) bool {
		return p.exists(ctx, collection, c.id)
	})
}

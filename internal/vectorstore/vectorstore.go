// Package vectorstore fronts an external vector database with a TTL cache of
// collection metadata, lazy collection creation and input validation.
package vectorstore

import (
	"context"
	"time"
)

// Point is one vector with its id and payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Condition is an equality match on a payload field.
type Condition struct {
	Key   string
	Value any
}

// Result is one search hit.
type Result struct {
	ID         string         `json:"id"`
	Score      float32        `json:"score"`
	Payload    map[string]any `json:"payload"`
	Collection string         `json:"collection,omitempty"`
}

// CollectionInfo describes a collection. VectorCount is nil when the count
// could not be fetched.
type CollectionInfo struct {
	Name        string    `json:"name"`
	VectorCount *int      `json:"vectors_count"`
	RefreshedAt time.Time `json:"-"`
}

// Backend is a vector database. CreateCollection must succeed when the
// collection already exists.
type Backend interface {
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, name string, size int) error
	DeleteCollection(ctx context.Context, name string) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, topK int, filter []Condition) ([]Result, error)
	GetPoint(ctx context.Context, collection, id string) (bool, error)
	Count(ctx context.Context, collection string) (int, error)
}

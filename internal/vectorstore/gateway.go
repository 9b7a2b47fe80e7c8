package vectorstore

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/langserver/internal/metrics"
)

// Defaults for a Gateway.
const (
	DefaultCacheTTL   = 10 * time.Second
	DefaultVectorSize = 1536

	// createTimeout bounds a shared collection creation, which outlives
	// the caller that started it.
	createTimeout = 30 * time.Second
)

// Gateway is the single entry point to the vector store. It is safe for
// concurrent use.
type Gateway struct {
	backend     Backend
	cache       *collectionCache
	creating    singleflight.Group
	defaultSize int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithCacheTTL sets how long collection names and counts are trusted.
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *Gateway) { g.cache.ttl = ttl }
}

// WithDefaultVectorSize sets the dimension used when a caller passes none.
func WithDefaultVectorSize(n int) Option {
	return func(g *Gateway) { g.defaultSize = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway wraps backend.
func NewGateway(backend Backend, opts ...Option) *Gateway {
	g := &Gateway{
		backend:     backend,
		cache:       newCollectionCache(DefaultCacheTTL),
		defaultSize: DefaultVectorSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// collectionNames returns the cached name list, refreshing it from the
// backend when it is older than the TTL.
func (g *Gateway) collectionNames(ctx context.Context) ([]string, error) {
	if names, ok := g.cache.cachedNames(); ok {
		return names, nil
	}
	names, err := g.backend.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	g.metrics.CacheRefresh()
	g.cache.setNames(names)
	return names, nil
}

// EnsureCollection creates name with the given dimension and cosine distance
// unless it is already known. Concurrent calls for the same name share one
// backend round trip; a caller that gives up does not cancel it for the rest.
func (g *Gateway) EnsureCollection(ctx context.Context, name string, size int) error {
	if name == "" {
		return &ValidationError{Field: "collection", Msg: "name is empty"}
	}
	if g.cache.has(name) {
		return nil
	}
	if size <= 0 {
		size = g.defaultSize
	}

	ch := g.creating.DoChan(name, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), createTimeout)
		defer cancel()

		names, err := g.collectionNames(ctx)
		if err != nil {
			// Creation is idempotent, so an unknown list just means we try.
			g.logger.Debug("collection list unavailable", "collection", name, "error", err)
		}
		if slices.Contains(names, name) {
			return nil, nil
		}
		if err := g.backend.CreateCollection(ctx, name, size); err != nil {
			return nil, fmt.Errorf("creating collection %q: %w", name, err)
		}
		g.logger.Info("collection created", "collection", name, "size", size)
		g.cache.invalidateNames()
		zero := 0
		g.cache.setCount(name, &zero)
		return nil, nil
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upsert writes all points in a single backend call, overwriting by id.
// ids, vectors and metadatas must have the same non-zero length. The
// collection is created with the dimension of the first vector if needed.
func (g *Gateway) Upsert(ctx context.Context, collection string, ids []string, vectors [][]float32, metadatas []map[string]any) error {
	switch {
	case len(ids) == 0 || len(vectors) == 0:
		return &ValidationError{Field: "points", Msg: "ids and vectors must be non-empty"}
	case len(ids) != len(vectors):
		return &ValidationError{Field: "points", Msg: fmt.Sprintf("%d ids for %d vectors", len(ids), len(vectors))}
	case len(metadatas) != len(ids):
		return &ValidationError{Field: "points", Msg: fmt.Sprintf("%d metadatas for %d ids", len(metadatas), len(ids))}
	}

	if err := g.EnsureCollection(ctx, collection, len(vectors[0])); err != nil {
		return err
	}

	points := make([]Point, len(ids))
	for i := range ids {
		points[i] = Point{ID: ids[i], Vector: vectors[i], Payload: metadatas[i]}
	}
	if err := g.backend.Upsert(ctx, collection, points); err != nil {
		return fmt.Errorf("upserting %d points into %q: %w", len(points), collection, err)
	}

	g.cache.dropCount(collection)
	g.cache.invalidateNames()
	return nil
}

// Search returns up to topK hits ordered by descending score. filter is an
// equality match on payload fields; values must be scalars.
func (g *Gateway) Search(ctx context.Context, vector []float32, collection string, topK int, filter map[string]any) ([]Result, error) {
	if len(vector) == 0 {
		return nil, &ValidationError{Field: "vector", Msg: "query vector is empty"}
	}
	if topK <= 0 {
		return nil, &ValidationError{Field: "top_k", Msg: "must be positive"}
	}
	conds, err := Conditions(filter)
	if err != nil {
		return nil, err
	}

	if err := g.EnsureCollection(ctx, collection, len(vector)); err != nil {
		return nil, err
	}

	results, err := g.backend.Search(ctx, collection, vector, topK, conds)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", collection, err)
	}
	slices.SortStableFunc(results, func(a, b Result) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Exists reports whether a point with id is stored in collection. Callers
// decide what a lookup error means; ingestion treats it as absent.
func (g *Gateway) Exists(ctx context.Context, collection, id string) (bool, error) {
	ok, err := g.backend.GetPoint(ctx, collection, id)
	if err != nil {
		return false, fmt.Errorf("looking up %s in %q: %w", id, collection, err)
	}
	return ok, nil
}

// ListCollections returns every collection with its vector count. Counts
// older than the TTL are refreshed; a failed count is reported as nil.
// RefreshedAt is when the count was read from the backend.
// A failed listing yields an empty result.
func (g *Gateway) ListCollections(ctx context.Context) []CollectionInfo {
	names, err := g.collectionNames(ctx)
	if err != nil {
		g.logger.Warn("listing collections failed", "error", err)
		return []CollectionInfo{}
	}

	out := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		count, at, ok := g.cache.cachedCount(name)
		if !ok {
			if n, err := g.backend.Count(ctx, name); err != nil {
				g.logger.Debug("counting collection failed", "collection", name, "error", err)
				count = nil
			} else {
				count = &n
			}
			at = g.cache.setCount(name, count)
		}
		out = append(out, CollectionInfo{Name: name, VectorCount: count, RefreshedAt: at})
	}
	return out
}

// DeleteCollection drops name if it exists. It reports whether a collection
// was deleted.
func (g *Gateway) DeleteCollection(ctx context.Context, name string) (bool, error) {
	names, err := g.collectionNames(ctx)
	if err != nil {
		return false, err
	}
	if !slices.Contains(names, name) {
		return false, nil
	}
	if err := g.backend.DeleteCollection(ctx, name); err != nil {
		return false, fmt.Errorf("deleting collection %q: %w", name, err)
	}
	g.logger.Info("collection deleted", "collection", name)
	g.cache.invalidateNames()
	g.cache.dropCount(name)
	return true, nil
}

// Conditions converts an equality filter into backend conditions, sorted by
// key. Only strings, booleans and numbers are accepted as values.
func Conditions(filter map[string]any) ([]Condition, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	conds := make([]Condition, 0, len(filter))
	for _, key := range slices.Sorted(maps.Keys(filter)) {
		v := filter[key]
		switch val := v.(type) {
		case string, bool, float64, float32, int, int32, int64, uint, uint32, uint64:
		case json.Number:
			f, err := val.Float64()
			if err != nil {
				return nil, &ValidationError{Field: "filter", Msg: fmt.Sprintf("value for %q: %v", key, err)}
			}
			v = f
		default:
			return nil, &ValidationError{Field: "filter", Msg: fmt.Sprintf("value for %q must be a string, number or boolean, got %T", key, v)}
		}
		if key == "" {
			return nil, &ValidationError{Field: "filter", Msg: "empty key"}
		}
		conds = append(conds, Condition{Key: key, Value: v})
	}
	return conds, nil
}

package sqlite

import (
	"container/heap"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/kalambet/langserver/internal/vectorstore"
)

// idScore holds only the ID and score during the scan phase of Search.
// Payloads are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
	seq   int
}

// Search scans every point of the collection that matches filter and
// returns the topK most cosine-similar, best first.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, filter []vectorstore.Condition) ([]vectorstore.Result, error) {
	if _, err := s.vectorSize(ctx, s.db, collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	where, args := filterClause(collection, filter)

	// Phase 1: scan only id + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, "SELECT id, embedding FROM points WHERE "+where+" ORDER BY rowid", args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		rows.Close()
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32
	seq := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		item := idScore{ID: id, Score: cosine(vector, buf, queryNorm), seq: seq}
		seq++
		if h.Len() < topK {
			heap.Push(h, item)
		} else if item.Score > (*h)[0].Score {
			(*h)[0] = item
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	rows.Close()

	if h.Len() == 0 {
		return nil, nil
	}

	// Pop yields ascending scores; fill from the back for descending order.
	top := make([]idScore, h.Len())
	for i := len(top) - 1; i >= 0; i-- {
		top[i] = heap.Pop(h).(idScore)
	}

	// Phase 2: fetch payloads only for the top-K IDs.
	queryArgs := make([]any, 0, len(top)+1)
	queryArgs = append(queryArgs, collection)
	for _, it := range top {
		queryArgs = append(queryArgs, it.ID)
	}
	payloadRows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM points WHERE collection = ? AND id IN (?`+strings.Repeat(",?", len(top)-1)+`)`,
		queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K payloads: %w", err)
	}
	defer payloadRows.Close()

	payloads := make(map[string]map[string]any, len(top))
	for payloadRows.Next() {
		var id, raw string
		if err := payloadRows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scanning payload: %w", err)
		}
		var p map[string]any
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decoding payload for %s: %w", id, err)
		}
		payloads[id] = p
	}
	if err := payloadRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating payloads: %w", err)
	}

	results := make([]vectorstore.Result, len(top))
	for i, it := range top {
		results[i] = vectorstore.Result{ID: it.ID, Score: it.Score, Payload: payloads[it.ID]}
	}
	return results, nil
}

// filterClause builds the WHERE clause for equality conditions on payload
// fields via json_extract.
func filterClause(collection string, filter []vectorstore.Condition) (string, []any) {
	var b strings.Builder
	b.WriteString("collection = ?")
	args := []any{collection}
	for _, c := range filter {
		b.WriteString(" AND json_extract(payload, ?) = ?")
		args = append(args, jsonPath(c.Key), sqlValue(c.Value))
	}
	return b.String(), args
}

func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// sqlValue maps a JSON scalar to what json_extract returns for it.
func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	return v
}

func encodePayload(p map[string]any) (string, error) {
	if p == nil {
		return "{}", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * |b|). aNorm is the precomputed L2 norm
// of a. Mismatched dimensions score 0.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score. Among equal scores
// the later row is smaller, so earlier rows survive eviction.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int { return len(h) }
func (h idScoreHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].seq > h[j].seq
}
func (h idScoreHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)   { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

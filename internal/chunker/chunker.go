// Package chunker splits text into overlapping windows and derives stable
// identifiers for the resulting chunks.
package chunker

import (
	"crypto/sha256"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// DefaultChunkSize is the default number of characters per chunk.
const DefaultChunkSize = 800

// DefaultChunkOverlap is the default number of overlapping characters.
const DefaultChunkOverlap = 120

// separators are tried in order; the empty separator splits into single runes.
var separators = []string{"\n\n", "\n", ". ", "? ", "! ", " ", ""}

// Split breaks text into chunks of at most size runes, carrying up to overlap
// runes of context from one chunk into the next. Paragraph breaks are
// preferred over line breaks, line breaks over sentence ends, sentence ends
// over words, and words over single characters.
//
// Non-empty input always yields at least one chunk and never an empty one.
func Split(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	s := splitter{size: size, overlap: overlap}
	return s.split(text, separators)
}

type splitter struct {
	size    int
	overlap int
}

func (s splitter) split(text string, seps []string) []string {
	sep, rest := "", []string(nil)
	for i, c := range seps {
		if c == "" || strings.Contains(text, c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.SplitAfter(text, sep)
	}

	var out, fitting []string
	for _, p := range pieces {
		if p == "" {
			continue
		}
		if utf8.RuneCountInString(p) <= s.size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting)...)
			fitting = nil
		}
		out = append(out, s.split(p, rest)...)
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting)...)
	}
	return out
}

// merge packs pieces (each at most size runes) into windows. After a window
// is emitted, leading pieces are dropped until at most overlap runes remain
// and the next piece fits.
func (s splitter) merge(pieces []string) []string {
	var (
		out     []string
		current []string
		total   int
	)
	emit := func() {
		if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
			out = append(out, doc)
		}
	}
	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > s.size && len(current) > 0 {
			emit()
			for len(current) > 0 && (total > s.overlap || total+n > s.size) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	if len(current) > 0 {
		emit()
	}
	return out
}

// Identify returns the chunk identifier for the index-th chunk of parentID.
// The value is the first 16 bytes of SHA-256(parentID + "|" + index)
// rendered as a UUID, so it is identical across processes and restarts.
func Identify(parentID string, index int) string {
	return DeterministicID(parentID, strconv.Itoa(index))
}

// DeterministicID hashes the "|"-joined parts into a UUID-shaped identifier.
func DeterministicID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return uuid.Must(uuid.FromBytes(sum[:16])).String()
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	if n <= 0 || utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

package retrieval

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/kalambet/langserver/internal/vectorstore"
)

// MatchKeywords keeps the results whose payload contains every key and whose
// value contains the wanted text, ignoring case.
func MatchKeywords(results []vectorstore.Result, filters map[string]string) []vectorstore.Result {
	if len(filters) == 0 {
		return results
	}
	return slices.DeleteFunc(results, func(r vectorstore.Result) bool {
		for key, want := range filters {
			v, ok := r.Payload[key]
			if !ok || !strings.Contains(strings.ToLower(fmt.Sprint(v)), strings.ToLower(want)) {
				return true
			}
		}
		return false
	})
}

// BoostRecent reorders results in place so those dated within the last days
// come first. The date is taken from published_at, falling back to
// timestamp. Undated and unparsable results count as old; order is
// otherwise preserved.
func BoostRecent(results []vectorstore.Result, days int, now time.Time) {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	recent := func(r vectorstore.Result) int {
		if t, ok := resultTime(r.Payload); ok && t.After(cutoff) {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(results, func(a, b vectorstore.Result) int {
		return recent(a) - recent(b)
	})
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

func resultTime(payload map[string]any) (time.Time, bool) {
	for _, key := range []string{"published_at", "timestamp"} {
		s, _ := payload[key].(string)
		if s == "" {
			continue
		}
		return ParseTime(s)
	}
	return time.Time{}, false
}

// ParseTime accepts RFC 3339, ISO-8601 without zone (read as UTC), plain
// dates and the RFC 1123 forms used by RSS feeds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

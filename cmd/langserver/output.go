package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kalambet/langserver/internal/chunker"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

// stderr receives status messages; tests swap it.
var stderr io.Writer = os.Stderr

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStatus(label string, format string, args ...any) {
	val := fmt.Sprintf(format, args...)
	l := colorize(colorBold, label+":")
	fmt.Fprintf(stderr, "  %s %s\n", l, val)
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(stderr, colorize(colorCyan, "→ "+msg))
}

// hit is a search result as returned by the query endpoints with raw
// results requested.
type hit struct {
	ID         string         `json:"id"`
	Score      float32        `json:"score"`
	Payload    map[string]any `json:"payload"`
	Collection string         `json:"collection"`
}

const snippetPreview = 500

func printHits(w io.Writer, hits []hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}
	for i, h := range hits {
		header := colorize(colorBold, fmt.Sprintf("Result %d", i+1))
		if h.Collection != "" {
			fmt.Fprintf(w, "\n%s [score: %.3f] %s\n", header, h.Score, colorize(colorCyan, h.Collection))
		} else {
			fmt.Fprintf(w, "\n%s [score: %.3f]\n", header, h.Score)
		}
		if st, _ := h.Payload["source_type"].(string); st != "" {
			fmt.Fprintf(w, "  Source: %s\n", st)
		}
		snippet, _ := h.Payload["snippet"].(string)
		preview := chunker.Preview(snippet, snippetPreview)
		if len(preview) < len(snippet) {
			preview += "..."
		}
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(preview, "\n", "\n  "))
	}
}

func printAnswer(w io.Writer, answer string) {
	if answer == "" {
		return
	}
	fmt.Fprintf(w, "\n%s\n%s\n", colorize(colorBold, "Answer:"), answer)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrUnavailable is returned when the backend does not answer at all.
var ErrUnavailable = errors.New("model backend unavailable")

// EnsureReady verifies the backend answers and that every named model is
// installed, pulling the missing ones. Empty and repeated names are skipped.
// Pull progress goes to w in 10% steps.
func EnsureReady(ctx context.Context, e Engine, w io.Writer, models ...string) error {
	if !e.IsRunning(ctx) {
		return fmt.Errorf("%w: start Ollama or set model.base_url to a running server", ErrUnavailable)
	}

	var present, missing []string
	seen := make(map[string]bool, len(models))
	for _, m := range models {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		if e.HasModel(ctx, m) {
			present = append(present, m)
		} else {
			missing = append(missing, m)
		}
	}
	if len(present) > 0 {
		fmt.Fprintf(w, "models installed: %s\n", strings.Join(present, ", "))
	}

	for _, m := range missing {
		fmt.Fprintf(w, "downloading %s\n", m)
		if err := e.PullModel(ctx, m, progressPrinter(w)); err != nil {
			return fmt.Errorf("download %s: %w", m, err)
		}
		fmt.Fprintf(w, "downloaded %s\n", m)
	}
	return nil
}

// progressPrinter writes a line whenever the pull phase changes or the
// completed share crosses the next 10% mark.
func progressPrinter(w io.Writer) func(PullProgress) {
	var phase string
	step := -1
	return func(p PullProgress) {
		if p.Status != phase {
			phase, step = p.Status, -1
			if p.Total == 0 {
				fmt.Fprintf(w, "  %s\n", p.Status)
				return
			}
		}
		if p.Total <= 0 {
			return
		}
		if s := int(p.Completed * 10 / p.Total); s > step {
			step = s
			fmt.Fprintf(w, "  %s %d%%\n", p.Status, s*10)
		}
	}
}

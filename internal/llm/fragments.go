package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
)

const fragmentDelimiters = " .?!,;:"

type streamLine struct {
	Response string `json:"response"`
}

// Fragments reads an NDJSON completion stream and yields text whenever the
// accumulated pieces end on a space or punctuation mark. The remainder is
// yielded when the stream ends. Lines that fail to decode are skipped.
func Fragments(r io.Reader) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		var buf strings.Builder
		for sc.Scan() {
			line := sc.Bytes()
			if len(line) == 0 {
				continue
			}
			var sl streamLine
			if err := json.Unmarshal(line, &sl); err != nil || sl.Response == "" {
				continue
			}
			buf.WriteString(sl.Response)
			if endsWithDelimiter(sl.Response) {
				if !yield(buf.String(), nil) {
					return
				}
				buf.Reset()
			}
		}

		if buf.Len() > 0 {
			if !yield(buf.String(), nil) {
				return
			}
		}
		if err := sc.Err(); err != nil {
			yield("", fmt.Errorf("reading completion stream: %w", err))
		}
	}
}

func endsWithDelimiter(s string) bool {
	return s != "" && strings.IndexByte(fragmentDelimiters, s[len(s)-1]) >= 0
}

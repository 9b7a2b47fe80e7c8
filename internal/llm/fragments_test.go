package llm

import (
	"strings"
	"testing"
)

func TestFragments(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []string
	}{
		{
			name:   "punctuation boundaries",
			stream: "{\"response\":\"Yes\"}\n{\"response\":\",\"}\n{\"response\":\" indeed\"}\n{\"response\":\"!\"}\n",
			want:   []string{"Yes,", " indeed!"},
		},
		{
			name:   "remainder flushed",
			stream: "{\"response\":\"no\"}\n{\"response\":\"delimiter\"}\n",
			want:   []string{"nodelimiter"},
		},
		{
			name:   "garbage lines skipped",
			stream: "not json\n\n{\"response\":\"ok;\"}\n{\"done\":true}\n",
			want:   []string{"ok;"},
		},
		{
			name:   "empty stream",
			stream: "",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for frag, err := range Fragments(strings.NewReader(tt.stream)) {
				if err != nil {
					t.Fatalf("Fragments: %v", err)
				}
				got = append(got, frag)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Fragments() = %q, want %q", got, tt.want)
			}
		})
	}
}

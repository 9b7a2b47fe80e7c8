package llm

import (
	"context"
	"testing"
)

func TestParseStructured(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Structured
	}{
		{
			name: "json object",
			text: `{"summary":"Short.","canonical_embedding_text":"short text"}`,
			want: Structured{"Short.", "short text"},
		},
		{
			name: "json missing field",
			text: ` {"summary":"Only summary"} `,
			want: Structured{"Only summary", NoCanonical},
		},
		{
			name: "json not an object",
			text: `["a","b"]`,
			want: Structured{NoSummary, NoCanonical},
		},
		{
			name: "json array falls back to lines",
			text: "[\n\"summary\",\n\"Go is fast.\",\n\"canonical\",\n\"go fast\"\n]",
			want: Structured{`"Go is fast.",`, `"go fast"`},
		},
		{
			name: "json null falls back to lines",
			text: "null",
			want: Structured{NoSummary, NoCanonical},
		},
		{
			name: "labelled lines",
			text: "Summary:\n  Go is fast.  \nCanonical embedding text:\ngo fast compiled\n",
			want: Structured{"Go is fast.", "go fast compiled"},
		},
		{
			name: "first label wins",
			text: "SUMMARY\nfirst\nsummary\nsecond",
			want: Structured{"first", NoCanonical},
		},
		{
			name: "label on last line",
			text: "nothing here\nsummary",
			want: Structured{NoSummary, NoCanonical},
		},
		{
			name: "free text",
			text: "The model ignored the instructions.",
			want: Structured{NoSummary, NoCanonical},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseStructured(tt.text); got != tt.want {
				t.Errorf("ParseStructured() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRequester_Structured(t *testing.T) {
	f := &fakeEngine{text: `{"summary":"s","canonical_embedding_text":"c"}`}
	r := New(f, testConfig())

	got, err := r.Structured(context.Background(), CompletionRequest{Prompt: "p"})
	if err != nil {
		t.Fatalf("Structured: %v", err)
	}
	if got.Summary != "s" || got.CanonicalEmbeddingText != "c" {
		t.Errorf("Structured() = %+v", got)
	}
}

func TestChatPrompt(t *testing.T) {
	got := ChatPrompt([]Message{
		{Role: "system", Content: "Be brief. "},
		{Role: "USER", Content: "  Hi there"},
	})
	want := "System: Be brief.\nUser: Hi there\nAssistant:"
	if got != want {
		t.Errorf("ChatPrompt() = %q, want %q", got, want)
	}
}

func TestRequester_Chat(t *testing.T) {
	f := &fakeEngine{text: "Hello!"}
	r := New(f, testConfig())

	got, err := r.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, CompletionRequest{Model: "mistral"})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "Hello!" {
		t.Errorf("Chat() = %q", got)
	}
	if f.last.Prompt != "User: hi\nAssistant:" || f.last.Model != "mistral" {
		t.Errorf("request = %+v", f.last)
	}
}

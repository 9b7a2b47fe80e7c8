package llm

import (
	"context"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatPrompt renders messages as "Role: content" lines followed by an
// open "Assistant:" turn.
func ChatPrompt(messages []Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(capitalize(m.Role))
		b.WriteString(": ")
		b.WriteString(strings.TrimSpace(m.Content))
	}
	b.WriteString("\nAssistant:")
	return b.String()
}

// Chat completes the rendered conversation.
func (r *Requester) Chat(ctx context.Context, messages []Message, req CompletionRequest) (string, error) {
	req.Prompt = ChatPrompt(messages)
	return r.Complete(ctx, req)
}

// ChatStream streams the completion of the rendered conversation.
func (r *Requester) ChatStream(ctx context.Context, messages []Message, req CompletionRequest) iter.Seq2[string, error] {
	req.Prompt = ChatPrompt(messages)
	return r.Stream(ctx, req)
}

// capitalize upper-cases the first rune and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

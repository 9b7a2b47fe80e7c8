package ollama

import (
	"encoding/json"
	"fmt"
	"strings"
)

// completionShape tags which of the known reply layouts a completion used.
type completionShape int

const (
	shapeChoices  completionShape = iota + 1 // OpenAI-style {"choices": [...]}
	shapeResponse                            // Ollama {"response": "..."}
	shapeOutput                              // {"output": [...]} or {"output": "..."}
)

// completion is the normalized result of parseCompletion.
type completion struct {
	shape  completionShape
	pieces []string
}

// Text joins the pieces of the completion into a single string.
func (c completion) Text() string {
	return strings.Join(c.pieces, "\n")
}

type rawChoice struct {
	Message *struct {
		Content *string `json:"content"`
	} `json:"message"`
	Content *string `json:"content"`
}

type rawCompletion struct {
	Choices  []rawChoice     `json:"choices"`
	Response json.RawMessage `json:"response"`
	Output   json.RawMessage `json:"output"`
}

// parseCompletion classifies a non-streaming reply into one of the closed set
// of shapes, checked in order: choices, response, output. Anything else is a
// *ResponseError.
func parseCompletion(body []byte) (completion, error) {
	var raw rawCompletion
	if err := decodeFirstDocument(body, &raw); err != nil {
		return completion{}, &ResponseError{Op: "generate", Msg: fmt.Sprintf("undecodable body: %v", err)}
	}

	switch {
	case len(raw.Choices) > 0:
		var pieces []string
		for _, ch := range raw.Choices {
			switch {
			case ch.Message != nil && ch.Message.Content != nil:
				pieces = append(pieces, *ch.Message.Content)
			case ch.Content != nil:
				pieces = append(pieces, *ch.Content)
			}
		}
		return completion{shape: shapeChoices, pieces: pieces}, nil

	case len(raw.Response) > 0 && string(raw.Response) != "null":
		return completion{shape: shapeResponse, pieces: []string{scalarText(raw.Response)}}, nil

	case len(raw.Output) > 0 && string(raw.Output) != "null":
		var list []json.RawMessage
		if err := json.Unmarshal(raw.Output, &list); err != nil {
			return completion{shape: shapeOutput, pieces: []string{scalarText(raw.Output)}}, nil
		}
		pieces := make([]string, len(list))
		for i, item := range list {
			pieces[i] = scalarText(item)
		}
		return completion{shape: shapeOutput, pieces: pieces}, nil
	}

	return completion{}, &ResponseError{Op: "generate", Msg: "no choices, response or output field"}
}

// scalarText renders a JSON value as text: strings unquoted, everything else
// in its JSON form.
func scalarText(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}

// StreamChunk is one NDJSON line of a streaming /api/generate reply.
type StreamChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done,omitempty"`
}

package llm

import (
	"errors"
	"fmt"
)

// ErrBackendUnavailable is wrapped by errors returned after every attempt
// against the model backend failed with a transient error.
var ErrBackendUnavailable = errors.New("model backend unavailable")

// EmbeddingError reports which input text of an Embed call failed.
type EmbeddingError struct {
	Index int
	Err   error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding text %d: %v", e.Index, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

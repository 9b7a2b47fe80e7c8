package ollama

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrMalformedResponse is wrapped by every *ResponseError.
var ErrMalformedResponse = errors.New("malformed backend response")

// ResponseError reports a reply that arrived but lacks the expected field.
// Repeating the request will not fix it.
type ResponseError struct {
	Op  string
	Msg string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *ResponseError) Unwrap() error { return ErrMalformedResponse }

// IsMalformed reports whether err is (or wraps) a malformed-response error.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrMalformedResponse)
}

// StatusError reports a non-2xx HTTP status from the backend.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Code, e.Body)
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Op: op, Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}

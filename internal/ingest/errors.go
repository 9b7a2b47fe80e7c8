package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRows is returned by DBRows when there is nothing to ingest.
	ErrNoRows = errors.New("no rows provided")

	// ErrInvalidSource marks input that cannot be turned into text: an
	// unreadable upload, an unknown database driver, a bad table name.
	ErrInvalidSource = errors.New("invalid ingestion source")
)

// FeedError reports a feed that could not be downloaded or parsed.
type FeedError struct {
	URL string
	Err error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("fetching feed %s: %v", e.URL, e.Err)
}

func (e *FeedError) Unwrap() error { return e.Err }

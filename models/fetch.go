package models

import "fmt"

// FailureKind classifies a fetch failure. All kinds count identically toward
// backoff; the kind is kept for operator diagnostics.
type FailureKind string

const (
	FailureNotFound   FailureKind = "not_found"
	FailureBlocked    FailureKind = "blocked"
	FailureTimeout    FailureKind = "timeout"
	FailureParseError FailureKind = "parse_error"
)

// FetchError is the typed failure side of the fetch adapter contract.
type FetchError struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err as a typed fetch failure for url.
func NewFetchError(kind FailureKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

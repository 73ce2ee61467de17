// Package runnererrors contains the error kinds a Supplier/Fetcher raises
// that the rest of the pipeline needs to recognise by type rather than by
// string-matching.
package runnererrors

import (
	"fmt"
	"time"
)

// ErrNonRecoverable indicates a supplier failure that must never be
// retried: the remote protocol's 401 (unauthorized) or 409 (conflict,
// e.g. another poller already holds the long-poll) status codes.
type ErrNonRecoverable struct {
	Code    int
	Message string
}

func (e *ErrNonRecoverable) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("non-recoverable supplier error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("non-recoverable supplier error %d", e.Code)
}

// ErrRateLimited indicates a 429 response. RetryAfter, if non-zero, is how
// long the Fetcher should sleep before resuming its retry schedule.
type ErrRateLimited struct {
	RetryAfter time.Duration
	Message    string
}

func (e *ErrRateLimited) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited, retry after %s: %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// ErrAborted indicates a supply() call that failed because its AbortSignal
// was raised, as opposed to a genuine transport failure. Fetcher must not
// retry on this error and must not surface it to the iteration consumer.
type ErrAborted struct{}

func (e *ErrAborted) Error() string { return "supply aborted" }

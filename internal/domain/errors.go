package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the non-retryable taxonomy. Wrap with
// fmt.Errorf("%w: ...") and check with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrSourceBusy = errors.New("source busy: a run is already in progress")
)

// DownloadError covers transport failures while fetching a source: non-2xx
// responses, network failures, empty or implausible bodies. Retryable.
type DownloadError struct {
	Source     Source
	URL        string
	StatusCode int // 0 when the failure happened below HTTP
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s (%s): HTTP %d", e.Source, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s (%s): %v", e.Source, e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// ParsingError is a document-level structural failure. Per-record failures
// are tolerated and counted by parsers; this error means the document itself
// could not be processed. Not retryable.
type ParsingError struct {
	Source Source
	Err    error
}

func (e *ParsingError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

func (e *ParsingError) Unwrap() error { return e.Err }

// InvalidSourceDataError signals a sanity-floor breach: the parser produced
// fewer entities than the configured minimum. The run fails and prior data is
// preserved. Not retryable.
type InvalidSourceDataError struct {
	Source      Source
	EntityCount int
	MinEntities int
}

func (e *InvalidSourceDataError) Error() string {
	return fmt.Sprintf("invalid source data for %s: parsed %d entities, minimum is %d",
		e.Source, e.EntityCount, e.MinEntities)
}

// TransactionError wraps a unit-of-work failure. The UoW has already been
// rolled back when this surfaces.
type TransactionError struct {
	Op  string
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction %s: %v", e.Op, e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }

// NotificationError is isolated to one channel; it never rolls back the run.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification via %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// IsRetryable reports whether the orchestrator may retry the failed stage.
// Only transient transport failures qualify; validation, parsing and
// sanity-floor errors never do.
func IsRetryable(err error) bool {
	var de *DownloadError
	if errors.As(err, &de) {
		// 4xx responses are source-side contract breaks, not transients.
		if de.StatusCode >= 400 && de.StatusCode < 500 {
			return false
		}
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}

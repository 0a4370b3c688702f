package service

import (
	"fmt"
	"time"
)

// ListingError means the candidate ID set could not be collected. It is fatal to a run.
type ListingError struct {
	Query string
	Page  int
	Err   error
}

func (e *ListingError) Error() string {
	return fmt.Sprintf("failed to list page %d for query %q: %v", e.Page, e.Query, e.Err)
}

func (e *ListingError) Unwrap() error {
	return e.Err
}

// ItemFetchError is a tolerated per-item failure; it is counted, never returned.
type ItemFetchError struct {
	SourceID string
	Err      error
}

func (e *ItemFetchError) Error() string {
	return fmt.Sprintf("failed to fetch item %s: %v", e.SourceID, e.Err)
}

func (e *ItemFetchError) Unwrap() error {
	return e.Err
}

// WaitTimeoutError is returned by the blocking variant when the downstream job did
// not finish in time. The job itself keeps running.
type WaitTimeoutError struct {
	BatchID string
	JobID   string
	Waited  time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for job %s (batch %s)", e.Waited, e.JobID, e.BatchID)
}

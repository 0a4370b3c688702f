package models

const (
	DefaultOverlapHours = 2
	DefaultDaysBack     = 365
)

// SyncOptions is what an entry point passes in to start one sync run.
type SyncOptions struct {
	Incremental  bool
	OverlapHours int
	DaysBack     int
	BatchID      string // generated when empty
}

// WithDefaults fills zero values with the package defaults.
func (o SyncOptions) WithDefaults() SyncOptions {
	if o.OverlapHours < 0 {
		o.OverlapHours = 0
	}
	if o.DaysBack <= 0 {
		o.DaysBack = DefaultDaysBack
	}
	return o
}

// SyncStats aggregates the outcome of a sync run.
// Processed == Inserted + Skipped + Errors holds after every wave.
type SyncStats struct {
	Total     int `json:"total"`
	Pages     int `json:"pages"`
	Processed int `json:"processed"`
	Inserted  int `json:"inserted"` // rows written, new or overwritten
	Created   int `json:"created"`  // rows seen for the first time
	Skipped   int `json:"skipped"`  // fetched but missing required fields
	Errors    int `json:"errors"`
}

type ProgressEventType string

const (
	ProgressStart         ProgressEventType = "start"
	ProgressBatchComplete ProgressEventType = "batch_complete"
	ProgressComplete      ProgressEventType = "complete"
	ProgressError         ProgressEventType = "error"
)

// SyncProgressEvent is a transient progress notification; it is never persisted.
type SyncProgressEvent struct {
	Type      ProgressEventType `json:"type"`
	BatchID   string            `json:"batchId"`
	Processed int               `json:"processed"`
	Total     int               `json:"total"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	Stats     *SyncStats        `json:"stats,omitempty"`
}

// Terminal reports whether no further events follow this one.
func (e SyncProgressEvent) Terminal() bool {
	return e.Type == ProgressComplete || e.Type == ProgressError
}

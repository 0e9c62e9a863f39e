package domain

import "time"

type Status string

const (
	StatusPending     Status = "pending"
	StatusSuccess     Status = "success"
	StatusFailed      Status = "failed"
	StatusSkipped     Status = "skipped"
	StatusUnavailable Status = "unavailable"
)

// Terminal reports whether a status ends processing for the key within a
// run. Failed and unavailable keys become eligible again on the next run.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusSkipped, StatusUnavailable:
		return true
	}
	return false
}

// Done reports whether the key must never be reprocessed, even by a
// later run.
func (s Status) Done() bool {
	return s == StatusSuccess || s == StatusSkipped
}

// DownloadRecord is the persisted outcome for one Key. Every write
// replaces the whole record; there is no partial-record state.
type DownloadRecord struct {
	Key         Key       `json:"key"`
	Status      Status    `json:"status"`
	ResolvedURL string    `json:"resolved_url,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ResolvedAsset is the transient output of a resolver: where to fetch
// from and, optionally, what to call the file on disk.
type ResolvedAsset struct {
	URL      string
	Filename string

	// Subdir namespaces the asset under the output root (e.g. the
	// media item's primary category). Empty means the root itself.
	Subdir string
}

// Run is one pipeline invocation recorded for bookkeeping.
type Run struct {
	ID         string         `json:"id"`
	Kind       EntryKind      `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Counts     map[Status]int `json:"counts,omitempty"`
}

package ingest

import "time"

// Status is the terminal state of a run.
type Status string

const (
	StatusDone   Status = "done"
	StatusFailed Status = "failed"
)

// ChunkFailure records why one chunk was left out of a run.
type ChunkFailure struct {
	SequenceIndex int       `json:"sequence_index"`
	Kind          ErrorKind `json:"kind"`
	Message       string    `json:"message"`
}

// Report summarizes one ingestion run.
type Report struct {
	SourceID string `json:"source_id"`
	Status   Status `json:"status"`

	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Deleted   int `json:"deleted"`
	Skipped   int `json:"skipped"`
	Unchanged int `json:"unchanged"`

	// Errors holds one kind per chunk failure plus one for a run-level
	// failure.
	Errors   []ErrorKind    `json:"errors"`
	Failures []ChunkFailure `json:"failures,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Failed reports whether the run failed.
func (r *Report) Failed() bool {
	return r.Status == StatusFailed
}

func (r *Report) addFailure(f ChunkFailure) {
	r.Failures = append(r.Failures, f)
	r.Errors = append(r.Errors, f.Kind)
}

func (r *Report) fail(err error) {
	r.Status = StatusFailed
	r.Errors = append(r.Errors, KindOf(err))
}

package model

import "time"

// JobStatus is the lifecycle state of a recording job.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRecording JobStatus = "recording"
	JobDone      JobStatus = "done"
	JobBusy      JobStatus = "busy"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// CanTransition reports whether s may move to next. Transitions are
// monotonic: pending -> recording -> done|failed, and pending may fail
// directly when the countdown breaks.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRecording || next == JobFailed
	case JobRecording:
		return next == JobDone || next == JobFailed
	default:
		return false
	}
}

// Job represents one countdown-plus-recording session.
type Job struct {
	ID          string    `json:"job_id"`
	Status      JobStatus `json:"status"`
	VideoPath   string    `json:"video_path,omitempty"`
	ThumbPath   string    `json:"thumb_path,omitempty"`
	MetaPath    string    `json:"meta_path,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationS   int       `json:"duration_s"`
	PersonCount int       `json:"person_count"`
	FilterUsed  string    `json:"filter_used"`
	Error       string    `json:"error,omitempty"`
}

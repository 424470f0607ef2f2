package dto

import "booth/internal/model"

// CaptureRequest is the body of POST /api/capture. Both fields are optional.
type CaptureRequest struct {
	DurationS int    `json:"duration_s,omitempty"`
	FilterID  string `json:"filter_id,omitempty"`
}

// CaptureResponse reports whether a capture was started.
type CaptureResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

// Capture response statuses.
const (
	CaptureStarted = "started"
	CaptureBusy    = "busy"
)

// JobStatusResponse is the body of GET /api/status/{job_id}.
type JobStatusResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id"`
	Video  string `json:"video,omitempty"`
	Thumb  string `json:"thumb,omitempty"`
	Meta   string `json:"meta,omitempty"`
	Error  string `json:"error,omitempty"`
}

// NewJobStatusResponse converts a job. Finished jobs report "ok".
func NewJobStatusResponse(job *model.Job) JobStatusResponse {
	status := string(job.Status)
	if job.Status == model.JobDone {
		status = "ok"
	}
	return JobStatusResponse{
		Status: status,
		JobID:  job.ID,
		Video:  job.VideoPath,
		Thumb:  job.ThumbPath,
		Meta:   job.MetaPath,
		Error:  job.Error,
	}
}

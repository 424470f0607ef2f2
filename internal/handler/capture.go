package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"booth/internal/dto"
	"booth/internal/logger"
	"booth/internal/model"
	"booth/internal/service/pipeline"
)

// CaptureService is the part of the pipeline manager used by the API.
type CaptureService interface {
	RequestCapture(durationS int, filter string) (model.Job, error)
	JobStatus(id string) (*model.Job, error)
	State() pipeline.State
	Frames() uint64
}

// StartCapture requests a session and maps the outcome to a response.
func StartCapture(manager CaptureService, durationS int, filter string) (dto.CaptureResponse, error) {
	job, err := manager.RequestCapture(durationS, filter)
	if errors.Is(err, pipeline.ErrBusy) {
		return dto.CaptureResponse{Status: dto.CaptureBusy}, nil
	}
	if err != nil {
		return dto.CaptureResponse{}, err
	}
	return dto.CaptureResponse{Status: dto.CaptureStarted, JobID: job.ID}, nil
}

// CaptureHandler handles POST /api/capture. It answers 202 with the new job
// ID, or 409 when a session is already running.
func CaptureHandler(manager CaptureService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req dto.CaptureRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if req.DurationS < 0 {
			http.Error(w, "duration_s must be positive", http.StatusBadRequest)
			return
		}

		resp, err := StartCapture(manager, req.DurationS, req.FilterID)
		if err != nil {
			logger.Error("Capture request failed: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		code := http.StatusAccepted
		if resp.Status == dto.CaptureBusy {
			code = http.StatusConflict
		}
		writeJSON(w, code, resp)
	}
}

// StatusHandler handles GET /api/status/{job_id}.
func StatusHandler(manager CaptureService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("job_id")

		job, err := manager.JobStatus(id)
		if err != nil {
			logger.Error("Error loading job %s: %v", id, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if job == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"status": "not_found", "job_id": id})
			return
		}

		writeJSON(w, http.StatusOK, dto.NewJobStatusResponse(job))
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

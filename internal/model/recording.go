package model

// Metadata is the JSON sidecar written next to every finished recording.
type Metadata struct {
	Filename     string   `json:"filename"`
	TimestampUTC string   `json:"timestamp_utc"`
	DurationS    int      `json:"duration_s"`
	FPS          int      `json:"fps"`
	CameraIDs    []string `json:"camera_ids"`
	PersonCount  int      `json:"person_count"`
	FilterUsed   string   `json:"filter_used"`
}

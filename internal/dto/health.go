package dto

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
	Viewers int    `json:"viewers"`
}

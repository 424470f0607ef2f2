package handler

import (
	"net/http"

	"booth/internal/dto"
	"booth/internal/service/preview"
	"booth/internal/service/websocket"
)

// HealthHandler reports the session state and frame counters.
func HealthHandler(manager CaptureService, relay *preview.Relay, viewers *websocket.HubService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := dto.HealthResponse{
			Status: "ok",
			State:  string(manager.State()),
			Frames: manager.Frames(),
		}
		if relay != nil {
			resp.Dropped = relay.Dropped()
		}
		if viewers != nil {
			resp.Viewers = viewers.GetClientCount()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// SnapshotHandler serves the latest composited preview frame as JPEG.
func SnapshotHandler(relay *preview.Relay) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := relay.Latest()
		if data == nil {
			http.Error(w, "No frame yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		w.Header().Set("Cache-Control", "no-cache")
		w.Write(data)
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"booth/internal/logger"
	"booth/internal/service/params"
	"booth/internal/service/websocket"
)

// GetParamsHandler returns all runtime parameters.
func GetParamsHandler(store *params.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, store.Snapshot())
	}
}

// UpdateParamsHandler applies a JSON object of key/value pairs and pushes
// the new parameter set to control clients.
func UpdateParamsHandler(store *params.Store, control *websocket.ControlService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var updates map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		for key, value := range updates {
			if err := store.Set(key, value); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.Info("Param %s set to %v", key, value)
		}

		if control != nil {
			control.BroadcastParams()
		}
		writeJSON(w, http.StatusOK, store.Snapshot())
	}
}

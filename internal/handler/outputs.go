package handler

import (
	"net/http"
	"os"

	"booth/internal/logger"
	"booth/internal/service/storage"
)

// ListOutputsHandler returns every finished recording, newest first.
func ListOutputsHandler(outputs *storage.OutputService, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		files, err := outputs.ListMetadata()
		if err != nil {
			logger.Error("Error listing outputs: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"files": files})
	}
}

// ServeOutputHandler serves one finished file from the output directory.
func ServeOutputHandler(outputs *storage.OutputService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path, err := outputs.Resolve(r.PathValue("name"))
		if err != nil {
			http.Error(w, "Invalid file name", http.StatusBadRequest)
			return
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, path)
	}
}

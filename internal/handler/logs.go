package handler

import (
	"net/http"
	"os"

	"booth/internal/logger"
)

// ShowLogsHandler serves the log file of the {level} path segment as text/plain.
func ShowLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, ok := logLevel(r)
		if !ok {
			http.NotFound(w, r)
			return
		}

		filePath := logger.FilePath(level)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Log file not found: " + level + ".log"))
			return
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filePath)
	}
}

// ClearLogsHandler truncates the log file of the {level} path segment.
func ClearLogsHandler(logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		level, ok := logLevel(r)
		if !ok {
			http.NotFound(w, r)
			return
		}
		if err := logger.CleanLogs(level); err != nil {
			logger.Error("Error clearing logs: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func logLevel(r *http.Request) (string, bool) {
	level := r.PathValue("level")
	for _, l := range logger.Levels {
		if l == level {
			return level, true
		}
	}
	return "", false
}

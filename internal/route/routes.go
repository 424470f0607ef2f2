package route

import (
	"net/http"
	"os"
	"path/filepath"

	"booth/internal/config"
	"booth/internal/handler"
	"booth/internal/logger"
	"booth/internal/middleware"
	"booth/internal/service/params"
	"booth/internal/service/preview"
	"booth/internal/service/storage"
	"booth/internal/service/websocket"
)

// Services bundles what the routes need.
type Services struct {
	Manager handler.CaptureService
	Outputs *storage.OutputService
	Params  *params.Store
	Viewers *websocket.HubService
	Control *websocket.ControlService
	Relay   *preview.Relay
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")

		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication middleware.
func SetupRoutes(svc Services, cfg *config.Config, logger *logger.Logger) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticDir))))

	// Booth API
	mux.HandleFunc("POST /api/capture", handler.CaptureHandler(svc.Manager, logger))
	mux.HandleFunc("GET /api/status/{job_id}", handler.StatusHandler(svc.Manager, logger))
	mux.HandleFunc("GET /api/outputs", handler.ListOutputsHandler(svc.Outputs, logger))
	mux.HandleFunc("GET /api/outputs/{name}", handler.ServeOutputHandler(svc.Outputs))
	mux.HandleFunc("GET /api/health", handler.HealthHandler(svc.Manager, svc.Relay, svc.Viewers))
	mux.HandleFunc("GET /api/snapshot", handler.SnapshotHandler(svc.Relay))

	// WebSockets
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(svc.Viewers, logger))
	mux.HandleFunc("/api/control", handler.ControlWebsocketHandler(svc.Control, logger))

	// Admin
	mux.HandleFunc("GET /api/params", handler.GetParamsHandler(svc.Params))
	mux.HandleFunc("POST /api/params", handler.UpdateParamsHandler(svc.Params, svc.Control, logger))

	// Log endpoints
	mux.HandleFunc("GET /logs/{level}", handler.ShowLogsHandler(logger))
	mux.HandleFunc("POST /logs/{level}/clear", handler.ClearLogsHandler(logger))

	// Auth endpoints
	mux.HandleFunc("POST /auth/login", handler.LoginHandler(cfg, logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /admin -> <static>/admin.html
	mux.HandleFunc("/", dynamicHTMLHandler(cfg.StaticDir))

	// Apply middleware
	return middleware.AuthMiddleware(cfg.Password, mux)
}

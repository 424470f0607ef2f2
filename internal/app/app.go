package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"booth/internal/config"
	"booth/internal/handler"
	"booth/internal/logger"
	"booth/internal/repository/sqlite"
	"booth/internal/route"
	"booth/internal/service/camera"
	"booth/internal/service/params"
	"booth/internal/service/pipeline"
	"booth/internal/service/postprocess"
	"booth/internal/service/preview"
	"booth/internal/service/recorder"
	"booth/internal/service/render"
	"booth/internal/service/storage"
	"booth/internal/service/vision"
	"booth/internal/service/websocket"

	gorilla "github.com/gorilla/websocket"
)

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	source   *camera.Source
	renderer *render.Renderer
	viewers  *websocket.HubService
	control  *websocket.ControlService
	relay    *preview.Relay
	manager  *pipeline.Manager
	outputs  *storage.OutputService
	store    *params.Store
}

func NewApp() (*App, error) {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.LogDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	jobs := sqlite.NewJobRepository(db)
	if n, err := jobs.FailInterrupted(); err != nil {
		log.Warning("Failed to mark interrupted jobs: %v", err)
	} else if n > 0 {
		log.Warning("Marked %d interrupted jobs as failed", n)
	}

	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		db.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	source := camera.NewSource(camera.Options{
		ID:       "cam" + cfg.CameraSource,
		Source:   cfg.CameraSource,
		Backends: camera.ParseBackends(cfg.CameraBackend),
		Width:    cfg.CaptureWidth,
		Height:   cfg.CaptureHeight,
		FPS:      cfg.FPS,
	}, nil, log)

	renderer := render.NewRenderer(cfg.OutputWidth, cfg.OutputHeight)
	rec := recorder.New(recorder.Options{
		Dir:         cfg.OutputDir,
		EncoderPath: cfg.EncoderPath,
		Width:       cfg.OutputWidth,
		Height:      cfg.OutputHeight,
		FPS:         cfg.FPS,
	}, log)

	post := postprocess.New(postprocess.Options{
		Dir:         cfg.DeliveryDir,
		OverlayPath: cfg.OverlayPath,
		EncoderPath: cfg.EncoderPath,
	}, log)

	store := params.NewStore(params.Defaults(cfg))
	viewers := websocket.NewHubService("viewers", gorilla.BinaryMessage, log)
	control := websocket.NewControlService(websocket.NewHubService("control", gorilla.TextMessage, log), store, log)
	relay := preview.NewRelay(func(jpeg []byte) { viewers.Broadcast(jpeg) }, log)

	manager := pipeline.NewManager(pipeline.Options{
		FPS:             cfg.FPS,
		Countdown:       cfg.Countdown,
		DefaultDuration: cfg.RecordDuration,
		MaxDuration:     cfg.MaxDuration,
		DefaultEffect:   cfg.Effect,
		Intensity:       cfg.EffectIntensity,
		Sensitivity:     cfg.Sensitivity,
		Fusion: vision.FuserOptions{
			SegWeight:         cfg.SegWeight,
			MotionWeight:      cfg.MotionWeight,
			OnThreshold:       cfg.OnThreshold,
			OffThreshold:      cfg.OffThreshold,
			PersistenceFrames: cfg.PersistenceFrames,
		},
	}, pipeline.Deps{
		Source:   source,
		Renderer: renderer,
		Recorder: rec,
		Repo:     jobs,
		Params:   store,
		Post:     post,
		Scenes:   control,
		Jobs:     control,
		Preview:  relay,
		Logger:   log,
	})

	control.SetCapture(func() any {
		resp, err := handler.StartCapture(manager, 0, "")
		if err != nil {
			log.Error("Remote capture failed: %v", err)
			return map[string]string{"status": "error", "error": err.Error()}
		}
		return resp
	})

	return &App{
		config:   cfg,
		logger:   log,
		db:       db,
		source:   source,
		renderer: renderer,
		viewers:  viewers,
		control:  control,
		relay:    relay,
		manager:  manager,
		outputs:  storage.NewOutputService(cfg.OutputDir, log),
		store:    store,
	}, nil
}

// Run starts the camera, the processing loop, the hubs and the HTTP server,
// and blocks until SIGINT/SIGTERM or a server error.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background services
	a.source.Start(ctx)
	go a.viewers.Run(ctx)
	go a.control.Hub().Run(ctx)
	go a.relay.Run(ctx)

	loopDone := make(chan struct{})
	go func() {
		a.manager.Run(ctx)
		close(loopDone)
	}()

	// Setup routes
	router := route.SetupRoutes(route.Services{
		Manager: a.manager,
		Outputs: a.outputs,
		Params:  a.store,
		Viewers: a.viewers,
		Control: a.control,
		Relay:   a.relay,
	}, a.config, a.logger)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.config.Port),
		Handler: router,
	}

	fmt.Printf("📸 Booth Server\n")
	fmt.Printf("📍 URL: http://localhost:%d\n", a.config.Port)
	fmt.Printf("🎥 Camera: %s\n", a.config.CameraSource)
	fmt.Printf("📁 Outputs: %s\n", a.config.OutputDir)
	a.logger.Info("Server listening on :%d", a.config.Port)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown requested")
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}

	<-loopDone
	a.close()
	return runErr
}

func (a *App) close() {
	a.source.Stop()
	a.manager.Close()
	a.renderer.Close()
	a.db.Close()
	a.logger.Info("Server stopped")
	a.logger.Close()
}

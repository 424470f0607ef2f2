package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port           int
	Password       string
	LogDirectory   string
	DatabasePath   string
	OutputDir      string
	StaticDir      string
	CameraSource   string // device index ("0") or stream URL
	CameraBackend  string // "" = platform preference list
	CaptureWidth   int
	CaptureHeight  int
	OutputWidth    int
	OutputHeight   int
	FPS            int
	RecordDuration int // seconds
	MaxDuration    int // seconds; requests above it are clamped
	Countdown      int // seconds
	EncoderPath    string

	SegWeight         float64
	MotionWeight      float64
	OnThreshold       float64
	OffThreshold      float64
	PersistenceFrames int
	Sensitivity       float64

	Effect          string
	EffectIntensity float64
	EventName       string

	TemplateID       string
	EventDescription string
	OverlayPath      string
	DeliveryDir      string
}

// fileConfig mirrors the optional YAML file named by BOOTH_CONFIG. Numeric
// fields are pointers so an explicit 0 is kept rather than defaulted.
type fileConfig struct {
	App struct {
		OutputDir    string `yaml:"output_dir"`
		OutputWidth  *int   `yaml:"output_width"`
		OutputHeight *int   `yaml:"output_height"`
		FPS          *int   `yaml:"fps"`
	} `yaml:"app"`
	Camera struct {
		Source  string `yaml:"source"`
		Backend string `yaml:"backend"`
		Width   *int   `yaml:"width"`
		Height  *int   `yaml:"height"`
	} `yaml:"camera"`
	Fusion struct {
		SegWeight         *float64 `yaml:"seg_weight"`
		MotionWeight      *float64 `yaml:"motion_weight"`
		OnThreshold       *float64 `yaml:"on_threshold"`
		OffThreshold      *float64 `yaml:"off_threshold"`
		PersistenceFrames *int     `yaml:"persistence_frames"`
		Sensitivity       *float64 `yaml:"sensitivity"`
	} `yaml:"fusion"`
	Render struct {
		Effect    string   `yaml:"effect"`
		Intensity *float64 `yaml:"intensity"`
	} `yaml:"render"`
	Recording struct {
		DurationS    *int   `yaml:"duration_s"`
		MaxDurationS *int   `yaml:"max_duration_s"`
		CountdownS   *int   `yaml:"countdown_s"`
		Encoder      string `yaml:"encoder"`
		EventName    string `yaml:"event_name"`
	} `yaml:"recording"`
	Postprocess struct {
		TemplateID  string `yaml:"template_id"`
		Description string `yaml:"description"`
		OverlayPath string `yaml:"overlay_path"`
		DeliveryDir string `yaml:"delivery_dir"`
	} `yaml:"postprocess"`
	Server struct {
		Port     *int   `yaml:"port"`
		Password string `yaml:"password"`
		LogDir   string `yaml:"log_dir"`
		Database string `yaml:"database"`
		Static   string `yaml:"static_dir"`
	} `yaml:"server"`
}

// Load reads .env, the optional BOOTH_CONFIG yaml file and the environment.
// Environment variables win over the file; defaults apply when both are empty.
func Load() *Config {
	_ = godotenv.Load()

	file, err := readFile(os.Getenv("BOOTH_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v, using defaults\n", err)
		file = &fileConfig{}
	}

	outputDir := getEnv("OUTPUT_DIR", orString(file.App.OutputDir, filepath.Join(".", "outputs")))

	return &Config{
		Port:           getEnvAsInt("PORT", orInt(file.Server.Port, 8080)),
		Password:       getEnv("PASSWORD", orString(file.Server.Password, "booth")),
		LogDirectory:   getEnv("LOG_DIR", orString(file.Server.LogDir, filepath.Join(".", "logs"))),
		DatabasePath:   getEnv("DB_PATH", orString(file.Server.Database, filepath.Join(".", "data", "booth.db"))),
		OutputDir:      outputDir,
		StaticDir:      getEnv("STATIC_DIR", orString(file.Server.Static, "static")),
		CameraSource:   getEnv("CAMERA_SOURCE", orString(file.Camera.Source, "0")),
		CameraBackend:  getEnv("CAMERA_BACKEND", file.Camera.Backend),
		CaptureWidth:   getEnvAsInt("CAPTURE_WIDTH", orInt(file.Camera.Width, 1280)),
		CaptureHeight:  getEnvAsInt("CAPTURE_HEIGHT", orInt(file.Camera.Height, 720)),
		OutputWidth:    getEnvAsInt("OUTPUT_WIDTH", orInt(file.App.OutputWidth, 1280)),
		OutputHeight:   getEnvAsInt("OUTPUT_HEIGHT", orInt(file.App.OutputHeight, 720)),
		FPS:            getEnvAsInt("FPS", orInt(file.App.FPS, 30)),
		RecordDuration: getEnvAsInt("RECORD_DURATION", orInt(file.Recording.DurationS, 10)),
		MaxDuration:    getEnvAsInt("MAX_RECORD_DURATION", orInt(file.Recording.MaxDurationS, 60)),
		Countdown:      getEnvAsInt("COUNTDOWN", orInt(file.Recording.CountdownS, 3)),
		EncoderPath:    getEnv("ENCODER_PATH", orString(file.Recording.Encoder, "ffmpeg")),

		SegWeight:         getEnvAsFloat("SEG_WEIGHT", orFloat(file.Fusion.SegWeight, 0.6)),
		MotionWeight:      getEnvAsFloat("MOTION_WEIGHT", orFloat(file.Fusion.MotionWeight, 0.4)),
		OnThreshold:       getEnvAsFloat("ON_THRESHOLD", orFloat(file.Fusion.OnThreshold, 0.4)),
		OffThreshold:      getEnvAsFloat("OFF_THRESHOLD", orFloat(file.Fusion.OffThreshold, 0.2)),
		PersistenceFrames: getEnvAsInt("PERSISTENCE_FRAMES", orInt(file.Fusion.PersistenceFrames, 10)),
		Sensitivity:       getEnvAsFloat("DETECTION_SENSITIVITY", orFloat(file.Fusion.Sensitivity, 0.5)),

		Effect:          getEnv("EFFECT", orString(file.Render.Effect, "glow")),
		EffectIntensity: getEnvAsFloat("EFFECT_INTENSITY", orFloat(file.Render.Intensity, 1.0)),
		EventName:       getEnv("EVENT_NAME", orString(file.Recording.EventName, "Event")),

		TemplateID:       getEnv("TEMPLATE_ID", file.Postprocess.TemplateID),
		EventDescription: getEnv("EVENT_DESCRIPTION", file.Postprocess.Description),
		OverlayPath:      getEnv("OVERLAY_PATH", file.Postprocess.OverlayPath),
		DeliveryDir:      getEnv("DELIVERY_DIR", orString(file.Postprocess.DeliveryDir, filepath.Join(outputDir, "delivery"))),
	}
}

func readFile(path string) (*fileConfig, error) {
	cfg := &fileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func orString(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

func orInt(v *int, def int) int {
	if v != nil {
		return *v
	}
	return def
}

func orFloat(v *float64, def float64) float64 {
	if v != nil {
		return *v
	}
	return def
}

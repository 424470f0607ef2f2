package params

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"booth/internal/config"
)

// Keys read by the processing loop and the session runner.
const (
	DetectionSensitivity = "detection.sensitivity"
	EffectType           = "effect.type"
	EffectIntensity      = "effect.intensity"
	RecordingDuration    = "recording.duration_s"
	RecordingCountdown   = "recording.countdown_s"
	EventName            = "postprocess.event_name"
	TemplateID           = "postprocess.template_id"
	Description          = "postprocess.description"
)

// Defaults builds the initial parameter set from the static configuration.
func Defaults(cfg *config.Config) map[string]any {
	return map[string]any{
		DetectionSensitivity: cfg.Sensitivity,
		EffectType:           cfg.Effect,
		EffectIntensity:      cfg.EffectIntensity,
		RecordingDuration:    cfg.RecordDuration,
		RecordingCountdown:   cfg.Countdown,
		EventName:            cfg.EventName,
		TemplateID:           cfg.TemplateID,
		Description:          cfg.EventDescription,
	}
}

// Store holds flattened runtime parameters. The control surface writes
// them; the pipeline only reads.
type Store struct {
	mu      sync.RWMutex
	values  map[string]any
	version uint64
}

// NewStore creates a store seeded with initial values.
func NewStore(initial map[string]any) *Store {
	values := make(map[string]any, len(initial))
	for k, v := range initial {
		values[k] = v
	}
	return &Store{values: values}
}

// Set stores value under key. Empty keys are rejected.
func (s *Store) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("empty parameter key")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	s.version++
	return nil
}

// Get returns the raw value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok
}

// Version increases on every Set.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Snapshot returns a copy of all parameters.
func (s *Store) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// String returns the value for key as a string, or def.
func (s *Store) String(key, def string) string {
	v, ok := s.Get(key)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return def
		}
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Float returns the value for key as a float64, or def when it is missing
// or not numeric.
func (s *Store) Float(key string, def float64) float64 {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return def
}

// Int returns the value for key truncated to an int, or def.
func (s *Store) Int(key string, def int) int {
	v, ok := s.Get(key)
	if !ok {
		return def
	}
	if f, ok := toFloat(v); ok {
		return int(f)
	}
	return def
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

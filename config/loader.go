package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// Loader layers configuration sources: defaults, then an optional JSON file,
// then environment variables. Environment names match the original service
// (SESSION_ID, INSTANCE_NAME, CLIENT_ID, WPP_EVENT_ENDPOINTS, ...).
type Loader struct {
	path string
}

// NewLoader creates a loader for the given file path. An empty path skips
// the file layer entirely.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load builds the effective configuration: defaults, file, environment,
// normalization, validation.
func (l *Loader) Load() (*Config, error) {
	cfg := New()

	if l.path != "" {
		if err := l.mergeFile(cfg); err != nil {
			return nil, err
		}
	}

	l.applyEnvOverrides(cfg)
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile overlays the JSON file onto cfg. Duration fields in the file are
// human-readable strings ("50ms", "7d") and are rewritten to nanoseconds
// before unmarshaling.
func (l *Loader) mergeFile(cfg *Config) error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WrapInvalid(err, "Loader", "mergeFile", "reading "+l.path)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.WrapInvalid(err, "Loader", "mergeFile", "parsing "+l.path)
	}
	rewriteDurations(raw)

	processed, err := json.Marshal(raw)
	if err != nil {
		return errors.WrapInvalid(err, "Loader", "mergeFile", "reprocessing "+l.path)
	}
	if err := json.Unmarshal(processed, cfg); err != nil {
		return errors.WrapInvalid(err, "Loader", "mergeFile", "applying "+l.path)
	}
	return nil
}

func rewriteDurations(raw map[string]any) {
	if typing, ok := raw["typing"].(map[string]any); ok {
		rewriteDuration(typing, "min_speed")
		rewriteDuration(typing, "max_speed")
	}
	if history, ok := raw["history"].(map[string]any); ok {
		rewriteDuration(history, "lookback")
	}
}

func rewriteDuration(section map[string]any, key string) {
	s, ok := section[key].(string)
	if !ok {
		return
	}
	if d, err := parseDurationWithDays(s); err == nil {
		section[key] = d.Nanoseconds()
	}
}

func (l *Loader) applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("SESSION_ID"); val != "" {
		cfg.Identity.SessionID = val
	}
	if val := os.Getenv("INSTANCE_NAME"); val != "" {
		cfg.Identity.Instance = val
	}
	if val := os.Getenv("CLIENT_ID"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Identity.ClientID = n
		}
	}
	if val := os.Getenv("WPP_EVENT_ENDPOINTS"); val != "" {
		cfg.Events.Endpoints = splitAndTrim(val)
	}
	if val := os.Getenv("NATS_URL"); val != "" {
		cfg.Events.NATSURL = val
	}
	if val := os.Getenv("STORAGE_DSN"); val != "" {
		cfg.Storage.DSN = val
	}
	if val := os.Getenv("FILES_API_URL"); val != "" {
		cfg.Files.APIURL = val
	}
	if val := os.Getenv("API_LISTEN_PORT"); val != "" {
		if _, err := strconv.Atoi(val); err == nil {
			cfg.HTTP.ListenAddr = ":" + val
		}
	}
	if val := os.Getenv("TYPING_MIN_SPEED"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Typing.MinSpeed = d
		}
	}
	if val := os.Getenv("TYPING_MAX_SPEED"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Typing.MaxSpeed = d
		}
	}
	if val := os.Getenv("HISTORY_COUNT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.History.Count = n
		}
	}
	if val := os.Getenv("HISTORY_LOOKBACK"); val != "" {
		if d, err := parseDurationWithDays(val); err == nil {
			cfg.History.Lookback = d
		}
	}
	if val := os.Getenv("METRICS_PORT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Metrics.Enabled = true
			cfg.Metrics.Port = n
		}
	}
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

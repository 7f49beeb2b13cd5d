// Package config loads and validates the service configuration. Settings come
// from an optional JSON file layered under environment variable overrides;
// defaults fill everything the operator leaves unset.
package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rgranatodutra/wwebjs-api/errors"
)

// Defaults applied by New.
const (
	DefaultListenAddr      = ":727"
	DefaultStorageDSN      = "file:wwebjs-api.db?_foreign_keys=on"
	DefaultFilesAPIURL     = "http://localhost:8003"
	DefaultTypingMinSpeed  = 50 * time.Millisecond
	DefaultTypingMaxSpeed  = 150 * time.Millisecond
	DefaultHistoryCount    = 10
	DefaultHistoryLookback = 7 * 24 * time.Hour
	DefaultMetricsPort     = 9090
)

// IdentityConfig names the WhatsApp session this process owns. SessionID may
// be left empty when Instance and ClientID are set; it is then derived as
// "<instance>-<clientID>".
type IdentityConfig struct {
	SessionID string `json:"session_id"`
	Instance  string `json:"instance"`
	ClientID  int    `json:"client_id"`
}

// StorageConfig locates the sqlite database holding credentials, raw
// messages and audit records.
type StorageConfig struct {
	DSN string `json:"dsn"`
}

// EventsConfig lists the delivery targets for application events. Endpoints
// are HTTP URLs, each may carry a ":clientId" placeholder. NATSURL is
// optional; when set events are additionally published there.
type EventsConfig struct {
	Endpoints []string `json:"endpoints"`
	NATSURL   string   `json:"nats_url,omitempty"`
}

// FilesConfig points at the external file storage API.
type FilesConfig struct {
	APIURL string `json:"api_url"`
}

// TypingConfig bounds the per-character typing simulation delay.
type TypingConfig struct {
	MinSpeed time.Duration `json:"min_speed"`
	MaxSpeed time.Duration `json:"max_speed"`
}

// HistoryConfig controls the on-connect message backfill request.
type HistoryConfig struct {
	Count    int           `json:"count"`
	Lookback time.Duration `json:"lookback"`
}

// HTTPConfig configures the REST gateway listener.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr"`
}

// MetricsConfig configures the standalone prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled"`
	Port    int  `json:"port"`
}

// Config is the complete service configuration.
type Config struct {
	Identity IdentityConfig `json:"identity"`
	Storage  StorageConfig  `json:"storage"`
	Events   EventsConfig   `json:"events"`
	Files    FilesConfig    `json:"files"`
	Typing   TypingConfig   `json:"typing"`
	History  HistoryConfig  `json:"history"`
	HTTP     HTTPConfig     `json:"http"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// New returns a Config with every default applied.
func New() *Config {
	return &Config{
		Storage: StorageConfig{DSN: DefaultStorageDSN},
		Files:   FilesConfig{APIURL: DefaultFilesAPIURL},
		Typing: TypingConfig{
			MinSpeed: DefaultTypingMinSpeed,
			MaxSpeed: DefaultTypingMaxSpeed,
		},
		History: HistoryConfig{
			Count:    DefaultHistoryCount,
			Lookback: DefaultHistoryLookback,
		},
		HTTP:    HTTPConfig{ListenAddr: DefaultListenAddr},
		Metrics: MetricsConfig{Port: DefaultMetricsPort},
	}
}

// Normalize derives computed fields. Called by the loader after every layer
// has been applied.
func (c *Config) Normalize() {
	if c.Identity.SessionID == "" && c.Identity.Instance != "" && c.Identity.ClientID != 0 {
		c.Identity.SessionID = fmt.Sprintf("%s-%d", c.Identity.Instance, c.Identity.ClientID)
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []string

	if c.Identity.Instance == "" {
		problems = append(problems, "identity.instance is required")
	}
	if c.Identity.ClientID == 0 {
		problems = append(problems, "identity.client_id is required")
	}
	if c.Identity.SessionID == "" {
		problems = append(problems, "identity.session_id is required and could not be derived")
	}
	if len(c.Events.Endpoints) == 0 && c.Events.NATSURL == "" {
		problems = append(problems, "events needs at least one endpoint or a NATS URL")
	}
	for i, ep := range c.Events.Endpoints {
		if strings.TrimSpace(ep) == "" {
			problems = append(problems, fmt.Sprintf("events.endpoints[%d] is empty", i))
		}
	}
	if c.Storage.DSN == "" {
		problems = append(problems, "storage.dsn is required")
	}
	if c.Typing.MinSpeed < 0 || c.Typing.MaxSpeed < 0 {
		problems = append(problems, "typing speeds must not be negative")
	}
	if c.Typing.MaxSpeed < c.Typing.MinSpeed {
		problems = append(problems, "typing.max_speed must be >= typing.min_speed")
	}
	if c.History.Count < 0 {
		problems = append(problems, "history.count must not be negative")
	}
	if c.History.Lookback < 0 {
		problems = append(problems, "history.lookback must not be negative")
	}
	if c.HTTP.ListenAddr == "" {
		problems = append(problems, "http.listen_addr is required")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		problems = append(problems, "metrics.port must be a valid port")
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			strings.Join(problems, "; "))
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	data, err := json.Marshal(c)
	if err != nil {
		out := *c
		return &out
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		fallback := *c
		return &fallback
	}
	out.Events.Endpoints = append([]string(nil), c.Events.Endpoints...)
	return &out
}

// String returns an indented JSON rendering of the configuration.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// parseDurationWithDays parses durations that may carry a day suffix, such
// as the history lookback window ("7d").
func parseDurationWithDays(s string) (time.Duration, error) {
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

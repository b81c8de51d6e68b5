// Package config loads and watches the service configuration.
//
// Files may be JSON or YAML; YAML is coerced to JSON so both formats share
// one strict decoder (unknown fields are rejected). Durations are Go
// duration strings (e.g. "500ms", "6s", "1m").
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig  `json:"server"`
	Channel ChannelConfig `json:"channel"`
	Job     JobConfig     `json:"job"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage,omitempty"`
	Metrics MetricsConfig `json:"metrics,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default ":8080"
}

// ChannelConfig configures the outbound channel adapter.
type ChannelConfig struct {
	// Driver selects the adapter. "console" is the built-in simulated
	// channel; real channel libraries plug in behind the same interface.
	Driver string `json:"driver,omitempty"`
	// CountryPrefix is prepended to bare 10-digit numbers.
	CountryPrefix string `json:"country_prefix,omitempty"`

	// Console driver knobs.
	AuthDelay          string `json:"auth_delay,omitempty"`
	UnregisteredSuffix string `json:"unregistered_suffix,omitempty"`
	SendLatency        string `json:"send_latency,omitempty"`
}

type JobConfig struct {
	// PaceInterval is the minimum gap between item starts. Default "6s".
	PaceInterval string `json:"pace_interval,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig controls the optional run-history archive.
//
// Driver values: "" or "none" disables storage, "sqlite" archives finished
// runs to a SQLite file.
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Retention bounds how long archived runs are kept. Default "720h".
	Retention string `json:"retention,omitempty"`
	// PruneSchedule is a cron spec for the retention sweep. Default "0 3 * * *".
	PruneSchedule string `json:"prune_schedule,omitempty"`
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// Parse reads and strictly decodes the file at path.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, _, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Config struct {
	API     APIConfig     `json:"api"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`
	HTTP    HTTPConfig    `json:"http"`

	// Profile controls the background profile resolution worker pool.
	Profile ProfileConfig `json:"profile,omitempty"`

	// Dispatch controls batch fan-out and message content limits.
	Dispatch DispatchConfig `json:"dispatch,omitempty"`

	// Report controls the periodic remote-status refresher.
	Report ReportConfig `json:"report,omitempty"`
}

// APIConfig configures the messaging API client.
//
// SubscriptionKey may be left empty here and supplied via the
// OCP_APIM_SUBSCRIPTION_KEY environment variable instead (see cmd/messagesd).
type APIConfig struct {
	BaseURL         string `json:"base_url,omitempty"`
	SubscriptionKey string `json:"subscription_key,omitempty"`

	// RetryMax bounds transparent rate-limit retries per call.
	// 0 keeps the historical behavior: retry quietly with no ceiling.
	RetryMax int `json:"retry_max,omitempty"`

	// Timeout is a Go duration string for the HTTP transport (e.g. "30s").
	// "0s" disables the client-side timeout.
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the document store.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, nothing survives a restart
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type HTTPConfig struct {
	Addr string `json:"addr,omitempty"` // default: "127.0.0.1:8080"

	// AllowedOrigins is the CORS allowlist for the browser console.
	AllowedOrigins []string `json:"allowed_origins,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
}

// ProfileConfig controls the profile resolution worker pool.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
type ProfileConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// DispatchConfig controls batch fan-out and content validation limits.
type DispatchConfig struct {
	// RatePerSec caps outgoing sends during a batch fan-out. Defaults to 10.
	RatePerSec int `json:"rate_per_sec,omitempty"`

	// AmountMin/AmountMax bound the optional payment amount (eurocents).
	AmountMin int64 `json:"amount_min,omitempty"`
	AmountMax int64 `json:"amount_max,omitempty"`
}

// ReportConfig controls the remote-status refresher.
type ReportConfig struct {
	Enabled bool `json:"enabled"`
	// Refresh is a cron spec (robfig/cron, seconds field optional).
	Refresh string `json:"refresh,omitempty"` // default: "@every 1m"
}

// Validate rejects configs that would make the daemon start in a broken state.
// It is installed as the ConfigManager validator so hot reloads are gated too.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	for _, raw := range []string{c.API.Timeout, c.Storage.BusyTimeout, c.HTTP.ReadTimeout, c.HTTP.WriteTimeout} {
		if _, err := ParseOptionalDuration(raw); err != nil {
			return err
		}
	}
	if c.Dispatch.AmountMin < 0 {
		return errors.New("dispatch.amount_min must not be negative")
	}
	if c.Dispatch.AmountMax != 0 && c.Dispatch.AmountMax < c.Dispatch.AmountMin {
		return errors.New("dispatch.amount_max must be >= dispatch.amount_min")
	}
	return nil
}

// ParseOptionalDuration parses a Go duration string, treating "" as zero.
func ParseOptionalDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

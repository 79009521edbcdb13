// Package config loads the broker's optional JSON configuration file and
// overlays it with CLI-supplied values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DatabaseConfig configures the optional mongo-backed audit sink. Leaving
// Host empty disables the sink entirely; the broker then runs with
// audit persistence off and never dials a database.
type DatabaseConfig struct {
	Host               string `json:"host"`
	Port               uint64 `json:"port"`
	Username           string `json:"username"`
	Password           string `json:"password"`
	Database           string `json:"database"`
	UseTLS             bool   `json:"use_tls"`
	ConnectTimeout     string `json:"connect_timeout"`
	SocketTimeout      string `json:"socket_timeout"`
	ConnectIdleTimeout string `json:"connect_idle_timeout"`
	OperationTimeout   string `json:"operation_timeout"`
	Heartbeat          string `json:"heartbeat"`
	MinPoolSize        uint64 `json:"min_pool_size"`
	MaxPoolSize        uint64 `json:"max_pool_size"`
}

// RateLimitConfig configures the per-connection inbound token bucket.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	Burst             int `json:"burst"`
}

// Config is the broker's full runtime configuration. Default() returns a
// usable default: TCP on 8080, WebSocket disabled, audit disabled,
// rate limiting on with generous defaults.
type Config struct {
	AppName      string          `json:"app_name"`
	DebugMode    bool            `json:"debug_mode"`
	Port         int             `json:"port"`
	WSPort       int             `json:"ws_port"`
	SentryDSN    string          `json:"sentry_dsn"`
	RateLimit    RateLimitConfig `json:"rate_limit"`
	Database     DatabaseConfig  `json:"database"`
	MaxFrameSize int             `json:"max_frame_size"`
}

// Default returns the broker's zero-config defaults.
func Default() Config {
	return Config{
		AppName: "collabrelay",
		Port:    8080,
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 240,
			Burst:             60,
		},
		MaxFrameSize: 5 * 1024 * 1024,
	}
}

// Load reads path (if non-empty) and overlays its contents onto Default().
// A missing file is not an error when path is empty; an explicitly named
// but unreadable or malformed file is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config file %q does not contain valid JSON: %w", path, err)
	}

	return cfg, nil
}

// AuditEnabled reports whether the config carries enough detail to dial
// the audit sink's backing database.
func (c Config) AuditEnabled() bool {
	return c.Database.Host != ""
}

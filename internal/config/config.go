// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/fcgi-shim/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong. Everything after the
// flags is the backend command vector, passed through untouched so the
// child's own flags survive.
type CLI struct {
	Config  string   `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Listen  string   `kong:"help='Gateway listen address: host:port, an absolute unix socket path, or empty to inherit the FastCGI socket from stdin.',env='LISTEN'"`
	Verbose int      `kong:"short='v',type='counter',help='Increase log verbosity (repeatable).'"`
	Command []string `kong:"arg,optional,passthrough,help='Backend command and arguments.'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Backend BackendConfig `toml:"backend"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
}

// ServerConfig holds gateway-side settings.
type ServerConfig struct {
	// Listen is where the FastCGI listener binds: "host:port" for TCP,
	// an absolute path for a unix socket, or empty to inherit the
	// already-bound socket from stdin (the spawn-fcgi convention).
	Listen       string          `toml:"listen"`
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// BackendConfig holds backend connection and supervision settings.
type BackendConfig struct {
	DialAttempts    int `toml:"dial_attempts"`     // 0 means "use default" (40); TOML cannot distinguish 0 from unset
	DialDelayMillis int `toml:"dial_delay_ms"`     // default 100
	ChunkBytes      int `toml:"chunk_bytes"`       // default 4096
	TerminateWaitMS int `toml:"terminate_wait_ms"` // default 500, TERM→KILL grace
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Load reads the TOML config file (if any) and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/fcgi-shim/config.toml then configs/config.toml; if none exists the
// built-in defaults are used.
func Load(cli *CLI) (*Config, error) {
	var cfg Config

	path := cli.Config
	if path == "" {
		path = findConfigInPaths(configSearchPaths)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Listen != "" {
		c.Server.Listen = cli.Listen
	}
	if cli.Verbose > 0 {
		c.Log.Level = "debug"
	}
}

func (c *Config) validate() error {
	// Numeric bounds.
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Backend.DialAttempts < 0 {
		return fmt.Errorf("backend.dial_attempts must be non-negative; got %d", c.Backend.DialAttempts)
	}
	if c.Backend.DialDelayMillis < 0 {
		return fmt.Errorf("backend.dial_delay_ms must be non-negative; got %d", c.Backend.DialDelayMillis)
	}
	if c.Backend.ChunkBytes < 0 {
		return fmt.Errorf("backend.chunk_bytes must be non-negative; got %d", c.Backend.ChunkBytes)
	}
	if c.Backend.TerminateWaitMS < 0 {
		return fmt.Errorf("backend.terminate_wait_ms must be non-negative; got %d", c.Backend.TerminateWaitMS)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled). The proxy
	// route is a catch-all, so a bad metrics path would shadow a backend
	// route; at minimum keep it off the shim's own reserved routes.
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		for _, reserved := range []string{"/healthz", "/fcgi-shim/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields, zero means "unset" because TOML cannot distinguish
// between an explicit 0 and an omitted key.
func (c *Config) setDefaults() {
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Backend.DialAttempts == 0 {
		c.Backend.DialAttempts = 40
	}
	if c.Backend.DialDelayMillis == 0 {
		c.Backend.DialDelayMillis = 100
	}
	if c.Backend.ChunkBytes == 0 {
		c.Backend.ChunkBytes = 4096
	}
	if c.Backend.TerminateWaitMS == 0 {
		c.Backend.TerminateWaitMS = 500
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

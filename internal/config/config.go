// Package config provides configuration management for the playback server.
// Configuration can be loaded from environment variables or initialized with defaults.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration for the playback server.
type Config struct {
	// ListenAddr is the address for the HTTP session server.
	// Default: ":8080"
	ListenAddr string

	// MetricsAddr is the address for the Prometheus metrics endpoint.
	// Empty disables the metrics listener. Default: "" (disabled)
	MetricsAddr string

	// AllowedOrigins specifies CORS/WebSocket allowed origins.
	// Default: ["*"]
	AllowedOrigins []string

	// RecordingsDir is the directory recordings are opened from.
	// Default: "/var/lib/guacamole/recordings"
	RecordingsDir string

	// IndexCachePath is the path to the SQLite frame-index cache.
	// Empty disables the cache. Default: "" (disabled)
	IndexCachePath string

	// LogLevel specifies logging verbosity ("debug", "info", "warn", "error").
	// Default: "info"
	LogLevel string

	// BlockSize is the ingest chunk size in bytes. Default: 262144
	BlockSize int

	// KeyframeCharInterval is the minimum byte gap between keyframe-eligible
	// frames. Default: 16384
	KeyframeCharInterval int64

	// KeyframeTimeInterval is the minimum millisecond gap between
	// keyframe-eligible frames. Default: 5000
	KeyframeTimeInterval int64
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		ListenAddr:           ":8080",
		MetricsAddr:          "",
		AllowedOrigins:       []string{"*"},
		RecordingsDir:        "/var/lib/guacamole/recordings",
		IndexCachePath:       "",
		LogLevel:             "info",
		BlockSize:            262144,
		KeyframeCharInterval: 16384,
		KeyframeTimeInterval: 5000,
	}
}

// Load loads configuration from environment variables, falling back to
// defaults for any values not specified.
//
// Environment variables:
//   - PLAYER_LISTEN_ADDR: HTTP session server listen address
//   - PLAYER_METRICS_ADDR: Prometheus metrics listen address
//   - PLAYER_ALLOWED_ORIGINS: Comma-separated list of allowed origins
//   - PLAYER_RECORDINGS_DIR: Directory recordings are opened from
//   - PLAYER_INDEX_CACHE_PATH: Path to the SQLite frame-index cache
//   - PLAYER_LOG_LEVEL: Logging level (debug, info, warn, error)
//   - PLAYER_BLOCK_SIZE: Ingest chunk size in bytes
//   - PLAYER_KEYFRAME_CHAR_INTERVAL: Minimum byte gap between keyframes
//   - PLAYER_KEYFRAME_TIME_INTERVAL: Minimum millisecond gap between keyframes
func Load() (*Config, error) {
	cfg := Default()

	if val := os.Getenv("PLAYER_LISTEN_ADDR"); val != "" {
		cfg.ListenAddr = val
	}

	if val := os.Getenv("PLAYER_METRICS_ADDR"); val != "" {
		cfg.MetricsAddr = val
	}

	if val := os.Getenv("PLAYER_ALLOWED_ORIGINS"); val != "" {
		origins := strings.Split(val, ",")
		cfg.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
	}

	if val := os.Getenv("PLAYER_RECORDINGS_DIR"); val != "" {
		cfg.RecordingsDir = val
	}

	if val := os.Getenv("PLAYER_INDEX_CACHE_PATH"); val != "" {
		cfg.IndexCachePath = val
	}

	if val := os.Getenv("PLAYER_LOG_LEVEL"); val != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(val))
	}

	if val := os.Getenv("PLAYER_BLOCK_SIZE"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return nil, errors.New("PLAYER_BLOCK_SIZE must be a valid integer")
		}
		cfg.BlockSize = n
	}

	if val := os.Getenv("PLAYER_KEYFRAME_CHAR_INTERVAL"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, errors.New("PLAYER_KEYFRAME_CHAR_INTERVAL must be a valid integer")
		}
		cfg.KeyframeCharInterval = n
	}

	if val := os.Getenv("PLAYER_KEYFRAME_TIME_INTERVAL"); val != "" {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, errors.New("PLAYER_KEYFRAME_TIME_INTERVAL must be a valid integer")
		}
		cfg.KeyframeTimeInterval = n
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("ListenAddr cannot be empty")
	}

	if c.RecordingsDir == "" {
		return errors.New("RecordingsDir cannot be empty")
	}

	if len(c.AllowedOrigins) == 0 {
		return errors.New("AllowedOrigins cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return errors.New("LogLevel must be 'debug', 'info', 'warn', or 'error'")
	}

	if c.BlockSize <= 0 {
		return errors.New("BlockSize must be a positive integer")
	}

	if c.KeyframeCharInterval <= 0 {
		return errors.New("KeyframeCharInterval must be a positive integer")
	}

	if c.KeyframeTimeInterval <= 0 {
		return errors.New("KeyframeTimeInterval must be a positive integer")
	}

	return nil
}

// IsDebug returns true if the log level is set to debug.
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// MetricsEnabled returns true if a metrics listener should be started.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

// IndexCacheEnabled returns true if the persistent frame-index cache should
// be used.
func (c *Config) IndexCacheEnabled() bool {
	return c.IndexCachePath != ""
}

// String returns a string representation of the config for logging purposes.
func (c *Config) String() string {
	return "Config{" +
		"ListenAddr: " + c.ListenAddr + ", " +
		"MetricsAddr: " + c.MetricsAddr + ", " +
		"AllowedOrigins: [" + strings.Join(c.AllowedOrigins, ", ") + "], " +
		"RecordingsDir: " + c.RecordingsDir + ", " +
		"IndexCachePath: " + c.IndexCachePath + ", " +
		"LogLevel: " + c.LogLevel + ", " +
		"BlockSize: " + strconv.Itoa(c.BlockSize) + ", " +
		"KeyframeCharInterval: " + strconv.FormatInt(c.KeyframeCharInterval, 10) + ", " +
		"KeyframeTimeInterval: " + strconv.FormatInt(c.KeyframeTimeInterval, 10) +
		"}"
}

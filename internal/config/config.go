// Package config loads station settings from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults used when the corresponding variable is unset.
const (
	DefaultBackendURL        = "http://localhost:5000"
	DefaultRequestTimeout    = 30 * time.Second
	DefaultListenAddr        = ":8080"
	DefaultRegisterQuality   = 50
	DefaultRecognizeQuality  = 70
	DefaultMaxDimension      = 1600
	DefaultShutdownTimeout   = 15 * time.Second
	DefaultCaptureDirSegment = "attendance-captures"
)

// Config holds everything the CLI and the station bridge need.
type Config struct {
	BackendURL      string
	RequestTimeout  time.Duration
	LogLevel        string
	CaptureDir      string
	SpoolDir        string
	ListenAddr      string
	ShutdownTimeout time.Duration

	// JPEG quality (1-100) used for each use case.
	RegisterQuality  int
	RecognizeQuality int
	MaxDimension     int

	// Optional backing services. Empty disables the feature.
	DatabaseDSN string
	RedisAddr   string
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		BackendURL:  strings.TrimSuffix(getEnv("ATTENDANCE_BACKEND_URL", DefaultBackendURL), "/"),
		LogLevel:    getEnv("ATTENDANCE_LOG_LEVEL", "info"),
		CaptureDir:  getEnv("ATTENDANCE_CAPTURE_DIR", filepath.Join(os.TempDir(), DefaultCaptureDirSegment)),
		SpoolDir:    os.Getenv("ATTENDANCE_SPOOL_DIR"),
		ListenAddr:  getEnv("ATTENDANCE_LISTEN_ADDR", DefaultListenAddr),
		DatabaseDSN: os.Getenv("DATABASE_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("ATTENDANCE_REQUEST_TIMEOUT", DefaultRequestTimeout); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("ATTENDANCE_SHUTDOWN_TIMEOUT", DefaultShutdownTimeout); err != nil {
		return nil, err
	}
	if cfg.RegisterQuality, err = getInt("ATTENDANCE_REGISTER_QUALITY", DefaultRegisterQuality); err != nil {
		return nil, err
	}
	if cfg.RecognizeQuality, err = getInt("ATTENDANCE_RECOGNIZE_QUALITY", DefaultRecognizeQuality); err != nil {
		return nil, err
	}
	if cfg.MaxDimension, err = getInt("ATTENDANCE_MAX_DIMENSION", DefaultMaxDimension); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend url is required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive, got %s", c.RequestTimeout)
	}
	for name, q := range map[string]int{"register": c.RegisterQuality, "recognize": c.RecognizeQuality} {
		if q < 1 || q > 100 {
			return fmt.Errorf("%s quality must be within 1-100, got %d", name, q)
		}
	}
	if c.MaxDimension < 0 {
		return fmt.Errorf("max dimension must not be negative, got %d", c.MaxDimension)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

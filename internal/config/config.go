package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the automation session service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	BackendMode string
	StartURL    string
	SearchURL   string
	UserAgent   string

	HTTPTimeout       time.Duration
	StepDelay         time.Duration
	PausePollInterval time.Duration
	FrameInterval     time.Duration

	DefaultTaskTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "pilotfish"),
		AllowAnyOrigin:   false,
		// "auto" picks the browser backend with native pause control.
		BackendMode:        envOrDefault("BACKEND_MODE", "auto"),
		StartURL:           envOrDefault("BACKEND_START_URL", "https://duckduckgo.com/html/"),
		SearchURL:          envOrDefault("BACKEND_SEARCH_URL", "https://duckduckgo.com/html/?q="),
		UserAgent:          stringsTrimSpace("BACKEND_USER_AGENT"),
		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		ShutdownTimeout:    15 * time.Second,
		HTTPTimeout:        30 * time.Second,
		StepDelay:          2 * time.Second,
		PausePollInterval:  time.Second,
		FrameInterval:      500 * time.Millisecond,
		DefaultTaskTimeout: 2 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.HTTPTimeout, err = durationFromEnv("BACKEND_HTTP_TIMEOUT", cfg.HTTPTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StepDelay, err = durationFromEnv("BACKEND_STEP_DELAY", cfg.StepDelay)
	if err != nil {
		return Config{}, err
	}
	cfg.PausePollInterval, err = durationFromEnv("BACKEND_PAUSE_POLL_INTERVAL", cfg.PausePollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.FrameInterval, err = durationFromEnv("BACKEND_FRAME_INTERVAL", cfg.FrameInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DefaultTaskTimeout, err = durationFromEnv("APP_DEFAULT_TASK_TIMEOUT", cfg.DefaultTaskTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.DefaultTaskTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_DEFAULT_TASK_TIMEOUT must be at least 5s")
	}
	if cfg.PausePollInterval <= 0 {
		return Config{}, fmt.Errorf("BACKEND_PAUSE_POLL_INTERVAL must be positive")
	}
	if cfg.FrameInterval <= 0 {
		return Config{}, fmt.Errorf("BACKEND_FRAME_INTERVAL must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

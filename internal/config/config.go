// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	GRPCPort    string // empty disables the health server
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	DUT     DUTConfig
	Refresh RefreshConfig
	News    NewsConfig
	SSE     SSEConfig

	SessionIdleTTL           time.Duration
	NotificationHistoryLimit int
	SearchHistoryLimit       int
}

// DUTConfig points at the school-data gateway.
type DUTConfig struct {
	APIURL         string
	RequestTimeout time.Duration
}

// RefreshConfig tunes the refresh containers.
type RefreshConfig struct {
	TTL          time.Duration
	FetchWorkers int
}

// NewsConfig controls the news worker.
type NewsConfig struct {
	RefreshEnabled  bool
	RefreshInterval time.Duration
}

// SSEConfig tunes the notification stream.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		GRPCPort:    getEnv("GRPC_PORT", "9090"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/dutnotify.db"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		DUT: DUTConfig{
			APIURL:         getEnv("DUT_API_URL", "http://localhost:8081"),
			RequestTimeout: getEnvDuration("DUT_REQUEST_TIMEOUT", 30*time.Second),
		},
		Refresh: RefreshConfig{
			TTL:          getEnvDuration("REFRESH_TTL", 5*time.Minute),
			FetchWorkers: getEnvInt("FETCH_WORKERS", 8),
		},
		News: NewsConfig{
			RefreshEnabled:  getEnvBool("NEWS_REFRESH_ENABLED", true),
			RefreshInterval: getEnvDuration("NEWS_REFRESH_INTERVAL", 3*time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
		SessionIdleTTL:           getEnvDuration("SESSION_IDLE_TTL", 60*time.Minute),
		NotificationHistoryLimit: getEnvInt("NOTIFICATION_HISTORY_LIMIT", 200),
		SearchHistoryLimit:       getEnvInt("SEARCH_HISTORY_LIMIT", 20),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	u, err := url.Parse(c.DUT.APIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("DUT_API_URL must be an absolute http(s) URL")
	}
	if c.DUT.RequestTimeout <= 0 {
		return fmt.Errorf("DUT_REQUEST_TIMEOUT must be > 0")
	}
	if c.Refresh.TTL < 0 {
		return fmt.Errorf("REFRESH_TTL cannot be negative")
	}
	if c.Refresh.FetchWorkers <= 0 {
		return fmt.Errorf("FETCH_WORKERS must be > 0")
	}
	if c.News.RefreshInterval < time.Minute || c.News.RefreshInterval > 30*time.Minute {
		return fmt.Errorf("NEWS_REFRESH_INTERVAL must be between 1m and 30m")
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be > 0")
	}
	if c.NotificationHistoryLimit <= 0 {
		return fmt.Errorf("NOTIFICATION_HISTORY_LIMIT must be > 0")
	}
	if c.SearchHistoryLimit <= 0 {
		return fmt.Errorf("SEARCH_HISTORY_LIMIT must be > 0")
	}
	if c.SSE.KeepaliveInterval <= 0 || c.SSE.RetryDelay <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE_INTERVAL and SSE_RETRY_DELAY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go duration strings; a bare number is read as seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

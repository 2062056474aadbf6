package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("FRONTEND_URL", "")
	t.Setenv("PORT", "8080")
	t.Setenv("DB_PATH", "./data/dutnotify.db")
	t.Setenv("DUT_API_URL", "http://localhost:8081")
	t.Setenv("REFRESH_TTL", "5m")
	t.Setenv("NEWS_REFRESH_INTERVAL", "3m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Refresh.TTL)
	assert.Equal(t, 3*time.Minute, cfg.News.RefreshInterval)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REFRESH_TTL", "90")
	t.Setenv("NEWS_REFRESH_INTERVAL", "10m")
	t.Setenv("FETCH_WORKERS", "2")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://dutnotify.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Refresh.TTL)
	assert.Equal(t, 10*time.Minute, cfg.News.RefreshInterval)
	assert.Equal(t, 2, cfg.Refresh.FetchWorkers)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"NEWS_REFRESH_INTERVAL": "45m",
		"DUT_API_URL":           "ftp://gateway",
		"FETCH_WORKERS":         "0",
		"PORT":                  "",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("X_DURATION", "bogus")
	assert.Equal(t, time.Second, getEnvDuration("X_DURATION", time.Second))
	t.Setenv("X_DURATION", "1h")
	assert.Equal(t, time.Hour, getEnvDuration("X_DURATION", time.Second))
}

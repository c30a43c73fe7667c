package config_test

import (
	"log/slog"
	"testing"
	"time"

	"mapmo/backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, config.DefaultCountdownSeconds, cfg.CountdownSeconds)
	assert.Equal(t, config.DefaultNotificationSeconds, cfg.NotificationSeconds)
	assert.Equal(t, config.DefaultTickInterval, cfg.TickInterval)
	assert.Equal(t, config.DefaultCloseDelay, cfg.CloseDelay)
	assert.Equal(t, config.DefaultRoomMaxAge, cfg.RoomMaxAge)
	assert.Equal(t, 30*24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.False(t, cfg.MemoryStore)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("COUNTDOWN_SECONDS", "3")
	t.Setenv("TICK_INTERVAL", "10ms")
	t.Setenv("MEMORY_STORE", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.FromEnv()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.CountdownSeconds)
	assert.Equal(t, 10*time.Millisecond, cfg.TickInterval)
	assert.True(t, cfg.MemoryStore)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing secret", env: map[string]string{}},
		{name: "short secret", env: map[string]string{"JWT_SECRET": "short"}},
		{name: "zero countdown", env: map[string]string{"JWT_SECRET": "0123456789abcdef", "COUNTDOWN_SECONDS": "0"}},
		{name: "unknown log level", env: map[string]string{"JWT_SECRET": "0123456789abcdef", "LOG_LEVEL": "loud"}},
		{name: "bad duration", env: map[string]string{"JWT_SECRET": "0123456789abcdef", "TICK_INTERVAL": "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := config.FromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadStore(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("REDIS_DB", "2")

	cfg, err := config.LoadStore()
	require.NoError(t, err)
	assert.Equal(t, "cache:6379", cfg.RedisAddr)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.NotEmpty(t, cfg.DatabaseDSN)

	t.Setenv("REDIS_DB", "-1")
	_, err = config.LoadStore()
	assert.Error(t, err)
}

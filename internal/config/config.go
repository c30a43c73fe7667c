package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var validate = validator.New()

// StoreConfig locates Postgres and Redis. The admin CLI reads only this part.
type StoreConfig struct {
	DatabaseDSN   string `envconfig:"DATABASE_DSN" default:"host=localhost user=user password=password dbname=mapmodb port=5432 sslmode=disable"`
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6380"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	// MemoryStore replaces Postgres and Redis with the in-process store.
	MemoryStore bool `envconfig:"MEMORY_STORE" default:"false"`
}

// Config holds everything the server binary reads from the environment.
type Config struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080" validate:"required"`

	StoreConfig

	JWTSecret        string        `envconfig:"JWT_SECRET" validate:"required,min=16"`
	TokenTTL         time.Duration `envconfig:"TOKEN_TTL" default:"720h" validate:"gt=0"`
	TelegramBotToken string        `envconfig:"TELEGRAM_BOT_TOKEN"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
	Locale           string        `envconfig:"LOCALE" default:"en" validate:"required"`

	CountdownSeconds    int           `envconfig:"COUNTDOWN_SECONDS" default:"15" validate:"gt=0"`
	NotificationSeconds int           `envconfig:"NOTIFICATION_SECONDS" default:"30" validate:"gt=0"`
	TickInterval        time.Duration `envconfig:"TICK_INTERVAL" default:"1s" validate:"gt=0"`
	CloseDelay          time.Duration `envconfig:"CLOSE_DELAY" default:"500ms" validate:"gte=0"`
	RoomMaxAge          time.Duration `envconfig:"ROOM_MAX_AGE" default:"24h" validate:"gt=0"`
	CleanupInterval     time.Duration `envconfig:"CLEANUP_INTERVAL" default:"30m" validate:"gt=0"`
}

// Load reads .env when present, then the environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "err", err)
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment only.
func FromEnv() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("read env: %w", err)
	}
	if !cfg.MemoryStore && cfg.DatabaseDSN == "" {
		return Config{}, fmt.Errorf("DATABASE_DSN is required unless MEMORY_STORE is set")
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadStore reads only the storage settings.
func LoadStore() (StoreConfig, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file loaded", "err", err)
	}
	var cfg StoreConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return StoreConfig{}, fmt.Errorf("read env: %w", err)
	}
	if cfg.DatabaseDSN == "" {
		return StoreConfig{}, fmt.Errorf("DATABASE_DSN is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return StoreConfig{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SlogLevel maps LogLevel onto slog.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

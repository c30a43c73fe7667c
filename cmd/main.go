package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mapmo/backend/internal/api/handler"
	"mapmo/backend/internal/chathub"
	"mapmo/backend/internal/config"
	"mapmo/backend/internal/lifecycle"
	"mapmo/backend/internal/localization"
	"mapmo/backend/internal/matching"
	"mapmo/backend/internal/storage"
	"mapmo/backend/internal/telegram"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func setupStorage(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.Storage, func(), error) {
	if cfg.MemoryStore {
		logger.Warn("using the in-memory store; state is lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}

	svc, err := storage.Open(ctx, cfg.StoreConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("database and redis connections established, migrations complete")
	return svc, func() {
		if err := svc.Close(); err != nil {
			logger.Warn("close storage", "err", err)
		}
	}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	logger.Info("starting mapmo backend", "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := setupStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("setup storage", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	locales, err := localization.Default()
	if err != nil {
		logger.Error("load locales", "err", err)
		os.Exit(1)
	}
	locales.SetFallback(cfg.Locale)

	registry := chathub.NewRegistry(logger)
	queue := matching.NewQueue(store, matching.NewFactory(store, logger), registry, locales, logger)
	if n, err := queue.Restore(ctx); err != nil {
		logger.Warn("restore search queue", "err", err)
	} else if n > 0 {
		logger.Info("search queue restored", "users", n)
	}

	coord := lifecycle.NewCoordinator(store, registry, locales, lifecycle.Options{
		CountdownSeconds:    cfg.CountdownSeconds,
		NotificationSeconds: cfg.NotificationSeconds,
		Tick:                cfg.TickInterval,
		CloseDelay:          cfg.CloseDelay,
		Language:            cfg.Locale,
	}, logger)
	go coord.RunSweeper(ctx, cfg.CleanupInterval, cfg.RoomMaxAge)

	if cfg.TelegramBotToken != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
		if err != nil {
			logger.Error("start telegram bot", "err", err)
			os.Exit(1)
		}
		logger.Info("telegram bot authorized", "account", bot.Self.UserName)

		botService := telegram.NewBotService(telegram.BotSender{API: bot}, store, registry, queue, coord, locales, cfg.Locale, logger)
		if n, err := botService.RestoreSessions(ctx); err != nil {
			logger.Warn("restore telegram sessions", "err", err)
		} else if n > 0 {
			logger.Info("telegram sessions restored", "users", n)
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		go botService.Run(ctx, bot.GetUpdatesChan(u))
		defer bot.StopReceivingUpdates()
	}

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	tokens := handler.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	handler.NewHandler(store, registry, queue, coord, locales, tokens, cfg.Locale, logger).Register(r)

	server := &http.Server{
		Addr:           cfg.HTTPAddr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	coord.Stop()
	if err := registry.CloseAll(shutdownCtx); err != nil {
		logger.Warn("close connections", "err", err)
	}
}

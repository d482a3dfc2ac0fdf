package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"relay/internal/server/api"
	"relay/internal/server/config"
	"relay/internal/server/database"
	"relay/internal/server/ratelimit"
	"relay/internal/server/service"
	"relay/internal/server/storage"
	"relay/internal/server/transport"
)

func main() {
	// Load config
	cfg := config.Load()

	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("configuration loaded",
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
		"storage_chat_id", cfg.StorageChatID,
		"rate_limit_files", cfg.RateLimitFiles,
		"rate_limit_window", cfg.RateLimitWindow,
		"expire_interval", cfg.ExpireInterval,
		"api_auth", !cfg.APIAuthDisabled,
		"poll_updates", cfg.PollUpdates,
	)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	registry, health, err := openRegistry(ctx, cfg)
	if err != nil {
		slog.Error("failed to open registry", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer registry.Close()

	// Platform client and storage location
	bot, err := transport.NewBotAPI(cfg.BotAPIURL, cfg.BotToken, cfg.PollTimeout)
	if err != nil {
		slog.Error("failed to create bot client", "error", err)
		os.Exit(1)
	}
	store := storage.NewChatStore(bot, cfg.StorageChatID)

	// Background workers share one context
	workCtx, workCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweeper(registry, store, cfg.ExpireInterval, nil)
	sweeper.Start(workCtx)

	limiter := ratelimit.New(cfg.RateLimitFiles, cfg.RateLimitWindow, cfg.RateLimitUsers)
	svc := service.NewRelayService(registry, store, bot, limiter, sweeper, cfg)

	// Setup HTTP router
	handler := api.NewHandler(svc, bot, health)
	e := api.SetupRouter(handler, cfg)

	// Long-poll the platform for user messages
	polling := make(chan struct{})
	if cfg.PollUpdates {
		go func() {
			defer close(polling)
			bot.Poll(workCtx, handler.HandleIncoming)
		}()
	} else {
		close(polling)
	}

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop poller and sweeper
	workCancel()
	<-polling
	sweeper.Wait()

	slog.Info("server exited cleanly")
}

// openRegistry opens the configured backend. The health checker is nil for
// the local JSON store.
func openRegistry(ctx context.Context, cfg *config.Config) (database.Registry, api.HealthChecker, error) {
	switch cfg.StoreBackend {
	case "json":
		reg, err := database.OpenJSONStore(afero.NewOsFs(), cfg.JSONPath)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("json registry opened", "path", cfg.JSONPath)
		return reg, nil, nil

	case "postgres":
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.RunMigrations(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		slog.Info("database migrations complete")
		return database.NewPostgresRegistry(db), db, nil

	default:
		return nil, nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}

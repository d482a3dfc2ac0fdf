package api

import (
	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relay/internal/server/config"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(RequestLogger())
	e.Use(Metrics())

	// Health & metrics
	e.GET("/health", handler.HandleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	if cfg.APIAuthDisabled {
		slog.Warn("api authentication disabled, /api is open to anyone who can reach the port")
	} else {
		api.Use(TokenAuth(cfg.APITokenHash))
	}

	// Platform-facing
	api.POST("/uploads", handler.HandleUpload)
	api.POST("/retrieve", handler.HandleRetrieve)
	api.POST("/commands", handler.HandleCommand)

	// Files
	api.GET("/files", handler.HandleListFiles)
	api.POST("/files/:code/lock", handler.HandleLock)
	api.POST("/files/:code/rename", handler.HandleRename)
	api.POST("/files/:code/expire", handler.HandleExpire)
	api.DELETE("/files/:code", handler.HandleDelete)

	// Admin
	admin := api.Group("/admin")
	admin.GET("/stats", handler.HandleStats)
	admin.DELETE("/users/:id/stats", handler.HandleResetStats)
	admin.POST("/broadcast", handler.HandleBroadcast)
	admin.POST("/sweep", handler.HandleSweep)

	return e
}

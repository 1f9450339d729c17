// Package server provides the HTTP surface of the gateway: SSE chat
// streaming, detached submission, conversation management and usage
// reporting, all over echo.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds server configuration options
type Config struct {
	MasterKey      string // optional master key for authentication
	MetricsEnabled bool   // whether to expose the Prometheus endpoint
	BodyLimit      string // max request body size, echo syntax (default "1M")
}

// Server wraps the echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// New creates a new HTTP server around the given handler.
func New(handler *Handler, cfg *Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	authSkipPaths := []string{"/health"}
	if cfg != nil && cfg.MetricsEnabled {
		authSkipPaths = append(authSkipPaths, "/metrics")
	}

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			}
			if v.Error != nil {
				attrs = append(attrs, "error", v.Error)
				slog.Warn("request", attrs...)
				return nil
			}
			slog.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	bodyLimit := "1M"
	if cfg != nil && cfg.BodyLimit != "" {
		bodyLimit = cfg.BodyLimit
	}
	e.Use(middleware.BodyLimit(bodyLimit))

	if cfg != nil && cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}
	e.Use(DeviceMiddleware())

	// Public routes
	e.GET("/health", handler.Health)
	if cfg != nil && cfg.MetricsEnabled {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	// Chat
	e.POST("/api/chat/stream", handler.StreamChat)
	e.POST("/api/chat/submit", handler.SubmitChat)

	// Conversations
	e.GET("/api/conversations", handler.ListConversations)
	e.POST("/api/conversations", handler.CreateConversation)
	e.GET("/api/conversations/:id", handler.GetConversation)
	e.DELETE("/api/conversations/:id", handler.DeleteConversation)
	e.POST("/api/conversations/:id/clone", handler.CloneConversation)
	e.POST("/api/conversations/:id/system", handler.AppendSystemPrompt)

	// Usage and models
	e.GET("/api/usage/summary", handler.UsageSummary)
	e.GET("/api/usage/models", handler.ListModels)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Package main is the entry point for the llmrouter gateway server.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"llmrouter/config"
	"llmrouter/internal/cache"
	"llmrouter/internal/catalog"
	"llmrouter/internal/core"
	"llmrouter/internal/orchestrator"
	"llmrouter/internal/providers"
	"llmrouter/internal/server"
	"llmrouter/internal/storage"
	"llmrouter/internal/store"
	"llmrouter/internal/usage"

	// Adapter packages register themselves from init
	_ "llmrouter/internal/providers/anthropic"
	_ "llmrouter/internal/providers/openai"
)

func main() {
	setupLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.Server.MasterKey == "" {
		slog.Warn("MASTER_KEY not set, server accepts unauthenticated requests")
	} else {
		slog.Info("authentication enabled", "mode", "master_key")
	}

	ctx := context.Background()

	// Storage connection shared by the conversation store and usage accounting
	st, err := storage.New(ctx, buildStorageConfig(cfg))
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("storage initialized", "type", st.Type())

	convStore, err := store.New(st)
	if err != nil {
		slog.Error("failed to initialize conversation store", "error", err)
		os.Exit(1)
	}

	usageLogger, usageReader, err := setupUsage(cfg, st)
	if err != nil {
		slog.Error("failed to initialize usage accounting", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := usageLogger.Close(); err != nil {
			slog.Error("failed to close usage logger", "error", err)
		}
	}()

	registry, err := catalog.NewRegistry()
	if err != nil {
		slog.Error("failed to load model catalog", "error", err)
		os.Exit(1)
	}

	providerSet, err := buildProviders(cfg)
	if err != nil {
		slog.Error("failed to initialize providers", "error", err)
		os.Exit(1)
	}
	if len(providerSet) == 0 {
		slog.Error("no provider API key configured, set OPENAI_API_KEY or ANTHROPIC_API_KEY")
		os.Exit(1)
	}

	catalogCache, err := buildCache(cfg)
	if err != nil {
		slog.Error("failed to initialize catalog cache", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := catalogCache.Close(); err != nil {
			slog.Error("failed to close catalog cache", "error", err)
		}
	}()

	liveCatalog := catalog.NewCatalog(registry, providerSet, catalogCache, cfg.Cache.TTL)

	orch := orchestrator.New(registry, providerSet, convStore, usageLogger)

	sweeper := orchestrator.NewSweeper(convStore, cfg.Sweep.PendingTimeout, cfg.Sweep.Interval)
	sweeper.Start()
	defer sweeper.Stop()

	handler := server.NewHandler(orch, convStore, registry, liveCatalog, usageReader)
	srv := server.New(handler, &server.Config{
		MasterKey:      cfg.Server.MasterKey,
		MetricsEnabled: cfg.Server.MetricsEnabled,
		BodyLimit:      cfg.Server.BodyLimit,
	})

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		slog.Info("shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	slog.Info("starting server", "address", addr, "providers", providers.Registered())

	if err := srv.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			slog.Info("server stopped gracefully")
		} else {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}
}

// setupLogging installs a colorized handler on a terminal and JSON otherwise.
func setupLogging() {
	w := os.Stderr
	var handler slog.Handler
	if term.IsTerminal(int(w.Fd())) {
		handler = tint.NewHandler(w, &tint.Options{TimeFormat: time.Kitchen})
	} else {
		handler = slog.NewJSONHandler(w, nil)
	}
	slog.SetDefault(slog.New(handler))
}

func buildStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Type: cfg.Storage.Type,
		SQLite: storage.SQLiteConfig{
			Path: cfg.Storage.SQLitePath,
		},
		PostgreSQL: storage.PostgreSQLConfig{
			URL:      cfg.Storage.PostgresURL,
			MaxConns: cfg.Storage.PostgresMaxConn,
		},
		MongoDB: storage.MongoDBConfig{
			URL:      cfg.Storage.MongoURL,
			Database: cfg.Storage.MongoDatabase,
		},
	}
}

func setupUsage(cfg *config.Config, st storage.Storage) (usage.LoggerInterface, usage.Reader, error) {
	reader, err := usage.NewReader(st)
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Usage.Enabled {
		return &usage.NoopLogger{}, reader, nil
	}

	usageStore, err := usage.NewStore(st, cfg.Usage.RetentionDays)
	if err != nil {
		return nil, nil, err
	}

	logger := usage.NewLogger(usageStore, usage.Config{
		BufferSize:    cfg.Usage.BufferSize,
		FlushInterval: cfg.Usage.FlushInterval,
		RetentionDays: cfg.Usage.RetentionDays,
	})
	return logger, reader, nil
}

func buildProviders(cfg *config.Config) (map[string]core.Provider, error) {
	set := make(map[string]core.Provider)

	if cfg.OpenAI.APIKey != "" {
		p, err := providers.New(catalog.ProviderOpenAI, providers.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		set[catalog.ProviderOpenAI] = p
	}

	if cfg.Anthropic.APIKey != "" {
		p, err := providers.New(catalog.ProviderAnthropic, providers.Config{
			APIKey:  cfg.Anthropic.APIKey,
			BaseURL: cfg.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		set[catalog.ProviderAnthropic] = p
	}

	return set, nil
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	if cfg.Cache.Type == "redis" {
		return cache.NewRedisCache(cache.RedisConfig{
			URL: cfg.Cache.RedisURL,
			TTL: cfg.Cache.TTL,
		})
	}

	if dir := filepath.Dir(cfg.Cache.LocalPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return cache.NewLocalCache(cfg.Cache.LocalPath), nil
}

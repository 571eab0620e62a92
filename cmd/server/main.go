// Brokernomex strategy chat server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brokernomex/strategy-chat/internal/api"
	"github.com/brokernomex/strategy-chat/internal/chat"
	"github.com/brokernomex/strategy-chat/internal/config"
	"github.com/brokernomex/strategy-chat/internal/identity"
	"github.com/brokernomex/strategy-chat/internal/middleware"
	"github.com/brokernomex/strategy-chat/internal/provider"
	"github.com/brokernomex/strategy-chat/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.Completion.Provider,
		"switch_policy", cfg.SwitchPolicy)

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	completer := newCompleter(cfg, logger)
	opts := chat.Options{
		HistoryWindow: cfg.HistoryWindow,
		SwitchPolicy:  cfg.SwitchPolicy,
		DefaultModel:  cfg.Completion.Model,
		CharDelay:     cfg.Typing.CharDelay,
		ChunkSize:     cfg.Typing.ChunkSize,
	}
	registry := chat.NewRegistry(func(ctx context.Context, userID string) (*chat.Engine, error) {
		return chat.NewEngine(ctx, userID, repo, completer, opts, logger)
	}, cfg.EngineIdleTTL, logger)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Close()

	chatHandler := api.NewChatHandler(registry, limiter)
	healthHandler := api.NewHealthHandler(repo)
	streamHandler := api.NewStreamHandler(registry, cfg.FrontendURL, cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))
	r.Use(identity.Middleware(cfg.AllowAnonymous, cfg.IsDevelopment()))

	healthHandler.RegisterHealth(r)
	chatHandler.RegisterRoutes(r)
	r.Get("/ws/chat", streamHandler.ServeHTTP)

	// No WriteTimeout: completions and the event stream are long lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return registry.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func newCompleter(cfg *config.Config, logger *slog.Logger) provider.Completer {
	if cfg.Completion.Provider == "openai" {
		slog.Info("Using OpenAI-compatible completion provider", "model", cfg.Completion.Model, "base_url", cfg.Completion.BaseURL)
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:       cfg.Completion.APIKey,
			BaseURL:      cfg.Completion.BaseURL,
			DefaultModel: cfg.Completion.Model,
			MaxTokens:    cfg.Completion.MaxTokens,
			Timeout:      cfg.Completion.Timeout,
		}, logger)
	}
	slog.Info("Using mock completion provider")
	return provider.NewMock(cfg.Completion.Model)
}

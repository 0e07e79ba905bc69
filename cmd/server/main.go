package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZanzyTHEbar/contrib-evaluator/internal/app"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/config"
	"github.com/ZanzyTHEbar/contrib-evaluator/internal/monitoring"
)

func main() {
	envFile := flag.String("env-file", "", "path to a .env file (default .env when present)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging setup
	appLogger := monitoring.NewLogger(monitoring.ParseLevel(cfg.LogLevel))
	slog.SetDefault(appLogger.Logger)

	a, err := app.New(cfg, appLogger)
	if err != nil {
		slog.Error("Failed to initialize evaluator", "error", err)
		os.Exit(1)
	}

	for _, src := range a.Sources {
		if !src.Enabled() {
			slog.Warn("Source not configured, it will be skipped", "source", src.Name())
		}
	}

	s := newServer(a)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           s.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting server", "port", cfg.Server.Port, "cache", cfg.Cache.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := a.Close(); err != nil {
		slog.Error("Failed to release resources", "error", err)
		os.Exit(1)
	}

	slog.Info("Server exited")
}

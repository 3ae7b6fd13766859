// Command scrivener-worker is the transcription worker: it serves the
// websocket segment protocol and runs Whisper inference locally.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hwittich/scrivener/internal/config"
	"github.com/hwittich/scrivener/internal/worker"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	modelPath := flag.String("model", "", "Whisper ggml model path (overrides worker.model_path)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scrivener-worker: %v\n", err)
		return 1
	}
	if *modelPath != "" {
		cfg.Worker.ModelPath = *modelPath
	}
	if cfg.Worker.ModelPath == "" {
		fmt.Fprintln(os.Stderr, "scrivener-worker: no model configured; set worker.model_path or pass -model")
		return 1
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.SlogLevel()}))
	slog.SetDefault(logger)

	slog.Info("scrivener-worker starting",
		"version", version,
		"model", cfg.Worker.ModelPath,
		"language", cfg.Worker.Language,
		"listen_addr", cfg.Worker.ListenAddr,
	)

	engine, err := worker.NewWhisper(cfg.Worker.ModelPath, worker.WithLanguage(cfg.Worker.Language))
	if err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:        cfg.Worker.ListenAddr,
		Handler:     worker.NewServer(engine),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("worker ready")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "err", err)
	}
	slog.Info("goodbye")
	return 0
}

// Command agentdash-dev serves a local backend for the agentdash client:
// accounts, task runs and their log streams.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"agentdash/internal/config"
	"agentdash/internal/httpserver"
	"agentdash/internal/jobs"
	"agentdash/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	var exec jobs.Executor = jobs.EchoExecutor{}
	if cfg.OllamaModel != "" {
		ollama, err := jobs.NewOllamaExecutor(cfg.OllamaModel)
		if err != nil {
			log.Fatalf("ollama client: %v", err)
		}
		exec = ollama
	}
	logger.Info("executor selected", "name", exec.Name())

	backend, err := httpserver.NewBackend(ctx, cfg, exec, logger)
	if err != nil {
		log.Fatalf("backend: %v", err)
	}

	server := httpserver.New(cfg.HTTPAddr, backend.Handler, logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("http server", "err", err)
		_ = backend.Close()
		os.Exit(1)
	}
	if err := backend.Close(); err != nil {
		logger.Warn("close backend", "err", err)
	}
}

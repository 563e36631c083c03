// Package main содержит точку входа процесса webhook.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/magabrotheeeer/verification-gate/internal/app/webhook"
	"github.com/magabrotheeeer/verification-gate/internal/config"
	"github.com/magabrotheeeer/verification-gate/internal/lib/logger"
	"github.com/magabrotheeeer/verification-gate/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	log := logger.New(cfg.Env)

	log.Info("starting webhook", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := webhook.New(ctx, cfg, log)
	if err != nil {
		log.Error("failed to initialize webhook app", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		log.Error("webhook app stopped with error", sl.Err(err))
		os.Exit(1)
	}

	log.Info("webhook app stopped gracefully")
}

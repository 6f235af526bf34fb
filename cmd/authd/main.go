package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sandeepkv93/newsroom-auth-service/internal/config"
	"github.com/sandeepkv93/newsroom-auth-service/internal/di"
	"github.com/sandeepkv93/newsroom-auth-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger(os.Stderr, "error").Error("load config", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Error("init observability", "error", err)
		os.Exit(1)
	}

	a, cleanup, err := di.InitializeApp(ctx, cfg, rt)
	if err != nil {
		logger.Error("initialize app", "error", err)
		_ = rt.Shutdown(context.Background())
		os.Exit(1)
	}
	defer cleanup()

	if err := a.Run(ctx); err != nil {
		rt.Logger.Error("server exited", "error", err)
		cleanup()
		os.Exit(1)
	}
}

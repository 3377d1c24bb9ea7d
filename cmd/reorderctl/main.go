package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"reorder-engine/internal/adapters/cli"
	"reorder-engine/internal/app"
	"reorder-engine/internal/config"
	"reorder-engine/internal/logger"
	"reorder-engine/internal/observability"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCommand(func(ctx context.Context) (app.ApplicationService, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		log, err := logger.New(cfg.LogMode)
		if err != nil {
			return nil, nil, err
		}
		shutdownTracing, err := observability.InitTracing(ctx, log, cfg.Tracing)
		if err != nil {
			log.Sync()
			return nil, nil, err
		}
		flush := func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.Warn("tracing shutdown", "error", err)
			}
			log.Sync()
		}

		engine, err := app.Bootstrap(ctx, cfg, log)
		if err != nil {
			flush()
			return nil, nil, err
		}
		return engine.Service, func() {
			engine.Close()
			flush()
		}, nil
	})

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

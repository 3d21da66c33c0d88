// Command worker runs the activation consumer and the outbox dispatcher.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"leaguehub.com/app/internal/app"
	"leaguehub.com/app/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := app.NewLogger(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if a.Stream == nil {
		logger.Error("worker needs REDIS_ADDR; the in-process bus cannot reach cmd/web")
		os.Exit(1)
	}
	if err := a.Migrate(); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}
	if err := a.Stream.EnsureGroup(ctx); err != nil {
		logger.Error("ensure consumer group", "err", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = a.Dispatcher.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		if err := a.Activation.Run(ctx, a.Stream); err != nil {
			logger.Error("activation consumer stopped", "err", err)
			stop()
		}
	}()

	logger.Info("worker started", "stream", cfg.BusStream, "group", cfg.BusGroup)
	wg.Wait()
	logger.Info("worker stopped")
}

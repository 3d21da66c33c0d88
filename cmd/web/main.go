package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leaguehub.com/app/internal/app"
	"leaguehub.com/app/internal/config"
	apphttp "leaguehub.com/app/internal/http"
	"leaguehub.com/app/internal/http/handlers"
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

	if err := a.Migrate(); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	// Without Redis the bus only exists in this process, so consume here and
	// let the dispatcher start only once the consumer is listening.
	if a.Stream == nil {
		go func() {
			if err := a.Activation.Run(ctx, a.Subscriber()); err != nil {
				logger.Error("activation consumer stopped", "err", err)
			}
		}()
		select {
		case <-a.Memory.Subscribed():
		case <-ctx.Done():
			return
		}
	}

	// Committed outcomes are published from here; cmd/worker sweeps too.
	go func() { _ = a.Dispatcher.Run(ctx) }()

	checks := map[string]handlers.Check{"db": a.PingDB}
	if a.Redis != nil {
		checks["redis"] = a.PingRedis
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: apphttp.NewRouter(logger, apphttp.Deps{
			Payments:  a.Payments,
			Webhooks:  a.Webhooks,
			Processor: a.Processor,
			JWTSecret: []byte(cfg.JWTSecret),
			Checks:    checks,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http listening", "addr", cfg.HTTPAddr, "processor", a.Processor.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", "err", err)
	}
	logger.Info("stopped")
}

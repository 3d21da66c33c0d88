// Package app assembles the payment services from configuration. cmd/web,
// cmd/worker and cmd/paymentctl share it so every process sees the same
// database, bus, processor and archive.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"leaguehub.com/app/internal/bus"
	"leaguehub.com/app/internal/config"
	"leaguehub.com/app/internal/database"
	"leaguehub.com/app/internal/mailer"
	"leaguehub.com/app/internal/modules/activation"
	"leaguehub.com/app/internal/modules/payments"
	"leaguehub.com/app/internal/storage"
)

type App struct {
	Cfg    config.Config
	Logger *slog.Logger
	DB     *gorm.DB
	Redis  *redis.Client // nil without REDIS_ADDR

	Bus        bus.Publisher
	Stream     *bus.RedisStream // nil without REDIS_ADDR
	Memory     *bus.Memory      // in-process bus when Redis is not configured
	Processor  payments.Processor
	Payments   *payments.Service
	Webhooks   *payments.WebhookService
	Dispatcher *payments.Dispatcher
	Incidents  *payments.IncidentRecorder
	Activation *activation.Consumer
}

// NewLogger returns a JSON logger writing to w at the named level.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl}))
}

// New connects every dependency. Close releases them.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		return nil, err
	}
	a.DB = db

	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		consumer := cfg.BusConsumer
		if consumer == "" {
			consumer, _ = os.Hostname()
		}
		a.Stream = bus.NewRedisStream(a.Redis, cfg.BusStream, cfg.BusGroup, consumer)
		a.Stream.SetLogger(logger)
		a.Bus = a.Stream
	} else {
		logger.Warn("REDIS_ADDR not set; using in-process bus")
		a.Memory = bus.NewMemory()
		a.Bus = a.Memory
	}

	switch cfg.Processor {
	case "stripe":
		a.Processor = payments.NewStripeProcessor(payments.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			Timeout:       cfg.ProcessorTimeout,
		})
	default:
		a.Processor = payments.NewMockProcessor(cfg.MockWebhookSecret)
	}

	archive, err := storage.New(ctx, storage.Config{
		Driver:   cfg.ArchiveDriver,
		LocalDir: cfg.LocalArchiveDir,
		Region:   cfg.S3Region,
		Bucket:   cfg.S3Bucket,
		Prefix:   cfg.S3Prefix,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("incident archive ready", "driver", archive.Driver)

	a.Incidents = payments.NewIncidentRecorder(db, archive.Storage)
	a.Incidents.SetLogger(logger)
	smtpCfg := mailer.Config{
		Host:    cfg.SMTPHost,
		Port:    cfg.SMTPPort,
		User:    cfg.SMTPUser,
		Pass:    cfg.SMTPPass,
		TLSMode: cfg.SMTPTLSMode,
	}
	if to := cfg.AlertRecipients(); smtpCfg.Enabled() && len(to) > 0 {
		a.Incidents.SetAlerter(&payments.MailAlerter{Mailer: mailer.NewSMTP(smtpCfg), From: cfg.AlertFrom, To: to})
	}

	a.Dispatcher = payments.NewDispatcher(db, a.Bus)
	a.Dispatcher.SetLogger(logger)
	a.Dispatcher.PollInterval = cfg.OutboxPollInterval
	a.Dispatcher.BatchSize = cfg.OutboxBatchSize
	a.Dispatcher.MaxElapsed = cfg.OutboxMaxElapsed

	a.Payments = payments.NewService(db, a.Processor, payments.Config{
		MinAmount:         cfg.PaymentMinAmount,
		IdempotencyWindow: cfg.IdempotencyWindow,
		ProcessorTimeout:  cfg.ProcessorTimeout,
		LockTTL:           cfg.ResourceLockTTL,
	})
	a.Payments.SetLogger(logger)
	a.Payments.SetIncidentRecorder(a.Incidents)
	a.Payments.SetNotifier(a.Dispatcher)
	if a.Redis != nil {
		a.Payments.SetLocker(payments.NewRedisLocker(a.Redis, "payments:lock:"))
	}

	a.Webhooks = payments.NewWebhookService(db, a.Payments)
	a.Webhooks.SetLogger(logger)

	a.Activation = activation.NewConsumer(db)
	a.Activation.SetLogger(logger)

	return a, nil
}

// Migrate creates or updates every table the services own.
func (a *App) Migrate() error {
	if err := payments.Migrate(a.DB); err != nil {
		return fmt.Errorf("migrate payments: %w", err)
	}
	if err := activation.Migrate(a.DB); err != nil {
		return fmt.Errorf("migrate activation: %w", err)
	}
	return nil
}

// Subscriber is the bus side consumers read from.
func (a *App) Subscriber() bus.Subscriber {
	if a.Stream != nil {
		return a.Stream
	}
	return a.Memory
}

func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) PingRedis(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

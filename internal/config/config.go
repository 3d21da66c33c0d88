// Package config loads service configuration from the environment (and an
// optional .env file) with sane local defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	BusStream     string `mapstructure:"bus_stream"`
	BusGroup      string `mapstructure:"bus_group"`
	BusConsumer   string `mapstructure:"bus_consumer"`

	Processor           string        `mapstructure:"processor"`
	StripeSecretKey     string        `mapstructure:"stripe_secret_key"`
	StripeWebhookSecret string        `mapstructure:"stripe_webhook_secret"`
	MockWebhookSecret   string        `mapstructure:"mock_webhook_secret"`
	ProcessorTimeout    time.Duration `mapstructure:"processor_timeout"`

	PaymentMinAmount  int64         `mapstructure:"payment_min_amount"`
	IdempotencyWindow time.Duration `mapstructure:"idempotency_window"`
	ResourceLockTTL   time.Duration `mapstructure:"resource_lock_ttl"`

	JWTSecret string `mapstructure:"jwt_secret"`

	OutboxPollInterval time.Duration `mapstructure:"outbox_poll_interval"`
	OutboxBatchSize    int           `mapstructure:"outbox_batch_size"`
	OutboxMaxElapsed   time.Duration `mapstructure:"outbox_max_elapsed"`

	ArchiveDriver   string `mapstructure:"archive_driver"`
	LocalArchiveDir string `mapstructure:"local_archive_dir"`
	S3Region        string `mapstructure:"s3_region"`
	S3Bucket        string `mapstructure:"s3_bucket"`
	S3Prefix        string `mapstructure:"s3_prefix"`

	SMTPHost    string `mapstructure:"smtp_host"`
	SMTPPort    string `mapstructure:"smtp_port"`
	SMTPUser    string `mapstructure:"smtp_user"`
	SMTPPass    string `mapstructure:"smtp_pass"`
	SMTPTLSMode string `mapstructure:"smtp_tls_mode"`
	AlertFrom   string `mapstructure:"alert_from"`
	AlertTo     string `mapstructure:"alert_to"` // comma separated
}

// AlertRecipients splits ALERT_TO.
func (c Config) AlertRecipients() []string {
	var out []string
	for _, a := range strings.Split(c.AlertTo, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

var defaults = map[string]any{
	"http_addr":             ":8080",
	"log_level":             "info",
	"db_driver":             "mysql",
	"db_dsn":                "",
	"redis_addr":            "",
	"redis_password":        "",
	"redis_db":              0,
	"bus_stream":            "payments.outcomes",
	"bus_group":             "activation",
	"bus_consumer":          "",
	"processor":             "mock",
	"stripe_secret_key":     "",
	"stripe_webhook_secret": "",
	"mock_webhook_secret":   "",
	"processor_timeout":     "10s",
	"payment_min_amount":    50,
	"idempotency_window":    "10m",
	"resource_lock_ttl":     "30s",
	"jwt_secret":            "",
	"outbox_poll_interval":  "2s",
	"outbox_batch_size":     100,
	"outbox_max_elapsed":    "30s",
	"archive_driver":        "local",
	"local_archive_dir":     "./storage/incidents",
	"s3_region":             "",
	"s3_bucket":             "",
	"s3_prefix":             "incidents",
	"smtp_host":             "",
	"smtp_port":             "587",
	"smtp_user":             "",
	"smtp_pass":             "",
	"smtp_tls_mode":         "starttls",
	"alert_from":            "payments@localhost",
	"alert_to":              "",
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	// .env is optional; production uses real env vars.
	_ = godotenv.Load()

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.Processor = strings.ToLower(strings.TrimSpace(cfg.Processor))
	cfg.DBDriver = strings.ToLower(strings.TrimSpace(cfg.DBDriver))
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if c.DBDSN == "" {
		return fmt.Errorf("config: DB_DSN is required")
	}
	switch c.Processor {
	case "stripe":
		if c.StripeSecretKey == "" || c.StripeWebhookSecret == "" {
			return fmt.Errorf("config: STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for stripe")
		}
	case "mock":
		if c.MockWebhookSecret == "" {
			return fmt.Errorf("config: MOCK_WEBHOOK_SECRET is required for the mock processor")
		}
	default:
		return fmt.Errorf("config: unknown PROCESSOR %q", c.Processor)
	}
	if c.PaymentMinAmount <= 0 {
		return fmt.Errorf("config: PAYMENT_MIN_AMOUNT must be positive")
	}
	if c.ProcessorTimeout <= 0 {
		return fmt.Errorf("config: PROCESSOR_TIMEOUT must be positive")
	}
	return nil
}

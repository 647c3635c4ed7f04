// Package config содержит логику чтения конфигурации движка распределения рецензий.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	AppEnv      string `env:"APP_ENV"`
	NodeID      int64  `env:"NODE_ID"`
	AuthSecret  string `env:"AUTH_SECRET"`

	ReaperInterval time.Duration `env:"REAPER_INTERVAL"`
	ReaperBatch    int           `env:"REAPER_BATCH"`
	ReaperWorkers  int           `env:"REAPER_WORKERS"`

	AccessTokenTTL  time.Duration `env:"ACCESS_TOKEN_TTL"`
	ReviewWindow    time.Duration `env:"REVIEW_WINDOW"`
	PayoutPerCredit int64         `env:"PAYOUT_PER_CREDIT"`

	NATSURL     string `env:"NATS_URL"`
	RedisAddr   string `env:"REDIS_ADDR"`
	RedisStream string `env:"REDIS_STREAM"`
	WebhookURL  string `env:"WEBHOOK_URL"`
	EventCodec  string `env:"EVENT_CODEC"`

	StorageEndpoint  string `env:"STORAGE_ENDPOINT"`
	StorageAccessKey string `env:"STORAGE_ACCESS_KEY"`
	StorageSecretKey string `env:"STORAGE_SECRET_KEY"`
	StorageBucket    string `env:"STORAGE_BUCKET"`
	StorageRegion    string `env:"STORAGE_REGION"`
	StorageUseSSL    bool   `env:"STORAGE_USE_SSL"`
	MaterialsBaseURL string `env:"MATERIALS_BASE_URL"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (in-memory store when empty)")
	flag.StringVar(&cfg.AppEnv, "env", "development", "application environment")
	flag.Int64Var(&cfg.NodeID, "node", 1, "snowflake node id")
	flag.StringVar(&cfg.AuthSecret, "secret", "", "token signing secret")
	flag.DurationVar(&cfg.ReaperInterval, "i", time.Minute, "deadline reaper interval")
	flag.IntVar(&cfg.ReaperBatch, "reaper-batch", 500, "overdue assignments per sweep")
	flag.IntVar(&cfg.ReaperWorkers, "reaper-workers", 8, "campaigns processed in parallel per sweep")
	flag.DurationVar(&cfg.AccessTokenTTL, "access-ttl", 15*time.Minute, "material link lifetime")
	flag.DurationVar(&cfg.ReviewWindow, "review-window", 14*24*time.Hour, "time to review after first access")
	flag.Int64Var(&cfg.PayoutPerCredit, "payout", 100, "wallet minor units per credit")
	flag.StringVar(&cfg.NATSURL, "nats", "", "NATS server URL")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "Redis address")
	flag.StringVar(&cfg.RedisStream, "redis-stream", "bookproof:events", "Redis stream for events")
	flag.StringVar(&cfg.WebhookURL, "webhook", "", "notification service URL")
	flag.StringVar(&cfg.EventCodec, "codec", "json", "event codec: json or cbor")
	flag.StringVar(&cfg.StorageEndpoint, "storage", "", "S3-compatible storage endpoint")
	flag.StringVar(&cfg.StorageBucket, "bucket", "materials", "materials bucket")
	flag.StringVar(&cfg.MaterialsBaseURL, "materials", "/materials", "base URL for unsigned material links")
	flag.StringVar(&cfg.OTELEndpoint, "otel", "", "OTLP HTTP endpoint")

	flag.Parse()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper interval must be positive"))
	}
	if c.ReaperBatch <= 0 || c.ReaperWorkers <= 0 {
		errs = append(errs, errors.New("reaper batch and workers must be positive"))
	}
	if c.AccessTokenTTL <= 0 || c.ReviewWindow <= 0 {
		errs = append(errs, errors.New("access ttl and review window must be positive"))
	}
	if c.PayoutPerCredit <= 0 {
		errs = append(errs, errors.New("payout per credit must be positive"))
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("node id %d out of range 0..1023", c.NodeID))
	}
	if c.EventCodec != "json" && c.EventCodec != "cbor" {
		errs = append(errs, fmt.Errorf("unknown event codec %q", c.EventCodec))
	}
	return errors.Join(errs...)
}

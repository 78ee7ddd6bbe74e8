package main

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/config"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/quota"
)

type appConfig struct {
	Service        string
	Port           string
	GRPCPort       string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   string
	Limits         quota.Limits
	QuotaLocation  *time.Location
	TenantLocation *time.Location
	RatePerMinute  int
	CORSOrigins    []string
	Migrate        bool
}

func loadConfig() (appConfig, error) {
	var (
		cfg appConfig
		err error
	)
	cfg.Service = config.String("SERVICE_NAME", "booking-service")
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	cfg.RedisURL = config.String("REDIS_URL", "")
	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")

	if cfg.Limits.Free, err = config.Int("QUOTA_FREE_LIMIT", 50); err != nil {
		return cfg, err
	}
	if cfg.Limits.Standard, err = config.Int("QUOTA_STANDARD_LIMIT", 180); err != nil {
		return cfg, err
	}
	if cfg.Limits.WarnFraction, err = config.Float("QUOTA_WARN_FRACTION", 0.8); err != nil {
		return cfg, err
	}
	if cfg.Limits.WarnFraction <= 0 || cfg.Limits.WarnFraction > 1 {
		return cfg, fmt.Errorf("QUOTA_WARN_FRACTION must be in (0, 1] (got %v)", cfg.Limits.WarnFraction)
	}
	if cfg.QuotaLocation, err = config.Location("QUOTA_TIMEZONE"); err != nil {
		return cfg, err
	}
	if cfg.TenantLocation, err = config.Location("DEFAULT_TENANT_TIMEZONE"); err != nil {
		return cfg, err
	}
	if cfg.RatePerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	cfg.CORSOrigins = config.List("CORS_ALLOWED_ORIGINS")
	cfg.Migrate = config.Bool("DB_MIGRATE", true)
	return cfg, nil
}

package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/config"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/gateway"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/jobs"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/sms"
)

type appConfig struct {
	Service      string
	Port         string
	DatabaseURL  string
	KafkaBrokers string
	KafkaGroupID string
	Provider     string
	Gateway      gateway.Config
	Twilio       sms.TwilioConfig
	TemplateZone *time.Location
	DateLayout   string
	TimeLayout   string
	Worker       jobs.WorkerConfig
	CORSOrigins  []string
	Migrate      bool
}

func loadConfig() (appConfig, error) {
	var (
		cfg appConfig
		err error
	)
	cfg.Service = config.String("SERVICE_NAME", "notification-service")
	if cfg.Port, err = config.Port("PORT", "8085"); err != nil {
		return cfg, err
	}
	if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
		return cfg, err
	}
	cfg.KafkaBrokers = config.String("KAFKA_BROKERS", "")
	cfg.KafkaGroupID = config.String("KAFKA_GROUP_ID", "notification-service")

	cfg.Provider = strings.ToLower(config.String("MESSAGING_PROVIDER", "gateway"))
	switch cfg.Provider {
	case "gateway", "twilio", "noop":
	default:
		return cfg, fmt.Errorf("MESSAGING_PROVIDER must be gateway, twilio or noop (got %q)", cfg.Provider)
	}

	cfg.Gateway.BaseURL = config.String("GATEWAY_URL", "")
	cfg.Gateway.PublicBaseURL = config.String("PUBLIC_BASE_URL", "")
	if cfg.Gateway.Timeout, err = config.Duration("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Gateway.ProvisionTimeout, err = config.Duration("GATEWAY_PROVISION_TIMEOUT", 60*time.Second); err != nil {
		return cfg, err
	}
	if cfg.Gateway.MaxAttempts, err = config.Int("GATEWAY_MAX_ATTEMPTS", 3); err != nil {
		return cfg, err
	}
	if cfg.Gateway.BaseDelay, err = config.Duration("GATEWAY_BASE_DELAY", time.Second); err != nil {
		return cfg, err
	}
	cfg.Gateway.DefaultCountryCode = config.String("PHONE_DEFAULT_COUNTRY_CODE", "55")

	cfg.Twilio = sms.TwilioConfig{
		AccountSID:         config.String("TWILIO_ACCOUNT_SID", ""),
		AuthToken:          config.String("TWILIO_AUTH_TOKEN", ""),
		From:               config.String("TWILIO_FROM_NUMBER", ""),
		DefaultCountryCode: cfg.Gateway.DefaultCountryCode,
	}

	if cfg.TemplateZone, err = config.Location("TEMPLATE_TIMEZONE"); err != nil {
		return cfg, err
	}
	cfg.DateLayout = config.String("TEMPLATE_DATE_LAYOUT", "02/01/2006")
	cfg.TimeLayout = config.String("TEMPLATE_TIME_LAYOUT", "15:04")

	cfg.Worker.SweepSpec = config.String("JOBS_SWEEP_SPEC", "@every 30s")
	cfg.Worker.CleanupSpec = config.String("JOBS_CLEANUP_SPEC", "0 3 * * *")
	if cfg.Worker.BatchSize, err = config.Int("JOBS_BATCH_SIZE", 50); err != nil {
		return cfg, err
	}
	if cfg.Worker.Retention, err = config.Duration("JOBS_RETENTION", 30*24*time.Hour); err != nil {
		return cfg, err
	}

	cfg.CORSOrigins = config.List("CORS_ALLOWED_ORIGINS")
	cfg.Migrate = config.Bool("DB_MIGRATE", true)
	return cfg, nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/libs/httpx"
	"github.com/md-rashed-zaman/apptcore/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptcore/libs/otel"
	"github.com/md-rashed-zaman/apptcore/libs/runtime"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/gateway"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/handlers"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/jobs"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/template"
)

func main() {
	if err := runtime.LoadDotEnv(); err != nil {
		slog.Error("load .env failed", "err", err)
		os.Exit(1)
	}
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	pool, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if cfg.Migrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("db migration failed", "err", err)
			os.Exit(1)
		}
	}

	gw := gateway.NewClient(cfg.Gateway, logger)
	if !gw.Configured() {
		logger.Warn("GATEWAY_URL not set; gateway calls will fail", "reason", "not_configured")
	}
	var sender dispatch.Sender = gw
	switch cfg.Provider {
	case "twilio":
		ts, err := sms.NewTwilioSender(cfg.Twilio, logger)
		if err != nil {
			logger.Error("twilio sender setup failed", "err", err)
			os.Exit(1)
		}
		sender = ts
	case "noop":
		sender = sms.NewNoopSender(logger)
	}

	configRepo := storage.NewConfigRepository(pool)
	inboxRepo := inbox.NewRepository(pool)
	jobRepo := jobs.NewRepository(pool)
	engine := dispatch.NewEngine(
		configRepo,
		sender,
		template.NewRenderer(cfg.TemplateZone, cfg.DateLayout, cfg.TimeLayout),
		storage.NewNotificationLog(pool),
		logger,
	)

	worker := jobs.NewWorker(jobRepo, inboxRepo, engine, logger, cfg.Worker)
	go func() {
		if err := worker.Run(ctx); err != nil {
			logger.Error("notification job scheduler failed", "err", err)
		}
	}()

	router := consumer.NewRouter(configRepo, jobRepo, engine, logger)
	eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  events.Topics(),
	}, router.Handle)
	go eventConsumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	)
	handlers.NewSettingsHandler(configRepo, gw, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithTracing("notification"),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", httpx.RequestIDHeader, httpx.TenantIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		// Instance provisioning may take up to the provision timeout.
		httpx.WithTimeout(cfg.Gateway.ProvisionTimeout+5*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "provider", cfg.Provider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

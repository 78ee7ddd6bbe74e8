package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/libs/grpcx"
	"github.com/md-rashed-zaman/apptcore/libs/httpx"
	"github.com/md-rashed-zaman/apptcore/libs/kafkax"
	otelx "github.com/md-rashed-zaman/apptcore/libs/otel"
	"github.com/md-rashed-zaman/apptcore/libs/redisx"
	"github.com/md-rashed-zaman/apptcore/libs/runtime"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/quota"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/storage"
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

	rdb, err := redisx.Open(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("redis connection failed; falling back to in-process limiter and latch", "err", err)
		rdb = nil
	}
	var latch quota.WarnLatch = quota.NewMemoryLatch()
	rateLimit := httpx.NewRateLimiter(cfg.RatePerMinute, time.Minute).Middleware()
	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
		{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)},
	}
	if rdb != nil {
		defer rdb.Close()
		latch = quota.NewRedisLatch(rdb)
		rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.RatePerMinute, time.Minute, "rl:booking").Middleware(logger, true)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	}

	outboxRepo := outbox.NewRepository()
	repo := storage.NewBookingRepository(pool, outboxRepo)
	svc := booking.NewService(repo, quota.NewGate(cfg.Limits), latch, logger, booking.Config{
		QuotaLocation:   cfg.QuotaLocation,
		DefaultLocation: cfg.TenantLocation,
	})

	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{Brokers: cfg.KafkaBrokers})
	go publisher.Run(ctx)

	grpcSrv := grpcx.NewServer()
	grpcSrv.SetServing("booking", true)
	go func() {
		if err := grpcSrv.Serve(ctx, logger, ":"+cfg.GRPCPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.NewBookingHandler(svc, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithTracing("booking"),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", httpx.RequestIDHeader, httpx.TenantIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit,
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	grpcSrv.SetServing("booking", false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	otelx "github.com/md-rashed-zaman/apptcore/libs/otel"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
	"github.com/robfig/cron/v3"
)

type Store interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pruner drops old de-duplication entries.
type Pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, event settings.Event, appt events.AppointmentPayload) dispatch.Outcome
}

type WorkerConfig struct {
	BatchSize   int
	Retention   time.Duration
	SweepSpec   string
	CleanupSpec string
}

type Worker struct {
	store      Store
	inbox      Pruner
	dispatcher Dispatcher
	logger     *slog.Logger
	cfg        WorkerConfig
	now        func() time.Time
}

// NewWorker builds a worker. inbox may be nil.
func NewWorker(store Store, inbox Pruner, dispatcher Dispatcher, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.SweepSpec == "" {
		cfg.SweepSpec = "@every 30s"
	}
	if cfg.CleanupSpec == "" {
		cfg.CleanupSpec = "0 3 * * *"
	}
	return &Worker{
		store:      store,
		inbox:      inbox,
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Run schedules the sweep and the cleanup on cron and blocks until ctx is cancelled. A sweep
// still running when the next tick fires is not started twice.
func (w *Worker) Run(ctx context.Context) error {
	cl := cronLogger{w.logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(w.cfg.SweepSpec, func() {
		if n, err := w.RunOnce(ctx); err != nil {
			w.logger.Error("notification sweep failed", "err", err, "dispatched", n)
		}
	}); err != nil {
		return err
	}
	if _, err := c.AddFunc(w.cfg.CleanupSpec, func() {
		if err := w.Cleanup(ctx); err != nil {
			w.logger.Error("notification cleanup failed", "err", err)
		}
	}); err != nil {
		return err
	}

	c.Start()
	w.logger.Info("notification jobs scheduled", "sweep", w.cfg.SweepSpec, "cleanup", w.cfg.CleanupSpec)
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce claims and dispatches due jobs until a short batch signals the backlog is drained.
// Dispatch failures are final; they are logged by the engine and not retried here.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	total := 0
	for ctx.Err() == nil {
		now := w.now()
		batch, err := w.store.ClaimDue(ctx, now, w.cfg.BatchSize)
		if err != nil {
			return total, err
		}
		for _, job := range batch {
			jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
			if !job.Payload.StartTime.After(now) {
				w.logger.Warn("stale notification job dropped", "job_id", job.ID, "appointment_id", job.AppointmentID, "event", string(job.Event))
				continue
			}
			out := w.dispatcher.Dispatch(jobCtx, job.Event, job.Payload)
			w.logger.Debug("notification job processed", "job_id", job.ID, "event", string(job.Event), "status", string(out.Status), "reason", out.Reason)
			total++
		}
		if len(batch) < w.cfg.BatchSize {
			break
		}
	}
	return total, nil
}

func (w *Worker) Cleanup(ctx context.Context) error {
	cutoff := w.now().Add(-w.cfg.Retention)
	jobs, err := w.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	var inbox int64
	if w.inbox != nil {
		if inbox, err = w.inbox.Prune(ctx, cutoff); err != nil {
			return err
		}
	}
	w.logger.Info("notification cleanup done", "jobs_deleted", jobs, "inbox_pruned", inbox)
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}

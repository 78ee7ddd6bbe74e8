package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/libs/kafkax"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/dispatch"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/jobs"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
	"github.com/segmentio/kafka-go"
)

type JobStore interface {
	Schedule(ctx context.Context, jobs []jobs.Job) error
	CancelPending(ctx context.Context, appointmentID string, only ...settings.Event) (int64, error)
}

// Router turns appointment lifecycle events into immediate dispatches and timed jobs.
type Router struct {
	configs    dispatch.ConfigSource
	jobs       JobStore
	dispatcher jobs.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func NewRouter(configs dispatch.ConfigSource, jobStore JobStore, dispatcher jobs.Dispatcher, logger *slog.Logger) *Router {
	return &Router{
		configs:    configs,
		jobs:       jobStore,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// Handle is a consumer Handler. Malformed events are logged and dropped; only storage failures
// are returned.
func (r *Router) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	appt, err := events.DecodeAppointment(msg.Value)
	if err != nil {
		r.logger.Error("invalid appointment event", "err", err, "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	log := r.logger.With("event_type", meta.EventType, "appointment_id", appt.AppointmentID, "tenant_id", appt.TenantID)

	switch meta.EventType {
	case events.AppointmentCreated:
		return r.plan(ctx, log, appt, true)
	case events.AppointmentCancelled:
		if err := r.cancel(ctx, appt.AppointmentID); err != nil {
			return err
		}
		r.dispatcher.Dispatch(ctx, settings.EventCancelled, appt)
		return nil
	case events.AppointmentRescheduled:
		if err := r.cancel(ctx, appt.AppointmentID); err != nil {
			return err
		}
		return r.plan(ctx, log, appt, false)
	case events.AppointmentDeleted:
		return r.cancel(ctx, appt.AppointmentID)
	case events.AppointmentStatusChanged:
		return r.statusChanged(ctx, log, appt)
	default:
		log.Warn("unhandled event type")
		return nil
	}
}

// plan schedules the timed jobs of appt and, for a new booking, the creation notice.
func (r *Router) plan(ctx context.Context, log *slog.Logger, appt events.AppointmentPayload, isNew bool) error {
	cfg, err := r.configs.Load(ctx, appt.TenantID)
	if errors.Is(err, settings.ErrNotFound) {
		log.Debug("tenant has no notification config")
		return nil
	}
	if err != nil {
		return err
	}

	now := r.now()
	planned := jobs.Timed(cfg, appt, now)
	immediate := false
	if isNew {
		if job, ok := jobs.Delayed(cfg, appt, now); ok {
			planned = append(planned, job)
		} else {
			immediate = true
		}
	}
	if err := r.jobs.Schedule(ctx, planned); err != nil {
		return err
	}
	log.Debug("notification jobs planned", "count", len(planned))

	if immediate {
		r.dispatcher.Dispatch(ctx, settings.EventCreated, appt)
	}
	return nil
}

func (r *Router) statusChanged(ctx context.Context, log *slog.Logger, appt events.AppointmentPayload) error {
	switch appt.Status {
	case "confirmed":
		_, err := r.jobs.CancelPending(ctx, appt.AppointmentID, settings.EventConfirmed)
		return err
	case "cancelled", "no_show", "completed", "in_progress":
		return r.cancel(ctx, appt.AppointmentID)
	case "scheduled":
		if appt.PreviousStatus == "cancelled" || appt.PreviousStatus == "no_show" {
			return r.plan(ctx, log, appt, false)
		}
	}
	return nil
}

func (r *Router) cancel(ctx context.Context, appointmentID string) error {
	_, err := r.jobs.CancelPending(ctx, appointmentID)
	return err
}

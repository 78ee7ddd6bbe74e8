// Package jobs stores the notifications that must go out later (delayed creation notices,
// confirmation requests and reminders) and sweeps them when due.
package jobs

import (
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

type Job struct {
	ID             int64
	IdempotencyKey string
	TenantID       string
	AppointmentID  string
	Event          settings.Event
	RunAt          time.Time
	Payload        events.AppointmentPayload
	Traceparent    string
	Tracestate     string
}

func newJob(event settings.Event, appt events.AppointmentPayload, runAt time.Time) Job {
	runAt = runAt.UTC().Truncate(time.Second)
	return Job{
		IdempotencyKey: appt.AppointmentID + "|" + string(event) + "|" + runAt.Format(time.RFC3339),
		TenantID:       appt.TenantID,
		AppointmentID:  appt.AppointmentID,
		Event:          event,
		RunAt:          runAt,
		Payload:        appt,
	}
}

// Delayed returns the creation notice job when the tenant asked for a delay.
func Delayed(cfg settings.Config, appt events.AppointmentPayload, now time.Time) (Job, bool) {
	if cfg.OnCreate.DelayMinutes <= 0 {
		return Job{}, false
	}
	return newJob(settings.EventCreated, appt, now.Add(time.Duration(cfg.OnCreate.DelayMinutes)*time.Minute)), true
}

// Timed plans the confirmation request and the reminder for an appointment. Jobs are planned
// even when the event is switched off, since dispatch re-reads the toggles when they run.
// Run times already in the past are dropped.
func Timed(cfg settings.Config, appt events.AppointmentPayload, now time.Time) []Job {
	var out []Job
	if days := cfg.Confirmation.DaysBefore; days > 0 {
		if runAt := appt.StartTime.AddDate(0, 0, -days); runAt.After(now) {
			out = append(out, newJob(settings.EventConfirmed, appt, runAt))
		}
	}
	if hours := cfg.Reminder.HoursBefore; hours > 0 {
		if runAt := appt.StartTime.Add(-time.Duration(hours) * time.Hour); runAt.After(now) {
			out = append(out, newJob(settings.EventReminder, appt, runAt))
		}
	}
	return out
}

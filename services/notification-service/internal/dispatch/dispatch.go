// Package dispatch decides whether an appointment event becomes a message and hands it to the
// configured sender. Dispatch never fails its caller; outcomes are logged and recorded.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/template"
)

// ConfigSource loads a tenant's notification config. It returns settings.ErrNotFound when the
// tenant never configured notifications.
type ConfigSource interface {
	Load(ctx context.Context, tenantID string) (settings.Config, error)
}

// Sender delivers one message. It reports delivery and handles its own retries.
type Sender interface {
	Send(ctx context.Context, tenantID, instanceID, recipient, message string) bool
}

// Recorder persists dispatch outcomes.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

type Status string

const (
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Skip reasons.
const (
	ReasonNotConfigured     = "not_configured"
	ReasonConfigUnavailable = "config_unavailable"
	ReasonDisabled          = "disabled"
	ReasonDisconnected      = "disconnected"
	ReasonEventDisabled     = "event_disabled"
	ReasonUnknownEvent      = "unknown_event"
	ReasonNoRecipient       = "no_recipient"
	ReasonDeliveryFailed    = "delivery_failed"
)

type Outcome struct {
	Event     settings.Event
	Status    Status
	Reason    string
	Recipient string
	Message   string
}

type Record struct {
	TenantID      string
	AppointmentID string
	Event         settings.Event
	Status        Status
	Reason        string
	Recipient     string
	Message       string
	CreatedAt     time.Time
}

type Engine struct {
	configs  ConfigSource
	sender   Sender
	renderer *template.Renderer
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine builds an engine. recorder may be nil.
func NewEngine(configs ConfigSource, sender Sender, renderer *template.Renderer, recorder Recorder, logger *slog.Logger) *Engine {
	return &Engine{
		configs:  configs,
		sender:   sender,
		renderer: renderer,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch reads the tenant config fresh, checks every precondition before touching the
// network, renders the event template and sends it.
func (e *Engine) Dispatch(ctx context.Context, event settings.Event, appt events.AppointmentPayload) Outcome {
	log := e.logger.With("tenant_id", appt.TenantID, "appointment_id", appt.AppointmentID, "event", string(event))

	cfg, err := e.configs.Load(ctx, appt.TenantID)
	if err != nil {
		if errors.Is(err, settings.ErrNotFound) {
			return e.skip(ctx, log, event, appt, ReasonNotConfigured)
		}
		log.Error("notification config load failed", "err", err)
		return e.skip(ctx, log, event, appt, ReasonConfigUnavailable)
	}
	if !cfg.Enabled {
		return e.skip(ctx, log, event, appt, ReasonDisabled)
	}
	if cfg.ConnectionState != settings.Connected {
		return e.skip(ctx, log, event, appt, ReasonDisconnected)
	}
	setting, ok := cfg.Setting(event)
	if !ok {
		return e.skip(ctx, log, event, appt, ReasonUnknownEvent)
	}
	if !setting.Enabled {
		return e.skip(ctx, log, event, appt, ReasonEventDisabled)
	}
	recipient := strings.TrimSpace(appt.ClientPhone)
	if recipient == "" {
		return e.skip(ctx, log, event, appt, ReasonNoRecipient)
	}

	message := e.renderer.Render(template.Pick(event, setting.Template), template.Data{
		ClientName:   appt.ClientName,
		Start:        appt.StartTime,
		Service:      appt.ServiceName,
		Professional: appt.ProfessionalName,
		BusinessName: appt.BusinessName,
	})

	out := Outcome{Event: event, Status: StatusSent, Recipient: recipient, Message: message}
	if !e.sender.Send(ctx, appt.TenantID, cfg.InstanceName, recipient, message) {
		out.Status = StatusFailed
		out.Reason = ReasonDeliveryFailed
		log.Warn("notification not delivered")
	} else {
		log.Info("notification sent")
	}
	e.record(ctx, log, appt, out)
	return out
}

func (e *Engine) skip(ctx context.Context, log *slog.Logger, event settings.Event, appt events.AppointmentPayload, reason string) Outcome {
	log.Debug("notification skipped", "reason", reason)
	out := Outcome{Event: event, Status: StatusSkipped, Reason: reason}
	// Skips driven by tenant settings are routine and not recorded.
	if reason == ReasonNoRecipient || reason == ReasonConfigUnavailable {
		e.record(ctx, log, appt, out)
	}
	return out
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, appt events.AppointmentPayload, out Outcome) {
	if e.recorder == nil {
		return
	}
	err := e.recorder.Record(ctx, Record{
		TenantID:      appt.TenantID,
		AppointmentID: appt.AppointmentID,
		Event:         out.Event,
		Status:        out.Status,
		Reason:        out.Reason,
		Recipient:     out.Recipient,
		Message:       out.Message,
		CreatedAt:     e.now().UTC(),
	})
	if err != nil {
		log.Error("notification log write failed", "err", err)
	}
}

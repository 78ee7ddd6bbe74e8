package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/template"
)

type stubConfigs struct {
	cfg   settings.Config
	err   error
	loads int
}

func (s *stubConfigs) Load(_ context.Context, tenantID string) (settings.Config, error) {
	s.loads++
	if s.err != nil {
		return settings.Config{}, s.err
	}
	cfg := s.cfg
	cfg.TenantID = tenantID
	return cfg, nil
}

type sentMessage struct {
	tenantID, instanceID, recipient, message string
}

type stubSender struct {
	ok   bool
	sent []sentMessage
}

func (s *stubSender) Send(_ context.Context, tenantID, instanceID, recipient, message string) bool {
	s.sent = append(s.sent, sentMessage{tenantID, instanceID, recipient, message})
	return s.ok
}

type stubRecorder struct {
	records []Record
}

func (s *stubRecorder) Record(_ context.Context, rec Record) error {
	s.records = append(s.records, rec)
	return nil
}

func connectedConfig() settings.Config {
	cfg := settings.Default("")
	cfg.Enabled = true
	cfg.ConnectionState = settings.Connected
	cfg.InstanceName = "tenant-t-1"
	cfg.OnCreate.Template = "Hi {{client_name}}, {{service}} on {{date}} at {{time}}"
	return cfg
}

func appointment() events.AppointmentPayload {
	return events.AppointmentPayload{
		AppointmentID: "a-1",
		TenantID:      "t-1",
		ClientName:    "Ana",
		ClientPhone:   "11 98765-4321",
		ServiceName:   "Haircut",
		StartTime:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Status:        "scheduled",
	}
}

func newEngine(configs ConfigSource, sender Sender, rec Recorder) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(configs, sender, template.NewRenderer(time.UTC, "", ""), rec, logger)
}

func TestDispatchSendsRenderedTemplate(t *testing.T) {
	configs := &stubConfigs{cfg: connectedConfig()}
	sender := &stubSender{ok: true}
	rec := &stubRecorder{}
	out := newEngine(configs, sender, rec).Dispatch(context.Background(), settings.EventCreated, appointment())

	if out.Status != StatusSent {
		t.Fatalf("expected sent, got %+v", out)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.sent))
	}
	got := sender.sent[0]
	if got.tenantID != "t-1" || got.instanceID != "tenant-t-1" || got.recipient != "11 98765-4321" {
		t.Fatalf("unexpected send %+v", got)
	}
	if got.message != "Hi Ana, Haircut on 02/03/2026 at 10:00" {
		t.Fatalf("unexpected message %q", got.message)
	}
	if len(rec.records) != 1 || rec.records[0].Status != StatusSent || rec.records[0].AppointmentID != "a-1" {
		t.Fatalf("unexpected records %+v", rec.records)
	}
}

func TestDispatchUsesDefaultTemplateWhenBlank(t *testing.T) {
	cfg := connectedConfig()
	sender := &stubSender{ok: true}
	newEngine(&stubConfigs{cfg: cfg}, sender, nil).Dispatch(context.Background(), settings.EventCancelled, appointment())
	if len(sender.sent) != 1 || !strings.Contains(sender.sent[0].message, "cancelled") {
		t.Fatalf("expected default cancellation text, got %+v", sender.sent)
	}
}

func TestDispatchPreconditions(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*settings.Config, *events.AppointmentPayload)
		event  settings.Event
		reason string
	}{
		{"disabled", func(c *settings.Config, _ *events.AppointmentPayload) { c.Enabled = false }, settings.EventCreated, ReasonDisabled},
		{"disconnected", func(c *settings.Config, _ *events.AppointmentPayload) { c.ConnectionState = settings.Disconnected }, settings.EventCreated, ReasonDisconnected},
		{"event off", func(c *settings.Config, _ *events.AppointmentPayload) { c.OnCancel.Enabled = false }, settings.EventCancelled, ReasonEventDisabled},
		{"confirmation off by default", func(*settings.Config, *events.AppointmentPayload) {}, settings.EventConfirmed, ReasonEventDisabled},
		{"unknown event", func(*settings.Config, *events.AppointmentPayload) {}, settings.Event("birthday"), ReasonUnknownEvent},
		{"no phone", func(_ *settings.Config, a *events.AppointmentPayload) { a.ClientPhone = " " }, settings.EventCreated, ReasonNoRecipient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := connectedConfig()
			appt := appointment()
			tc.mutate(&cfg, &appt)
			sender := &stubSender{ok: true}
			out := newEngine(&stubConfigs{cfg: cfg}, sender, nil).Dispatch(context.Background(), tc.event, appt)
			if out.Status != StatusSkipped || out.Reason != tc.reason {
				t.Fatalf("expected skipped/%s, got %+v", tc.reason, out)
			}
			if len(sender.sent) != 0 {
				t.Fatalf("sender must not be called, got %+v", sender.sent)
			}
		})
	}
}

func TestDispatchMissingConfigIsSilent(t *testing.T) {
	sender := &stubSender{ok: true}
	rec := &stubRecorder{}
	out := newEngine(&stubConfigs{err: settings.ErrNotFound}, sender, rec).Dispatch(context.Background(), settings.EventCreated, appointment())
	if out.Status != StatusSkipped || out.Reason != ReasonNotConfigured {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(sender.sent) != 0 || len(rec.records) != 0 {
		t.Fatalf("expected no side effects")
	}
}

func TestDispatchConfigErrorIsSwallowed(t *testing.T) {
	rec := &stubRecorder{}
	out := newEngine(&stubConfigs{err: errors.New("db down")}, &stubSender{}, rec).Dispatch(context.Background(), settings.EventCreated, appointment())
	if out.Status != StatusSkipped || out.Reason != ReasonConfigUnavailable {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(rec.records) != 1 {
		t.Fatalf("expected config failure to be recorded")
	}
}

func TestDispatchDeliveryFailure(t *testing.T) {
	rec := &stubRecorder{}
	out := newEngine(&stubConfigs{cfg: connectedConfig()}, &stubSender{ok: false}, rec).Dispatch(context.Background(), settings.EventCreated, appointment())
	if out.Status != StatusFailed || out.Reason != ReasonDeliveryFailed {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(rec.records) != 1 || rec.records[0].Status != StatusFailed {
		t.Fatalf("unexpected records %+v", rec.records)
	}
}

func TestDispatchReadsConfigEveryCall(t *testing.T) {
	configs := &stubConfigs{cfg: connectedConfig()}
	sender := &stubSender{ok: true}
	engine := newEngine(configs, sender, nil)

	engine.Dispatch(context.Background(), settings.EventCreated, appointment())
	configs.cfg.Enabled = false
	out := engine.Dispatch(context.Background(), settings.EventCreated, appointment())

	if configs.loads != 2 {
		t.Fatalf("expected config read per dispatch, got %d", configs.loads)
	}
	if out.Reason != ReasonDisabled || len(sender.sent) != 1 {
		t.Fatalf("toggle not honoured: %+v sent=%d", out, len(sender.sent))
	}
}

// Package settings holds the per-tenant notification configuration read by the dispatch engine.
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrNotFound = errors.New("notification config not found")

// Event names a notification a tenant can toggle.
type Event string

const (
	EventCreated   Event = "created"
	EventCancelled Event = "cancelled"
	EventConfirmed Event = "confirmed"
	EventReminder  Event = "reminder"
)

func (e Event) Valid() bool {
	switch e {
	case EventCreated, EventCancelled, EventConfirmed, EventReminder:
		return true
	}
	return false
}

type ConnectionState string

const (
	Connected    ConnectionState = "connected"
	Disconnected ConnectionState = "disconnected"
)

// ParseConnectionState maps the gateway's instance states onto the two states dispatch cares
// about. Anything that is not an open session counts as disconnected.
func ParseConnectionState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "open", "connected":
		return Connected
	default:
		return Disconnected
	}
}

// EventSetting toggles one event and carries its template and timing.
// DelayMinutes applies to created, DaysBefore to confirmed, HoursBefore to reminder.
type EventSetting struct {
	Enabled      bool   `json:"enabled"`
	DelayMinutes int    `json:"delay_minutes,omitempty"`
	DaysBefore   int    `json:"days_before,omitempty"`
	HoursBefore  int    `json:"hours_before,omitempty"`
	Template     string `json:"template"`
}

type Config struct {
	TenantID        string          `json:"tenant_id"`
	Enabled         bool            `json:"enabled"`
	ConnectionState ConnectionState `json:"connection_state"`
	InstanceName    string          `json:"instance_name,omitempty"`
	PhoneNumber     string          `json:"phone_number,omitempty"`
	OnCreate        EventSetting    `json:"on_create"`
	OnCancel        EventSetting    `json:"on_cancel"`
	Confirmation    EventSetting    `json:"confirmation"`
	Reminder        EventSetting    `json:"reminder"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

const maxTemplateLen = 1000

// Default is the configuration a tenant starts with: everything off until the gateway is
// connected and the tenant opts in.
func Default(tenantID string) Config {
	return Config{
		TenantID:        tenantID,
		ConnectionState: Disconnected,
		OnCreate:        EventSetting{Enabled: true},
		OnCancel:        EventSetting{Enabled: true},
		Confirmation:    EventSetting{DaysBefore: 1},
		Reminder:        EventSetting{Enabled: true, HoursBefore: 2},
	}
}

// InstanceNameFor derives the gateway instance owned by a tenant.
func InstanceNameFor(tenantID string) string {
	return "tenant-" + strings.ToLower(strings.TrimSpace(tenantID))
}

func (c Config) Setting(e Event) (EventSetting, bool) {
	switch e {
	case EventCreated:
		return c.OnCreate, true
	case EventCancelled:
		return c.OnCancel, true
	case EventConfirmed:
		return c.Confirmation, true
	case EventReminder:
		return c.Reminder, true
	}
	return EventSetting{}, false
}

// Ready reports whether dispatch may use the gateway at all.
func (c Config) Ready() bool {
	return c.Enabled && c.ConnectionState == Connected
}

func (c Config) Validate() error {
	checks := []struct {
		name string
		s    EventSetting
	}{
		{"on_create", c.OnCreate},
		{"on_cancel", c.OnCancel},
		{"confirmation", c.Confirmation},
		{"reminder", c.Reminder},
	}
	for _, chk := range checks {
		if chk.s.DelayMinutes < 0 || chk.s.DaysBefore < 0 || chk.s.HoursBefore < 0 {
			return fmt.Errorf("%s: timing values must be non-negative", chk.name)
		}
		if len(chk.s.Template) > maxTemplateLen {
			return fmt.Errorf("%s: template exceeds %d characters", chk.name, maxTemplateLen)
		}
	}
	if c.Confirmation.Enabled && c.Confirmation.DaysBefore == 0 {
		return errors.New("confirmation: days_before must be at least 1")
	}
	if c.Reminder.Enabled && c.Reminder.HoursBefore == 0 {
		return errors.New("reminder: hours_before must be at least 1")
	}
	switch c.ConnectionState {
	case Connected, Disconnected:
	default:
		return fmt.Errorf("unknown connection state %q", c.ConnectionState)
	}
	return nil
}

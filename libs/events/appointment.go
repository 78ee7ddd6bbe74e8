// Package events defines the appointment lifecycle events exchanged between booking-service and
// notification-service. Each event type is also the Kafka topic name.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	AppointmentCreated       = "booking.appointment.created.v1"
	AppointmentCancelled     = "booking.appointment.cancelled.v1"
	AppointmentRescheduled   = "booking.appointment.rescheduled.v1"
	AppointmentStatusChanged = "booking.appointment.status_changed.v1"
	AppointmentDeleted       = "booking.appointment.deleted.v1"
)

// Topics lists every appointment topic notification-service subscribes to.
func Topics() []string {
	return []string{
		AppointmentCreated,
		AppointmentCancelled,
		AppointmentRescheduled,
		AppointmentStatusChanged,
		AppointmentDeleted,
	}
}

// AppointmentPayload is the denormalized appointment snapshot carried by every lifecycle event.
// Display names are resolved at write time so consumers never call back into booking-service.
type AppointmentPayload struct {
	AppointmentID    string    `json:"appointment_id"`
	TenantID         string    `json:"tenant_id"`
	ScheduleID       string    `json:"schedule_id"`
	ServiceID        string    `json:"service_id"`
	ProfessionalID   string    `json:"professional_id,omitempty"`
	ClientID         string    `json:"client_id"`
	ClientName       string    `json:"client_name"`
	ClientPhone      string    `json:"client_phone,omitempty"`
	ServiceName      string    `json:"service_name,omitempty"`
	ProfessionalName string    `json:"professional_name,omitempty"`
	BusinessName     string    `json:"business_name,omitempty"`
	StartTime        time.Time `json:"start_time"`
	DurationMinutes  int       `json:"duration_minutes"`
	Status           string    `json:"status"`
	PreviousStatus   string    `json:"previous_status,omitempty"`
	PreviousStart    time.Time `json:"previous_start_time,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (p AppointmentPayload) Validate() error {
	if p.AppointmentID == "" || p.TenantID == "" {
		return fmt.Errorf("appointment_id and tenant_id are required")
	}
	if p.StartTime.IsZero() {
		return fmt.Errorf("start_time is required")
	}
	return nil
}

func (p AppointmentPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func DecodeAppointment(raw []byte) (AppointmentPayload, error) {
	var p AppointmentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return AppointmentPayload{}, err
	}
	return p, p.Validate()
}

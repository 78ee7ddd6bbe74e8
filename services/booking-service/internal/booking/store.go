package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
)

// Reader is the read side of the booking store. Lookups return ErrNotFound for missing rows.
type Reader interface {
	GetTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	GetSchedule(ctx context.Context, tenantID, scheduleID string) (model.ScheduleConfig, error)
	GetService(ctx context.Context, tenantID, serviceID string) (model.ServiceOffering, error)
	GetClient(ctx context.Context, tenantID, clientID string) (model.Client, error)
	GetProfessional(ctx context.Context, tenantID, professionalID string) (model.Professional, error)
	GetAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]model.Appointment, error)
	// ListOccupying returns occupying appointments on the schedule that overlap [from, to).
	ListOccupying(ctx context.Context, tenantID, scheduleID string, from, to time.Time) ([]model.Appointment, error)
}

// Tx is the transactional view used by the write path. Locks are held until the transaction ends.
type Tx interface {
	Reader
	// LockSchedule serializes bookings on one schedule.
	LockSchedule(ctx context.Context, tenantID, scheduleID string) (model.ScheduleConfig, error)
	// LockTenant serializes the monthly quota count for one tenant.
	LockTenant(ctx context.Context, tenantID string) (model.Tenant, error)
	GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error)
	// CountMonthly counts occupying appointments created in [from, to).
	CountMonthly(ctx context.Context, tenantID string, from, to time.Time) (int, error)
	InsertAppointment(ctx context.Context, a model.Appointment) error
	UpdateAppointment(ctx context.Context, a model.Appointment) error
	DeleteAppointment(ctx context.Context, tenantID, appointmentID string) error
	// AppendEvent writes the event to the outbox in the same transaction.
	AppendEvent(ctx context.Context, eventType string, p events.AppointmentPayload) error
	// LockIdempotencyKey returns the appointment id already recorded for key, if any.
	LockIdempotencyKey(ctx context.Context, tenantID, key string) (string, error)
	FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error
}

type Store interface {
	Reader
	// WithinTx commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

type ListFilter struct {
	TenantID   string
	ScheduleID string
	ClientID   string
	Status     model.Status
	From       time.Time
	To         time.Time
	Limit      int
}

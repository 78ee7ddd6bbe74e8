// Package booking runs the booking write path: slot lookup, conflict detection and the plan
// limit gate, all inside one store transaction that also records the outbox event.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/quota"
	"github.com/shopspring/decimal"
)

type Config struct {
	// QuotaLocation defines calendar month boundaries for the plan limit. Defaults to time.Local.
	QuotaLocation *time.Location
	// DefaultLocation is used for tenants without a configured time zone.
	DefaultLocation *time.Location
}

type Service struct {
	store  Store
	gate   *quota.Gate
	latch  quota.WarnLatch
	logger *slog.Logger
	cfg    Config
	now    func() time.Time
}

func NewService(store Store, gate *quota.Gate, latch quota.WarnLatch, logger *slog.Logger, cfg Config) *Service {
	if cfg.QuotaLocation == nil {
		cfg.QuotaLocation = time.Local
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.Local
	}
	if latch == nil {
		latch = quota.NewMemoryLatch()
	}
	return &Service{store: store, gate: gate, latch: latch, logger: logger, cfg: cfg, now: time.Now}
}

type SlotQuery struct {
	TenantID       string `json:"tenant_id" validate:"required,uuid"`
	ScheduleID     string `json:"schedule_id" validate:"required"`
	ServiceID      string `json:"service_id" validate:"required"`
	ProfessionalID string `json:"professional_id"`
	Date           string `json:"date" validate:"required,datetime=2006-01-02"`
}

// Slots lists the day's slots for the service, in the tenant's time zone. Slots in the past
// are reported unavailable.
func (s *Service) Slots(ctx context.Context, q SlotQuery) ([]availability.Slot, error) {
	if err := checkStruct(q); err != nil {
		return nil, err
	}
	tenant, err := s.store.GetTenant(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	loc := s.location(tenant)
	date, err := time.ParseInLocation("2006-01-02", q.Date, loc)
	if err != nil {
		return nil, invalid("date", "must match 2006-01-02")
	}
	sched, err := s.store.GetSchedule(ctx, q.TenantID, q.ScheduleID)
	if err != nil {
		return nil, err
	}
	svc, err := s.store.GetService(ctx, q.TenantID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if !svc.OffersOn(sched.ID) {
		return nil, invalid("service_id", "is not offered on this schedule")
	}

	from, to := date, date.AddDate(0, 0, 1)
	existing, err := s.store.ListOccupying(ctx, q.TenantID, sched.ID, from, to)
	if err != nil {
		return nil, err
	}
	professionalID := firstNonEmpty(q.ProfessionalID, sched.ProfessionalID)
	slots := availability.Generate(sched, date, s.duration(0, svc, sched), availability.BusyFrom(existing, professionalID))
	return availability.MarkPast(slots, s.now()), nil
}

type CreateRequest struct {
	TenantID        string           `json:"tenant_id" validate:"required,uuid"`
	ClientID        string           `json:"client_id" validate:"required"`
	ScheduleID      string           `json:"schedule_id" validate:"required"`
	ServiceID       string           `json:"service_id" validate:"required"`
	ProfessionalID  string           `json:"professional_id"`
	StartTime       time.Time        `json:"start_time"`
	DurationMinutes int              `json:"duration_minutes" validate:"gte=0,lte=1440"`
	Modality        string           `json:"modality" validate:"omitempty,oneof=in_person online home_visit"`
	Price           *decimal.Decimal `json:"price"`
	Notes           string           `json:"notes" validate:"max=2000"`
	IdempotencyKey  string           `json:"-" validate:"max=128"`
}

type Created struct {
	Appointment model.Appointment
	Client      model.Client
	Usage       quota.Usage
	// Replayed is set when an earlier request with the same idempotency key already booked.
	Replayed bool
}

// Create books an appointment. Validation, conflict and quota failures leave no state behind.
func (s *Service) Create(ctx context.Context, req CreateRequest) (Created, error) {
	if err := checkStruct(req); err != nil {
		return Created{}, err
	}
	now := s.now()
	if req.StartTime.IsZero() {
		return Created{}, invalid("start_time", "is required")
	}
	if req.StartTime.Before(now) {
		return Created{}, invalid("start_time", "must be in the future")
	}
	if req.Price != nil && req.Price.IsNegative() {
		return Created{}, invalid("price", "must not be negative")
	}

	var (
		out   Created
		tier  quota.Tier
		count int
	)
	monthStart, monthEnd := quota.MonthWindow(now, s.cfg.QuotaLocation)

	err := s.store.WithinTx(ctx, func(tx Tx) error {
		if req.IdempotencyKey != "" {
			prior, err := tx.LockIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey)
			if err != nil {
				return fmt.Errorf("lock idempotency key: %w", err)
			}
			if prior != "" {
				appt, err := tx.GetAppointment(ctx, req.TenantID, prior)
				if err != nil {
					return err
				}
				client, err := tx.GetClient(ctx, req.TenantID, appt.ClientID)
				if err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
				out = Created{Appointment: appt, Client: client, Replayed: true}
				return nil
			}
		}

		sched, err := tx.LockSchedule(ctx, req.TenantID, req.ScheduleID)
		if err != nil {
			return notFoundAs(err, "schedule_id")
		}
		tenant, err := tx.LockTenant(ctx, req.TenantID)
		if err != nil {
			return err
		}
		svc, err := tx.GetService(ctx, req.TenantID, req.ServiceID)
		if err != nil {
			return notFoundAs(err, "service_id")
		}
		if !svc.OffersOn(sched.ID) {
			return invalid("service_id", "is not offered on this schedule")
		}
		client, err := tx.GetClient(ctx, req.TenantID, req.ClientID)
		if err != nil {
			return notFoundAs(err, "client_id")
		}
		professionalID := firstNonEmpty(req.ProfessionalID, sched.ProfessionalID)
		if professionalID != "" {
			if _, err := tx.GetProfessional(ctx, req.TenantID, professionalID); err != nil {
				return notFoundAs(err, "professional_id")
			}
		}

		cand := conflict.Candidate{
			ScheduleID:     sched.ID,
			ProfessionalID: professionalID,
			Start:          req.StartTime,
			Duration:       s.duration(req.DurationMinutes, svc, sched),
		}
		if err := s.checkSlot(ctx, tx, s.location(tenant), sched, cand); err != nil {
			return err
		}

		tier = quota.ParseTier(tenant.Tier)
		count, err = tx.CountMonthly(ctx, req.TenantID, monthStart, monthEnd)
		if err != nil {
			return fmt.Errorf("count monthly appointments: %w", err)
		}
		if !s.gate.CanCreate(tier, count) {
			return &QuotaError{Tier: tier, Count: count, Limit: s.gate.Limit(tier), Remaining: s.gate.Remaining(tier, count)}
		}

		price := svc.Price
		if req.Price != nil {
			price = *req.Price
		}
		appt := model.Appointment{
			ID:             uuid.NewString(),
			TenantID:       req.TenantID,
			ScheduleID:     sched.ID,
			ProfessionalID: professionalID,
			ClientID:       client.ID,
			ServiceID:      svc.ID,
			Start:          cand.Start,
			Duration:       cand.Duration,
			Status:         model.StatusScheduled,
			Modality:       req.Modality,
			Price:          price,
			Notes:          req.Notes,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, events.AppointmentCreated, appt, nil); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, req.TenantID, req.IdempotencyKey, appt.ID); err != nil {
				return fmt.Errorf("finalize idempotency key: %w", err)
			}
		}
		out = Created{Appointment: appt, Client: client}
		return nil
	})
	if err != nil {
		return Created{}, err
	}
	if out.Replayed {
		return out, nil
	}

	count++
	out.Usage = s.gate.Usage(tier, count)
	out.Usage.Warning = false
	if s.gate.ShouldWarn(tier, count) {
		fired, err := s.latch.Acquire(ctx, req.TenantID, monthStart, tier)
		if err != nil {
			s.logger.Warn("quota warn latch failed", "tenant_id", req.TenantID, "err", err)
		} else if fired {
			out.Usage.Warning = true
			s.logger.Info("tenant approaching monthly appointment limit",
				"tenant_id", req.TenantID, "tier", tier, "count", count, "limit", out.Usage.Limit)
		}
	}
	return out, nil
}

// UpdateStatus sets any status. Reactivating a cancelled or no-show booking re-runs the
// conflict check and the plan limit gate.
func (s *Service) UpdateStatus(ctx context.Context, tenantID, appointmentID, rawStatus string) (model.Appointment, error) {
	status, err := model.ParseStatus(rawStatus)
	if err != nil {
		return model.Appointment{}, invalid("status", err.Error())
	}

	var out model.Appointment
	err = s.store.WithinTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}
		if appt.Status == status {
			out = appt
			return nil
		}
		if !appt.Occupies() && status.OccupiesTime() {
			if _, err := tx.LockSchedule(ctx, tenantID, appt.ScheduleID); err != nil {
				return err
			}
			existing, err := tx.ListOccupying(ctx, tenantID, appt.ScheduleID, appt.Start, appt.End())
			if err != nil {
				return err
			}
			cand := conflict.Candidate{ScheduleID: appt.ScheduleID, ProfessionalID: appt.ProfessionalID, Start: appt.Start, Duration: appt.Duration, ExcludeID: appt.ID}
			if hit, ok := conflict.FindConflict(cand, existing); ok {
				return &ConflictError{AppointmentID: hit.ID, Start: hit.Start, End: hit.End()}
			}
			if err := s.checkReactivationQuota(ctx, tx, tenantID, appt); err != nil {
				return err
			}
		}

		previous := appt.Status
		appt.Status = status
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		eventType := events.AppointmentStatusChanged
		if status == model.StatusCancelled {
			eventType = events.AppointmentCancelled
		}
		if err := s.appendEvent(ctx, tx, eventType, appt, func(p *events.AppointmentPayload) {
			p.PreviousStatus = string(previous)
		}); err != nil {
			return err
		}
		out = appt
		return nil
	})
	return out, err
}

// checkReactivationQuota gates a booking coming back into the monthly count. It counts toward
// the month it was created in, so that month's usage is checked.
func (s *Service) checkReactivationQuota(ctx context.Context, tx Tx, tenantID string, appt model.Appointment) error {
	tenant, err := tx.LockTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	tier := quota.ParseTier(tenant.Tier)
	from, to := quota.MonthWindow(appt.CreatedAt, s.cfg.QuotaLocation)
	count, err := tx.CountMonthly(ctx, tenantID, from, to)
	if err != nil {
		return fmt.Errorf("count monthly appointments: %w", err)
	}
	if !s.gate.CanCreate(tier, count) {
		return &QuotaError{Tier: tier, Count: count, Limit: s.gate.Limit(tier), Remaining: s.gate.Remaining(tier, count)}
	}
	return nil
}

type RescheduleRequest struct {
	StartTime       time.Time `json:"start_time"`
	DurationMinutes int       `json:"duration_minutes" validate:"gte=0,lte=1440"`
}

// Reschedule moves an occupying appointment to another slot on the same schedule.
func (s *Service) Reschedule(ctx context.Context, tenantID, appointmentID string, req RescheduleRequest) (model.Appointment, error) {
	if err := checkStruct(req); err != nil {
		return model.Appointment{}, err
	}
	if req.StartTime.IsZero() {
		return model.Appointment{}, invalid("start_time", "is required")
	}
	if req.StartTime.Before(s.now()) {
		return model.Appointment{}, invalid("start_time", "must be in the future")
	}

	var out model.Appointment
	err := s.store.WithinTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}
		if !appt.Occupies() {
			return invalid("status", fmt.Sprintf("%s appointments cannot be rescheduled", appt.Status))
		}
		sched, err := tx.LockSchedule(ctx, tenantID, appt.ScheduleID)
		if err != nil {
			return err
		}
		tenant, err := tx.GetTenant(ctx, tenantID)
		if err != nil {
			return err
		}
		duration := appt.Duration
		if req.DurationMinutes > 0 {
			duration = time.Duration(req.DurationMinutes) * time.Minute
		}
		cand := conflict.Candidate{
			ScheduleID:     appt.ScheduleID,
			ProfessionalID: appt.ProfessionalID,
			Start:          req.StartTime,
			Duration:       duration,
			ExcludeID:      appt.ID,
		}
		if err := s.checkSlot(ctx, tx, s.location(tenant), sched, cand); err != nil {
			return err
		}

		previous := appt.Start
		appt.Start = cand.Start
		appt.Duration = cand.Duration
		appt.UpdatedAt = s.now()
		if err := tx.UpdateAppointment(ctx, appt); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, events.AppointmentRescheduled, appt, func(p *events.AppointmentPayload) {
			p.PreviousStart = previous
		}); err != nil {
			return err
		}
		out = appt
		return nil
	})
	return out, err
}

// Delete is the administrative hard delete. Regular cancellation goes through UpdateStatus.
func (s *Service) Delete(ctx context.Context, tenantID, appointmentID string) error {
	return s.store.WithinTx(ctx, func(tx Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, tenantID, appointmentID)
		if err != nil {
			return err
		}
		// Names are resolved before the row disappears.
		if err := s.appendEvent(ctx, tx, events.AppointmentDeleted, appt, nil); err != nil {
			return err
		}
		return tx.DeleteAppointment(ctx, tenantID, appointmentID)
	})
}

func (s *Service) Get(ctx context.Context, tenantID, appointmentID string) (model.Appointment, model.Client, error) {
	appt, err := s.store.GetAppointment(ctx, tenantID, appointmentID)
	if err != nil {
		return model.Appointment{}, model.Client{}, err
	}
	client, err := s.store.GetClient(ctx, tenantID, appt.ClientID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return model.Appointment{}, model.Client{}, err
	}
	return appt, client, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]model.Appointment, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", "unknown status")
	}
	return s.store.ListAppointments(ctx, f)
}

// checkSlot requires cand.Start to be a generated slot, then runs the conflict detector over
// the schedule's occupying bookings for that day.
func (s *Service) checkSlot(ctx context.Context, tx Tx, loc *time.Location, sched model.ScheduleConfig, cand conflict.Candidate) error {
	local := cand.Start.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	to := day.AddDate(0, 0, 1)
	if cand.End().After(to) {
		to = cand.End()
	}
	existing, err := tx.ListOccupying(ctx, sched.TenantID, sched.ID, day, to)
	if err != nil {
		return fmt.Errorf("list occupying appointments: %w", err)
	}

	slots := availability.Generate(sched, day, cand.Duration, nil)
	slot, ok := availability.Find(slots, cand.Start)
	if !ok {
		return invalid("start_time", "is not an available slot on this schedule")
	}
	if hit, ok := conflict.FindConflict(cand, existing); ok {
		return &ConflictError{AppointmentID: hit.ID, Start: hit.Start, End: hit.End()}
	}
	if !slot.Available {
		return &ConflictError{Start: slot.Start, End: slot.End, Reason: "schedule blocked"}
	}
	return nil
}

func (s *Service) appendEvent(ctx context.Context, tx Tx, eventType string, a model.Appointment, mutate func(*events.AppointmentPayload)) error {
	p := events.AppointmentPayload{
		AppointmentID:   a.ID,
		TenantID:        a.TenantID,
		ScheduleID:      a.ScheduleID,
		ServiceID:       a.ServiceID,
		ProfessionalID:  a.ProfessionalID,
		ClientID:        a.ClientID,
		StartTime:       a.Start,
		DurationMinutes: int(a.Duration / time.Minute),
		Status:          string(a.Status),
		OccurredAt:      s.now().UTC(),
	}
	if t, err := tx.GetTenant(ctx, a.TenantID); err == nil {
		p.BusinessName = t.Name
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if c, err := tx.GetClient(ctx, a.TenantID, a.ClientID); err == nil {
		p.ClientName, p.ClientPhone = c.Name, c.Phone
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if svc, err := tx.GetService(ctx, a.TenantID, a.ServiceID); err == nil {
		p.ServiceName = svc.Name
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if a.ProfessionalID != "" {
		if pr, err := tx.GetProfessional(ctx, a.TenantID, a.ProfessionalID); err == nil {
			p.ProfessionalName = pr.Name
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	if mutate != nil {
		mutate(&p)
	}
	if err := tx.AppendEvent(ctx, eventType, p); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}

func (s *Service) duration(minutes int, svc model.ServiceOffering, sched model.ScheduleConfig) time.Duration {
	switch {
	case minutes > 0:
		return time.Duration(minutes) * time.Minute
	case svc.Duration > 0:
		return svc.Duration
	default:
		return sched.SlotDuration
	}
}

func (s *Service) location(t model.Tenant) *time.Location {
	if t.Timezone != "" {
		if loc, err := time.LoadLocation(t.Timezone); err == nil {
			return loc
		}
		s.logger.Warn("invalid tenant time zone", "tenant_id", t.ID, "timezone", t.Timezone)
	}
	return s.cfg.DefaultLocation
}

func notFoundAs(err error, field string) error {
	if errors.Is(err, ErrNotFound) {
		return invalid(field, "does not exist")
	}
	return err
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

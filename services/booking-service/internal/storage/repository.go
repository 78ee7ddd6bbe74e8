package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/outbox"
	"github.com/shopspring/decimal"
)

const codeInvalidText = "22P02"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// BookingRepository implements booking.Store on PostgreSQL. Inside WithinTx the same type is
// bound to the transaction and satisfies booking.Tx.
type BookingRepository struct {
	pool   *db.Pool
	q      querier
	tx     pgx.Tx
	outbox *outbox.Repository
}

var (
	_ booking.Store = (*BookingRepository)(nil)
	_ booking.Tx    = (*BookingRepository)(nil)
)

func NewBookingRepository(pool *db.Pool, outboxRepo *outbox.Repository) *BookingRepository {
	return &BookingRepository{pool: pool, q: pool, outbox: outboxRepo}
}

func (r *BookingRepository) WithinTx(ctx context.Context, fn func(booking.Tx) error) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&BookingRepository{pool: r.pool, q: tx, tx: tx, outbox: r.outbox})
	})
}

func (r *BookingRepository) GetTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return r.tenant(ctx, tenantID, "")
}

func (r *BookingRepository) LockTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return r.tenant(ctx, tenantID, "FOR UPDATE")
}

func (r *BookingRepository) tenant(ctx context.Context, tenantID, lock string) (model.Tenant, error) {
	var t model.Tenant
	err := r.q.QueryRow(ctx, `
		SELECT id::text, name, tier, timezone
		FROM tenants
		WHERE id = $1
		`+lock, tenantID).Scan(&t.ID, &t.Name, &t.Tier, &t.Timezone)
	return t, mapErr(err)
}

func (r *BookingRepository) GetSchedule(ctx context.Context, tenantID, scheduleID string) (model.ScheduleConfig, error) {
	return r.schedule(ctx, tenantID, scheduleID, "")
}

func (r *BookingRepository) LockSchedule(ctx context.Context, tenantID, scheduleID string) (model.ScheduleConfig, error) {
	return r.schedule(ctx, tenantID, scheduleID, "FOR UPDATE")
}

func (r *BookingRepository) schedule(ctx context.Context, tenantID, scheduleID, lock string) (model.ScheduleConfig, error) {
	var (
		s                    model.ScheduleConfig
		days                 []int16
		start, end           int
		slotMin, bufferMin   int
		lunchStart, lunchEnd *int
		overrides            []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, COALESCE(professional_id::text, ''), working_days,
			start_minute, end_minute, slot_minutes, buffer_minutes, lunch_start, lunch_end, overrides
		FROM schedules
		WHERE id = $1 AND tenant_id = $2
		`+lock, scheduleID, tenantID).Scan(
		&s.ID,
		&s.TenantID,
		&s.Name,
		&s.ProfessionalID,
		&days,
		&start,
		&end,
		&slotMin,
		&bufferMin,
		&lunchStart,
		&lunchEnd,
		&overrides,
	)
	if err != nil {
		return model.ScheduleConfig{}, mapErr(err)
	}
	for _, d := range days {
		s.WorkingDays = append(s.WorkingDays, time.Weekday(d))
	}
	s.Start, s.End = model.Clock(start), model.Clock(end)
	s.SlotDuration = time.Duration(slotMin) * time.Minute
	s.BufferTime = time.Duration(bufferMin) * time.Minute
	if lunchStart != nil && lunchEnd != nil {
		s.Lunch = &model.Window{Start: model.Clock(*lunchStart), End: model.Clock(*lunchEnd)}
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &s.Overrides); err != nil {
			return model.ScheduleConfig{}, fmt.Errorf("decode schedule overrides: %w", err)
		}
	}

	rows, err := r.q.Query(ctx, `
		SELECT starts_at, ends_at, reason
		FROM schedule_blocks
		WHERE schedule_id = $1
		ORDER BY starts_at ASC
	`, scheduleID)
	if err != nil {
		return model.ScheduleConfig{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b model.Block
		if err := rows.Scan(&b.Start, &b.End, &b.Reason); err != nil {
			return model.ScheduleConfig{}, err
		}
		s.Blocks = append(s.Blocks, b)
	}
	return s, rows.Err()
}

func (r *BookingRepository) GetService(ctx context.Context, tenantID, serviceID string) (model.ServiceOffering, error) {
	var (
		s     model.ServiceOffering
		mins  int
		price string
	)
	err := r.q.QueryRow(ctx, `
		SELECT s.id::text, s.tenant_id::text, s.name, s.duration_minutes, s.price::text,
			COALESCE(array_agg(ss.schedule_id::text) FILTER (WHERE ss.schedule_id IS NOT NULL), '{}')
		FROM services s
		LEFT JOIN service_schedules ss ON ss.service_id = s.id
		WHERE s.id = $1 AND s.tenant_id = $2
		GROUP BY s.id
	`, serviceID, tenantID).Scan(&s.ID, &s.TenantID, &s.Name, &mins, &price, &s.ScheduleIDs)
	if err != nil {
		return model.ServiceOffering{}, mapErr(err)
	}
	s.Duration = time.Duration(mins) * time.Minute
	s.Price, err = decimal.NewFromString(price)
	return s, err
}

func (r *BookingRepository) GetClient(ctx context.Context, tenantID, clientID string) (model.Client, error) {
	var c model.Client
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, phone, email
		FROM clients
		WHERE id = $1 AND tenant_id = $2
	`, clientID, tenantID).Scan(&c.ID, &c.TenantID, &c.Name, &c.Phone, &c.Email)
	return c, mapErr(err)
}

func (r *BookingRepository) GetProfessional(ctx context.Context, tenantID, professionalID string) (model.Professional, error) {
	var p model.Professional
	err := r.q.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name
		FROM professionals
		WHERE id = $1 AND tenant_id = $2
	`, professionalID, tenantID).Scan(&p.ID, &p.TenantID, &p.Name)
	return p, mapErr(err)
}

const appointmentColumns = `
	id::text, tenant_id::text, schedule_id::text, COALESCE(professional_id::text, ''), client_id::text,
	service_id::text, start_time, end_time, status, modality, price::text, notes, created_at, updated_at`

func (r *BookingRepository) GetAppointment(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(r.q.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1 AND tenant_id = $2`, appointmentID, tenantID))
}

func (r *BookingRepository) GetAppointmentForUpdate(ctx context.Context, tenantID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(r.q.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments WHERE id = $1 AND tenant_id = $2 FOR UPDATE`, appointmentID, tenantID))
}

func (r *BookingRepository) ListAppointments(ctx context.Context, f booking.ListFilter) ([]model.Appointment, error) {
	where := []string{"tenant_id = $1"}
	args := []any{f.TenantID}
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.ScheduleID != "" {
		add("schedule_id = $%d", f.ScheduleID)
	}
	if f.ClientID != "" {
		add("client_id = $%d", f.ClientID)
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("start_time >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("start_time < $%d", f.To)
	}
	args = append(args, f.Limit)

	rows, err := r.q.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+strings.Join(where, " AND ")+`
		ORDER BY start_time ASC
		LIMIT $`+fmt.Sprint(len(args)), args...)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) ListOccupying(ctx context.Context, tenantID, scheduleID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.q.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE tenant_id = $1
			AND schedule_id = $2
			AND status <> ALL($3)
			AND start_time < $5
			AND end_time > $4
		ORDER BY start_time ASC
	`, tenantID, scheduleID, nonOccupying(), from, to)
	if err != nil {
		return nil, mapErr(err)
	}
	return collectAppointments(rows)
}

func (r *BookingRepository) CountMonthly(ctx context.Context, tenantID string, from, to time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE tenant_id = $1
			AND status <> ALL($2)
			AND created_at >= $3
			AND created_at < $4
	`, tenantID, nonOccupying(), from, to).Scan(&n)
	return n, err
}

func (r *BookingRepository) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO appointments
			(id, tenant_id, schedule_id, professional_id, client_id, service_id, start_time, end_time,
			 status, modality, price, notes, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, '')::uuid, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14)
	`, a.ID, a.TenantID, a.ScheduleID, a.ProfessionalID, a.ClientID, a.ServiceID, a.Start, a.End(),
		string(a.Status), a.Modality, a.Price.String(), a.Notes, a.CreatedAt, a.UpdatedAt)
	return mapWriteErr(err, a)
}

func (r *BookingRepository) UpdateAppointment(ctx context.Context, a model.Appointment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3, end_time = $4, status = $5, updated_at = $6
		WHERE id = $1 AND tenant_id = $2
	`, a.ID, a.TenantID, a.Start, a.End(), string(a.Status), a.UpdatedAt)
	if err != nil {
		return mapWriteErr(err, a)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *BookingRepository) DeleteAppointment(ctx context.Context, tenantID, appointmentID string) error {
	tag, err := r.q.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND tenant_id = $2`, appointmentID, tenantID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrNotFound
	}
	return nil
}

func (r *BookingRepository) AppendEvent(ctx context.Context, eventType string, p events.AppointmentPayload) error {
	if r.tx == nil {
		return errors.New("append event outside transaction")
	}
	payload, err := p.Marshal()
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, r.tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   p.AppointmentID,
		EventType:     eventType,
		Payload:       payload,
	})
}

func (r *BookingRepository) LockIdempotencyKey(ctx context.Context, tenantID, key string) (string, error) {
	if _, err := r.q.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (tenant_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
	`, tenantID, key); err != nil {
		return "", err
	}
	var appointmentID string
	err := r.q.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE tenant_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, tenantID, key).Scan(&appointmentID)
	return appointmentID, err
}

func (r *BookingRepository) FinalizeIdempotencyKey(ctx context.Context, tenantID, key, appointmentID string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key, appointmentID)
	return err
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	a, err := scanAppointmentRow(row)
	return a, mapErr(err)
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var out []model.Appointment
	for rows.Next() {
		a, err := scanAppointmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAppointmentRow(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		end    time.Time
		status string
		price  string
	)
	if err := row.Scan(
		&a.ID,
		&a.TenantID,
		&a.ScheduleID,
		&a.ProfessionalID,
		&a.ClientID,
		&a.ServiceID,
		&a.Start,
		&end,
		&status,
		&a.Modality,
		&price,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return model.Appointment{}, err
	}
	a.Duration = end.Sub(a.Start)
	a.Status = model.Status(status)
	p, err := decimal.NewFromString(price)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("decode price %q: %w", price, err)
	}
	a.Price = p
	return a, nil
}

func nonOccupying() []string {
	var out []string
	for _, s := range model.NonOccupying() {
		out = append(out, string(s))
	}
	return out
}

// mapErr translates missing rows and malformed ids into booking.ErrNotFound.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err), db.HasCode(err, codeInvalidText):
		return booking.ErrNotFound
	default:
		return err
	}
}

// mapWriteErr turns the overlap exclusion constraint into a ConflictError. The constraint only
// covers bookings of the same professional (or two unassigned ones); an unassigned booking against
// an assigned one is kept apart by the schedule row lock alone.
func mapWriteErr(err error, a model.Appointment) error {
	if db.HasCode(err, db.CodeExclusionViolation) {
		return &booking.ConflictError{Start: a.Start, End: a.End(), Reason: "overlapping booking"}
	}
	return mapErr(err)
}

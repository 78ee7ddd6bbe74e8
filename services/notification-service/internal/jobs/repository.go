package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/apptcore/libs/db"
	otelx "github.com/md-rashed-zaman/apptcore/libs/otel"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// scheduleSQL inserts a job. A cancelled row under the same key is revived, so re-planning after
// a reactivation or a reschedule back to an earlier start takes effect. Pending and processed rows
// are left alone.
const scheduleSQL = `
	INSERT INTO notification_jobs (idempotency_key, tenant_id, appointment_id, event, run_at, payload, traceparent, tracestate)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (idempotency_key) DO UPDATE
	SET status = 'pending',
	    payload = EXCLUDED.payload,
	    traceparent = EXCLUDED.traceparent,
	    tracestate = EXCLUDED.tracestate,
	    updated_at = now()
	WHERE notification_jobs.status = 'cancelled'
`

// Schedule inserts jobs, reviving cancelled ones planned under the same idempotency key.
func (r *Repository) Schedule(ctx context.Context, jobs []Job) error {
	if len(jobs) == 0 {
		return nil
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		for _, job := range jobs {
			payload, err := json.Marshal(job.Payload)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, scheduleSQL, job.IdempotencyKey, job.TenantID, job.AppointmentID, string(job.Event), job.RunAt, payload, traceparent, tracestate); err != nil {
				return err
			}
		}
		return nil
	})
}

// CancelPending cancels the appointment's pending jobs for the given events, or all of them
// when none are named.
func (r *Repository) CancelPending(ctx context.Context, appointmentID string, only ...settings.Event) (int64, error) {
	names := make([]string, 0, len(only))
	for _, e := range only {
		names = append(names, string(e))
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1
		  AND status = 'pending'
		  AND (cardinality($2::text[]) = 0 OR event = ANY($2))
	`, appointmentID, names)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ClaimDue marks up to limit due jobs processed and returns them. Concurrent sweepers skip each
// other's rows. A claimed job is never handed out again.
func (r *Repository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	var claimed []Job
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, idempotency_key, tenant_id::text, appointment_id, event, run_at, payload, traceparent, tracestate
			FROM notification_jobs
			WHERE status = 'pending' AND run_at <= $1
			ORDER BY run_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		`, now, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		var ids []int64
		for rows.Next() {
			var (
				j     Job
				event string
				raw   []byte
			)
			if err := rows.Scan(&j.ID, &j.IdempotencyKey, &j.TenantID, &j.AppointmentID, &event, &j.RunAt, &raw, &j.Traceparent, &j.Tracestate); err != nil {
				return err
			}
			j.Event = settings.Event(event)
			if err := json.Unmarshal(raw, &j.Payload); err != nil {
				return err
			}
			claimed = append(claimed, j)
			ids = append(ids, j.ID)
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE notification_jobs
			SET status = 'processed', updated_at = now()
			WHERE id = ANY($1)
		`, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// DeleteFinishedBefore removes processed and cancelled jobs last touched before cutoff.
func (r *Repository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM notification_jobs
		WHERE status IN ('processed', 'cancelled') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

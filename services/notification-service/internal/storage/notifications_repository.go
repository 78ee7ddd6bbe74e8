package storage

import (
	"context"

	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/dispatch"
)

// NotificationLog stores one row per dispatch outcome.
type NotificationLog struct {
	pool *db.Pool
}

var _ dispatch.Recorder = (*NotificationLog)(nil)

func NewNotificationLog(pool *db.Pool) *NotificationLog {
	return &NotificationLog{pool: pool}
}

func (r *NotificationLog) Record(ctx context.Context, rec dispatch.Record) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_log (tenant_id, appointment_id, event, status, reason, recipient, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rec.TenantID, rec.AppointmentID, string(rec.Event), string(rec.Status), rec.Reason, rec.Recipient, rec.Message, rec.CreatedAt)
	return err
}

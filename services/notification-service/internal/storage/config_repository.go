package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/apptcore/libs/db"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

const codeInvalidText = "22P02"

type eventSettings struct {
	OnCreate     settings.EventSetting `json:"on_create"`
	OnCancel     settings.EventSetting `json:"on_cancel"`
	Confirmation settings.EventSetting `json:"confirmation"`
	Reminder     settings.EventSetting `json:"reminder"`
}

// ConfigRepository persists settings.Config rows, one per tenant.
type ConfigRepository struct {
	pool *db.Pool
}

func NewConfigRepository(pool *db.Pool) *ConfigRepository {
	return &ConfigRepository{pool: pool}
}

const configColumns = `tenant_id::text, enabled, connection_state, instance_name, phone_number, event_settings, updated_at`

// Load always hits the database; dispatch relies on seeing toggles immediately.
func (r *ConfigRepository) Load(ctx context.Context, tenantID string) (settings.Config, error) {
	return r.scanOne(ctx, `SELECT `+configColumns+` FROM notification_configs WHERE tenant_id = $1`, tenantID)
}

func (r *ConfigRepository) FindByInstance(ctx context.Context, instanceName string) (settings.Config, error) {
	return r.scanOne(ctx, `SELECT `+configColumns+` FROM notification_configs WHERE instance_name = $1 AND instance_name <> ''`, instanceName)
}

// Save upserts the tenant-editable part of cfg. Connection fields are owned by SetConnection and
// are only written when the row is new.
func (r *ConfigRepository) Save(ctx context.Context, cfg settings.Config) (settings.Config, error) {
	raw, err := encodeEventSettings(cfg)
	if err != nil {
		return settings.Config{}, err
	}
	return r.scanOne(ctx, `
		INSERT INTO notification_configs (tenant_id, enabled, connection_state, instance_name, phone_number, event_settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE
		SET enabled = EXCLUDED.enabled,
		    event_settings = EXCLUDED.event_settings,
		    updated_at = now()
		RETURNING `+configColumns,
		cfg.TenantID, cfg.Enabled, string(cfg.ConnectionState), cfg.InstanceName, cfg.PhoneNumber, raw)
}

// SetConnection records the gateway session of a tenant, creating a default row if needed.
func (r *ConfigRepository) SetConnection(ctx context.Context, tenantID string, state settings.ConnectionState, instanceName, phone string) error {
	raw, err := encodeEventSettings(settings.Default(tenantID))
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO notification_configs (tenant_id, connection_state, instance_name, phone_number, event_settings)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id) DO UPDATE
		SET connection_state = EXCLUDED.connection_state,
		    instance_name = EXCLUDED.instance_name,
		    phone_number = EXCLUDED.phone_number,
		    updated_at = now()
	`, tenantID, string(state), instanceName, phone, raw)
	if db.HasCode(err, codeInvalidText) {
		return fmt.Errorf("tenant %q: %w", tenantID, settings.ErrNotFound)
	}
	return err
}

// UpdateState changes only the connection state of the row owning instanceName.
func (r *ConfigRepository) UpdateState(ctx context.Context, instanceName string, state settings.ConnectionState) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE notification_configs
		SET connection_state = $2, updated_at = now()
		WHERE instance_name = $1 AND instance_name <> ''
	`, instanceName, string(state))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return settings.ErrNotFound
	}
	return nil
}

func (r *ConfigRepository) scanOne(ctx context.Context, sql string, args ...any) (settings.Config, error) {
	var (
		cfg   settings.Config
		state string
		raw   []byte
	)
	err := r.pool.QueryRow(ctx, sql, args...).Scan(
		&cfg.TenantID, &cfg.Enabled, &state, &cfg.InstanceName, &cfg.PhoneNumber, &raw, &cfg.UpdatedAt,
	)
	if err != nil {
		if db.IsNotFound(err) || db.HasCode(err, codeInvalidText) {
			return settings.Config{}, settings.ErrNotFound
		}
		return settings.Config{}, err
	}
	cfg.ConnectionState = settings.ConnectionState(state)
	if err := decodeEventSettings(raw, &cfg); err != nil {
		return settings.Config{}, fmt.Errorf("tenant %s: %w", cfg.TenantID, err)
	}
	return cfg, nil
}

func encodeEventSettings(cfg settings.Config) ([]byte, error) {
	return json.Marshal(eventSettings{
		OnCreate:     cfg.OnCreate,
		OnCancel:     cfg.OnCancel,
		Confirmation: cfg.Confirmation,
		Reminder:     cfg.Reminder,
	})
}

// decodeEventSettings fills the per-event settings of cfg. Events missing from raw keep the
// defaults, so rows written before an event existed stay usable.
func decodeEventSettings(raw []byte, cfg *settings.Config) error {
	def := settings.Default(cfg.TenantID)
	ev := eventSettings{
		OnCreate:     def.OnCreate,
		OnCancel:     def.OnCancel,
		Confirmation: def.Confirmation,
		Reminder:     def.Reminder,
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &ev); err != nil {
			return fmt.Errorf("decode event settings: %w", err)
		}
	}
	cfg.OnCreate = ev.OnCreate
	cfg.OnCancel = ev.OnCancel
	cfg.Confirmation = ev.Confirmation
	cfg.Reminder = ev.Reminder
	return nil
}

// Package handlers exposes the tenant notification settings and the gateway session lifecycle.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/apptcore/libs/httpx"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/gateway"
	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/settings"
)

type ConfigStore interface {
	Load(ctx context.Context, tenantID string) (settings.Config, error)
	Save(ctx context.Context, cfg settings.Config) (settings.Config, error)
	SetConnection(ctx context.Context, tenantID string, state settings.ConnectionState, instanceName, phone string) error
	UpdateState(ctx context.Context, instanceName string, state settings.ConnectionState) error
}

type Gateway interface {
	CreateInstance(ctx context.Context, tenantID, instanceName, phone string) (gateway.Data, error)
	QRCode(ctx context.Context, tenantID, instanceName string) (gateway.Data, error)
	ConnectionState(ctx context.Context, tenantID, instanceName string) (gateway.Data, error)
	DeleteInstance(ctx context.Context, tenantID, instanceName string) error
}

type SettingsHandler struct {
	store   ConfigStore
	gateway Gateway
	logger  *slog.Logger
}

func NewSettingsHandler(store ConfigStore, gw Gateway, logger *slog.Logger) *SettingsHandler {
	return &SettingsHandler{store: store, gateway: gw, logger: logger}
}

func (h *SettingsHandler) Register(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, httpx.RequireTenant(fn))
	}
	route("GET /api/v1/notifications/config", h.GetConfig)
	route("PUT /api/v1/notifications/config", h.PutConfig)
	route("POST /api/v1/notifications/gateway/connect", h.Connect)
	route("GET /api/v1/notifications/gateway/qrcode", h.QRCode)
	route("GET /api/v1/notifications/gateway/state", h.State)
	route("DELETE /api/v1/notifications/gateway", h.Disconnect)
	// Called by the gateway, which does not know tenants.
	mux.HandleFunc("POST "+gateway.WebhookPath, h.Webhook)
}

func (h *SettingsHandler) load(ctx context.Context, tenantID string) (settings.Config, error) {
	cfg, err := h.store.Load(ctx, tenantID)
	if errors.Is(err, settings.ErrNotFound) {
		return settings.Default(tenantID), nil
	}
	return cfg, err
}

func (h *SettingsHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.load(r.Context(), httpx.TenantIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cfg)
}

type configRequest struct {
	Enabled      bool                  `json:"enabled"`
	OnCreate     settings.EventSetting `json:"on_create"`
	OnCancel     settings.EventSetting `json:"on_cancel"`
	Confirmation settings.EventSetting `json:"confirmation"`
	Reminder     settings.EventSetting `json:"reminder"`
}

// PutConfig replaces the tenant-editable settings. The gateway session fields are kept.
func (h *SettingsHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var req configRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	cfg, err := h.load(r.Context(), httpx.TenantIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cfg.Enabled = req.Enabled
	cfg.OnCreate = req.OnCreate
	cfg.OnCancel = req.OnCancel
	cfg.Confirmation = req.Confirmation
	cfg.Reminder = req.Reminder
	if err := cfg.Validate(); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	saved, err := h.store.Save(r.Context(), cfg)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, saved)
}

type connectRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type sessionResponse struct {
	InstanceName    string                   `json:"instance_name"`
	ConnectionState settings.ConnectionState `json:"connection_state"`
	GatewayState    string                   `json:"gateway_state,omitempty"`
	QRCode          string                   `json:"qr_code,omitempty"`
}

// Connect provisions the tenant's gateway instance. The session stays disconnected until the
// QR code is scanned and the gateway reports back.
func (h *SettingsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
			return
		}
	}
	tenantID := httpx.TenantIDFromContext(r.Context())
	instance := settings.InstanceNameFor(tenantID)

	data, err := h.gateway.CreateInstance(r.Context(), tenantID, instance, req.PhoneNumber)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	if data.InstanceName != "" {
		instance = data.InstanceName
	}
	state := settings.ParseConnectionState(data.State)
	if err := h.store.SetConnection(r.Context(), tenantID, state, instance, strings.TrimSpace(req.PhoneNumber)); err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, sessionResponse{
		InstanceName:    instance,
		ConnectionState: state,
		GatewayState:    data.State,
		QRCode:          data.QRCode,
	})
}

func (h *SettingsHandler) QRCode(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.gateway.QRCode(r.Context(), cfg.TenantID, cfg.InstanceName)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		InstanceName:    cfg.InstanceName,
		ConnectionState: cfg.ConnectionState,
		QRCode:          data.QRCode,
	})
}

// State asks the gateway for the live session state and stores it.
func (h *SettingsHandler) State(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.session(w, r)
	if !ok {
		return
	}
	data, err := h.gateway.ConnectionState(r.Context(), cfg.TenantID, cfg.InstanceName)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	state := settings.ParseConnectionState(data.State)
	if state != cfg.ConnectionState {
		if err := h.store.SetConnection(r.Context(), cfg.TenantID, state, cfg.InstanceName, cfg.PhoneNumber); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{
		InstanceName:    cfg.InstanceName,
		ConnectionState: state,
		GatewayState:    data.State,
	})
}

func (h *SettingsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	cfg, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := h.gateway.DeleteInstance(r.Context(), cfg.TenantID, cfg.InstanceName); err != nil {
		h.writeGatewayError(w, r, err)
		return
	}
	if err := h.store.SetConnection(r.Context(), cfg.TenantID, settings.Disconnected, "", ""); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webhookRequest struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		InstanceName string `json:"instanceName"`
		State        string `json:"state"`
	} `json:"data"`
}

// Webhook receives connection updates from the gateway. Unknown fields are tolerated.
func (h *SettingsHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var req webhookRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	instance := req.Instance
	if instance == "" {
		instance = req.Data.InstanceName
	}
	if instance == "" || req.Data.State == "" {
		// Not a connection update; acknowledge so the gateway does not retry.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	state := settings.ParseConnectionState(req.Data.State)
	if err := h.store.UpdateState(r.Context(), instance, state); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("gateway connection updated", "instance", instance, "state", string(state), "event", req.Event)
	w.WriteHeader(http.StatusNoContent)
}

// session loads the tenant config and requires a provisioned instance.
func (h *SettingsHandler) session(w http.ResponseWriter, r *http.Request) (settings.Config, bool) {
	cfg, err := h.load(r.Context(), httpx.TenantIDFromContext(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return settings.Config{}, false
	}
	if cfg.InstanceName == "" {
		httpx.WriteError(w, http.StatusConflict, "GATEWAY_NOT_PROVISIONED", "connect the messaging gateway first", nil)
		return settings.Config{}, false
	}
	return cfg, true
}

func (h *SettingsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, settings.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
		return
	}
	h.logger.Error("notification request failed",
		"request_id", httpx.RequestIDFromContext(r.Context()),
		"path", r.URL.Path,
		"err", err,
	)
	httpx.WriteError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}

func (h *SettingsHandler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotConfigured):
		h.logger.Error("gateway request failed", "reason", "not_configured", "path", r.URL.Path)
		httpx.WriteError(w, http.StatusServiceUnavailable, "GATEWAY_NOT_CONFIGURED", "messaging gateway is not configured", nil)
	case errors.Is(err, gateway.ErrInvalidPhone):
		httpx.WriteError(w, http.StatusBadRequest, "VALIDATION_ERROR", "request validation failed", map[string]any{"phone_number": err.Error()})
	default:
		h.logger.Error("gateway request failed", "reason", "transport", "path", r.URL.Path, "err", err)
		httpx.WriteError(w, http.StatusBadGateway, "GATEWAY_ERROR", "messaging gateway request failed", nil)
	}
}

// Package gateway talks to the external messaging gateway that owns the tenants' WhatsApp
// sessions. Every call is a POST of one action envelope to the configured base URL.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	ActionCreateInstance     = "createInstance"
	ActionGetQRCode          = "getQRCode"
	ActionGetConnectionState = "getConnectionState"
	ActionSendMessage        = "sendMessage"
	ActionDeleteInstance     = "deleteInstance"
)

// WebhookPath is where the gateway reports connection changes back to us.
const WebhookPath = "/api/v1/notifications/gateway/webhook"

var (
	// ErrNotConfigured means no gateway URL was set. It is never retried.
	ErrNotConfigured = errors.New("messaging gateway not configured")
	// ErrRejected means the gateway answered with success=false.
	ErrRejected = errors.New("messaging gateway rejected request")
)

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Action string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Action, e.Code, e.Body)
}

type Config struct {
	BaseURL            string
	PublicBaseURL      string
	Timeout            time.Duration
	ProvisionTimeout   time.Duration
	MaxAttempts        int
	BaseDelay          time.Duration
	DefaultCountryCode string
}

type Payload struct {
	InstanceName string `json:"instanceName,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
	WebhookURL   string `json:"webhookUrl,omitempty"`
	Message      string `json:"message,omitempty"`
	Number       string `json:"number,omitempty"`
}

type Envelope struct {
	Action   string  `json:"action"`
	TenantID string  `json:"tenantId"`
	Payload  Payload `json:"payload"`
}

type Data struct {
	InstanceName string `json:"instanceName,omitempty"`
	QRCode       string `json:"qrCode,omitempty"`
	State        string `json:"state,omitempty"`
	PhoneNumber  string `json:"phoneNumber,omitempty"`
}

type Response struct {
	Success bool   `json:"success"`
	Data    *Data  `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ProvisionTimeout <= 0 {
		cfg.ProvisionTimeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = "55"
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{},
		logger: logger,
		sleep:  sleepContext,
	}
}

func (c *Client) Configured() bool {
	return c.cfg.BaseURL != ""
}

// Send delivers message to recipient through the tenant's instance. Transport failures, non-2xx
// answers and rejections are retried up to MaxAttempts, waiting BaseDelay*2^(n-1) before
// attempt n+1. The outcome is logged; callers only learn whether delivery happened.
func (c *Client) Send(ctx context.Context, tenantID, instanceID, recipient, message string) bool {
	log := c.logger.With("tenant_id", tenantID, "instance", instanceID)
	number, err := NormalizePhone(recipient, c.cfg.DefaultCountryCode)
	if err != nil {
		log.Error("gateway send skipped", "reason", "invalid_recipient", "err", err)
		return false
	}
	env := Envelope{
		Action:   ActionSendMessage,
		TenantID: tenantID,
		Payload:  Payload{InstanceName: instanceID, Number: number, Message: message},
	}

	for attempt := 1; ; attempt++ {
		_, err := c.call(ctx, c.cfg.Timeout, env)
		if err == nil {
			if attempt > 1 {
				log.Info("gateway send succeeded after retry", "attempt", attempt)
			}
			return true
		}
		if errors.Is(err, ErrNotConfigured) {
			log.Error("gateway send failed", "reason", "not_configured")
			return false
		}
		if attempt >= c.cfg.MaxAttempts {
			log.Error("gateway send failed", "reason", "exhausted", "attempts", attempt, "err", err)
			return false
		}
		delay := c.cfg.BaseDelay << (attempt - 1)
		log.Warn("gateway send attempt failed", "reason", "transport", "attempt", attempt, "retry_in", delay.String(), "err", err)
		if err := c.sleep(ctx, delay); err != nil {
			log.Error("gateway send aborted", "reason", "shutdown", "attempt", attempt, "err", err)
			return false
		}
	}
}

// CreateInstance provisions a gateway session for the tenant and registers the webhook. It is a
// single call bounded by ProvisionTimeout.
func (c *Client) CreateInstance(ctx context.Context, tenantID, instanceName, phone string) (Data, error) {
	payload := Payload{InstanceName: instanceName}
	if strings.TrimSpace(phone) != "" {
		number, err := NormalizePhone(phone, c.cfg.DefaultCountryCode)
		if err != nil {
			return Data{}, err
		}
		payload.PhoneNumber = number
	}
	if base := strings.TrimRight(strings.TrimSpace(c.cfg.PublicBaseURL), "/"); base != "" {
		payload.WebhookURL = base + WebhookPath
	}
	return c.call(ctx, c.cfg.ProvisionTimeout, Envelope{Action: ActionCreateInstance, TenantID: tenantID, Payload: payload})
}

func (c *Client) QRCode(ctx context.Context, tenantID, instanceName string) (Data, error) {
	return c.call(ctx, c.cfg.Timeout, Envelope{Action: ActionGetQRCode, TenantID: tenantID, Payload: Payload{InstanceName: instanceName}})
}

func (c *Client) ConnectionState(ctx context.Context, tenantID, instanceName string) (Data, error) {
	return c.call(ctx, c.cfg.Timeout, Envelope{Action: ActionGetConnectionState, TenantID: tenantID, Payload: Payload{InstanceName: instanceName}})
}

func (c *Client) DeleteInstance(ctx context.Context, tenantID, instanceName string) error {
	_, err := c.call(ctx, c.cfg.Timeout, Envelope{Action: ActionDeleteInstance, TenantID: tenantID, Payload: Payload{InstanceName: instanceName}})
	return err
}

func (c *Client) call(ctx context.Context, timeout time.Duration, env Envelope) (Data, error) {
	if c.cfg.BaseURL == "" {
		return Data{}, ErrNotConfigured
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return Data{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return Data{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Data{}, fmt.Errorf("gateway %s: %w", env.Action, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Data{}, fmt.Errorf("gateway %s: read body: %w", env.Action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Data{}, &StatusError{Action: env.Action, Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out Response
	if err := json.Unmarshal(body, &out); err != nil {
		return Data{}, fmt.Errorf("gateway %s: decode response: %w", env.Action, err)
	}
	if !out.Success {
		return Data{}, fmt.Errorf("%w: %s: %s", ErrRejected, env.Action, out.Error)
	}
	if out.Data == nil {
		return Data{}, nil
	}
	return *out.Data, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

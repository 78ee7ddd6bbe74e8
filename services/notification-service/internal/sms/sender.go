// Package sms holds the message senders that bypass the messaging gateway.
package sms

import (
	"context"
	"log/slog"
)

// NoopSender accepts every message without delivering it. Useful for local stacks.
type NoopSender struct {
	logger *slog.Logger
}

func NewNoopSender(logger *slog.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) Send(_ context.Context, tenantID, instanceID, recipient, message string) bool {
	s.logger.Debug("noop send", "tenant_id", tenantID, "instance", instanceID, "recipient", recipient, "chars", len(message))
	return true
}

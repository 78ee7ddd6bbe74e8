package sms

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/md-rashed-zaman/apptcore/services/notification-service/internal/gateway"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type TwilioConfig struct {
	AccountSID         string
	AuthToken          string
	From               string
	DefaultCountryCode string
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender delivers WhatsApp messages through the Twilio REST API. One account serves every
// tenant, so the gateway instance id is ignored.
type TwilioSender struct {
	api         messageCreator
	from        string
	countryCode string
	logger      *slog.Logger
}

func NewTwilioSender(cfg TwilioConfig, logger *slog.Logger) (*TwilioSender, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.From == "" {
		return nil, errors.New("twilio sender requires account sid, auth token and from number")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioSender(client.Api, cfg, logger), nil
}

func newTwilioSender(api messageCreator, cfg TwilioConfig, logger *slog.Logger) *TwilioSender {
	if cfg.DefaultCountryCode == "" {
		cfg.DefaultCountryCode = "55"
	}
	return &TwilioSender{
		api:         api,
		from:        whatsappAddress(cfg.From),
		countryCode: cfg.DefaultCountryCode,
		logger:      logger,
	}
}

func (s *TwilioSender) Send(_ context.Context, tenantID, _, recipient, message string) bool {
	number, err := gateway.NormalizePhone(recipient, s.countryCode)
	if err != nil {
		s.logger.Error("twilio send skipped", "tenant_id", tenantID, "reason", "invalid_recipient", "err", err)
		return false
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(number))
	params.SetFrom(s.from)
	params.SetBody(message)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		s.logger.Error("twilio send failed", "tenant_id", tenantID, "reason", "transport", "err", err)
		return false
	}
	if resp != nil && resp.Sid != nil {
		s.logger.Info("twilio message queued", "tenant_id", tenantID, "sid", *resp.Sid)
	}
	return true
}

func whatsappAddress(number string) string {
	number = strings.TrimPrefix(strings.TrimSpace(number), "whatsapp:")
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return "whatsapp:" + number
}

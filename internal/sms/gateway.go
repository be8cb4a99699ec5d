// Package sms sends patient-facing text messages. Delivery is best-effort:
// a failed send is logged and dropped, never surfaced to the caller, so a
// provider outage cannot block registrations or checkouts.
package sms

import (
	"context"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.uber.org/zap"

	"github.com/surgicare/clinicflow/pkg/circuitbreaker"
)

// Config holds Twilio credentials and the sender number.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// CountryCode is prefixed to bare 10-digit mobile numbers.
	CountryCode string
}

// Gateway sends SMS through Twilio behind a circuit breaker.
type Gateway struct {
	client  *twilio.RestClient
	config  Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewGateway creates the Twilio-backed gateway.
func NewGateway(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "+91"
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &Gateway{
		client:  client,
		config:  cfg,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig("twilio-sms"), logger),
		logger:  logger,
	}
}

// AppointmentConfirmed notifies a patient their appointment is booked.
func (g *Gateway) AppointmentConfirmed(ctx context.Context, patientName, mobile, date string, token int, doctorName string) {
	body := fmt.Sprintf(
		"Dear %s, your appointment with Dr. %s on %s is confirmed. Your token number is %d. Please arrive 15 minutes early.",
		patientName, doctorName, date, token)
	g.send(ctx, mobile, body)
}

// WalkInRegistered notifies a walk-in patient of their token.
func (g *Gateway) WalkInRegistered(ctx context.Context, patientName, mobile string, token int, doctorName string) {
	body := fmt.Sprintf(
		"Dear %s, you are registered with Dr. %s. Your token number is %d.",
		patientName, doctorName, token)
	g.send(ctx, mobile, body)
}

// ThankYou is sent when a visit completes.
func (g *Gateway) ThankYou(ctx context.Context, patientName, mobile string) {
	body := fmt.Sprintf(
		"Dear %s, thank you for visiting. Wishing you a speedy recovery. Get well soon!",
		patientName)
	g.send(ctx, mobile, body)
}

// FollowUpReminder is sent the day a follow-up falls due.
func (g *Gateway) FollowUpReminder(ctx context.Context, patientName, mobile, doctorName string) {
	body := fmt.Sprintf(
		"Dear %s, this is a reminder that your follow-up with Dr. %s is due today. Please visit the clinic.",
		patientName, doctorName)
	g.send(ctx, mobile, body)
}

func (g *Gateway) send(ctx context.Context, mobile, body string) {
	to := g.formatNumber(mobile)
	if to == "" {
		return
	}

	params := &twilioapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(g.config.FromNumber)
	params.SetBody(body)

	_, err := g.breaker.Execute(ctx, func() (interface{}, error) {
		return g.client.Api.CreateMessage(params)
	})
	if err != nil {
		g.logger.Warn("sms send failed",
			zap.String("to", to),
			zap.Error(err))
		return
	}

	g.logger.Debug("sms sent", zap.String("to", to))
}

// formatNumber normalizes a stored mobile number to E.164. Numbers without
// a leading + get the configured country code.
func (g *Gateway) formatNumber(mobile string) string {
	mobile = strings.TrimSpace(mobile)
	if mobile == "" {
		return ""
	}
	if strings.HasPrefix(mobile, "+") {
		return mobile
	}
	return g.config.CountryCode + mobile
}

// Noop discards all messages. Used in development and tests.
type Noop struct{}

func (Noop) AppointmentConfirmed(context.Context, string, string, string, int, string) {}
func (Noop) WalkInRegistered(context.Context, string, string, int, string)            {}
func (Noop) ThankYou(context.Context, string, string)                                 {}
func (Noop) FollowUpReminder(context.Context, string, string, string)                 {}

// Package alerting wraps the Twilio API for caregiver SMS delivery.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/Karuna-AI/karuna-proactive/internal/models"
)

// Opts holds configuration options for the Twilio notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	Caregivers []string
}

// Option defines a configuration option for the Twilio notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID, overriding $TWILIO_ACCOUNT_SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token, overriding $TWILIO_AUTH_TOKEN.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending number, overriding $TWILIO_FROM_NUMBER.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// WithCaregivers sets the caregiver phone numbers alerts are sent to.
func WithCaregivers(numbers []string) Option {
	return func(o *Opts) { o.Caregivers = numbers }
}

// TwilioNotifier delivers caregiver alerts by SMS through the Twilio REST API.
type TwilioNotifier struct {
	client     *twilio.RestClient
	fromNumber string
	caregivers []string
}

// NewTwilioNotifier creates a Twilio-backed notifier. Credentials fall back
// to environment variables when not provided via options.
func NewTwilioNotifier(opts ...Option) (*TwilioNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("alerting: Twilio notifier config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "",
		"caregivers", len(cfg.Caregivers))

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if len(cfg.Caregivers) == 0 {
		return nil, fmt.Errorf("at least one caregiver number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioNotifier{
		client:     client,
		fromNumber: cfg.FromNumber,
		caregivers: cfg.Caregivers,
	}, nil
}

// NotifyCaregiver sends the alert message to every configured caregiver
// number. The first delivery failure is returned; earlier sends stand.
func (n *TwilioNotifier) NotifyCaregiver(ctx context.Context, alert models.CaregiverAlert) error {
	for _, to := range n.caregivers {
		params := &twilioApi.CreateMessageParams{}
		params.SetTo(to)
		params.SetFrom(n.fromNumber)
		params.SetBody(alert.Message)

		if _, err := n.client.Api.CreateMessage(params); err != nil {
			slog.Error("alerting: Twilio send failed", "to", to, "alert_id", alert.ID, "error", err)
			return fmt.Errorf("failed to send caregiver alert to %s: %w", to, err)
		}
		slog.Debug("alerting: Twilio alert sent", "to", to, "alert_id", alert.ID)
	}
	return nil
}

package notifications

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	api "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/cenkalti/backoff/v5"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
)

// messageAPI is the slice of the Twilio REST API used for SMS.
type messageAPI interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

// TwilioSender sends SMS through Twilio's Messages API.
type TwilioSender struct {
	api  messageAPI
	from string
}

// NewTwilioSender creates an SMS sender. Without complete credentials the
// sender is unconfigured and every Send reports core.ErrNotConfigured.
func NewTwilioSender(cfg config.TwilioConfig) *TwilioSender {
	if !cfg.Configured() {
		return &TwilioSender{}
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{api: client.Api, from: cfg.FromPhone}
}

// IsConfigured reports whether Twilio credentials were supplied.
func (s *TwilioSender) IsConfigured() bool {
	return s.api != nil
}

// Send sends body to the phone number to.
func (s *TwilioSender) Send(ctx context.Context, to, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("twilio: %w", core.ErrNotConfigured)
	}
	if to == "" {
		return core.ErrNoRecipient
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	params := &api.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(body)

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		// Client errors other than throttling will not succeed on retry.
		var twErr *twclient.TwilioRestError
		if errors.As(err, &twErr) && twErr.Status >= 400 && twErr.Status < 500 && twErr.Status != http.StatusTooManyRequests {
			return backoff.Permanent(fmt.Errorf("twilio: %w", err))
		}
		return fmt.Errorf("twilio: %w", err)
	}

	if resp != nil && resp.Sid != nil {
		logging.Debug("SMS queued: sid=%s to=%s", *resp.Sid, to)
	}
	return nil
}

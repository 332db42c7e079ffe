package email

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
)

// GmailSender sends mail as the token owner through the Gmail API.
type GmailSender struct {
	service *gmail.Service
	from    string
}

// NewGmailSender loads the OAuth token from cfg.TokenFile and builds a Gmail
// client. Extra options are applied last, so tests can point it elsewhere.
// Missing credentials yield an unconfigured sender rather than an error.
func NewGmailSender(ctx context.Context, cfg config.GmailConfig, from string, opts ...option.ClientOption) (*GmailSender, error) {
	if !cfg.Configured() {
		return &GmailSender{from: from}, nil
	}

	token, err := loadToken(cfg.TokenFile)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]option.ClientOption{option.WithHTTPClient(oauthConfig(cfg).Client(ctx, token))}, opts...)

	svc, err := gmail.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailSender{service: svc, from: from}, nil
}

// IsConfigured reports whether a Gmail client was built.
func (g *GmailSender) IsConfigured() bool {
	return g.service != nil
}

// Send sends a plain-text message to one recipient.
func (g *GmailSender) Send(ctx context.Context, to, subject, body string) error {
	if !g.IsConfigured() {
		return fmt.Errorf("gmail sender: %w", core.ErrNotConfigured)
	}
	if strings.TrimSpace(to) == "" {
		return core.ErrNoRecipient
	}

	// An empty From lets Gmail fill in the authenticated address.
	raw := buildMessage("", g.from, to, subject, body, time.Now())
	if g.from == "" {
		raw = []byte(strings.Replace(string(raw), "From: \r\n", "", 1))
	}

	msg := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}
	if _, err := g.service.Users.Messages.Send("me", msg).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}

// oauthConfig is the OAuth client used both to send and to authorize.
// Sending needs only the gmail.send scope.
func oauthConfig(cfg config.GmailConfig) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read gmail token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse gmail token %s: %w", path, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, fmt.Errorf("gmail token %s has no access or refresh token", path)
	}
	return &token, nil
}

// Package email delivers plain-text notification emails over SMTP or the
// Gmail API.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/evalite/evalite/internal/config"
	"github.com/evalite/evalite/internal/core"
)

// Sender delivers a single plain-text message.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
	IsConfigured() bool
}

// New builds the sender selected by cfg.Transport.
func New(ctx context.Context, cfg config.EmailConfig) (Sender, error) {
	switch cfg.Transport {
	case "gmail":
		return NewGmailSender(ctx, cfg.Gmail, cfg.SMTP.From)
	case "", "smtp":
		return NewSMTPSender(SMTPConfigFrom(cfg.SMTP)), nil
	default:
		return nil, fmt.Errorf("unknown email transport %q", cfg.Transport)
	}
}

// SMTPConfig configures the SMTP sender
type SMTPConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	FromEmail   string
	FromName    string
	UseTLS      bool // implicit TLS (usually port 465)
	UseStartTLS bool
	Timeout     time.Duration
}

// SMTPConfigFrom maps settings onto an SMTPConfig. SMTP_USE_TLS means
// STARTTLS except on port 465, which speaks TLS from the first byte.
func SMTPConfigFrom(s config.SMTPConfig) SMTPConfig {
	implicit := s.UseTLS && s.Port == 465
	return SMTPConfig{
		Host:        s.Host,
		Port:        s.Port,
		Username:    s.User,
		Password:    s.Password,
		FromEmail:   s.From,
		FromName:    "EVA-Lite",
		UseTLS:      implicit,
		UseStartTLS: s.UseTLS && !implicit,
		Timeout:     30 * time.Second,
	}
}

// SMTPSender handles email delivery over SMTP
type SMTPSender struct {
	config SMTPConfig
}

// NewSMTPSender creates a new SMTP sender
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{config: cfg}
}

// IsConfigured checks if the sender is properly configured
func (s *SMTPSender) IsConfigured() bool {
	return s.config.Host != "" && s.config.FromEmail != ""
}

// Send sends a plain-text message to one recipient.
func (s *SMTPSender) Send(ctx context.Context, to, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("smtp sender: %w", core.ErrNotConfigured)
	}
	if strings.TrimSpace(to) == "" {
		return core.ErrNoRecipient
	}

	msg := buildMessage(s.config.FromName, s.config.FromEmail, to, subject, body, time.Now())

	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))
	dialer := net.Dialer{Timeout: s.config.Timeout}

	var conn net.Conn
	var err error
	if s.config.UseTLS {
		tlsDialer := tls.Dialer{NetDialer: &dialer, Config: &tls.Config{ServerName: s.config.Host}}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Close()

	if s.config.UseStartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
				return fmt.Errorf("STARTTLS failed: %w", err)
			}
		}
	}

	if s.config.Username != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed for %s: %w", to, err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA command failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("failed to write email data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

// buildMessage renders an RFC 5322 plain-text message.
func buildMessage(fromName, from, to, subject, body string, at time.Time) []byte {
	var buf bytes.Buffer

	if fromName != "" {
		fmt.Fprintf(&buf, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), from)
	} else {
		fmt.Fprintf(&buf, "From: %s\r\n", from)
	}
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", at.Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("X-EVA-Lite-Type: notification\r\n")
	buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")

	// Normalize line endings for the wire.
	body = strings.ReplaceAll(body, "\r\n", "\n")
	buf.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	buf.WriteString("\r\n")

	return buf.Bytes()
}

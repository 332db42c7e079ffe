// Package config handles EVA-Lite configuration.
//
// Settings are resolved once at startup from defaults, an optional config
// file (.env or yaml), the environment, and CLI overrides, in that order of
// increasing precedence. The result is an immutable value passed by copy.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
)

// Version is reported by /health and the CLI.
const Version = "1.0.0"

// Settings holds all configuration
type Settings struct {
	Server        ServerConfig
	AI            AIConfig
	DatabaseURL   string
	Twilio        TwilioConfig
	Email         EmailConfig
	Notifications NotificationConfig
	Scheduler     SchedulerConfig
	CORS          CORSConfig
	Log           LogConfig

	// CheckInRateLimit is the number of check-ins allowed per user per
	// minute. Zero disables limiting.
	CheckInRateLimit int
	Debug            bool
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Host string
	Port int
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AIConfig selects and configures the analysis provider.
type AIConfig struct {
	Provider             core.Provider
	OpenAI               OpenAIConfig
	Gemini               GeminiConfig
	Timeout              time.Duration
	LocalAnalysisEnabled bool
}

// OpenAIConfig for the OpenAI chat completions API
type OpenAIConfig struct {
	APIKey      string
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float64
}

// GeminiConfig for the Gemini API
type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

// ProviderConfigured reports whether the selected provider has credentials.
func (a AIConfig) ProviderConfigured() bool {
	switch a.Provider {
	case core.ProviderOpenAI:
		return a.OpenAI.APIKey != ""
	case core.ProviderGemini:
		return a.Gemini.APIKey != ""
	}
	return false
}

// TwilioConfig for SMS delivery
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromPhone  string
}

// Configured reports whether all Twilio credentials are present.
func (t TwilioConfig) Configured() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.FromPhone != ""
}

// EmailConfig selects the email transport.
type EmailConfig struct {
	Transport string // "smtp" or "gmail"
	SMTP      SMTPConfig
	Gmail     GmailConfig
}

// SMTPConfig for SMTP delivery
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
	UseTLS   bool
}

// Configured reports whether SMTP can be used.
func (s SMTPConfig) Configured() bool {
	return s.Host != "" && s.From != ""
}

// GmailConfig for delivery through the Gmail API.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	TokenFile    string
}

// Configured reports whether Gmail credentials are present.
func (g GmailConfig) Configured() bool {
	return g.ClientID != "" && g.ClientSecret != "" && g.TokenFile != ""
}

// NotificationConfig controls delivery retries.
type NotificationConfig struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// SchedulerConfig controls follow-up delivery.
type SchedulerConfig struct {
	Timezone      string
	SweepInterval time.Duration
}

// Location resolves the configured timezone.
func (s SchedulerConfig) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// CORSConfig for the HTTP surface
type CORSConfig struct {
	Origins          []string
	AllowCredentials bool
}

// LogConfig for the process logger
type LogConfig struct {
	Level  logging.Level
	Format string
}

// Options control where settings are read from.
type Options struct {
	// File is an explicit config file. When empty, ./.env is read if present.
	File string
	// Overrides take precedence over every other source.
	Overrides map[string]interface{}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)

	v.SetDefault("ai_provider", string(core.ProviderOpenAI))
	v.SetDefault("openai_api_key", "")
	v.SetDefault("openai_model", "gpt-4o-mini")
	v.SetDefault("openai_base_url", "")
	v.SetDefault("openai_max_tokens", 500)
	v.SetDefault("openai_temperature", 0.5)
	v.SetDefault("gemini_api_key", "")
	v.SetDefault("gemini_model", "gemini-2.0-flash")
	v.SetDefault("gemini_base_url", "")
	v.SetDefault("ai_timeout", 30)
	v.SetDefault("local_analysis_enabled", false)

	v.SetDefault("database_url", "sqlite:///./eva_lite.db")

	v.SetDefault("twilio_account_sid", "")
	v.SetDefault("twilio_auth_token", "")
	v.SetDefault("twilio_from_phone", "")

	v.SetDefault("email_transport", "smtp")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_user", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("smtp_from", "")
	v.SetDefault("smtp_use_tls", true)
	v.SetDefault("google_client_id", "")
	v.SetDefault("google_client_secret", "")
	v.SetDefault("gmail_token_file", "")

	v.SetDefault("notification_retry_attempts", 3)
	v.SetDefault("notification_retry_delay", 1)

	v.SetDefault("scheduler_timezone", "UTC")
	v.SetDefault("followup_sweep_interval", 60)

	v.SetDefault("cors_origins", "*")
	v.SetDefault("cors_allow_credentials", true)
	v.SetDefault("checkin_rate_limit", 30)

	v.SetDefault("log_level", "INFO")
	v.SetDefault("log_format", "text")
	v.SetDefault("debug", false)
}

// Load resolves Settings and validates them.
func Load(opts Options) (Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	file := opts.File
	if file == "" {
		if _, err := os.Stat(".env"); err == nil {
			file = ".env"
		}
	}
	if file != "" {
		v.SetConfigFile(file)
		if isDotenv(file) {
			v.SetConfigType("env")
		}
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	for k, val := range opts.Overrides {
		v.Set(k, val)
	}

	s, err := fromViper(v)
	if err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func isDotenv(path string) bool {
	base := filepath.Base(path)
	return base == ".env" || strings.HasSuffix(base, ".env")
}

func fromViper(v *viper.Viper) (Settings, error) {
	level, err := logging.ParseLevel(v.GetString("log_level"))
	if err != nil {
		return Settings{}, err
	}

	return Settings{
		Server: ServerConfig{
			Host: v.GetString("host"),
			Port: v.GetInt("port"),
		},
		AI: AIConfig{
			Provider: core.Provider(strings.ToLower(strings.TrimSpace(v.GetString("ai_provider")))),
			OpenAI: OpenAIConfig{
				APIKey:      v.GetString("openai_api_key"),
				Model:       v.GetString("openai_model"),
				BaseURL:     v.GetString("openai_base_url"),
				MaxTokens:   v.GetInt("openai_max_tokens"),
				Temperature: v.GetFloat64("openai_temperature"),
			},
			Gemini: GeminiConfig{
				APIKey:  v.GetString("gemini_api_key"),
				Model:   v.GetString("gemini_model"),
				BaseURL: v.GetString("gemini_base_url"),
			},
			Timeout:              time.Duration(v.GetInt("ai_timeout")) * time.Second,
			LocalAnalysisEnabled: v.GetBool("local_analysis_enabled"),
		},
		DatabaseURL: v.GetString("database_url"),
		Twilio: TwilioConfig{
			AccountSID: v.GetString("twilio_account_sid"),
			AuthToken:  v.GetString("twilio_auth_token"),
			FromPhone:  v.GetString("twilio_from_phone"),
		},
		Email: EmailConfig{
			Transport: strings.ToLower(v.GetString("email_transport")),
			SMTP: SMTPConfig{
				Host:     v.GetString("smtp_host"),
				Port:     v.GetInt("smtp_port"),
				User:     v.GetString("smtp_user"),
				Password: v.GetString("smtp_password"),
				From:     firstNonEmpty(v.GetString("smtp_from"), v.GetString("smtp_user")),
				UseTLS:   v.GetBool("smtp_use_tls"),
			},
			Gmail: GmailConfig{
				ClientID:     v.GetString("google_client_id"),
				ClientSecret: v.GetString("google_client_secret"),
				TokenFile:    v.GetString("gmail_token_file"),
			},
		},
		Notifications: NotificationConfig{
			RetryAttempts: v.GetInt("notification_retry_attempts"),
			RetryDelay:    time.Duration(v.GetInt("notification_retry_delay")) * time.Second,
		},
		Scheduler: SchedulerConfig{
			Timezone:      v.GetString("scheduler_timezone"),
			SweepInterval: time.Duration(v.GetInt("followup_sweep_interval")) * time.Second,
		},
		CORS: CORSConfig{
			Origins:          splitList(v.GetString("cors_origins")),
			AllowCredentials: v.GetBool("cors_allow_credentials"),
		},
		Log: LogConfig{
			Level:  level,
			Format: strings.ToLower(v.GetString("log_format")),
		},
		CheckInRateLimit: v.GetInt("checkin_rate_limit"),
		Debug:            v.GetBool("debug"),
	}, nil
}

// Validate checks ranges and provider credentials.
func (s Settings) Validate() error {
	var errs []error

	switch s.AI.Provider {
	case core.ProviderOpenAI, core.ProviderGemini:
		if !s.AI.ProviderConfigured() && !s.AI.LocalAnalysisEnabled {
			errs = append(errs, fmt.Errorf("%s_API_KEY is required when AI_PROVIDER=%s and local analysis is disabled",
				strings.ToUpper(string(s.AI.Provider)), s.AI.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be openai or gemini, got %q", s.AI.Provider))
	}

	if s.AI.OpenAI.MaxTokens < 1 {
		errs = append(errs, errors.New("OPENAI_MAX_TOKENS must be positive"))
	}
	if s.AI.OpenAI.Temperature < 0 || s.AI.OpenAI.Temperature > 2 {
		errs = append(errs, errors.New("OPENAI_TEMPERATURE must be between 0 and 2"))
	}
	if s.AI.Timeout <= 0 {
		errs = append(errs, errors.New("AI_TIMEOUT must be positive"))
	}
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT out of range: %d", s.Server.Port))
	}
	if s.Email.SMTP.Port < 1 || s.Email.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT out of range: %d", s.Email.SMTP.Port))
	}
	if s.Email.Transport != "smtp" && s.Email.Transport != "gmail" {
		errs = append(errs, fmt.Errorf("EMAIL_TRANSPORT must be smtp or gmail, got %q", s.Email.Transport))
	}
	if n := s.Notifications.RetryAttempts; n < 1 || n > 10 {
		errs = append(errs, fmt.Errorf("NOTIFICATION_RETRY_ATTEMPTS must be 1-10, got %d", n))
	}
	if d := s.Notifications.RetryDelay; d < time.Second || d > time.Minute {
		errs = append(errs, fmt.Errorf("NOTIFICATION_RETRY_DELAY must be 1-60 seconds, got %s", d))
	}
	if s.Scheduler.SweepInterval <= 0 {
		errs = append(errs, errors.New("FOLLOWUP_SWEEP_INTERVAL must be positive"))
	}
	if _, err := time.LoadLocation(s.Scheduler.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("SCHEDULER_TIMEZONE: %w", err))
	}
	if s.CheckInRateLimit < 0 {
		errs = append(errs, errors.New("CHECKIN_RATE_LIMIT must not be negative"))
	}
	if s.Log.Format != "text" && s.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", s.Log.Format))
	}
	if s.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}

	return errors.Join(errs...)
}

// Warnings lists optional integrations that are disabled.
func (s Settings) Warnings() []string {
	var w []string
	if !s.AI.ProviderConfigured() {
		w = append(w, fmt.Sprintf("%s API key not set; every check-in uses local analysis", s.AI.Provider))
	}
	if !s.Twilio.Configured() {
		w = append(w, "Twilio not configured; SMS notifications disabled")
	}
	switch s.Email.Transport {
	case "gmail":
		if !s.Email.Gmail.Configured() {
			w = append(w, "Gmail not configured; email notifications disabled")
		}
	default:
		if !s.Email.SMTP.Configured() {
			w = append(w, "SMTP not configured; email notifications disabled")
		}
	}
	if s.Debug {
		w = append(w, "debug mode enabled")
	}
	return w
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

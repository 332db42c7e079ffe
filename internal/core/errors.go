// Package core defines the fundamental types and errors for EVA-Lite.
package core

import (
	"errors"
	"fmt"
)

// Core errors that can occur across the system
var (
	// Storage errors
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")
	ErrUserNotFound    = errors.New("user not found")

	// Analysis errors
	ErrAnalysisUnavailable   = errors.New("analysis unavailable")
	ErrProviderNotConfigured = errors.New("AI provider not configured")
	ErrInvalidPriority       = errors.New("invalid priority")

	// Notification errors
	ErrNotConfigured = errors.New("transport not configured")
	ErrNoRecipient   = errors.New("no recipient")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)

// ValidationError reports malformed input. It never reaches the analysis path.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrInvalidInput) match any ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// ProviderErrorKind classifies a failed provider call.
type ProviderErrorKind string

const (
	KindConfig   ProviderErrorKind = "config"
	KindAuth     ProviderErrorKind = "auth"
	KindQuota    ProviderErrorKind = "quota"
	KindTimeout  ProviderErrorKind = "timeout"
	KindNetwork  ProviderErrorKind = "network"
	KindUpstream ProviderErrorKind = "upstream"
	KindParse    ProviderErrorKind = "parse"
)

// ProviderError is any failure of an AI provider call, including a response
// that could not be parsed into an AnalysisResult.
type ProviderError struct {
	Provider Provider
	Kind     ProviderErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s error: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a ProviderError.
func NewProviderError(p Provider, kind ProviderErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: p, Kind: kind, Err: err}
}

// PersistenceError wraps a storage failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// NotificationError wraps a delivery failure on one channel.
type NotificationError struct {
	Channel string
	Err     error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("notification via %s: %v", e.Channel, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

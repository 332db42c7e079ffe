// Package core defines the fundamental types for EVA-Lite.
package core

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// PRIORITY - How urgently a check-in needs attention
// -----------------------------------------------------------------------------

// Priority is the urgency assigned to a check-in.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority parses a priority name, case-insensitively.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// -----------------------------------------------------------------------------
// PROVIDER / SOURCE - Where an analysis came from
// -----------------------------------------------------------------------------

// Provider identifies an external LLM provider.
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = ""
)

// Source records which path produced an analysis.
type Source string

const (
	SourceAI        Source = "ai"
	SourceHeuristic Source = "heuristic"
)

// -----------------------------------------------------------------------------
// ANALYSIS - The result of classifying one check-in
// -----------------------------------------------------------------------------

// Bounds on analysis fields.
const (
	MinMood         = -1.0
	MaxMood         = 1.0
	MaxFollowUpDays = 30
	MaxSuggestions  = 5
	MaxExplanation  = 500
)

// AnalysisResult is the classification of a single check-in.
// An emergency result always carries critical priority and no follow-up delay.
type AnalysisResult struct {
	Mood         float64  `json:"mood"`
	Priority     Priority `json:"priority"`
	Emergency    bool     `json:"emergency"`
	Suggestions  []string `json:"suggestions"`
	FollowUpDays int      `json:"follow_up_days"`
	Explanation  string   `json:"explanation"`
}

// Normalize clamps numeric fields into range, trims and de-duplicates
// suggestions, and enforces the emergency invariant. An unknown priority is
// left as is; Check rejects it.
func (a AnalysisResult) Normalize() AnalysisResult {
	out := a
	out.Mood = ClampMood(a.Mood)

	if out.FollowUpDays < 0 {
		out.FollowUpDays = 0
	}
	if out.FollowUpDays > MaxFollowUpDays {
		out.FollowUpDays = MaxFollowUpDays
	}

	out.Suggestions = make([]string, 0, len(a.Suggestions))
	seen := make(map[string]bool)
	for _, s := range a.Suggestions {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out.Suggestions = append(out.Suggestions, s)
		if len(out.Suggestions) == MaxSuggestions {
			break
		}
	}

	out.Explanation = strings.TrimSpace(a.Explanation)
	if r := []rune(out.Explanation); len(r) > MaxExplanation {
		out.Explanation = string(r[:MaxExplanation])
	}

	if out.Emergency {
		out.Priority = PriorityCritical
		out.FollowUpDays = 0
	}
	return out
}

// Check reports an analysis that cannot be used as is. Only the priority
// cannot be repaired by Normalize.
func (a AnalysisResult) Check() error {
	if !a.Priority.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPriority, a.Priority)
	}
	return nil
}

// ClampMood forces a mood score into [-1, 1]. NaN becomes 0.
func ClampMood(m float64) float64 {
	if math.IsNaN(m) {
		return 0
	}
	return math.Max(MinMood, math.Min(MaxMood, m))
}

// -----------------------------------------------------------------------------
// CHECK-IN - A free-text wellness report from a user
// -----------------------------------------------------------------------------

// CheckIn is a single wellness report. It is immutable once stored.
type CheckIn struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Text         string    `json:"text"`
	ContactPhone string    `json:"contact_phone,omitempty"`
	ContactEmail string    `json:"contact_email,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Contact returns the delivery channels attached to the check-in.
func (c CheckIn) Contact() Contact {
	return Contact{Phone: c.ContactPhone, Email: c.ContactEmail}
}

// Record is a stored check-in together with its analysis.
type Record struct {
	CheckIn
	Analysis AnalysisResult `json:"analysis"`
	Source   Source         `json:"source"`
	Provider Provider       `json:"provider,omitempty"`
}

// -----------------------------------------------------------------------------
// USER / CONTACT
// -----------------------------------------------------------------------------

// User is created on first check-in.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact holds optional delivery addresses.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Empty reports whether no channel is available.
func (c Contact) Empty() bool {
	return c.Phone == "" && c.Email == ""
}

// -----------------------------------------------------------------------------
// NOTIFICATION / FOLLOW-UP - Outbound messages about a check-in
// -----------------------------------------------------------------------------

// Channel is a delivery medium.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// NotificationKind says why a message was sent.
type NotificationKind string

const (
	KindEmergency   NotificationKind = "emergency"
	KindSuggestions NotificationKind = "suggestions"
	KindFollowUp    NotificationKind = "follow_up"
)

// DeliveryStatus is the result of one delivery attempt.
type DeliveryStatus string

const (
	StatusSent    DeliveryStatus = "sent"
	StatusFailed  DeliveryStatus = "failed"
	StatusSkipped DeliveryStatus = "skipped"
)

// Notification logs one delivery attempt on one channel.
type Notification struct {
	ID        string           `json:"id"`
	UserID    int64            `json:"user_id"`
	CheckInID int64            `json:"checkin_id,omitempty"`
	Kind      NotificationKind `json:"kind"`
	Channel   Channel          `json:"channel"`
	Recipient string           `json:"recipient"`
	Subject   string           `json:"subject,omitempty"`
	Body      string           `json:"body"`
	Status    DeliveryStatus   `json:"status"`
	Error     string           `json:"error,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// FollowUpStatus tracks a scheduled reminder.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpSent      FollowUpStatus = "sent"
	FollowUpFailed    FollowUpStatus = "failed"
	FollowUpCancelled FollowUpStatus = "cancelled"
)

// FollowUp is a reminder due at a future time.
type FollowUp struct {
	ID        string         `json:"id"`
	UserID    int64          `json:"user_id"`
	CheckInID int64          `json:"checkin_id,omitempty"`
	Phone     string         `json:"phone,omitempty"`
	Email     string         `json:"email,omitempty"`
	DueAt     time.Time      `json:"due_at"`
	Status    FollowUpStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	SentAt    *time.Time     `json:"sent_at,omitempty"`
}

// Contact returns the reminder's delivery channels.
func (f FollowUp) Contact() Contact {
	return Contact{Phone: f.Phone, Email: f.Email}
}

// Package notifications delivers check-in alerts, suggestions and follow-up
// reminders over SMS and email, and streams every delivery to live
// subscribers.
package notifications

import (
	"context"

	"github.com/evalite/evalite/internal/core"
)

// Event types pushed to subscribers
const (
	EventCheckInAnalyzed = "checkin.analyzed"
	EventNotification    = "notification"
)

// Event is a real-time message for subscribers
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Subscriber receives events in real-time
type Subscriber interface {
	Send(event Event) error
	ID() string
}

// SMSSender delivers a text message.
type SMSSender interface {
	Send(ctx context.Context, to, body string) error
	IsConfigured() bool
}

// EmailSender delivers a plain-text email.
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
	IsConfigured() bool
}

// Message texts
const (
	SubjectEmergency   = "EVA-Lite Emergency"
	SubjectSuggestions = "EVA-Lite suggestions"
	SubjectFollowUp    = "EVA-Lite follow-up"

	FollowUpBody = "Hi, it's a check-in reminder from EVA-Lite. How are you today?"
)

// message is one outbound text, sent on every channel of a contact.
type message struct {
	kind      core.NotificationKind
	userID    int64
	checkInID int64
	subject   string
	body      string
}

package notifications

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/logging"
	"github.com/evalite/evalite/internal/observability"
	"github.com/evalite/evalite/internal/storage"
)

// Config controls delivery behavior.
type Config struct {
	RetryAttempts   int
	RetryDelay      time.Duration
	DeliveryTimeout time.Duration // bound on one background Notify
	Metrics         *observability.Metrics
}

// Dispatcher sends notifications for analyzed check-ins and due follow-ups.
// Delivery failures are logged and recorded, never returned to the caller
// of Notify.
type Dispatcher struct {
	sms           SMSSender
	email         EmailSender
	notifications *storage.NotificationStore
	followUps     *storage.FollowUpStore
	cfg           Config

	subscribers map[string]Subscriber
	mu          sync.RWMutex

	wg     sync.WaitGroup
	closed bool
	now    func() time.Time
}

// NewDispatcher creates a dispatcher. sms and email may be unconfigured
// senders; their attempts are recorded as skipped.
func NewDispatcher(sms SMSSender, email EmailSender, notifications *storage.NotificationStore, followUps *storage.FollowUpStore, cfg Config) *Dispatcher {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 2 * time.Minute
	}
	return &Dispatcher{
		sms:           sms,
		email:         email,
		notifications: notifications,
		followUps:     followUps,
		cfg:           cfg,
		subscribers:   make(map[string]Subscriber),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe adds a subscriber for real-time events
func (d *Dispatcher) Subscribe(sub Subscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (d *Dispatcher) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subscribers, id)
}

// Publish sends an event to all subscribers.
func (d *Dispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sub := range d.subscribers {
		go func(subscriber Subscriber) {
			if err := subscriber.Send(event); err != nil {
				logging.Debug("subscriber %s dropped event %s: %v", subscriber.ID(), event.Type, err)
			}
		}(sub)
	}
}

// Notify handles rec in the background and returns immediately.
func (d *Dispatcher) Notify(rec core.Record) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logging.Warn("dispatcher closed, dropping notifications for check-in %d", rec.ID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
		defer cancel()
		d.Dispatch(ctx, rec)
	}()
}

// Close stops accepting work and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}

// Dispatch applies the notification policy to rec synchronously:
//   - emergency: alert on every channel and stop
//   - follow_up_days > 0: replace the user's pending follow-up
//   - suggestions: send them on every channel
func (d *Dispatcher) Dispatch(ctx context.Context, rec core.Record) {
	log := logging.WithFields(map[string]interface{}{
		"user_id":    rec.UserID,
		"checkin_id": rec.ID,
	})
	contact := rec.Contact()
	if contact.Empty() {
		log.Debug("no contact details, nothing to send")
		return
	}

	a := rec.Analysis
	if a.Emergency {
		log.Warn("emergency detected, alerting contacts")
		d.deliver(ctx, contact, message{
			kind:      core.KindEmergency,
			userID:    rec.UserID,
			checkInID: rec.ID,
			subject:   SubjectEmergency,
			body:      "EMERGENCY: " + a.Explanation,
		})
		return
	}

	if a.FollowUpDays > 0 {
		if err := d.scheduleFollowUp(ctx, rec); err != nil {
			log.WithError(err).Error("failed to schedule follow-up")
		}
	}

	if len(a.Suggestions) > 0 {
		d.deliver(ctx, contact, message{
			kind:      core.KindSuggestions,
			userID:    rec.UserID,
			checkInID: rec.ID,
			subject:   SubjectSuggestions,
			body:      SuggestionsBody(a.Suggestions),
		})
	}
}

// SuggestionsBody renders suggestions as a bulleted list.
func SuggestionsBody(suggestions []string) string {
	var sb strings.Builder
	sb.WriteString("EVA-Lite suggestions:")
	for _, s := range suggestions {
		sb.WriteString("\n- ")
		sb.WriteString(s)
	}
	return sb.String()
}

func (d *Dispatcher) scheduleFollowUp(ctx context.Context, rec core.Record) error {
	if n, err := d.followUps.CancelPending(ctx, rec.UserID); err != nil {
		return err
	} else if n > 0 {
		logging.Debug("cancelled %d pending follow-ups for user %d", n, rec.UserID)
	}

	f := &core.FollowUp{
		UserID:    rec.UserID,
		CheckInID: rec.ID,
		Phone:     rec.ContactPhone,
		Email:     rec.ContactEmail,
		DueAt:     d.now().Add(time.Duration(rec.Analysis.FollowUpDays) * 24 * time.Hour),
	}
	if err := d.followUps.Create(ctx, f); err != nil {
		return err
	}
	d.cfg.Metrics.RecordFollowUpScheduled()
	logging.Info("Scheduled follow-up for user %d in %d days", rec.UserID, rec.Analysis.FollowUpDays)
	return nil
}

// SendDueFollowUps delivers every pending follow-up due at or before now and
// returns how many were processed.
func (d *Dispatcher) SendDueFollowUps(ctx context.Context, now time.Time) (int, error) {
	due, err := d.followUps.Due(ctx, now, 0)
	if err != nil {
		return 0, err
	}

	for i, f := range due {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		logging.Info("Sending follow-up to user %d", f.UserID)
		sent := d.deliver(ctx, f.Contact(), message{
			kind:      core.KindFollowUp,
			userID:    f.UserID,
			checkInID: f.CheckInID,
			subject:   SubjectFollowUp,
			body:      FollowUpBody,
		})

		mark := d.followUps.MarkFailed
		if sent > 0 {
			mark = d.followUps.MarkSent
		}
		if err := mark(ctx, f.ID); err != nil && !errors.Is(err, core.ErrRecordNotFound) {
			logging.WithField("follow_up_id", f.ID).WithError(err).Error("failed to update follow-up")
		}
	}
	return len(due), nil
}

// deliver sends msg on every channel contact has and returns how many
// channels succeeded.
func (d *Dispatcher) deliver(ctx context.Context, contact core.Contact, msg message) int {
	sent := 0
	if contact.Phone != "" {
		err := d.retry(ctx, func() error { return d.sms.Send(ctx, contact.Phone, msg.body) })
		if d.record(ctx, msg, core.ChannelSMS, contact.Phone, err) {
			sent++
		}
	}
	if contact.Email != "" {
		err := d.retry(ctx, func() error { return d.email.Send(ctx, contact.Email, msg.subject, msg.body) })
		if d.record(ctx, msg, core.ChannelEmail, contact.Email, err) {
			sent++
		}
	}
	return sent
}

// retry runs send with exponential backoff. Unconfigured transports are not
// retried.
func (d *Dispatcher) retry(ctx context.Context, send func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.RetryDelay

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := send()
		if errors.Is(err, core.ErrNotConfigured) || errors.Is(err, core.ErrNoRecipient) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(d.cfg.RetryAttempts)))
	return err
}

// record logs, stores and broadcasts one delivery attempt. It reports
// whether the attempt succeeded.
func (d *Dispatcher) record(ctx context.Context, msg message, channel core.Channel, recipient string, err error) bool {
	n := &core.Notification{
		UserID:    msg.userID,
		CheckInID: msg.checkInID,
		Kind:      msg.kind,
		Channel:   channel,
		Recipient: recipient,
		Body:      msg.body,
		Status:    core.StatusSent,
	}
	if channel == core.ChannelEmail {
		n.Subject = msg.subject
	}

	log := logging.WithFields(map[string]interface{}{
		"user_id": msg.userID,
		"channel": string(channel),
		"kind":    string(msg.kind),
	})
	switch {
	case err == nil:
		log.Info("%s sent to %s", channel, recipient)
	case errors.Is(err, core.ErrNotConfigured):
		n.Status = core.StatusSkipped
		n.Error = err.Error()
		log.Warn("%s not configured, skipping %s", channel, msg.kind)
	default:
		n.Status = core.StatusFailed
		n.Error = (&core.NotificationError{Channel: string(channel), Err: err}).Error()
		log.WithError(err).Error("failed to send %s to %s", channel, recipient)
	}

	d.cfg.Metrics.RecordNotification(string(channel), string(msg.kind), string(n.Status))

	// The delivery already happened; store it even if the caller's deadline
	// has passed.
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.notifications.Save(saveCtx, n); err != nil {
		d.cfg.Metrics.RecordPersistenceError("save_notification")
		log.WithError(err).Error("failed to store notification")
	}

	d.Publish(Event{Type: EventNotification, Payload: *n})
	return n.Status == core.StatusSent
}

// String describes the transports in use, for startup logs.
func (d *Dispatcher) String() string {
	return fmt.Sprintf("sms=%v email=%v", d.sms.IsConfigured(), d.email.IsConfigured())
}

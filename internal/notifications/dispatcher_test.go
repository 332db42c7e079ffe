package notifications

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evalite/evalite/internal/core"
	"github.com/evalite/evalite/internal/storage"
	"github.com/evalite/evalite/internal/testutil"
)

type sentMessage struct {
	to, subject, body string
}

// fakeTransport implements both SMSSender and EmailSender.
type fakeTransport struct {
	mu         sync.Mutex
	configured bool
	failFirst  int   // fail this many calls before succeeding
	err        error // returned while failing; defaults to a transient error
	calls      int
	sent       []sentMessage
}

func (f *fakeTransport) IsConfigured() bool { return f.configured }

func (f *fakeTransport) send(to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if !f.configured {
		return core.ErrNotConfigured
	}
	if f.calls <= f.failFirst {
		if f.err != nil {
			return f.err
		}
		return errors.New("transient upstream error")
	}
	f.sent = append(f.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

type fakeSMS struct{ fakeTransport }

func (f *fakeSMS) Send(_ context.Context, to, body string) error { return f.send(to, "", body) }

type fakeEmail struct{ fakeTransport }

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	return f.send(to, subject, body)
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// mockSubscriber implements Subscriber for testing
type mockSubscriber struct {
	id     string
	mu     sync.Mutex
	events []Event
}

func (m *mockSubscriber) Send(e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *mockSubscriber) ID() string { return m.id }

func (m *mockSubscriber) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type testEnv struct {
	d             *Dispatcher
	sms           *fakeSMS
	email         *fakeEmail
	notifications *storage.NotificationStore
	followUps     *storage.FollowUpStore
	now           time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.TestDB(t)

	env := &testEnv{
		sms:           &fakeSMS{fakeTransport{configured: true}},
		email:         &fakeEmail{fakeTransport{configured: true}},
		notifications: storage.NewNotificationStore(db),
		followUps:     storage.NewFollowUpStore(db),
		now:           time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	env.d = NewDispatcher(env.sms, env.email, env.notifications, env.followUps, Config{
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
	})
	env.d.now = func() time.Time { return env.now }
	return env
}

func record(analysis core.AnalysisResult) core.Record {
	return core.Record{
		CheckIn: core.CheckIn{
			ID:           7,
			UserID:       1,
			Text:         "text",
			ContactPhone: "+15551234567",
			ContactEmail: "user@example.com",
		},
		Analysis: analysis,
		Source:   core.SourceHeuristic,
	}
}

func TestSuggestionsBody(t *testing.T) {
	got := SuggestionsBody([]string{"Take a walk", "Drink water"})
	assert.Equal(t, "EVA-Lite suggestions:\n- Take a walk\n- Drink water", got)
}

func TestDispatch_Emergency(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.d.Dispatch(ctx, record(core.AnalysisResult{
		Priority:    core.PriorityCritical,
		Emergency:   true,
		Suggestions: []string{"ignored"},
		Explanation: "Self-harm risk language detected.",
	}))

	sms := env.sms.messages()
	require.Len(t, sms, 1)
	assert.Equal(t, "+15551234567", sms[0].to)
	assert.Equal(t, "EMERGENCY: Self-harm risk language detected.", sms[0].body)

	mail := env.email.messages()
	require.Len(t, mail, 1)
	assert.Equal(t, SubjectEmergency, mail[0].subject)
	assert.Equal(t, "EMERGENCY: Self-harm risk language detected.", mail[0].body)

	due, err := env.followUps.Due(ctx, env.now.Add(365*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due, "emergencies never schedule follow-ups")

	logged, err := env.notifications.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, logged, 2)
	for _, n := range logged {
		assert.Equal(t, core.KindEmergency, n.Kind)
		assert.Equal(t, core.StatusSent, n.Status)
		assert.Equal(t, int64(7), n.CheckInID)
	}
}

func TestDispatch_SuggestionsAndFollowUp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.d.Dispatch(ctx, record(core.AnalysisResult{
		Priority:     core.PriorityMedium,
		Suggestions:  []string{"Take a walk"},
		FollowUpDays: 3,
	}))

	sms := env.sms.messages()
	require.Len(t, sms, 1)
	assert.Equal(t, "EVA-Lite suggestions:\n- Take a walk", sms[0].body)
	mail := env.email.messages()
	require.Len(t, mail, 1)
	assert.Equal(t, SubjectSuggestions, mail[0].subject)

	due, err := env.followUps.Due(ctx, env.now.Add(3*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].DueAt.Equal(env.now.Add(72*time.Hour)), "due at %v", due[0].DueAt)
	assert.Equal(t, "+15551234567", due[0].Phone)
	assert.Equal(t, "user@example.com", due[0].Email)
	assert.Equal(t, int64(7), due[0].CheckInID)

	early, err := env.followUps.Due(ctx, env.now.Add(71*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, early)
}

func TestDispatch_FollowUpReplacesPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.d.Dispatch(ctx, record(core.AnalysisResult{Priority: core.PriorityLow, FollowUpDays: 7}))
	env.d.Dispatch(ctx, record(core.AnalysisResult{Priority: core.PriorityHigh, FollowUpDays: 1}))

	due, err := env.followUps.Due(ctx, env.now.Add(30*24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.True(t, due[0].DueAt.Equal(env.now.Add(24*time.Hour)))
}

func TestDispatch_NoContact(t *testing.T) {
	env := newTestEnv(t)
	rec := record(core.AnalysisResult{Suggestions: []string{"x"}, FollowUpDays: 3})
	rec.ContactPhone, rec.ContactEmail = "", ""

	env.d.Dispatch(context.Background(), rec)

	assert.Zero(t, env.sms.callCount())
	assert.Zero(t, env.email.callCount())
	due, err := env.followUps.Due(context.Background(), env.now.Add(10*24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestDispatch_UnconfiguredChannelIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	env.sms.configured = false
	ctx := context.Background()

	env.d.Dispatch(ctx, record(core.AnalysisResult{Suggestions: []string{"Rest"}}))

	assert.Equal(t, 1, env.sms.callCount(), "unconfigured transports are not retried")
	assert.Len(t, env.email.messages(), 1)

	logged, err := env.notifications.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	statuses := map[core.Channel]core.DeliveryStatus{}
	for _, n := range logged {
		statuses[n.Channel] = n.Status
	}
	assert.Equal(t, core.StatusSkipped, statuses[core.ChannelSMS])
	assert.Equal(t, core.StatusSent, statuses[core.ChannelEmail])
}

func TestDispatch_RetriesTransientFailure(t *testing.T) {
	env := newTestEnv(t)
	env.email.failFirst = 2

	env.d.Dispatch(context.Background(), record(core.AnalysisResult{Suggestions: []string{"Rest"}}))

	assert.Equal(t, 3, env.email.callCount())
	assert.Len(t, env.email.messages(), 1)
}

func TestDispatch_GivesUpAfterRetryAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.sms.failFirst = 100
	ctx := context.Background()

	env.d.Dispatch(ctx, record(core.AnalysisResult{Suggestions: []string{"Rest"}}))

	assert.Equal(t, 3, env.sms.callCount())
	logged, err := env.notifications.ListByUser(ctx, 1, 10)
	require.NoError(t, err)
	var failed *core.Notification
	for i := range logged {
		if logged[i].Channel == core.ChannelSMS {
			failed = &logged[i]
		}
	}
	require.NotNil(t, failed)
	assert.Equal(t, core.StatusFailed, failed.Status)
	assert.True(t, strings.Contains(failed.Error, "transient upstream error"), failed.Error)
}

func TestSendDueFollowUps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	ok := &core.FollowUp{UserID: 1, Phone: "+15551234567", DueAt: env.now.Add(-time.Minute)}
	require.NoError(t, env.followUps.Create(ctx, ok))
	notYet := &core.FollowUp{UserID: 2, Email: "later@example.com", DueAt: env.now.Add(time.Hour)}
	require.NoError(t, env.followUps.Create(ctx, notYet))

	n, err := env.d.SendDueFollowUps(ctx, env.now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	sms := env.sms.messages()
	require.Len(t, sms, 1)
	assert.Equal(t, FollowUpBody, sms[0].body)
	assert.Empty(t, env.email.messages())

	got, err := env.followUps.Get(ctx, ok.ID)
	require.NoError(t, err)
	assert.Equal(t, core.FollowUpSent, got.Status)

	pending, err := env.followUps.Get(ctx, notYet.ID)
	require.NoError(t, err)
	assert.Equal(t, core.FollowUpPending, pending.Status)

	// A second sweep finds nothing new.
	n, err = env.d.SendDueFollowUps(ctx, env.now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendDueFollowUps_MarksFailed(t *testing.T) {
	env := newTestEnv(t)
	env.email.failFirst = 100
	ctx := context.Background()

	f := &core.FollowUp{UserID: 3, Email: "user@example.com", DueAt: env.now}
	require.NoError(t, env.followUps.Create(ctx, f))

	_, err := env.d.SendDueFollowUps(ctx, env.now)
	require.NoError(t, err)

	got, err := env.followUps.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, core.FollowUpFailed, got.Status)
}

func TestNotify_CloseWaitsForDelivery(t *testing.T) {
	env := newTestEnv(t)

	env.d.Notify(record(core.AnalysisResult{Suggestions: []string{"Rest"}}))
	env.d.Close()

	assert.Len(t, env.sms.messages(), 1)
	assert.Len(t, env.email.messages(), 1)

	// Work after Close is dropped.
	env.d.Notify(record(core.AnalysisResult{Suggestions: []string{"Rest"}}))
	assert.Len(t, env.sms.messages(), 1)
}

func TestSubscribers_ReceiveNotificationEvents(t *testing.T) {
	env := newTestEnv(t)
	sub := &mockSubscriber{id: "sub-1"}
	env.d.Subscribe(sub)

	env.d.Dispatch(context.Background(), record(core.AnalysisResult{Suggestions: []string{"Rest"}}))

	require.Eventually(t, func() bool { return sub.count() == 2 }, time.Second, 5*time.Millisecond)
	sub.mu.Lock()
	assert.Equal(t, EventNotification, sub.events[0].Type)
	_, isNotification := sub.events[0].Payload.(core.Notification)
	sub.mu.Unlock()
	assert.True(t, isNotification)

	env.d.Unsubscribe("sub-1")
	env.d.Publish(Event{Type: EventCheckInAnalyzed})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, sub.count())
}

func TestDispatch_FixtureCheckIn(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := testutil.TestContext(t)
	sms := &testutil.MockSMS{}
	mail := &testutil.MockEmail{Unconfigured: true}
	d := NewDispatcher(sms, mail, storage.NewNotificationStore(db), storage.NewFollowUpStore(db), Config{
		RetryAttempts: 1,
		RetryDelay:    time.Millisecond,
	})

	checkIn := testutil.CheckInFixture(5)
	d.Dispatch(ctx, core.Record{CheckIn: checkIn, Analysis: testutil.EmergencyFixture(), Source: core.SourceAI})

	sent := sms.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, checkIn.ContactPhone, sent[0].To)
	assert.True(t, strings.HasPrefix(sent[0].Body, "EMERGENCY: "))
	assert.Empty(t, mail.Sent())

	logged, err := storage.NewNotificationStore(db).ListByUser(ctx, 5, 10)
	require.NoError(t, err)
	statuses := map[core.Channel]core.DeliveryStatus{}
	for _, n := range logged {
		statuses[n.Channel] = n.Status
	}
	assert.Equal(t, core.StatusSent, statuses[core.ChannelSMS])
	assert.Equal(t, core.StatusSkipped, statuses[core.ChannelEmail])
}

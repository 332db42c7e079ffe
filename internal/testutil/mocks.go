package testutil

import (
	"context"
	"sync"

	"github.com/evalite/evalite/internal/core"
)

// MockAnalyzer implements triage.Analyzer for testing.
type MockAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, text string) (core.AnalysisResult, error)
	Name        core.Provider

	mu    sync.Mutex
	calls []string
}

// Analyze calls the mock function if set, otherwise returns AnalysisFixture.
func (m *MockAnalyzer) Analyze(ctx context.Context, text string) (core.AnalysisResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	m.mu.Unlock()
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, text)
	}
	return AnalysisFixture(), nil
}

// Provider returns Name, defaulting to OpenAI.
func (m *MockAnalyzer) Provider() core.Provider {
	if m.Name == "" {
		return core.ProviderOpenAI
	}
	return m.Name
}

// Calls returns the texts analyzed so far.
func (m *MockAnalyzer) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// SentMessage is one message captured by a mock transport.
type SentMessage struct {
	To      string
	Subject string
	Body    string
}

// MockSMS implements notifications.SMSSender for testing.
type MockSMS struct {
	SendFunc func(ctx context.Context, to, body string) error
	// Unconfigured makes IsConfigured report false.
	Unconfigured bool

	mu   sync.Mutex
	sent []SentMessage
}

// Send calls the mock function if set and records successful sends.
func (m *MockSMS) Send(ctx context.Context, to, body string) error {
	if m.Unconfigured {
		return core.ErrNotConfigured
	}
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Body: body})
	return nil
}

// IsConfigured reports !Unconfigured.
func (m *MockSMS) IsConfigured() bool { return !m.Unconfigured }

// Sent returns the messages delivered so far.
func (m *MockSMS) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

// MockEmail implements notifications.EmailSender for testing.
type MockEmail struct {
	SendFunc     func(ctx context.Context, to, subject, body string) error
	Unconfigured bool

	mu   sync.Mutex
	sent []SentMessage
}

// Send calls the mock function if set and records successful sends.
func (m *MockEmail) Send(ctx context.Context, to, subject, body string) error {
	if m.Unconfigured {
		return core.ErrNotConfigured
	}
	if m.SendFunc != nil {
		if err := m.SendFunc(ctx, to, subject, body); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{To: to, Subject: subject, Body: body})
	return nil
}

// IsConfigured reports !Unconfigured.
func (m *MockEmail) IsConfigured() bool { return !m.Unconfigured }

// Sent returns the messages delivered so far.
func (m *MockEmail) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

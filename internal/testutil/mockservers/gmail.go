// Package mockservers provides httptest mock servers for external APIs.
package mockservers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// GmailMockServer provides a mock Gmail API server that accepts
// users.messages.send and records each decoded message.
type GmailMockServer struct {
	Server *httptest.Server
	// Status, when set, is returned instead of a successful send.
	Status int

	mu       sync.Mutex
	auth     []string
	messages []string
}

// NewGmailMockServer creates a new mock Gmail API server.
func NewGmailMockServer(t *testing.T) *GmailMockServer {
	t.Helper()

	mock := &GmailMockServer{}
	mock.Server = httptest.NewServer(http.HandlerFunc(mock.handle))

	t.Cleanup(func() {
		mock.Server.Close()
	})

	return mock
}

// Endpoint is the base URL to hand to option.WithEndpoint.
func (m *GmailMockServer) Endpoint() string {
	return m.Server.URL + "/"
}

// Messages returns the raw RFC 822 messages sent so far.
func (m *GmailMockServer) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// Authorizations returns the Authorization header of each send.
func (m *GmailMockServer) Authorizations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.auth...)
}

func (m *GmailMockServer) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, "/users/me/messages/send") {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	if m.Status != 0 {
		writeError(w, m.Status, http.StatusText(m.Status))
		return
	}

	var body struct {
		Raw string `json:"raw"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw, err := base64.URLEncoding.DecodeString(body.Raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "raw is not base64url")
		return
	}

	m.mu.Lock()
	m.auth = append(m.auth, r.Header.Get("Authorization"))
	m.messages = append(m.messages, string(raw))
	n := len(m.messages)
	m.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]interface{}{
		"id":       fmt.Sprintf("msg-%03d", n),
		"threadId": fmt.Sprintf("thread-%03d", n),
		"labelIds": []string{"SENT"},
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    status,
			"message": message,
		},
	})
}

package smarthub

import (
	"net/http"
	"sync"
	"time"
)

// sessionManager hands out a pooled http.Client that is recreated once it is
// older than ttl or after it has been invalidated. Expiry is only checked in
// acquire.
type sessionManager struct {
	ttl       time.Duration
	newClient func() *http.Client
	now       func() time.Time

	mu      sync.Mutex
	client  *http.Client
	created time.Time
}

func newSessionManager(ttl time.Duration, newClient func() *http.Client) *sessionManager {
	return &sessionManager{
		ttl:       ttl,
		newClient: newClient,
		now:       time.Now,
	}
}

// acquire returns the active client, creating a new one if needed.
func (m *sessionManager) acquire() *http.Client {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.client != nil && now.Sub(m.created) > m.ttl {
		m.closeLocked()
	}
	if m.client == nil {
		m.client = m.newClient()
		m.created = now
	}
	return m.client
}

// invalidate drops the active client so the next acquire creates a new one.
// Calling it without an active client is a no-op.
func (m *sessionManager) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

func (m *sessionManager) closeLocked() {
	if m.client == nil {
		return
	}
	m.client.CloseIdleConnections()
	m.client = nil
	m.created = time.Time{}
}

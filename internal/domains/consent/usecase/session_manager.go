package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"consent-button/go-backend/internal/domains/consent/model"
	"consent-button/go-backend/internal/domains/consent/ports"
)

const DefaultNetworkEnvironment = "production"

// SessionManager opens one messaging session lazily and keeps it for the
// lifetime of its controller. The cache is not keyed by identity: a different
// identity passed after the first session exists is ignored.
type SessionManager struct {
	client ports.MessagingClient

	mu      sync.Mutex
	session ports.Session
}

func NewSessionManager(client ports.MessagingClient) *SessionManager {
	return &SessionManager{client: client}
}

func (m *SessionManager) GetOrCreate(ctx context.Context, identity ports.Identity, networkEnvironment string) (ports.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		return m.session, nil
	}
	if m.client == nil {
		return nil, fmt.Errorf("%w: messaging client is not configured", model.ErrSessionCreation)
	}
	if identity == nil {
		return nil, fmt.Errorf("%w: identity is nil", model.ErrSessionCreation)
	}
	env := strings.TrimSpace(networkEnvironment)
	if env == "" {
		env = DefaultNetworkEnvironment
	}
	session, err := m.client.CreateSession(ctx, identity, env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrSessionCreation, err)
	}
	if session == nil {
		return nil, fmt.Errorf("%w: client returned no session", model.ErrSessionCreation)
	}
	m.session = session
	return session, nil
}

// Current returns the cached session, if any.
func (m *SessionManager) Current() ports.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *SessionManager) Close() error {
	m.mu.Lock()
	session := m.session
	m.session = nil
	m.mu.Unlock()
	if session == nil {
		return nil
	}
	return session.Close()
}

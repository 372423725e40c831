package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sa3akash/go-live-mern-stack-nginx/internal/catalog"
	"github.com/sa3akash/go-live-mern-stack-nginx/internal/observability/metrics"
)

// Resolver maps a presented ingest token to its user. Satisfied by the
// catalog repository.
type Resolver interface {
	ResolveIngestToken(token string) (catalog.User, error)
}

// ErrManagerClosed is returned when opening a session after shutdown.
var ErrManagerClosed = errors.New("ingest manager closed")

// ErrSessionExists is returned when a publisher's stream key is already live.
var ErrSessionExists = errors.New("stream key already has a live session")

// Manager owns the active ingest sessions: one per connected publisher.
type Manager struct {
	cfg      Config
	resolver Resolver
	logger   *slog.Logger
	metrics  *metrics.Recorder
	factory  encoderFactory

	mu       sync.Mutex
	sessions map[string]*Session
	byKey    map[string]*Session
	closed   bool
}

// NewManager validates the config and returns a Manager.
func NewManager(cfg Config, resolver Resolver, logger *slog.Logger, recorder *metrics.Recorder) (*Manager, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if resolver == nil {
		return nil, errors.New("resolver is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:      cfg,
		resolver: resolver,
		logger:   logger,
		metrics:  recorder,
		sessions: make(map[string]*Session),
		byKey:    make(map[string]*Session),
	}, nil
}

// OpenSession resolves the token and registers a session for its user. A
// stream key already backed by a live session rejects the second publisher
// instead of letting two encoders race on the same RTMP target.
func (m *Manager) OpenSession(token string) (*Session, error) {
	user, err := m.resolver.ResolveIngestToken(token)
	if err != nil {
		if m.metrics != nil {
			m.metrics.SessionRejected()
		}
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if _, live := m.byKey[user.StreamKey]; live {
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.SessionRejected()
		}
		return nil, ErrSessionExists
	}
	session := newSession(user, m.cfg, m.logger, m.metrics, m.factory)
	m.sessions[session.ID()] = session
	m.byKey[user.StreamKey] = session
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.SessionStarted()
	}
	m.logger.Info("ingest session opened", "session_id", session.ID(), "user_id", user.ID)
	return session, nil
}

// CloseSession stops the session's encoder and removes it from the registry.
func (m *Manager) CloseSession(ctx context.Context, session *Session) error {
	m.mu.Lock()
	_, present := m.sessions[session.ID()]
	delete(m.sessions, session.ID())
	if m.byKey[session.User().StreamKey] == session {
		delete(m.byKey, session.User().StreamKey)
	}
	m.mu.Unlock()

	err := session.Stop(ctx)
	if present {
		if m.metrics != nil {
			m.metrics.SessionStopped()
		}
		m.logger.Info("ingest session closed", "session_id", session.ID())
	}
	return err
}

// ActiveSessions returns the number of registered sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every active session and rejects new ones.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.sessions = make(map[string]*Session)
	m.byKey = make(map[string]*Session)
	m.mu.Unlock()

	var firstErr error
	for _, session := range sessions {
		if err := session.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		if m.metrics != nil {
			m.metrics.SessionStopped()
		}
	}
	return firstErr
}

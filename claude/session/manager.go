package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrManagerClosed is returned by Create after CloseAll.
var ErrManagerClosed = errors.New("manager is closed")

// SessionManager manages multiple Claude CLI sessions.
type SessionManager interface {
	// Create starts and connects a new Claude session. Prompts are sent
	// once connected.
	Create(ctx context.Context, opts []SessionOption, prompts ...string) (Session, error)

	// Get retrieves a live session by key.
	Get(key string) (Session, bool)

	// Resume returns the live session for sessionID, or resumes the
	// persisted one.
	Resume(ctx context.Context, sessionID string, opts ...SessionOption) (Session, error)

	// Close closes a specific session.
	Close(key string) error

	// CloseAll closes all active sessions.
	CloseAll() error

	// List returns the keys of connected sessions.
	List() []string

	// Count returns the number of tracked sessions.
	Count() int

	// Info returns information about a session.
	Info(key string) (*SessionInfo, bool)
}

// manager implements SessionManager.
type manager struct {
	config     managerConfig
	logger     *slog.Logger
	sessions   map[string]Session
	mu         sync.RWMutex
	closed     bool
	closedOnce sync.Once
	stopClean  chan struct{}
}

// NewManager creates a new session manager.
func NewManager(opts ...ManagerOption) SessionManager {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	m := &manager{
		config:    cfg,
		logger:    logger.With("component", "claude-session-manager"),
		sessions:  make(map[string]Session),
		stopClean: make(chan struct{}),
	}

	// Start cleanup goroutine if TTL is configured
	if cfg.sessionTTL > 0 && cfg.cleanupInterval > 0 {
		go m.cleanupLoop()
	}

	return m
}

// Create implements SessionManager.
//
// Sessions are keyed by their session ID. When none is configured a fresh
// UUID is assigned and passed to the CLI, so the key and the CLI's id
// agree. Continued conversations get the UUID as a manager-only key.
func (m *manager) Create(ctx context.Context, opts []SessionOption, prompts ...string) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if len(m.sessions) >= m.config.maxSessions {
		m.mu.Unlock()
		return nil, fmt.Errorf("max sessions reached (%d)", m.config.maxSessions)
	}
	m.mu.Unlock()

	// Apply default options first, then user options
	allOpts := make([]SessionOption, 0, len(m.config.defaultOpts)+len(opts)+1)
	allOpts = append(allOpts, m.config.defaultOpts...)
	allOpts = append(allOpts, opts...)

	probe := defaultConfig()
	for _, opt := range allOpts {
		opt(&probe)
	}
	key := probe.sessionID
	if key == "" {
		key = uuid.NewString()
		if !probe.continueConversation {
			allOpts = append(allOpts, WithSessionID(key))
		}
	}

	m.mu.Lock()
	if _, exists := m.sessions[key]; exists {
		m.mu.Unlock()
		return nil, fmt.Errorf("session %s already exists", key)
	}
	m.mu.Unlock()

	s, err := New(allOpts...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx, prompts...); err != nil {
		_ = s.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check limits after session creation
	if m.closed || len(m.sessions) >= m.config.maxSessions {
		_ = s.Close() // Best effort cleanup
		if m.closed {
			return nil, ErrManagerClosed
		}
		return nil, fmt.Errorf("max sessions reached (%d)", m.config.maxSessions)
	}

	m.sessions[key] = s
	m.logger.Debug("session created", "key", key, "count", len(m.sessions))

	// Start goroutine to remove session when it ends
	go m.watchSession(key, s)

	return s, nil
}

// watchSession removes a session from the map when it closes or fails.
func (m *manager) watchSession(key string, s Session) {
	<-s.Done()
	m.mu.Lock()
	if cur, ok := m.sessions[key]; ok && cur == s {
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	if err := s.Err(); err != nil {
		m.logger.Warn("session ended with error", "key", key, "error", err)
	}
}

// Get implements SessionManager.
func (m *manager) Get(key string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok || s.Status() != StatusConnected {
		return nil, false
	}
	return s, true
}

// Resume implements SessionManager.
func (m *manager) Resume(ctx context.Context, sessionID string, opts ...SessionOption) (Session, error) {
	// Check if session is already active
	if s, ok := m.Get(sessionID); ok {
		return s, nil
	}

	resumeOpts := append([]SessionOption{WithResume(sessionID)}, opts...)
	return m.Create(ctx, resumeOpts)
}

// Close implements SessionManager.
func (m *manager) Close(key string) error {
	m.mu.RLock()
	s, ok := m.sessions[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session not found: %s", key)
	}
	return s.Close()
}

// CloseAll implements SessionManager.
func (m *manager) CloseAll() error {
	m.closedOnce.Do(func() {
		close(m.stopClean)
	})

	m.mu.Lock()
	m.closed = true
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// List implements SessionManager.
func (m *manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.sessions))
	for key, s := range m.sessions {
		if s.Status() == StatusConnected {
			keys = append(keys, key)
		}
	}
	return keys
}

// Count implements SessionManager.
func (m *manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Info implements SessionManager.
func (m *manager) Info(key string) (*SessionInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[key]
	if !ok {
		return nil, false
	}

	info := s.Info()
	return &info, true
}

// cleanupLoop periodically removes expired sessions.
func (m *manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopClean:
			return
		case <-ticker.C:
			m.cleanupExpired()
		}
	}
}

// cleanupExpired closes sessions that have been idle too long.
func (m *manager) cleanupExpired() {
	m.mu.RLock()
	var expired []Session
	cutoff := time.Now().Add(-m.config.sessionTTL)

	for _, s := range m.sessions {
		if s.Info().LastActivity.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.logger.Info("closing idle session", "session_id", s.ID(), "ttl", m.config.sessionTTL)
		_ = s.Close() // Best effort cleanup of expired sessions
	}
}

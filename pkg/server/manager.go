package server

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SessionManager tracks all live sessions and enforces the session limit.
type SessionManager struct {
	// Sessions map protected by RWMutex
	sessions map[string]*Session
	mu       sync.RWMutex
	closed   bool

	// Limits
	maxSessions int

	// Metrics
	totalCreated  atomic.Uint64
	totalClosed   atomic.Uint64
	totalRejected atomic.Uint64
	peakSessions  int

	// Callbacks
	onSessionCreate func(*Session)
	onSessionClose  func(*Session)

	// Logger
	logger *slog.Logger
}

// NewSessionManager creates a SessionManager. maxSessions <= 0 means no
// limit.
func NewSessionManager(maxSessions int, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default().With("component", "sessions")
	}
	return &SessionManager{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		logger:      logger,
	}
}

// Register adds a session. It fails with ErrMaxSessionsReached when the
// limit is reached and with ErrServerClosed after Shutdown.
func (sm *SessionManager) Register(s *Session) error {
	sm.mu.Lock()
	if sm.closed {
		sm.mu.Unlock()
		sm.totalRejected.Add(1)
		return ErrServerClosed
	}
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		sm.totalRejected.Add(1)
		sm.logger.Warn("session limit reached", "max_sessions", sm.maxSessions)
		return ErrMaxSessionsReached
	}
	sm.sessions[s.ID()] = s
	if n := len(sm.sessions); n > sm.peakSessions {
		sm.peakSessions = n
	}
	onCreate := sm.onSessionCreate
	sm.mu.Unlock()

	sm.totalCreated.Add(1)
	if onCreate != nil {
		onCreate(s)
	}
	return nil
}

// Remove drops a session from the manager. Removing an unknown ID is a
// no-op.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	delete(sm.sessions, id)
	onClose := sm.onSessionClose
	sm.mu.Unlock()

	if !ok {
		return
	}
	sm.totalClosed.Add(1)
	if onClose != nil {
		onClose(s)
	}
}

// Get returns a session by ID.
func (sm *SessionManager) Get(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown gracefully shuts down all sessions.
func (sm *SessionManager) Shutdown() {
	_ = sm.ShutdownWithContext(context.Background())
}

// ShutdownWithContext stops accepting sessions, asks every live session to
// close, and waits until they have all returned or ctx is done.
func (sm *SessionManager) ShutdownWithContext(ctx context.Context) error {
	sm.mu.Lock()
	sm.closed = true
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	sm.mu.Unlock()

	// Close all sessions concurrently
	var wg sync.WaitGroup
	for _, session := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
			select {
			case <-s.Done():
			case <-ctx.Done():
			}
		}(session)
	}
	wg.Wait()

	sm.logger.Info("session manager shutdown",
		"closed_sessions", len(sessions))

	return ctx.Err()
}

// Stats returns aggregated session statistics.
func (sm *SessionManager) Stats() ManagerStats {
	sm.mu.RLock()
	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	active := len(sm.sessions)
	peak := sm.peakSessions
	sm.mu.RUnlock()

	var sent, received uint64
	for _, s := range sessions {
		st := s.Stats()
		sent += st.MessagesSent
		received += st.MessagesReceived
	}

	return ManagerStats{
		Active:           active,
		TotalCreated:     sm.totalCreated.Load(),
		TotalClosed:      sm.totalClosed.Load(),
		TotalRejected:    sm.totalRejected.Load(),
		Peak:             peak,
		MessagesSent:     sent,
		MessagesReceived: received,
	}
}

// ManagerStats contains aggregated session manager statistics.
type ManagerStats struct {
	Active        int    `json:"active"`
	TotalCreated  uint64 `json:"total_created"`
	TotalClosed   uint64 `json:"total_closed"`
	TotalRejected uint64 `json:"total_rejected"`
	Peak          int    `json:"peak"`

	// Traffic of the currently live sessions.
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
}

// ForEach iterates over all sessions.
// The callback should not perform long-running operations as it holds the read lock.
func (sm *SessionManager) ForEach(fn func(*Session) bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	for _, session := range sm.sessions {
		if !fn(session) {
			break
		}
	}
}

// SetOnSessionCreate sets the callback for session creation.
func (sm *SessionManager) SetOnSessionCreate(fn func(*Session)) {
	sm.mu.Lock()
	sm.onSessionCreate = fn
	sm.mu.Unlock()
}

// SetOnSessionClose sets the callback for session close.
func (sm *SessionManager) SetOnSessionClose(fn func(*Session)) {
	sm.mu.Lock()
	sm.onSessionClose = fn
	sm.mu.Unlock()
}

// Package handler implements session tracking and command dispatch for the
// cube-store protocol.
//
// Sessions are not resumable: each connection authenticates, gets a fresh
// session, and is forgotten on disconnect. The protocol is request/response
// per frame, so there is nothing to resume; clients reconnect and
// re-authenticate.
package handler

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/TobiasJacob/cube-store/internal/logging"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

var log = logging.Component("session")

// =============================================================================
// Session
// =============================================================================

// Session represents one authenticated client connection.
// Session is safe for concurrent use.
type Session struct {
	ID         string
	RemoteAddr string
	CreatedAt  time.Time

	connMu sync.Mutex
	conn   net.Conn
	wire   *wire.Conn

	closed    atomic.Bool
	closeOnce sync.Once
}

// Wire returns the framed connection.
func (s *Session) Wire() *wire.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.wire
}

// Close closes the session permanently. Idempotent.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.connMu.Lock()
		if s.conn != nil {
			closeErr = s.conn.Close()
			s.conn = nil
			s.wire = nil
		}
		s.connMu.Unlock()
		log.Debug("session closed", "session_id", s.ID)
	})
	return closeErr
}

// IsClosed returns true if the session is closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// =============================================================================
// Session Manager
// =============================================================================

// SessionManager tracks live sessions. Safe for concurrent use.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates an empty session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// CreateSession registers a new session for an authenticated connection.
func (sm *SessionManager) CreateSession(conn net.Conn, w *wire.Conn) *Session {
	session := &Session{
		ID:         generateSessionID(),
		RemoteAddr: conn.RemoteAddr().String(),
		CreatedAt:  time.Now(),
		conn:       conn,
		wire:       w,
	}

	sm.mu.Lock()
	sm.sessions[session.ID] = session
	sm.mu.Unlock()

	log.Info("session created", "session_id", session.ID, "remote", session.RemoteAddr)
	return session
}

// RemoveSession closes and forgets a session.
func (sm *SessionManager) RemoveSession(id string) {
	sm.mu.Lock()
	session, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if ok {
		session.Close()
		log.Info("session removed", "session_id", id)
	}
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// CloseAll closes every session, for shutdown.
func (sm *SessionManager) CloseAll() {
	sm.mu.Lock()
	for _, session := range sm.sessions {
		session.Close()
	}
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()
}

// generateSessionID generates a cryptographically secure session ID.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("failed to generate session ID: " + err.Error())
	}
	return hex.EncodeToString(b)
}

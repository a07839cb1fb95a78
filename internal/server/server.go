// Package server provides the cube-store TCP server.
//
// The server accepts connections, enforces auth-first with a failed-auth
// rate limiter, and runs one request loop per connection. Requests on a
// connection are handled in order; parallelism comes from serving many
// connections and from the executor's per-request chunk fan-out.
package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/TobiasJacob/cube-store/config"
	"github.com/TobiasJacob/cube-store/internal/catalog"
	"github.com/TobiasJacob/cube-store/internal/compute"
	"github.com/TobiasJacob/cube-store/internal/errors"
	"github.com/TobiasJacob/cube-store/internal/handler"
	"github.com/TobiasJacob/cube-store/internal/logging"
	"github.com/TobiasJacob/cube-store/internal/metastore"
	"github.com/TobiasJacob/cube-store/internal/wire"
)

var log = logging.Component("server")

// =============================================================================
// Rate Limiter for Failed Authentication Attempts
// =============================================================================

// RateLimiter rate-limits FAILED authentication attempts per IP address.
// Successful authentications are not counted and reset the failure count.
type RateLimiter struct {
	mu       sync.RWMutex
	failures map[string]*rateLimitEntry
	limit    int
	window   time.Duration
}

type rateLimitEntry struct {
	count     int
	resetTime time.Time
}

// NewRateLimiter creates a rate limiter blocking an IP after limit failed
// attempts within the window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		failures: make(map[string]*rateLimitEntry),
		limit:    limit,
		window:   window,
	}
	go rl.cleanupLoop()
	return rl
}

// IsBlocked returns true if the IP has exceeded the failure limit.
// Call this before attempting authentication.
func (rl *RateLimiter) IsBlocked(ip string) bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok {
		return false
	}
	if time.Now().After(entry.resetTime) {
		return false
	}
	return entry.count >= rl.limit
}

// RecordFailure records a failed authentication attempt.
func (rl *RateLimiter) RecordFailure(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	entry, ok := rl.failures[ip]
	if !ok || now.After(entry.resetTime) {
		rl.failures[ip] = &rateLimitEntry{count: 1, resetTime: now.Add(rl.window)}
		return
	}
	entry.count++
}

// Reset clears the failure count for an IP after successful auth.
func (rl *RateLimiter) Reset(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.failures, ip)
}

// FailureCount returns the current failure count for an IP.
func (rl *RateLimiter) FailureCount(ip string) int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	entry, ok := rl.failures[ip]
	if !ok || time.Now().After(entry.resetTime) {
		return 0
	}
	return entry.count
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		rl.mu.Lock()
		now := time.Now()
		for ip, entry := range rl.failures {
			if now.After(entry.resetTime) {
				delete(rl.failures, ip)
			}
		}
		rl.mu.Unlock()
	}
}

// =============================================================================
// Server
// =============================================================================

// Config holds the server's collaborators and settings.
type Config struct {
	// Catalog is the cube registry (required).
	Catalog *catalog.Catalog

	// Executor evaluates COMPUTE requests (required).
	Executor *compute.Executor

	// Metastore is the optional operation log.
	Metastore *metastore.Store

	// Listen is the TCP listen address.
	Listen string

	// APIKey is the shared key clients must present.
	APIKey string

	// Frame limits.
	MaxHeaderSize  int
	MaxPayloadSize int64

	// AuthTimeout is the window for the first (auth) message.
	AuthTimeout time.Duration

	// RateLimitPerMinute is the failed-auth limit per IP per minute.
	RateLimitPerMinute int

	// SandboxBudget is the default per-chunk time budget for ITER
	// functions.
	SandboxBudget time.Duration

	// DrainTimeout bounds the graceful shutdown wait for in-flight
	// connections.
	DrainTimeout time.Duration
}

// Server is the cube-store TCP server.
type Server struct {
	cfg      *Config
	sessions *handler.SessionManager
	h        *handler.Handler
	listener net.Listener

	authRateLimiter *RateLimiter

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown chan struct{}
	wg       sync.WaitGroup
}

// New creates a server.
func New(cfg *Config) *Server {
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = time.Duration(config.DefaultAuthTimeoutSec) * time.Second
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = config.DefaultAuthRateLimitPerMinute
	}
	if cfg.MaxHeaderSize == 0 {
		cfg.MaxHeaderSize = config.DefaultMaxHeaderSize
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = config.DefaultMaxPayloadSize
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = time.Duration(config.DefaultDrainTimeoutSec) * time.Second
	}
	if cfg.SandboxBudget == 0 {
		cfg.SandboxBudget = config.DefaultSandboxBudget
	}

	sessions := handler.NewSessionManager()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:             cfg,
		sessions:        sessions,
		h:               handler.New(cfg.Catalog, cfg.Executor, cfg.Metastore, sessions, cfg.SandboxBudget),
		authRateLimiter: NewRateLimiter(cfg.RateLimitPerMinute, time.Minute),
		ctx:             ctx,
		cancel:          cancel,
		shutdown:        make(chan struct{}),
	}
}

// Run starts the listener and blocks accepting connections until Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.listener = ln
	log.Info("listening", "address", s.cfg.Listen)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				log.Error("accept error", "error", err)
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Addr returns the bound listen address, for tests using port 0.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown stops the server gracefully: stop accepting, wait for in-flight
// connections up to the drain timeout, then force-close the rest.
func (s *Server) Shutdown() {
	log.Info("shutting down")
	close(s.shutdown)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.DrainTimeout):
		log.Warn("drain timeout, closing remaining sessions")
	}

	s.sessions.CloseAll()
	s.wg.Wait()
	log.Info("shutdown complete")
}

// =============================================================================
// Connection Handling
// =============================================================================

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	remoteIP := extractIP(remote)

	if s.authRateLimiter.IsBlocked(remoteIP) {
		log.Warn("blocked due to too many failed auth attempts", "remote", remote)
		conn.Close()
		return
	}

	w := wire.NewConn(conn, s.cfg.MaxHeaderSize, s.cfg.MaxPayloadSize)

	// The first frame must authenticate, within the auth window.
	conn.SetDeadline(time.Now().Add(s.cfg.AuthTimeout))
	msg, err := w.Read()
	if err != nil {
		log.Debug("auth read error", "remote", remote, "error", err)
		conn.Close()
		return
	}
	if msg.Header.Command != wire.CmdAuth {
		s.authRateLimiter.RecordFailure(remoteIP)
		w.Write(wire.NewError(msg.Header.ID, errors.CodeNotAuthenticated, "first message must be AUTH"))
		conn.Close()
		return
	}
	if subtle.ConstantTimeCompare([]byte(msg.Header.Key), []byte(s.cfg.APIKey)) != 1 {
		s.authRateLimiter.RecordFailure(remoteIP)
		w.Write(wire.NewError(msg.Header.ID, errors.CodeAuthFailed, "invalid API key"))
		conn.Close()
		log.Warn("auth failed", "remote", remote,
			"failure_count", s.authRateLimiter.FailureCount(remoteIP))
		return
	}
	s.authRateLimiter.Reset(remoteIP)
	conn.SetDeadline(time.Time{})

	session := s.sessions.CreateSession(conn, w)
	defer s.sessions.RemoveSession(session.ID)

	authOK := wire.NewOK(msg.Header.ID)
	authOK.Header.Session = session.ID
	if err := w.Write(authOK); err != nil {
		log.Debug("auth response write failed", "remote", remote, "error", err)
		return
	}

	for {
		msg, err := w.Read()
		if err != nil {
			return
		}
		s.h.Handle(s.ctx, session, msg)
		if session.IsClosed() {
			return
		}
	}
}

// extractIP extracts the IP address from a remote address string.
func extractIP(remote string) string {
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

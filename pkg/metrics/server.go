// HTTP server for motion metrics and diagnostics
//
// Serves Prometheus metrics at /metrics and streams diagnostics snapshots
// over a websocket at /diagnostics.
//
// Example usage:
//
//	server := metrics.NewServer(mm, ":9100")
//	server.SetDiagnosticsSource(func() any { return move.Diagnostics() })
//	go server.Start()
//	defer server.Shutdown(context.Background())
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"reprap-motion/pkg/log"
)

// DiagnosticsSource returns a JSON-encodable diagnostics snapshot
type DiagnosticsSource func() any

// Server serves metrics over HTTP
type Server struct {
	mm     *MotionMetrics
	addr   string
	server *http.Server
	mux    *http.ServeMux

	// Optional basic auth
	username string
	password string

	upgrader         websocket.Upgrader
	diagnostics      DiagnosticsSource
	diagnosticsEvery time.Duration

	mu        sync.RWMutex
	running   bool
	startTime time.Time
	clients   int

	log *log.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	// Address to listen on (e.g., ":9100" or "127.0.0.1:9100")
	Address string

	Username string
	Password string

	ReadTimeout time.Duration

	// Interval between diagnostics pushes on /diagnostics
	DiagnosticsInterval time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:             ":9100",
		ReadTimeout:         10 * time.Second,
		DiagnosticsInterval: time.Second,
	}
}

// NewServer creates a server with default config
func NewServer(mm *MotionMetrics, addr string) *Server {
	config := DefaultServerConfig()
	config.Address = addr
	return NewServerWithConfig(mm, config)
}

// NewServerWithConfig creates a server with custom config
func NewServerWithConfig(mm *MotionMetrics, config ServerConfig) *Server {
	if config.DiagnosticsInterval <= 0 {
		config.DiagnosticsInterval = time.Second
	}
	s := &Server{
		mm:               mm,
		addr:             config.Address,
		mux:              http.NewServeMux(),
		username:         config.Username,
		password:         config.Password,
		diagnosticsEvery: config.DiagnosticsInterval,
		log:              log.GetLogger("metrics"),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	s.mux.HandleFunc("/metrics", s.handleMetrics)
	s.mux.HandleFunc("/diagnostics", s.handleDiagnostics)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/ready", s.handleReady)

	// no server write timeout: /diagnostics connections are long lived
	s.server = &http.Server{
		Addr:        config.Address,
		Handler:     s.mux,
		ReadTimeout: config.ReadTimeout,
	}
	return s
}

// Handler returns the server's routes
func (s *Server) Handler() http.Handler { return s.mux }

// SetDiagnosticsSource sets the snapshot function streamed on /diagnostics
func (s *Server) SetDiagnosticsSource(src DiagnosticsSource) {
	s.mu.Lock()
	s.diagnostics = src
	s.mu.Unlock()
}

// Start runs the server until Shutdown
func (s *Server) Start() error {
	s.mu.Lock()
	s.running = true
	s.startTime = time.Now()
	s.mu.Unlock()

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return s.server.Shutdown(ctx)
}

func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) GetAddress() string { return s.addr }

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	output := s.mm.Gather()
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", fmt.Sprintf("%d", len(output)))
		return
	}
	_, _ = w.Write([]byte(output))
}

// handleDiagnostics upgrades to a websocket and pushes a snapshot every
// diagnostics interval until the client goes away
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if !s.checkAuth(w, r) {
		return
	}
	s.mu.RLock()
	src := s.diagnostics
	s.mu.RUnlock()
	if src == nil {
		http.Error(w, "No diagnostics source", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("diagnostics upgrade error: %v", err)
		return
	}
	defer conn.Close()

	s.mu.Lock()
	s.clients++
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.clients--
		s.mu.Unlock()
	}()

	// Reader goroutine only notices the close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.log.Debug("diagnostics read error: %v", err)
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(s.diagnosticsEvery)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteJSON(src()); err != nil {
			s.log.Debug("diagnostics write error: %v", err)
			return
		}
		select {
		case <-ticker.C:
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK\n"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if s.IsRunning() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready\n"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("Not Ready\n"))
}

// checkAuth verifies basic auth if configured
func (s *Server) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	if s.username == "" && s.password == "" {
		return true
	}
	username, password, ok := r.BasicAuth()
	if ok &&
		subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1 {
		return true
	}
	w.Header().Set("WWW-Authenticate", `Basic realm="Motion Metrics"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
	return false
}

// GetStatus returns server status
func (s *Server) GetStatus() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := map[string]any{
		"address":             s.addr,
		"running":             s.running,
		"diagnostics_clients": s.clients,
	}
	if s.running {
		status["uptime"] = time.Since(s.startTime).Seconds()
	}
	return status
}

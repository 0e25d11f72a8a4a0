package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/molbridge/molbridge/pkg/sim"
)

// Server accepts WebSocket clients and runs one Session per connection.
type Server struct {
	// Session management
	sessions *SessionManager

	// Simulation handles, one per connection
	connector sim.Connector

	// Configuration
	config *ServerConfig

	// WebSocket upgrader
	upgrader websocket.Upgrader

	// HTTP routes
	router chi.Router

	// Metrics
	metrics  *Metrics
	gatherer prometheus.Gatherer

	// Lifetime of all sessions; cancelled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// HTTP server
	mu         sync.Mutex
	httpServer *http.Server

	// Logger
	logger *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics makes the server record into m and serve g on /metrics.
func WithMetrics(m *Metrics, g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = g
	}
}

// New creates a new Server with the given configuration.
func New(config *ServerConfig, connector sim.Connector, opts ...Option) *Server {
	if config == nil {
		config = DefaultServerConfig()
	} else {
		// Fill in defaults for any unset fields
		config = config.Clone()
		defaults := DefaultServerConfig()
		if config.Address == "" {
			config.Address = defaults.Address
		}
		if config.ReadBufferSize == 0 {
			config.ReadBufferSize = defaults.ReadBufferSize
		}
		if config.WriteBufferSize == 0 {
			config.WriteBufferSize = defaults.WriteBufferSize
		}
		if config.ShutdownTimeout == 0 {
			config.ShutdownTimeout = defaults.ShutdownTimeout
		}
		if config.ReadHeaderTimeout == 0 {
			config.ReadHeaderTimeout = defaults.ReadHeaderTimeout
		}
	}
	config.SessionConfig = config.SessionConfig.withDefaults()
	if config.CheckOrigin == nil {
		config.CheckOrigin = AllowOrigins(config.AllowedOrigins)
	}

	logger := slog.Default().With("component", "server")
	baseCtx, cancel := context.WithCancel(context.Background())

	s := &Server{
		sessions:   NewSessionManager(config.MaxSessions, logger),
		connector:  connector,
		config:     config,
		baseCtx:    baseCtx,
		cancelBase: cancel,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gatherer == nil {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		if s.metrics == nil {
			s.metrics = NewMetrics(WithRegistry(reg))
		}
		s.gatherer = reg
	}

	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.HandleWebSocket)
	r.Get("/ws", s.HandleWebSocket)
	r.With(middleware.NoCache).Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return r
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type healthResponse struct {
	Status   string       `json:"status"`
	Sessions ManagerStats `json:"sessions"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:   "ok",
		Sessions: s.sessions.Stats(),
	})
}

// HandleWebSocket upgrades the request and runs a streaming session on it.
// It returns when the session ends.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}
	_ = s.ServeConn(s.baseCtx, conn)
}

// ServeConn bridges an upgraded connection to a fresh simulation handle and
// blocks until the session ends. It always closes conn.
func (s *Server) ServeConn(ctx context.Context, conn Conn) error {
	id := uuid.NewString()
	logger := s.logger.With("session_id", id)
	writeTimeout := s.config.SessionConfig.WriteTimeout

	if ctx.Err() != nil {
		s.metrics.sessionRejected(causeRejected)
		closeWithReason(conn, websocket.CloseTryAgainLater, "server shutting down", writeTimeout)
		return NewSessionError(id, "connect", ErrServerClosed)
	}
	if s.connector == nil {
		closeWithReason(conn, websocket.CloseInternalServerErr, "no simulation configured", writeTimeout)
		return NewSessionError(id, "connect", fmt.Errorf("%w: %w", ErrUpstreamUnavailable, sim.ErrNoSimulation))
	}

	client, err := s.connector.Connect(ctx)
	if err != nil {
		err = NewSessionError(id, "connect", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		logger.Error("simulation connect failed", "error", err)
		s.metrics.sessionRejected(causeUpstream)
		closeWithReason(conn, websocket.CloseInternalServerErr, err.Error(), writeTimeout)
		return err
	}

	if err := client.SubscribeToFrames(ctx); err != nil {
		_ = client.Close()
		err = NewSessionError(id, "subscribe", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
		logger.Error("frame subscription failed", "error", err)
		s.metrics.sessionRejected(causeUpstream)
		closeWithReason(conn, websocket.CloseInternalServerErr, err.Error(), writeTimeout)
		return err
	}

	session, err := NewSession(id, conn, client, s.config.SessionConfig, s.logger, s.metrics)
	if err != nil {
		_ = client.Close()
		logger.Error("session setup failed", "error", err)
		s.metrics.sessionRejected(causeInternal)
		closeWithReason(conn, websocket.CloseInternalServerErr, "internal error", writeTimeout)
		return err
	}

	if err := s.sessions.Register(session); err != nil {
		_ = client.Close()
		s.metrics.sessionRejected(causeRejected)
		reason := "too many sessions"
		if errors.Is(err, ErrServerClosed) {
			reason = "server shutting down"
		}
		closeWithReason(conn, websocket.CloseTryAgainLater, reason, writeTimeout)
		return NewSessionError(id, "register", err)
	}
	defer s.sessions.Remove(id)

	return session.Run(ctx)
}

// Run listens on the configured address and serves until ctx is done or
// the process receives SIGINT or SIGTERM, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. TLS is layered on ln unless the
// config is insecure.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.config.Insecure {
		certs, err := s.config.TLS.LoadCertificates()
		if err != nil {
			_ = ln.Close()
			return err
		}
		ln = tls.NewListener(ln, ServerTLSConfig(certs))
	}

	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
		BaseContext:       func(net.Listener) context.Context { return s.baseCtx },
	}
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()

	// Set up graceful shutdown
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Error channel for Serve
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("server starting", "address", ln.Addr().String(), "tls", !s.config.Insecure)
		errCh <- httpServer.Serve(ln)
	}()

	// Wait for shutdown signal or error
	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil

	case <-ctx.Done():
		s.logger.Info("shutting down...")
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	// Create timeout context
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	// Close all sessions first
	if err := s.sessions.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("sessions did not stop in time", "error", err)
	}
	s.cancelBase()

	// Shutdown HTTP server
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer != nil {
		if err := httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Config returns the server configuration.
func (s *Server) Config() *ServerConfig {
	return s.config
}

// Logger returns the server logger.
func (s *Server) Logger() *slog.Logger {
	return s.logger
}

// SetLogger sets the server logger.
func (s *Server) SetLogger(logger *slog.Logger) {
	s.logger = logger
	s.sessions.logger = logger
}

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/molbridge/molbridge/pkg/frame"
	"github.com/molbridge/molbridge/pkg/protocol"
	"github.com/molbridge/molbridge/pkg/sim"
	"github.com/molbridge/molbridge/pkg/state"
)

// Conn is the part of *websocket.Conn a Session uses. Data writes come from
// one goroutine only; WriteControl and Close may be called concurrently.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// maxCloseReason is the largest close reason that fits a control frame.
const maxCloseReason = 123

// Cause labels for ended sessions.
const (
	causeClientClosed = "client_closed"
	causeTransport    = "transport"
	causeUpstream     = "upstream"
	causeShutdown     = "shutdown"
	causePanic        = "panic"
	causeInternal     = "internal"
	causeRejected     = "rejected"
)

// SessionStats counts a session's traffic.
type SessionStats struct {
	MessagesSent     uint64
	BytesSent        uint64
	MessagesReceived uint64
	ProtocolErrors   uint64
	UpdatesRejected  uint64
}

// Session bridges one WebSocket client to one simulation handle. It streams
// geometry and positions to the client and relays the client's state
// changes to the simulation until either direction stops.
type Session struct {
	id         string
	conn       Conn
	client     sim.Client
	encoder    *frame.Encoder
	config     *SessionConfig
	logger     *slog.Logger
	metrics    *Metrics
	remoteAddr string
	createdAt  time.Time

	// lastSent is only touched by the streaming goroutine.
	lastSent *frame.Frame

	mu        sync.Mutex
	cancel    context.CancelCauseFunc
	closeReq  bool
	firstErr  error
	finished  bool
	running   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	messagesSent     atomic.Uint64
	bytesSent        atomic.Uint64
	messagesReceived atomic.Uint64
	protocolErrors   atomic.Uint64
	updatesRejected  atomic.Uint64
}

// NewSession prepares a session. The session takes ownership of conn and
// client; both are closed when Run returns.
func NewSession(id string, conn Conn, client sim.Client, config *SessionConfig, logger *slog.Logger, metrics *Metrics) (*Session, error) {
	config = config.withDefaults()
	enc, err := frame.NewEncoder(config.Encoder)
	if err != nil {
		return nil, fmt.Errorf("server: session encoder: %w", err)
	}
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	remote := ""
	if addr := conn.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	return &Session{
		id:         id,
		conn:       conn,
		client:     client,
		encoder:    enc,
		config:     config,
		logger:     logger.With("session_id", id, "remote_addr", remote),
		metrics:    metrics,
		remoteAddr: remote,
		createdAt:  time.Now(),
		done:       make(chan struct{}),
	}, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// RemoteAddr returns the client's network address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Done is closed when Run has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stats returns the session's traffic counters.
func (s *Session) Stats() SessionStats {
	return SessionStats{
		MessagesSent:     s.messagesSent.Load(),
		BytesSent:        s.bytesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		ProtocolErrors:   s.protocolErrors.Load(),
		UpdatesRejected:  s.updatesRejected.Load(),
	}
}

// Close asks a running session to stop. Run then closes the connection with
// a going-away close frame. Close does not wait; use Done for that.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeReq = true
	if s.cancel != nil {
		s.cancel(ErrSessionClosed)
	}
}

// Run streams frames and relays state changes until ctx is done, Close is
// called, or either direction fails. The two directions share fate: when
// one stops, the other is cancelled. Run returns the error that ended the
// session, or nil when it was stopped by ctx or Close. No message is
// written after Run returns.
func (s *Session) Run(ctx context.Context) (err error) {
	if !s.running.CompareAndSwap(false, true) {
		return NewSessionError(s.id, "run", ErrSessionClosed)
	}
	defer close(s.done)

	ctx, span := startSessionSpan(ctx, s.id, s.remoteAddr)
	defer func() { endSpan(span, err) }()

	s.metrics.sessionStarted()
	s.logger.Info("session started")

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	s.cancel = cancel
	if s.closeReq {
		cancel(ErrSessionClosed)
	}
	s.mu.Unlock()

	stop := context.AfterFunc(runCtx, func() {
		s.closeConn(s.closeFrameFor(s.result()))
	})
	defer stop()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return s.finish(cancel, s.guard("stream", func() error { return s.streamFrames(gctx) }))
	})
	g.Go(func() error {
		return s.finish(cancel, s.guard("relay", func() error { return s.relayState(gctx) }))
	})
	_ = g.Wait()

	err = s.result()
	s.closeConn(s.closeFrameFor(err))
	if cerr := s.client.Close(); cerr != nil {
		s.logger.Warn("simulation close failed", "error", cerr)
	}

	cause := causeFor(err)
	s.metrics.sessionEnded(cause, time.Since(s.createdAt).Seconds())
	switch cause {
	case causeClientClosed, causeShutdown:
		s.logger.Info("session ended", "cause", cause)
	default:
		s.logger.Warn("session ended", "cause", cause, "error", err)
	}
	return err
}

// finish records the first task result and cancels the other task.
func (s *Session) finish(cancel context.CancelCauseFunc, err error) error {
	s.mu.Lock()
	if !s.finished {
		s.finished = true
		s.firstErr = err
	}
	s.mu.Unlock()
	cancel(err)
	return err
}

func (s *Session) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// guard runs fn, turning a panic into a *PanicError.
func (s *Session) guard(task string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			s.logger.Error("session task panic", "task", task, "panic", r, "stack", string(stack))
			err = &PanicError{SessionID: s.id, Task: task, Panic: r, Stack: stack}
		}
	}()
	return fn()
}

// streamFrames waits for the first frame, sends the geometry once and then
// a positions message on every tick.
func (s *Session) streamFrames(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.config.FirstFrameTimeout)
	err := s.client.WaitUntilFirstFrame(waitCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return NewSessionError(s.id, "first frame", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
	}

	f := s.client.CurrentFrame()
	geometry, err := s.encoder.Geometry(f)
	if err != nil {
		s.logger.Warn("geometry field encoding failed", "error", err)
		s.metrics.encodingError("geometry")
	}
	if err := s.send("geometry", geometry); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	s.logger.Debug("geometry sent", "particles", f.ParticleCount(), "limit", s.encoder.Config().Limit)

	ticker := time.NewTicker(s.config.FrameInterval())
	defer ticker.Stop()
	heartbeat := time.NewTicker(s.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			deadline := time.Now().Add(s.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return &TransportError{SessionID: s.id, Op: "ping", Err: err}
			}
		case <-ticker.C:
			if err := s.sendPositions(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

func (s *Session) sendPositions() error {
	f := s.client.CurrentFrame()
	if s.config.SkipUnchanged && f == s.lastSent {
		return nil
	}
	msg, ok, err := s.encoder.PositionsMessage(f)
	if err != nil {
		s.logger.Warn("positions encoding failed", "error", err)
		s.metrics.encodingError("positions")
		return nil
	}
	if !ok {
		return nil
	}
	if err := s.send("positions", msg); err != nil {
		return err
	}
	s.lastSent = f
	return nil
}

func (s *Session) send(kind string, msg any) error {
	if s.closed.Load() {
		return &TransportError{SessionID: s.id, Op: "write", Err: ErrConnectionClosed}
	}
	data, err := protocol.Encode(msg)
	if err != nil {
		return NewSessionError(s.id, "encode "+kind, err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
		return &TransportError{SessionID: s.id, Op: "write", Err: err}
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{SessionID: s.id, Op: "write", Err: err}
	}
	s.messagesSent.Add(1)
	s.bytesSent.Add(uint64(len(data)))
	s.metrics.messageSent(kind, len(data))
	return nil
}

// relayState reads state changes from the client and forwards them to the
// simulation. Malformed messages and rejected updates are logged and
// skipped.
func (s *Session) relayState(ctx context.Context) error {
	s.conn.SetReadLimit(s.config.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	})

	for {
		msgType, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.readError(err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		s.messagesReceived.Add(1)
		s.metrics.messageReceived()

		if msgType != websocket.TextMessage {
			s.rejectMessage(&protocol.Error{Op: "decode", Err: fmt.Errorf("%w: binary frame", protocol.ErrMalformedMessage)}, len(msg))
			continue
		}

		change, err := protocol.DecodeStateChange(msg)
		if err != nil {
			s.rejectMessage(err, len(msg))
			continue
		}

		update := state.Change{Updates: change.Updates, Removals: change.Removals}
		if err := s.client.AttemptUpdateMultiplayerState(ctx, update); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, sim.ErrClosed) {
				return NewSessionError(s.id, "update", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err))
			}
			s.updatesRejected.Add(1)
			s.metrics.updateRejected()
			s.logger.Warn("state update rejected", "error", err, "updates", len(update.Updates), "removals", len(update.Removals))
		}
	}
}

func (s *Session) rejectMessage(err error, size int) {
	s.protocolErrors.Add(1)
	s.metrics.protocolError()
	s.logger.Warn("malformed client message", "error", err, "bytes", size)
}

func (s *Session) readError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return &TransportError{SessionID: s.id, Op: "read", Err: fmt.Errorf("%w: %w", ErrConnectionClosed, err)}
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		s.logger.Error("read error", "error", err)
	}
	return &TransportError{SessionID: s.id, Op: "read", Err: err}
}

// closeFrameFor maps the session outcome to a close code and reason.
func (s *Session) closeFrameFor(err error) (int, string) {
	var perr *PanicError
	switch {
	case err == nil:
		return websocket.CloseGoingAway, "server closing session"
	case errors.Is(err, ErrUpstreamUnavailable):
		return websocket.CloseTryAgainLater, err.Error()
	case errors.As(err, &perr):
		return websocket.CloseInternalServerErr, "internal error"
	case errors.Is(err, ErrConnectionClosed):
		return websocket.CloseNormalClosure, ""
	default:
		var terr *TransportError
		if errors.As(err, &terr) {
			return websocket.CloseNormalClosure, ""
		}
		return websocket.CloseInternalServerErr, "internal error"
	}
}

// closeConn sends a close frame and closes the connection, once.
func (s *Session) closeConn(code int, reason string) {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		closeWithReason(s.conn, code, reason, s.config.WriteTimeout)
	})
}

// closeWithReason writes a close frame, best effort, then closes conn.
func closeWithReason(conn Conn, code int, reason string, timeout time.Duration) {
	msg := websocket.FormatCloseMessage(code, truncateReason(reason))
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(timeout))
	_ = conn.Close()
}

func truncateReason(reason string) string {
	if len(reason) <= maxCloseReason {
		return reason
	}
	cut := maxCloseReason
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}

func causeFor(err error) string {
	var perr *PanicError
	var terr *TransportError
	switch {
	case err == nil:
		return causeShutdown
	case errors.Is(err, ErrUpstreamUnavailable):
		return causeUpstream
	case errors.As(err, &perr):
		return causePanic
	case errors.Is(err, ErrConnectionClosed):
		return causeClientClosed
	case errors.As(err, &terr):
		return causeTransport
	default:
		return causeInternal
	}
}

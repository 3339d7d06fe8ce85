package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/stream"
)

// sessionReadSize is the read chunk for push-to-talk connections
const sessionReadSize = 1024

// SessionListener accepts push-to-talk devices over TCP. Each connection is
// one recording: everything read until the device closes becomes one segment.
type SessionListener struct {
	listener  net.Listener
	config    config.SessionConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	metrics   *metrics.Metrics

	ctx      context.Context
	cancel   context.CancelFunc
	acceptWG sync.WaitGroup
	group    *errgroup.Group

	conns map[net.Conn]struct{}

	sessionsAccepted uint64
	sessionsRefused  uint64
	bytesReceived    uint64
	mu               sync.RWMutex
}

// NewSessionListener creates a new TCP ingest listener
func NewSessionListener(cfg config.SessionConfig, logger *slog.Logger, streamMgr *stream.Manager, m *metrics.Metrics) *SessionListener {
	ctx, cancel := context.WithCancel(context.Background())

	group := new(errgroup.Group)
	group.SetLimit(cfg.MaxConcurrentSessions)

	return &SessionListener{
		config:    cfg,
		logger:    logger.With(slog.String("component", "session_listener")),
		streamMgr: streamMgr,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		group:     group,
		conns:     make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting. A bind failure is returned.
func (s *SessionListener) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on TCP: %w", err)
	}
	s.listener = listener

	s.logger.Info("Session listener started",
		slog.String("address", listener.Addr().String()),
		slog.Int("max_concurrent_sessions", s.config.MaxConcurrentSessions),
	)

	s.acceptWG.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the bound local address, nil before Start
func (s *SessionListener) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and forces read deadlines on live connections
func (s *SessionListener) Stop() error {
	s.logger.Info("Stopping session listener...")

	s.cancel()

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.SetReadDeadline(time.Now())
	}
	s.mu.Unlock()

	return err
}

// Wait blocks until the accept loop and every connection handler have exited
// or ctx is done
func (s *SessionListener) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.acceptWG.Wait()
		s.group.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	stats := s.GetStatistics()
	s.logger.Info("Session listener stopped",
		slog.Uint64("sessions_accepted", stats.SessionsAccepted),
		slog.Uint64("sessions_refused", stats.SessionsRefused),
		slog.Uint64("bytes_received", stats.BytesReceived),
	)

	return nil
}

func (s *SessionListener) acceptLoop() {
	defer s.acceptWG.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.logger.Debug("Accept loop stopping")
				return
			}
			s.logger.Error("Failed to accept connection", slog.String("error", err.Error()))
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.track(conn)

		if !s.group.TryGo(func() error {
			defer s.untrack(conn)
			s.handleConn(conn)
			return nil
		}) {
			s.untrack(conn)
			s.refuse(conn)
			continue
		}

		s.mu.Lock()
		s.sessionsAccepted++
		s.mu.Unlock()
		s.metrics.RecordSessionAccepted()
	}
}

// refuse closes a connection that arrived while every session slot was busy
func (s *SessionListener) refuse(conn net.Conn) {
	s.mu.Lock()
	s.sessionsRefused++
	s.mu.Unlock()
	s.metrics.RecordSessionRefused()

	s.logger.Warn("Session limit reached, refusing connection",
		slog.String("remote_addr", conn.RemoteAddr().String()),
		slog.Int("max_concurrent_sessions", s.config.MaxConcurrentSessions),
	)
	conn.Close()
}

func (s *SessionListener) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	// a connection accepted while Stop ran must not block forever
	if s.ctx.Err() != nil {
		conn.SetReadDeadline(time.Now())
	}
}

func (s *SessionListener) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn reads one push-to-talk recording until the device closes the
// connection, then finishes the session so its audio is queued.
func (s *SessionListener) handleConn(conn net.Conn) {
	defer conn.Close()

	source := conn.RemoteAddr().String()
	logger := s.logger.With(slog.String("remote_addr", source))

	session, err := s.streamMgr.OpenConnectionSession(source)
	if err != nil {
		logger.Error("Failed to open device session", slog.String("error", err.Error()))
		return
	}

	logger.Info("Device connected", slog.String("session_id", session.ID))

	idle := s.config.GetIdleTimeoutDuration()
	buffer := make([]byte, sessionReadSize)
	reason := "eof"

	for {
		conn.SetReadDeadline(time.Now().Add(idle))
		// Stop may have forced a deadline between the two calls
		if s.ctx.Err() != nil {
			conn.SetReadDeadline(time.Now())
		}

		n, err := conn.Read(buffer)
		if n > 0 {
			session.Feed(buffer[:n])
			s.mu.Lock()
			s.bytesReceived += uint64(n)
			s.mu.Unlock()
			s.metrics.RecordSessionBytes(n)
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, io.EOF):
		case s.ctx.Err() != nil:
			reason = "shutdown"
		case isTimeout(err):
			reason = "idle"
			logger.Warn("Device session idle, closing",
				slog.String("session_id", session.ID),
				slog.Duration("idle_timeout", idle),
			)
		default:
			reason = "read_error"
			logger.Warn("Device connection read failed",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
		break
	}

	info := session.GetSessionInfo()
	s.streamMgr.RemoveSession(session.ID, reason)

	logger.Info("Device disconnected",
		slog.String("session_id", session.ID),
		slog.String("reason", reason),
		slog.Uint64("bytes_received", info.BytesReceived),
	)
}

// GetStatistics returns current listener statistics
func (s *SessionListener) GetStatistics() SessionStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionStatistics{
		SessionsAccepted: s.sessionsAccepted,
		SessionsRefused:  s.sessionsRefused,
		BytesReceived:    s.bytesReceived,
		ActiveSessions:   uint64(len(s.conns)),
	}
}

// SessionStatistics represents session listener statistics
type SessionStatistics struct {
	SessionsAccepted uint64 `json:"sessions_accepted"`
	SessionsRefused  uint64 `json:"sessions_refused"`
	BytesReceived    uint64 `json:"bytes_received"`
	ActiveSessions   uint64 `json:"active_sessions"`
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

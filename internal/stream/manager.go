package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
)

// Transport identifies how a device delivers audio
type Transport string

const (
	TransportDatagram Transport = "udp"
	TransportSession  Transport = "tcp"
)

// SegmentSink receives completed segments; Put must not block
type SegmentSink interface {
	Put(seg *audio.Segment) error
}

// StreamSession is one device session and the assembler it owns
type StreamSession struct {
	ID           string
	Source       string
	Transport    Transport
	StartTime    time.Time
	LastActivity time.Time

	assembler *audio.Assembler

	chunksReceived  uint64
	bytesReceived   uint64
	segmentsQueued  uint64
	segmentsDropped uint64

	manager *Manager

	mu sync.RWMutex
}

// Manager tracks active device sessions. Datagram sessions are keyed by
// remote address and expire after a period of silence; connection sessions
// live until the listener closes them.
type Manager struct {
	sessions map[string]*StreamSession // by session ID
	bySource map[string]string         // datagram source -> session ID
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig
	sink     SegmentSink
	metrics  *metrics.Metrics

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
	stopped bool
}

// ManagerConfig contains configuration for the stream manager
type ManagerConfig struct {
	StreamTimeout   time.Duration // datagram session expiry
	CleanupInterval time.Duration
	Threshold       int // streaming segment size, bytes
	MaxBytes        int // session segment cap, bytes
}

// NewManager creates a new stream manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config ManagerConfig, sink SegmentSink, m *metrics.Metrics) (*Manager, error) {
	if config.Threshold <= 0 {
		return nil, fmt.Errorf("segment threshold must be positive, got %d", config.Threshold)
	}

	if config.StreamTimeout <= 0 {
		config.StreamTimeout = 60 * time.Second
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = config.StreamTimeout / 2
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions: make(map[string]*StreamSession),
		bySource: make(map[string]string),
		logger:   logger.With(slog.String("component", "stream_manager")),
		config:   config,
		sink:     sink,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
		cleanup:  make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// AcquireDatagramSession returns the streaming session of source, creating it
// on first contact. One source always maps to one persistent assembler.
func (m *Manager) AcquireDatagramSession(source string) (*StreamSession, error) {
	m.mu.RLock()
	if id, ok := m.bySource[source]; ok {
		session := m.sessions[id]
		m.mu.RUnlock()
		return session, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// lost the race to another creator
	if id, ok := m.bySource[source]; ok {
		return m.sessions[id], nil
	}

	session, err := m.newSessionLocked(source, TransportDatagram, audio.AssemblerConfig{
		Mode:      audio.ModeStreaming,
		Threshold: m.config.Threshold,
		Source:    source,
	})
	if err != nil {
		return nil, err
	}
	m.bySource[source] = session.ID

	return session, nil
}

// OpenConnectionSession creates a push-to-talk session for one connection
func (m *Manager) OpenConnectionSession(source string) (*StreamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.newSessionLocked(source, TransportSession, audio.AssemblerConfig{
		Mode:     audio.ModeSession,
		MaxBytes: m.config.MaxBytes,
		Source:   source,
	})
}

// newSessionLocked creates and registers a session; caller holds m.mu
func (m *Manager) newSessionLocked(source string, transport Transport, config audio.AssemblerConfig) (*StreamSession, error) {
	if m.stopped {
		return nil, fmt.Errorf("stream manager stopped")
	}

	assembler, err := audio.NewAssembler(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create assembler: %w", err)
	}

	now := time.Now()
	session := &StreamSession{
		ID:           uuid.NewString(),
		Source:       source,
		Transport:    transport,
		StartTime:    now,
		LastActivity: now,
		assembler:    assembler,
		manager:      m,
	}

	m.sessions[session.ID] = session
	m.metrics.RecordStreamCreated()
	m.metrics.SetActiveStreams(len(m.sessions))

	m.logger.Info("Device session started",
		slog.String("session_id", session.ID),
		slog.String("source", source),
		slog.String("transport", string(transport)),
	)

	return session, nil
}

// GetSession retrieves an existing stream session
func (m *Manager) GetSession(id string) (*StreamSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns information about all active sessions, oldest first
func (m *Manager) GetAllSessions() []SessionInfo {
	m.mu.RLock()
	sessions := make([]*StreamSession, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.GetSessionInfo())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].StartTime.Before(infos[j].StartTime) })

	return infos
}

// RemoveSession finishes a session and forgets it. A push-to-talk session
// emits its accumulated audio; a streaming session discards its partial
// remainder.
func (m *Manager) RemoveSession(id string, reason string) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if !exists {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, id)
	if m.bySource[session.Source] == id {
		delete(m.bySource, session.Source)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if seg := session.assembler.Finish(); seg != nil {
		session.dispatch(seg)
	}

	info := session.GetSessionInfo()
	m.metrics.SetActiveStreams(active)
	m.metrics.RecordStreamDestroyed(info.Duration.Seconds())

	m.logger.Info("Device session finished",
		slog.String("session_id", id),
		slog.String("source", session.Source),
		slog.String("reason", reason),
		slog.Duration("duration", info.Duration),
		slog.Uint64("bytes_received", info.BytesReceived),
		slog.Uint64("segments_queued", info.SegmentsQueued),
		slog.Uint64("segments_dropped", info.SegmentsDropped),
		slog.Uint64("bytes_discarded", info.BytesDiscarded),
	)

	return true
}

// Stop finishes every session and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping stream manager...")

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.RemoveSession(id, "shutdown")
	}

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	m.logger.Info("Stream manager stopped", slog.Int("finished_sessions", len(ids)))
}

// startCleanupRoutine runs in a separate goroutine to expire silent datagram sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	m.logger.Debug("Stream cleanup routine started",
		slog.Duration("timeout", m.config.StreamTimeout),
		slog.Duration("check_interval", m.config.CleanupInterval),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Stream cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes datagram sessions that have been silent for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expiredSessions := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if session.Transport != TransportDatagram {
			continue
		}

		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.StreamTimeout {
			expiredSessions = append(expiredSessions, id)
		}
	}
	m.mu.RUnlock()

	if len(expiredSessions) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expiredSessions)),
		)

		for _, id := range expiredSessions {
			m.RemoveSession(id, "expired")
		}
	}
}

// Feed hands received bytes to the session assembler and queues every
// completed segment. It returns the number of segments produced.
func (s *StreamSession) Feed(data []byte) int {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.chunksReceived++
	s.bytesReceived += uint64(len(data))
	s.mu.Unlock()

	produced := 0
	for seg := s.assembler.Feed(data); seg != nil; seg = s.assembler.Next() {
		s.dispatch(seg)
		produced++
	}
	return produced
}

// dispatch queues seg without blocking; a full or closed queue drops it
func (s *StreamSession) dispatch(seg *audio.Segment) {
	logger := s.manager.logger

	if err := s.manager.sink.Put(seg); err != nil {
		s.mu.Lock()
		s.segmentsDropped++
		s.mu.Unlock()

		s.manager.metrics.RecordSegmentDropped()
		logger.Warn("Segment dropped",
			slog.String("session_id", s.ID),
			slog.String("segment_id", seg.ID),
			slog.Int("bytes", seg.Len()),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.segmentsQueued++
	s.mu.Unlock()

	s.manager.metrics.RecordSegmentQueued(seg.Len())
	logger.Debug("Segment queued",
		slog.String("session_id", s.ID),
		slog.String("segment_id", seg.ID),
		slog.Int("bytes", seg.Len()),
	)
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	ID             string        `json:"id"`
	Source         string        `json:"source"`
	Transport      Transport     `json:"transport"`
	Mode           string        `json:"mode"`
	StartTime      time.Time     `json:"start_time"`
	LastActivity   time.Time     `json:"last_activity"`
	Duration       time.Duration `json:"duration"`
	ChunksReceived uint64        `json:"chunks_received"`
	BytesReceived  uint64        `json:"bytes_received"`
	BytesPending   int           `json:"bytes_pending"`
	BytesDiscarded uint64        `json:"bytes_discarded"`

	SegmentsEmitted uint64 `json:"segments_emitted"`
	SegmentsQueued  uint64 `json:"segments_queued"`
	SegmentsDropped uint64 `json:"segments_dropped"`
}

// GetSessionInfo returns session information including assembler stats
func (s *StreamSession) GetSessionInfo() SessionInfo {
	stats := s.assembler.GetStats()

	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:              s.ID,
		Source:          s.Source,
		Transport:       s.Transport,
		Mode:            stats.Mode,
		StartTime:       s.StartTime,
		LastActivity:    s.LastActivity,
		Duration:        time.Since(s.StartTime),
		ChunksReceived:  s.chunksReceived,
		BytesReceived:   s.bytesReceived,
		BytesPending:    stats.BytesPending,
		BytesDiscarded:  stats.BytesDropped,
		SegmentsEmitted: stats.Segments,
		SegmentsQueued:  s.segmentsQueued,
		SegmentsDropped: s.segmentsDropped,
	}
}

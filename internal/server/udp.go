package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/stream"
)

// DatagramListener receives streaming-mode audio as UDP datagrams. Each
// remote address feeds one persistent streaming assembler.
type DatagramListener struct {
	conn      *net.UDPConn
	config    config.DatagramConfig
	logger    *slog.Logger
	streamMgr *stream.Manager
	player    audio.Player
	metrics   *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Datagram processing
	packetChan chan *incomingPacket

	datagramsReceived uint64
	bytesReceived     uint64
	datagramsDropped  uint64
	oversize          uint64
	playbackErrors    uint64
	mu                sync.RWMutex
}

// incomingPacket represents a received datagram with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewDatagramListener creates a new UDP ingest listener
func NewDatagramListener(cfg config.DatagramConfig, logger *slog.Logger, streamMgr *stream.Manager, player audio.Player, m *metrics.Metrics) *DatagramListener {
	ctx, cancel := context.WithCancel(context.Background())

	if player == nil {
		player = audio.NopPlayer{}
	}

	return &DatagramListener{
		config:     cfg,
		logger:     logger.With(slog.String("component", "datagram_listener")),
		streamMgr:  streamMgr,
		player:     player,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000),
	}
}

// Start binds the socket and begins receiving. A bind failure is returned.
func (s *DatagramListener) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Datagram listener started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	s.wg.Add(2)
	go s.packetProcessor()
	go s.receiveLoop()

	return nil
}

// Addr returns the bound local address, nil before Start
func (s *DatagramListener) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop closes the socket so the receive loop exits
func (s *DatagramListener) Stop() error {
	s.logger.Info("Stopping datagram listener...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
			return err
		}
	}

	return nil
}

// Wait blocks until the receive loop and processor have exited or ctx is done
func (s *DatagramListener) Wait(ctx context.Context) error {
	if err := waitGroup(ctx, &s.wg); err != nil {
		return err
	}

	stats := s.GetStatistics()
	s.logger.Info("Datagram listener stopped",
		slog.Uint64("datagrams_received", stats.DatagramsReceived),
		slog.Uint64("bytes_received", stats.BytesReceived),
		slog.Uint64("datagrams_dropped", stats.DatagramsDropped),
	)

	return nil
}

// receiveLoop is the main datagram receiving loop; it is the only sender on packetChan
func (s *DatagramListener) receiveLoop() {
	defer s.wg.Done()
	defer close(s.packetChan)

	// one extra byte detects datagrams larger than allowed
	buffer := make([]byte, s.config.MaxDatagram+1)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP datagram", slog.String("error", err.Error()))
				if errors.Is(err, net.ErrClosed) {
					return
				}
				continue
			}
		}

		if n == 0 {
			continue
		}

		if n > s.config.MaxDatagram {
			s.mu.Lock()
			s.oversize++
			s.mu.Unlock()

			s.logger.Warn("Dropping oversize datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("max_datagram", s.config.MaxDatagram),
			)
			continue
		}

		s.mu.Lock()
		s.datagramsReceived++
		s.bytesReceived += uint64(n)
		s.mu.Unlock()
		s.metrics.RecordDatagram(n)

		// Create packet data copy (buffer will be reused)
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
		default:
			s.mu.Lock()
			s.datagramsDropped++
			s.mu.Unlock()

			s.logger.Warn("Datagram processing queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor feeds datagrams to their device session in arrival order
func (s *DatagramListener) packetProcessor() {
	defer s.wg.Done()

	for packet := range s.packetChan {
		s.handlePacket(packet)
	}

	s.logger.Debug("Datagram processor stopped")
}

// handlePacket plays back and assembles a single datagram
func (s *DatagramListener) handlePacket(packet *incomingPacket) {
	source := packet.remoteAddr.String()

	if err := s.player.Play(packet.data); err != nil {
		s.mu.Lock()
		s.playbackErrors++
		s.mu.Unlock()

		s.logger.Debug("Playback failed", slog.String("error", err.Error()))
	}

	session, err := s.streamMgr.AcquireDatagramSession(source)
	if err != nil {
		s.logger.Error("Failed to acquire device session",
			slog.String("remote_addr", source),
			slog.String("error", err.Error()),
		)
		return
	}

	if produced := session.Feed(packet.data); produced > 0 {
		s.logger.Debug("Datagram completed segment",
			slog.String("session_id", session.ID),
			slog.Int("segments", produced),
		)
	}
}

// GetStatistics returns current listener statistics
func (s *DatagramListener) GetStatistics() DatagramStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return DatagramStatistics{
		DatagramsReceived: s.datagramsReceived,
		BytesReceived:     s.bytesReceived,
		DatagramsDropped:  s.datagramsDropped,
		OversizeDatagrams: s.oversize,
		PlaybackErrors:    s.playbackErrors,
		QueueSize:         uint64(len(s.packetChan)),
		QueueCapacity:     uint64(cap(s.packetChan)),
	}
}

// DatagramStatistics represents datagram listener statistics
type DatagramStatistics struct {
	DatagramsReceived uint64 `json:"datagrams_received"`
	BytesReceived     uint64 `json:"bytes_received"`
	DatagramsDropped  uint64 `json:"datagrams_dropped"`
	OversizeDatagrams uint64 `json:"oversize_datagrams"`
	PlaybackErrors    uint64 `json:"playback_errors"`
	QueueSize         uint64 `json:"queue_size"`
	QueueCapacity     uint64 `json:"queue_capacity"`
}

// waitGroup waits for wg or gives up when ctx is done
func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

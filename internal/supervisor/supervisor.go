// Package supervisor wires the relay together and owns its lifecycle: it
// starts every component and, on shutdown, unblocks and joins them with a
// bounded timeout.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/fanout"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/registry"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/server"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/stream"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/transcription"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/worker"
)

// ErrAlreadyStarted is returned by a second Start
var ErrAlreadyStarted = errors.New("supervisor already started")

// Deps overrides collaborators that are otherwise built from the config
type Deps struct {
	Recognizer transcription.Recognizer
	Player     audio.Player
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Report describes how shutdown went
type Report struct {
	Abandoned []string      `json:"abandoned"`
	Duration  time.Duration `json:"duration"`
}

// Clean reports whether every component exited within its join timeout
func (r Report) Clean() bool {
	return len(r.Abandoned) == 0
}

// Supervisor owns every pipeline component
type Supervisor struct {
	config  *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	registry   *registry.Registry
	bridge     *fanout.Bridge
	queue      *worker.Queue
	worker     *worker.Worker
	recognizer transcription.Recognizer
	player     audio.Player
	streamMgr  *stream.Manager
	datagram   *server.DatagramListener
	session    *server.SessionListener
	gateway    *server.Gateway
	http       *server.HTTPServer

	group        *errgroup.Group
	workerCancel context.CancelFunc
	bridgeCancel context.CancelFunc
	workerDone   chan struct{}
	started      bool
}

// New builds the component graph from cfg. Nothing is bound until Start.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Supervisor, error) {
	registerer := deps.Registerer
	gatherer := deps.Gatherer
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
		gatherer = prometheus.DefaultGatherer
	}
	m := metrics.NewMetrics(registerer)

	recognizer := deps.Recognizer
	if recognizer == nil {
		var err error
		recognizer, err = transcription.New(transcription.Config{
			Provider:      cfg.Recognition.Provider,
			Endpoint:      cfg.Recognition.Endpoint,
			APIKey:        cfg.Recognition.APIKey,
			Model:         cfg.Recognition.Model,
			Timeout:       cfg.Recognition.GetTimeoutDuration(),
			MaxRetries:    cfg.Recognition.MaxRetries,
			MaxConcurrent: cfg.Recognition.MaxConcurrent,
			StaticText:    cfg.Recognition.StaticText,
			Format: audio.Format{
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
				BitDepth:   cfg.Audio.BitDepth,
			},
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create recognizer: %w", err)
		}
	}

	player := deps.Player
	if player == nil {
		player = audio.NopPlayer{}
		if cfg.Playback.Enabled {
			fp, err := audio.NewFilePlayer(cfg.Playback.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to open playback sink: %w", err)
			}
			player = fp
		}
	}

	s := &Supervisor{
		config:     cfg,
		logger:     logger.With(slog.String("component", "supervisor")),
		metrics:    m,
		registry:   registry.New(nil),
		recognizer: recognizer,
		player:     player,
		workerDone: make(chan struct{}),
	}

	broadcaster := fanout.NewBroadcaster(s.registry, logger, m)
	s.bridge = fanout.NewBridge(cfg.Queue.BridgeSize, broadcaster, logger, m)
	s.queue = worker.NewQueue(cfg.Queue.Size, m)
	s.worker = worker.New(worker.Config{Language: cfg.Recognition.Language}, s.queue, recognizer, s.bridge, logger, m)

	streamMgr, err := stream.NewManager(logger, stream.ManagerConfig{
		StreamTimeout:   cfg.Ingest.Datagram.GetStreamTimeoutDuration(),
		CleanupInterval: 10 * time.Second,
		Threshold:       cfg.Audio.SegmentThreshold(),
		MaxBytes:        cfg.Audio.MaxSegmentBytes,
	}, s.queue, m)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream manager: %w", err)
	}
	s.streamMgr = streamMgr

	if cfg.Ingest.Datagram.Enabled {
		s.datagram = server.NewDatagramListener(cfg.Ingest.Datagram, logger, streamMgr, player, m)
	}
	if cfg.Ingest.Session.Enabled {
		s.session = server.NewSessionListener(cfg.Ingest.Session, logger, streamMgr, m)
	}

	var relay server.Relay
	if cfg.Gateway.Echo {
		relay = s.bridge
	}
	s.gateway = server.NewGateway(cfg.Gateway, s.registry, relay, logger, m)

	s.http = server.NewHTTPServer(cfg, logger, server.HTTPDeps{
		Gateway:    s.gateway,
		StreamMgr:  streamMgr,
		Datagram:   s.datagram,
		Session:    s.session,
		Registry:   s.registry,
		Worker:     s.worker,
		Bridge:     s.bridge,
		Recognizer: recognizer,
		Gatherer:   gatherer,
	}, m)

	return s, nil
}

// Start binds every listener and launches the worker and broadcast loop.
// A bind failure stops whatever was already started and is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.started {
		return ErrAlreadyStarted
	}

	var stops []func()
	fail := func(err error) error {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
		s.streamMgr.Stop()
		return err
	}

	if s.datagram != nil {
		if err := s.datagram.Start(); err != nil {
			return fail(fmt.Errorf("datagram listener: %w", err))
		}
		stops = append(stops, func() { s.datagram.Stop() })
	}
	if s.session != nil {
		if err := s.session.Start(); err != nil {
			return fail(fmt.Errorf("session listener: %w", err))
		}
		stops = append(stops, func() { s.session.Stop() })
	}
	if err := s.http.Start(); err != nil {
		return fail(fmt.Errorf("http server: %w", err))
	}

	s.started = true

	base := context.WithoutCancel(ctx)
	workerCtx, workerCancel := context.WithCancel(base)
	bridgeCtx, bridgeCancel := context.WithCancel(base)
	s.workerCancel = workerCancel
	s.bridgeCancel = bridgeCancel

	s.group = new(errgroup.Group)
	s.group.Go(func() error {
		return s.bridge.Run(bridgeCtx)
	})
	s.group.Go(func() error {
		defer close(s.workerDone)
		return s.worker.Run(workerCtx)
	})

	s.logger.Info("Relay started",
		slog.String("http_address", s.http.Addr().String()),
		slog.Bool("datagram_ingest", s.datagram != nil),
		slog.Bool("session_ingest", s.session != nil),
		slog.String("language", s.config.Recognition.Language),
	)

	return nil
}

// HTTPAddr returns the bound HTTP and gateway address
func (s *Supervisor) HTTPAddr() string {
	if addr := s.http.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// DatagramAddr returns the bound UDP ingest address, "" when disabled
func (s *Supervisor) DatagramAddr() string {
	if s.datagram == nil || s.datagram.Addr() == nil {
		return ""
	}
	return s.datagram.Addr().String()
}

// SessionAddr returns the bound TCP ingest address, "" when disabled
func (s *Supervisor) SessionAddr() string {
	if s.session == nil || s.session.Addr() == nil {
		return ""
	}
	return s.session.Addr().String()
}

// Registry exposes the viewer registry
func (s *Supervisor) Registry() *registry.Registry {
	return s.registry
}

// Worker exposes the recognition worker
func (s *Supervisor) Worker() *worker.Worker {
	return s.worker
}

// Shutdown stops ingest, lets the worker and broadcast loop finish, then
// closes the HTTP server and every viewer. Each join is bounded by the
// configured timeout; components that miss it are reported as abandoned.
func (s *Supervisor) Shutdown(ctx context.Context) Report {
	start := time.Now()
	var report Report

	if !s.started {
		s.streamMgr.Stop()
		s.closeResources()
		return report
	}

	s.logger.Info("Shutting down relay...")

	timeout := s.config.Shutdown.GetJoinTimeoutDuration()
	join := func(name string, wait func(context.Context) error) {
		jctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := wait(jctx); err != nil {
			s.logger.Warn("Component did not stop in time, abandoning it",
				slog.String("name", name),
				slog.Duration("join_timeout", timeout),
			)
			report.Abandoned = append(report.Abandoned, name)
		}
	}

	// 1. ingest
	if s.datagram != nil {
		s.datagram.Stop()
		join("datagram_listener", s.datagram.Wait)
	}
	if s.session != nil {
		s.session.Stop()
		join("session_listener", s.session.Wait)
	}
	s.streamMgr.Stop()

	// 2. worker: the sentinel goes behind queued segments; cancellation
	// only happens if they cannot be finished in time
	join("segment_queue", s.queue.Stop)
	join("worker", func(jctx context.Context) error {
		select {
		case <-s.workerDone:
			return nil
		case <-jctx.Done():
		}

		s.workerCancel()
		grace, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		select {
		case <-s.workerDone:
			return nil
		case <-grace.Done():
			return grace.Err()
		}
	})
	s.workerCancel()

	// 3. broadcast loop
	s.bridge.Close()
	join("bridge", func(jctx context.Context) error {
		select {
		case <-s.bridge.Done():
			return nil
		case <-jctx.Done():
			s.bridgeCancel()
			return jctx.Err()
		}
	})
	s.bridgeCancel()

	// 4. viewers
	join("http_server", s.http.Stop)
	join("gateway", s.gateway.Close)

	s.closeResources()

	report.Duration = time.Since(start)
	s.logger.Info("Relay stopped",
		slog.Duration("duration", report.Duration),
		slog.Int("abandoned", len(report.Abandoned)),
	)

	return report
}

// Wait returns once the worker and broadcast loop have exited
func (s *Supervisor) Wait() error {
	if s.group == nil {
		return nil
	}
	return s.group.Wait()
}

func (s *Supervisor) closeResources() {
	if err := s.player.Close(); err != nil {
		s.logger.Warn("Failed to close playback sink", slog.String("error", err.Error()))
	}
	if closer, ok := s.recognizer.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn("Failed to close recognizer", slog.String("error", err.Error()))
		}
	}
}

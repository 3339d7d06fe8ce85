package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/fanout"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/registry"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/stream"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/transcription"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/worker"
)

// ServiceName and Version identify the service in API responses
const (
	ServiceName = "voz-relay"
	Version     = "1.0.0"
)

// HTTPServer serves the monitoring API and the viewer gateway on one listener
type HTTPServer struct {
	server   *http.Server
	listener net.Listener
	logger   *slog.Logger
	config   *config.Config
	deps     HTTPDeps
	metrics  *metrics.Metrics

	startTime time.Time
}

// HTTPDeps are the components the API reports on. Nil listeners are
// reported as disabled.
type HTTPDeps struct {
	Gateway    *Gateway
	StreamMgr  *stream.Manager
	Datagram   *DatagramListener
	Session    *SessionListener
	Registry   *registry.Registry
	Worker     *worker.Worker
	Bridge     *fanout.Bridge
	Recognizer transcription.Recognizer
	Gatherer   prometheus.Gatherer
}

// NewHTTPServer creates the HTTP server
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, deps HTTPDeps, m *metrics.Metrics) *HTTPServer {
	h := &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		config:    appConfig,
		deps:      deps,
		metrics:   m,
		startTime: time.Now(),
	}

	h.server = &http.Server{
		Addr:              appConfig.HTTP.ListenAddress(),
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return h
}

// Routes builds the router. WebSocket upgrades are taken on any path.
func (h *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.upgradeViewers)
	r.Use(h.withMetrics)

	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Get("/streams", h.handleStreams)
	r.Get("/streams/{id}", h.handleStreamDetail)
	r.Get("/config", h.handleConfig)
	r.Get("/stats", h.handleStats)
	r.Get("/stats/transcription", h.handleTranscriptionStats)

	gatherer := h.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return r
}

// upgradeViewers hands WebSocket upgrade requests to the gateway
func (h *HTTPServer) upgradeViewers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.deps.Gateway != nil && websocket.IsWebSocketUpgrade(r) {
			h.deps.Gateway.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withMetrics records request count, latency and errors per route pattern
func (h *HTTPServer) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			endpoint = rctx.RoutePattern()
		}
		if endpoint == "/metrics" {
			return
		}

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		duration := time.Since(startTime).Seconds()
		h.metrics.RecordHTTPRequest(r.Method, endpoint, strconv.Itoa(status), duration)

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	})
}

// Start binds the listener and serves in the background. A bind failure is returned.
func (h *HTTPServer) Start() error {
	listener, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on HTTP address %s: %w", h.server.Addr, err)
	}
	h.listener = listener

	h.logger.Info("HTTP server started",
		slog.String("address", listener.Addr().String()),
	)

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Addr returns the bound local address, nil before Start
func (h *HTTPServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server. Upgraded viewer connections are
// closed by the gateway, not here.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]any{
		"stream_manager": map[string]any{
			"status":         "running",
			"active_streams": h.deps.StreamMgr.GetActiveSessionCount(),
		},
	}

	if h.deps.Datagram != nil {
		stats := h.deps.Datagram.GetStatistics()
		components["datagram_listener"] = map[string]any{
			"status":             "running",
			"datagrams_received": stats.DatagramsReceived,
			"datagrams_dropped":  stats.DatagramsDropped,
		}
	} else {
		components["datagram_listener"] = map[string]any{"status": "disabled"}
	}

	if h.deps.Session != nil {
		stats := h.deps.Session.GetStatistics()
		components["session_listener"] = map[string]any{
			"status":            "running",
			"sessions_accepted": stats.SessionsAccepted,
			"active_sessions":   stats.ActiveSessions,
		}
	} else {
		components["session_listener"] = map[string]any{"status": "disabled"}
	}

	if h.deps.Worker != nil {
		stats := h.deps.Worker.GetStats()
		components["worker"] = map[string]any{
			"status":       "running",
			"processed":    stats.Processed,
			"queue_length": stats.QueueLength,
			"recognizing":  stats.Recognizing,
		}
	}

	if h.deps.Registry != nil {
		components["viewers"] = h.deps.Registry.GetStats()
	}

	writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    ServiceName,
			"version": Version,
		},
		"components": components,
	})
}

// handleStreams implements the /streams endpoint
func (h *HTTPServer) handleStreams(w http.ResponseWriter, r *http.Request) {
	infos := h.deps.StreamMgr.GetAllSessions()

	writeJSON(w, map[string]any{
		"total_streams": len(infos),
		"timestamp":     time.Now().UTC(),
		"streams":       infos,
	})
}

// handleStreamDetail implements the /streams/{id} endpoint
func (h *HTTPServer) handleStreamDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	session, exists := h.deps.StreamMgr.GetSession(id)
	if !exists {
		http.Error(w, "Stream not found", http.StatusNotFound)
		return
	}

	writeJSON(w, session.GetSessionInfo())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// API key is never exposed
	writeJSON(w, map[string]any{
		"ingest": map[string]any{
			"datagram": c.Ingest.Datagram,
			"session":  c.Ingest.Session,
		},
		"http":    c.HTTP,
		"gateway": c.Gateway,
		"audio": map[string]any{
			"sample_rate":       c.Audio.SampleRate,
			"channels":          c.Audio.Channels,
			"bit_depth":         c.Audio.BitDepth,
			"segment_duration":  c.Audio.SegmentDuration,
			"segment_bytes":     c.Audio.SegmentThreshold(),
			"max_segment_bytes": c.Audio.MaxSegmentBytes,
		},
		"queue": c.Queue,
		"recognition": map[string]any{
			"provider":       c.Recognition.Provider,
			"language":       c.Recognition.Language,
			"endpoint":       c.Recognition.Endpoint,
			"model":          c.Recognition.Model,
			"timeout":        c.Recognition.Timeout,
			"max_retries":    c.Recognition.MaxRetries,
			"max_concurrent": c.Recognition.MaxConcurrent,
		},
		"playback": c.Playback,
		"shutdown": c.Shutdown,
		"logging":  c.Logging,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"streams": map[string]any{
			"active_count": h.deps.StreamMgr.GetActiveSessionCount(),
		},
	}

	if h.deps.Datagram != nil {
		stats["datagram"] = h.deps.Datagram.GetStatistics()
	}
	if h.deps.Session != nil {
		stats["session"] = h.deps.Session.GetStatistics()
	}
	if h.deps.Worker != nil {
		stats["worker"] = h.deps.Worker.GetStats()
	}
	if h.deps.Bridge != nil {
		stats["bridge"] = h.deps.Bridge.GetStats()
	}
	if h.deps.Registry != nil {
		stats["viewers"] = h.deps.Registry.GetStats()
	}
	if reporter, ok := h.deps.Recognizer.(transcription.StatsReporter); ok {
		stats["transcription"] = reporter.GetStats()
	}

	writeJSON(w, stats)
}

// handleTranscriptionStats implements the /stats/transcription endpoint
func (h *HTTPServer) handleTranscriptionStats(w http.ResponseWriter, r *http.Request) {
	reporter, ok := h.deps.Recognizer.(transcription.StatsReporter)
	if !ok {
		http.Error(w, "Transcription statistics unavailable", http.StatusNotFound)
		return
	}

	writeJSON(w, reporter.GetStats())
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"service": ServiceName,
		"version": Version,
		"endpoints": map[string]any{
			"GET / (WebSocket)":        "Viewer transcript feed",
			"GET /":                    "API documentation",
			"GET /health":              "Service health check",
			"GET /streams":             "List active device streams",
			"GET /streams/{id}":        "Get device stream information",
			"GET /config":              "Get service configuration",
			"GET /stats":               "Get service statistics",
			"GET /stats/transcription": "Get transcription statistics",
			"GET /metrics":             "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}

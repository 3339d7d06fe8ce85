package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/protocol"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/registry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// ErrOutboxFull is returned by Send when a viewer is not reading fast enough
var ErrOutboxFull = errors.New("viewer outbox full")

// Relay forwards echoed viewer text to the broadcast loop
type Relay interface {
	Broadcast(text string) error
}

// Gateway upgrades viewer connections to WebSocket and keeps the registry in
// step with each connection's subscription state.
type Gateway struct {
	config   config.GatewayConfig
	registry *registry.Registry
	relay    Relay
	logger   *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	viewers map[string]*viewerConn
	closed  bool
	mu      sync.Mutex
	wg      sync.WaitGroup
}

// NewGateway creates a viewer gateway. relay may be nil when echo is disabled.
func NewGateway(cfg config.GatewayConfig, reg *registry.Registry, relay Relay, logger *slog.Logger, m *metrics.Metrics) *Gateway {
	return &Gateway{
		config:   cfg,
		registry: reg,
		relay:    relay,
		logger:   logger.With(slog.String("component", "gateway")),
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// the viewer page is usually opened straight from disk
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		viewers: make(map[string]*viewerConn),
	}
}

// ServeHTTP upgrades the request and serves the viewer until it goes away
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("WebSocket upgrade failed",
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	v := &viewerConn{
		id:      uuid.NewString(),
		conn:    conn,
		outbox:  make(chan string, g.config.OutboxSize),
		done:    make(chan struct{}),
		gateway: g,
		logger: g.logger.With(
			slog.String("remote_addr", conn.RemoteAddr().String()),
		),
	}
	v.logger = v.logger.With(slog.String("viewer_id", v.id))

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	g.viewers[v.id] = v
	g.wg.Add(2)
	g.mu.Unlock()

	g.registry.Connect(v)
	g.updateViewers()
	v.logger.Info("Viewer connected")

	if g.config.StatusMessages {
		v.Send(protocol.StatusConnected)
	}

	go v.writePump()
	v.readPump()
}

// Close disconnects every viewer and waits for their goroutines or ctx
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	viewers := make([]*viewerConn, 0, len(g.viewers))
	for _, v := range g.viewers {
		viewers = append(viewers, v)
	}
	g.mu.Unlock()

	for _, v := range viewers {
		v.close("shutdown")
	}

	return waitGroup(ctx, &g.wg)
}

// ViewerCount returns the number of live viewer connections
func (g *Gateway) ViewerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.viewers)
}

func (g *Gateway) remove(id string) {
	g.mu.Lock()
	delete(g.viewers, id)
	g.mu.Unlock()
}

func (g *Gateway) updateViewers() {
	connected, subscribed := g.registry.Counts()
	g.metrics.SetViewers(connected, subscribed)
}

// handleText applies one inbound text frame
func (g *Gateway) handleText(v *viewerConn, message string) {
	cmd, err := protocol.Parse(message)
	if err != nil {
		g.metrics.RecordViewerMessage("unknown")
		v.logger.Info("Ignoring unknown viewer message", slog.String("error", err.Error()))

		if g.config.Echo && g.relay != nil {
			if rerr := g.relay.Broadcast(message); rerr != nil {
				v.logger.Warn("Failed to relay viewer message", slog.String("error", rerr.Error()))
			}
		}
		return
	}

	g.metrics.RecordViewerMessage(cmd.String())

	switch cmd {
	case protocol.Subscribe:
		if err := g.registry.Subscribe(v.id); err != nil {
			v.logger.Warn("Subscribe failed", slog.String("error", err.Error()))
			return
		}
		v.logger.Info("Viewer subscribed")
	case protocol.Unsubscribe:
		g.registry.Unsubscribe(v.id)
		v.logger.Info("Viewer unsubscribed")
	}

	g.updateViewers()

	if g.config.StatusMessages {
		if status := protocol.StatusFor(cmd); status != "" {
			v.Send(status)
		}
	}
}

// viewerConn is one viewer WebSocket. It is the registry Subscriber; writes
// go through the outbox so a slow viewer never stalls the broadcast loop.
type viewerConn struct {
	id      string
	conn    *websocket.Conn
	outbox  chan string
	done    chan struct{}
	once    sync.Once
	gateway *Gateway
	logger  *slog.Logger
}

// ID returns the connection identity
func (v *viewerConn) ID() string {
	return v.id
}

// Send queues text for the write pump without blocking
func (v *viewerConn) Send(text string) error {
	select {
	case <-v.done:
		return registry.ErrClosed
	default:
	}

	select {
	case v.outbox <- text:
		return nil
	case <-v.done:
		return registry.ErrClosed
	default:
		return ErrOutboxFull
	}
}

// close moves the viewer to Closed. Only the first call has any effect.
func (v *viewerConn) close(reason string) {
	v.once.Do(func() {
		close(v.done)
		v.gateway.registry.Disconnect(v.id)
		v.gateway.remove(v.id)
		v.gateway.updateViewers()

		v.logger.Info("Viewer disconnected", slog.String("reason", reason))
	})
}

// readPump reads frames until the connection fails or the viewer leaves
func (v *viewerConn) readPump() {
	defer v.gateway.wg.Done()

	v.conn.SetReadLimit(v.gateway.config.ReadLimit)
	v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	reason := "closed"
	defer func() { v.close(reason) }()

	for {
		msgType, message, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				select {
				case <-v.done:
				default:
					reason = "read_error"
					v.logger.Warn("Viewer read failed", slog.String("error", err.Error()))
				}
			}
			return
		}

		if msgType != websocket.TextMessage {
			v.logger.Debug("Ignoring non-text frame", slog.Int("type", msgType))
			continue
		}

		v.gateway.handleText(v, string(message))
	}
}

// writePump owns all writes to the connection and closes it on exit
func (v *viewerConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
		v.gateway.wg.Done()
	}()

	for {
		select {
		case text := <-v.outbox:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
				v.logger.Warn("Viewer write failed", slog.String("error", err.Error()))
				v.close("write_error")
				return
			}
		case <-ticker.C:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				v.close("ping_failed")
				return
			}
		case <-v.done:
			v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

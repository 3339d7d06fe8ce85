package server

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/config"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/protocol"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/registry"
)

// echoRelay records relayed viewer text
type echoRelay struct {
	mu    sync.Mutex
	texts []string
}

func (r *echoRelay) Broadcast(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return nil
}

func (r *echoRelay) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type gatewayFixture struct {
	gateway  *Gateway
	registry *registry.Registry
	relay    *echoRelay
	url      string
}

func newGatewayFixture(t *testing.T, mutate func(*config.GatewayConfig)) *gatewayFixture {
	t.Helper()

	cfg := config.Default().Gateway
	if mutate != nil {
		mutate(&cfg)
	}

	reg := registry.New(nil)
	relay := &echoRelay{}
	gw := NewGateway(cfg, reg, relay, testLogger(), nil)

	srv := httptest.NewServer(gw)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		gw.Close(ctx)
		srv.Close()
	})

	return &gatewayFixture{
		gateway:  gw,
		registry: reg,
		relay:    relay,
		url:      "ws" + strings.TrimPrefix(srv.URL, "http"),
	}
}

func (f *gatewayFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(f.url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("Expected text frame, got type %d", msgType)
	}
	return string(data)
}

func broadcast(reg *registry.Registry, text string) {
	for _, sub := range reg.Snapshot() {
		sub.Send(text)
	}
}

func TestGatewaySubscriptionLifecycle(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t)

	eventually(t, func() bool { c, _ := f.registry.Counts(); return c == 1 }, "Expected viewer to be connected")

	if len(f.registry.Snapshot()) != 0 {
		t.Fatal("A fresh viewer must not be subscribed")
	}

	conn.WriteMessage(websocket.TextMessage, []byte(protocol.CommandSubscribe))
	eventually(t, func() bool { _, s := f.registry.Counts(); return s == 1 }, "Expected viewer to be subscribed")

	broadcast(f.registry, "ola")
	if got := readText(t, conn); got != "ola" {
		t.Errorf("Expected ola, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte("  "+protocol.CommandUnsubscribe+"\n"))
	eventually(t, func() bool { _, s := f.registry.Counts(); return s == 0 }, "Expected viewer to be unsubscribed")

	conn.Close()
	eventually(t, func() bool { c, _ := f.registry.Counts(); return c == 0 }, "Expected viewer to be disconnected")
	eventually(t, func() bool { return f.gateway.ViewerCount() == 0 }, "Expected gateway to forget the viewer")
}

func TestGatewayIgnoresUnknownMessages(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t)

	conn.WriteMessage(websocket.TextMessage, []byte("iniciar_transcricao"))
	conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3})
	conn.WriteMessage(websocket.TextMessage, []byte(protocol.CommandSubscribe))

	eventually(t, func() bool { _, s := f.registry.Counts(); return s == 1 }, "Expected connection to survive unknown messages")

	if len(f.relay.Texts()) != 0 {
		t.Error("Unknown messages must not be relayed when echo is off")
	}
}

func TestGatewayEchoRelaysUnknownText(t *testing.T) {
	f := newGatewayFixture(t, func(c *config.GatewayConfig) { c.Echo = true })
	conn := f.dial(t)

	conn.WriteMessage(websocket.TextMessage, []byte("hello"))
	eventually(t, func() bool { return len(f.relay.Texts()) == 1 }, "Expected unknown text to be relayed")

	if got := f.relay.Texts()[0]; got != "hello" {
		t.Errorf("Expected hello relayed, got %q", got)
	}
}

func TestGatewayStatusMessages(t *testing.T) {
	f := newGatewayFixture(t, func(c *config.GatewayConfig) { c.StatusMessages = true })
	conn := f.dial(t)

	if got := readText(t, conn); got != protocol.StatusConnected {
		t.Errorf("Expected connect status, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(protocol.CommandSubscribe))
	if got := readText(t, conn); got != protocol.StatusSubscribed {
		t.Errorf("Expected subscribe status, got %q", got)
	}

	conn.WriteMessage(websocket.TextMessage, []byte(protocol.CommandUnsubscribe))
	if got := readText(t, conn); got != protocol.StatusUnsubscribed {
		t.Errorf("Expected unsubscribe status, got %q", got)
	}
}

func TestViewerSendAfterCloseAndOutboxFull(t *testing.T) {
	f := newGatewayFixture(t, func(c *config.GatewayConfig) { c.OutboxSize = 1 })
	conn := f.dial(t)

	conn.WriteMessage(websocket.TextMessage, []byte(protocol.CommandSubscribe))
	eventually(t, func() bool { _, s := f.registry.Counts(); return s == 1 }, "Expected viewer to be subscribed")

	sub := f.registry.Snapshot()[0]
	v := sub.(*viewerConn)

	v.close("test")
	if err := sub.Send("late"); !errors.Is(err, registry.ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}

	// no write pump drains this one
	blocked := &viewerConn{outbox: make(chan string, 1), done: make(chan struct{})}
	if err := blocked.Send("a"); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := blocked.Send("b"); !errors.Is(err, ErrOutboxFull) {
		t.Errorf("Expected ErrOutboxFull, got %v", err)
	}
}

func TestGatewayCloseDisconnectsViewers(t *testing.T) {
	f := newGatewayFixture(t, nil)
	conn := f.dial(t)

	eventually(t, func() bool { return f.gateway.ViewerCount() == 1 }, "Expected viewer to be connected")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := f.gateway.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected the viewer connection to be closed")
	}

	if c, _ := f.registry.Counts(); c != 0 {
		t.Errorf("Expected no connected viewers, got %d", c)
	}
}

package stream

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
)

// collectingSink records queued segments; failing makes Put reject everything
type collectingSink struct {
	mu       sync.Mutex
	segments []*audio.Segment
	failing  bool
}

func (c *collectingSink) Put(seg *audio.Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing {
		return errors.New("queue full")
	}
	c.segments = append(c.segments, seg)
	return nil
}

func (c *collectingSink) Segments() []*audio.Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*audio.Segment(nil), c.segments...)
}

func createTestManager(t *testing.T, config ManagerConfig, sink SegmentSink) *Manager {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	mgr, err := NewManager(logger, config, sink, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func defaultTestConfig() ManagerConfig {
	return ManagerConfig{
		StreamTimeout:   time.Minute,
		CleanupInterval: time.Minute,
		Threshold:       24000,
		MaxBytes:        80000,
	}
}

func TestNewManagerValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	if _, err := NewManager(logger, ManagerConfig{}, &collectingSink{}, nil); err == nil {
		t.Error("Expected error for zero threshold")
	}
}

func TestDatagramSessionIsPersistentPerSource(t *testing.T) {
	mgr := createTestManager(t, defaultTestConfig(), &collectingSink{})

	first, err := mgr.AcquireDatagramSession("10.0.0.5:4000")
	if err != nil {
		t.Fatalf("AcquireDatagramSession failed: %v", err)
	}
	again, _ := mgr.AcquireDatagramSession("10.0.0.5:4000")
	other, _ := mgr.AcquireDatagramSession("10.0.0.6:4000")

	if first != again {
		t.Error("Expected the same session for the same source")
	}
	if first == other {
		t.Error("Expected distinct sessions for distinct sources")
	}
	if mgr.GetActiveSessionCount() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestDatagramSessionQueuesThresholdSegments(t *testing.T) {
	sink := &collectingSink{}
	mgr := createTestManager(t, defaultTestConfig(), sink)

	session, err := mgr.AcquireDatagramSession("10.0.0.5:4000")
	if err != nil {
		t.Fatalf("AcquireDatagramSession failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		session.Feed(make([]byte, 8000))
	}

	segments := sink.Segments()
	if len(segments) != 1 {
		t.Fatalf("Expected 1 segment, got %d", len(segments))
	}
	if segments[0].Len() != 24000 {
		t.Errorf("Expected 24000-byte segment, got %d", segments[0].Len())
	}
	if segments[0].Source != "10.0.0.5:4000" {
		t.Errorf("Unexpected segment source %q", segments[0].Source)
	}

	info := session.GetSessionInfo()
	if info.ChunksReceived != 3 || info.BytesReceived != 24000 || info.SegmentsQueued != 1 {
		t.Errorf("Unexpected session info: %+v", info)
	}
}

func TestConnectionSessionEmitsOnRemove(t *testing.T) {
	sink := &collectingSink{}
	mgr := createTestManager(t, defaultTestConfig(), sink)

	session, err := mgr.OpenConnectionSession("10.0.0.7:5555")
	if err != nil {
		t.Fatalf("OpenConnectionSession failed: %v", err)
	}

	session.Feed(make([]byte, 5000))
	session.Feed(make([]byte, 5000))
	if len(sink.Segments()) != 0 {
		t.Fatal("Push-to-talk sessions must not emit before they end")
	}

	if !mgr.RemoveSession(session.ID, "eof") {
		t.Fatal("Expected RemoveSession to find the session")
	}

	segments := sink.Segments()
	if len(segments) != 1 || segments[0].Len() != 10000 {
		t.Fatalf("Expected one 10000-byte segment, got %d segments", len(segments))
	}

	if mgr.RemoveSession(session.ID, "eof") {
		t.Error("Expected second RemoveSession to report false")
	}
}

func TestEmptyConnectionSessionEmitsNothing(t *testing.T) {
	sink := &collectingSink{}
	mgr := createTestManager(t, defaultTestConfig(), sink)

	session, _ := mgr.OpenConnectionSession("10.0.0.7:5555")
	mgr.RemoveSession(session.ID, "eof")

	if len(sink.Segments()) != 0 {
		t.Error("Expected no segment from an empty session")
	}
}

func TestDroppedSegmentsAreCounted(t *testing.T) {
	sink := &collectingSink{failing: true}
	mgr := createTestManager(t, defaultTestConfig(), sink)

	session, _ := mgr.AcquireDatagramSession("10.0.0.5:4000")
	if produced := session.Feed(make([]byte, 48000)); produced != 2 {
		t.Errorf("Expected 2 segments produced, got %d", produced)
	}

	if info := session.GetSessionInfo(); info.SegmentsDropped != 2 || info.SegmentsQueued != 0 {
		t.Errorf("Unexpected session info: %+v", info)
	}
}

func TestExpiredDatagramSessionsAreRemoved(t *testing.T) {
	config := defaultTestConfig()
	config.StreamTimeout = 50 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	mgr := createTestManager(t, config, &collectingSink{})

	mgr.AcquireDatagramSession("10.0.0.5:4000")
	conn, _ := mgr.OpenConnectionSession("10.0.0.7:5555")

	deadline := time.Now().Add(2 * time.Second)
	for mgr.GetActiveSessionCount() > 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if mgr.GetActiveSessionCount() != 1 {
		t.Fatalf("Expected only the connection session to remain, got %d", mgr.GetActiveSessionCount())
	}
	if _, ok := mgr.GetSession(conn.ID); !ok {
		t.Error("Connection sessions must not expire on silence")
	}
}

func TestStopFinishesSessions(t *testing.T) {
	sink := &collectingSink{}
	mgr := createTestManager(t, defaultTestConfig(), sink)

	session, _ := mgr.OpenConnectionSession("10.0.0.7:5555")
	session.Feed([]byte{1, 2, 3})

	mgr.Stop()
	mgr.Stop()

	if mgr.GetActiveSessionCount() != 0 {
		t.Error("Expected no sessions after Stop")
	}
	if len(sink.Segments()) != 1 {
		t.Error("Expected the open session to be finished on Stop")
	}
	if _, err := mgr.AcquireDatagramSession("10.0.0.5:4000"); err == nil {
		t.Error("Expected error creating sessions after Stop")
	}
}

func TestGetAllSessions(t *testing.T) {
	mgr := createTestManager(t, defaultTestConfig(), &collectingSink{})

	mgr.AcquireDatagramSession("10.0.0.5:4000")
	time.Sleep(time.Millisecond)
	mgr.OpenConnectionSession("10.0.0.7:5555")

	infos := mgr.GetAllSessions()
	if len(infos) != 2 {
		t.Fatalf("Expected 2 sessions, got %d", len(infos))
	}
	if infos[0].Transport != TransportDatagram || infos[0].Mode != "streaming" {
		t.Errorf("Expected oldest session to be the datagram stream, got %+v", infos[0])
	}
	if infos[1].Transport != TransportSession || infos[1].Mode != "session" {
		t.Errorf("Unexpected second session: %+v", infos[1])
	}
}

package server

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// segmentSink collects queued segments
type segmentSink struct {
	mu       sync.Mutex
	segments []*audio.Segment
}

func (s *segmentSink) Put(seg *audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
	return nil
}

func (s *segmentSink) Segments() []*audio.Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*audio.Segment(nil), s.segments...)
}

func newTestManager(t *testing.T, sink stream.SegmentSink) *stream.Manager {
	t.Helper()
	mgr, err := stream.NewManager(testLogger(), stream.ManagerConfig{
		StreamTimeout:   time.Minute,
		CleanupInterval: time.Minute,
		Threshold:       24000,
		MaxBytes:        80000,
	}, sink, nil)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// recordingPlayer counts played bytes
type recordingPlayer struct {
	mu    sync.Mutex
	bytes int
}

func (p *recordingPlayer) Play(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytes += len(data)
	return nil
}

func (p *recordingPlayer) Close() error { return nil }

func (p *recordingPlayer) Bytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytes
}

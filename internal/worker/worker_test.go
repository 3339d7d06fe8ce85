package worker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// scriptedRecognizer returns one scripted result per call, in order
type scriptedRecognizer struct {
	mu        sync.Mutex
	results   []func() (string, error)
	calls     []string
	languages []string
}

func (s *scriptedRecognizer) Recognize(ctx context.Context, seg audio.Segment, language string) (string, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, seg.ID)
	s.languages = append(s.languages, language)
	s.mu.Unlock()

	if n < len(s.results) {
		return s.results[n]()
	}
	return "", transcription.ErrNoMatch
}

func (s *scriptedRecognizer) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func text(t string) func() (string, error) { return func() (string, error) { return t, nil } }
func fail(err error) func() (string, error) {
	return func() (string, error) { return "", err }
}

// recordingPublisher collects published text
type recordingPublisher struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (p *recordingPublisher) Broadcast(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.texts = append(p.texts, text)
	return nil
}

func (p *recordingPublisher) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func segment(id string) *audio.Segment {
	return &audio.Segment{ID: id, Data: []byte{128, 128}, CreatedAt: time.Now()}
}

func runWorker(t *testing.T, w *Worker, ctx context.Context) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Worker did not stop")
	}
}

func TestQueuePutFullAndClosed(t *testing.T) {
	q := NewQueue(2, nil)

	if err := q.Put(segment("1")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := q.Put(segment("2")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := q.Put(segment("3")); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if q.Len() != 2 || q.Cap() != 2 {
		t.Errorf("Expected len 2 cap 2, got %d/%d", q.Len(), q.Cap())
	}

	// the sentinel still fits behind a full queue
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := q.Stop(ctx); err != nil {
		t.Errorf("Second Stop should be a no-op, got %v", err)
	}

	if err := q.Put(segment("4")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Expected ErrQueueClosed, got %v", err)
	}
}

func TestWorkerProcessesInOrderAndPublishesTextOnly(t *testing.T) {
	q := NewQueue(10, nil)
	rec := &scriptedRecognizer{results: []func() (string, error){
		text("um"),
		fail(transcription.ErrNoMatch),
		fail(transcription.NewServiceError("http", 503, errors.New("down"))),
		fail(errors.New("surprise")),
		text("  "),
		text("dois"),
	}}
	pub := &recordingPublisher{}
	w := New(Config{Language: "pt-BR"}, q, rec, pub, testLogger(), nil)

	ids := []string{"a", "b", "c", "d", "e", "f"}
	for _, id := range ids {
		if err := q.Put(segment(id)); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := q.Stop(context.Background()); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	waitDone(t, runWorker(t, w, context.Background()))

	calls := rec.Calls()
	if len(calls) != len(ids) {
		t.Fatalf("Expected %d recognition calls, got %v", len(ids), calls)
	}
	for i := range ids {
		if calls[i] != ids[i] {
			t.Errorf("Call %d: expected segment %s, got %s", i, ids[i], calls[i])
		}
	}
	for _, lang := range rec.languages {
		if lang != "pt-BR" {
			t.Errorf("Expected language pt-BR, got %s", lang)
		}
	}

	got := pub.Texts()
	if len(got) != 2 || got[0] != "um" || got[1] != "dois" {
		t.Errorf("Expected only [um dois] published, got %v", got)
	}

	stats := w.GetStats()
	if stats.Processed != 6 || stats.Texts != 2 || stats.NoMatch != 2 || stats.ServiceErrors != 1 || stats.Unexpected != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestWorkerSurvivesPanic(t *testing.T) {
	q := NewQueue(10, nil)
	rec := &scriptedRecognizer{results: []func() (string, error){
		func() (string, error) { panic("recognizer exploded") },
		text("ola"),
	}}
	pub := &recordingPublisher{}
	w := New(Config{Language: "pt-BR"}, q, rec, pub, testLogger(), nil)

	q.Put(segment("a"))
	q.Put(segment("b"))
	q.Stop(context.Background())

	waitDone(t, runWorker(t, w, context.Background()))

	if got := pub.Texts(); len(got) != 1 || got[0] != "ola" {
		t.Errorf("Expected worker to continue after panic, got %v", got)
	}
	if w.GetStats().Unexpected != 1 {
		t.Errorf("Expected one unexpected failure, got %+v", w.GetStats())
	}
}

func TestWorkerPublishFailureIsContained(t *testing.T) {
	q := NewQueue(10, nil)
	rec := &scriptedRecognizer{results: []func() (string, error){text("um"), text("dois")}}
	pub := &recordingPublisher{err: errors.New("bridge full")}
	w := New(Config{Language: "pt-BR"}, q, rec, pub, testLogger(), nil)

	q.Put(segment("a"))
	q.Put(segment("b"))
	q.Stop(context.Background())

	waitDone(t, runWorker(t, w, context.Background()))

	if len(rec.Calls()) != 2 {
		t.Error("Worker must keep processing after a publish failure")
	}
	if w.GetStats().PublishFailed != 2 {
		t.Errorf("Expected 2 publish failures, got %+v", w.GetStats())
	}
}

func TestWorkerStopsOnCancellation(t *testing.T) {
	q := NewQueue(10, nil)
	w := New(Config{Language: "pt-BR"}, q, &scriptedRecognizer{}, &recordingPublisher{}, testLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := runWorker(t, w, ctx)

	cancel()
	waitDone(t, done)
}

func TestWorkerSkipsSegmentsAfterCancellation(t *testing.T) {
	q := NewQueue(10, nil)
	rec := &scriptedRecognizer{}
	w := New(Config{Language: "pt-BR"}, q, rec, &recordingPublisher{}, testLogger(), nil)

	q.Put(segment("a"))
	q.Put(segment("b"))
	q.Stop(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	waitDone(t, runWorker(t, w, ctx))

	if len(rec.Calls()) != 0 {
		t.Errorf("Expected no recognition after cancellation, got %v", rec.Calls())
	}
}

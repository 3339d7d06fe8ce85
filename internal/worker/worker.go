package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/transcription"
)

// Publisher schedules delivery of recognized text without blocking
type Publisher interface {
	Broadcast(text string) error
}

// Config contains recognition worker configuration
type Config struct {
	Language string
}

// Worker drains the queue one segment at a time. Only recognized text is
// published; no-match and service errors are logged and counted.
type Worker struct {
	config     Config
	queue      *Queue
	recognizer transcription.Recognizer
	publisher  Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics

	processed     atomic.Uint64
	texts         atomic.Uint64
	noMatch       atomic.Uint64
	serviceErrors atomic.Uint64
	unexpected    atomic.Uint64
	skipped       atomic.Uint64
	publishFailed atomic.Uint64
	busy          atomic.Bool
}

// Stats represents worker statistics
type Stats struct {
	Processed     uint64 `json:"processed"`
	Texts         uint64 `json:"texts"`
	NoMatch       uint64 `json:"no_match"`
	ServiceErrors uint64 `json:"service_errors"`
	Unexpected    uint64 `json:"unexpected"`
	Skipped       uint64 `json:"skipped"`
	PublishFailed uint64 `json:"publish_failed"`
	QueueLength   int    `json:"queue_length"`
	QueueCapacity int    `json:"queue_capacity"`
	Recognizing   bool   `json:"recognizing"`
}

// New creates a recognition worker
func New(config Config, queue *Queue, recognizer transcription.Recognizer, publisher Publisher, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		config:     config,
		queue:      queue,
		recognizer: recognizer,
		publisher:  publisher,
		logger:     logger.With(slog.String("component", "worker")),
		metrics:    m,
	}
}

// Run processes segments in FIFO order until the sentinel arrives or ctx is
// cancelled. Segments dequeued after cancellation are skipped.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Recognition worker started", slog.String("language", w.config.Language))

	for {
		select {
		case it := <-w.queue.items:
			w.metrics.SetQueueSize(len(w.queue.items))

			if it.stop {
				w.logger.Info("Recognition worker stopped")
				return nil
			}

			if ctx.Err() != nil {
				w.skipped.Add(1)
				w.logger.Info("Skipping segment during shutdown",
					slog.String("segment_id", it.segment.ID))
				continue
			}

			w.process(ctx, it.segment)

		case <-ctx.Done():
			w.logger.Info("Recognition worker cancelled",
				slog.Int("abandoned_segments", w.queue.Len()))
			return nil
		}
	}
}

// process recognizes one segment. No failure escapes it.
func (w *Worker) process(ctx context.Context, seg *audio.Segment) {
	logger := w.logger.With(
		slog.String("segment_id", seg.ID),
		slog.String("source", seg.Source),
		slog.Int("bytes", seg.Len()))

	w.busy.Store(true)
	start := time.Now()

	defer func() {
		w.busy.Store(false)
		w.processed.Add(1)

		if r := recover(); r != nil {
			w.unexpected.Add(1)
			w.metrics.RecordRecognition(transcription.OutcomeUnexpected.String(), time.Since(start).Seconds())
			logger.Error("Recognizer panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	logger.Debug("Recognizing segment")

	text, err := w.recognizer.Recognize(ctx, *seg, w.config.Language)
	elapsed := time.Since(start)
	outcome := transcription.Classify(text, err)
	w.metrics.RecordRecognition(outcome.Kind.String(), elapsed.Seconds())

	switch outcome.Kind {
	case transcription.OutcomeText:
		w.texts.Add(1)
		logger.Info("Segment recognized",
			slog.String("text", outcome.Text),
			slog.Duration("duration", elapsed))

		if err := w.publisher.Broadcast(outcome.Text); err != nil {
			w.publishFailed.Add(1)
			logger.Warn("Failed to schedule broadcast", slog.String("error", err.Error()))
		}

	case transcription.OutcomeNoMatch:
		w.noMatch.Add(1)
		logger.Info("No speech recognized", slog.Duration("duration", elapsed))

	case transcription.OutcomeServiceError:
		w.serviceErrors.Add(1)
		logger.Warn("Recognition service error",
			slog.Duration("duration", elapsed),
			slog.String("error", outcome.Err.Error()))

	default:
		w.unexpected.Add(1)
		logger.Error("Unexpected recognition failure",
			slog.Duration("duration", elapsed),
			slog.String("error", outcome.Err.Error()))
	}
}

// GetStats returns current worker statistics
func (w *Worker) GetStats() Stats {
	return Stats{
		Processed:     w.processed.Load(),
		Texts:         w.texts.Load(),
		NoMatch:       w.noMatch.Load(),
		ServiceErrors: w.serviceErrors.Load(),
		Unexpected:    w.unexpected.Load(),
		Skipped:       w.skipped.Load(),
		PublishFailed: w.publishFailed.Load(),
		QueueLength:   w.queue.Len(),
		QueueCapacity: w.queue.Cap(),
		Recognizing:   w.busy.Load(),
	}
}

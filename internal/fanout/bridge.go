package fanout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
)

var (
	// ErrBridgeFull is returned when the task queue has no room
	ErrBridgeFull = errors.New("broadcast bridge full")
	// ErrBridgeClosed is returned after Close
	ErrBridgeClosed = errors.New("broadcast bridge closed")
)

// Task is a unit of work executed on the broadcast loop
type Task func(ctx context.Context) error

// Bridge moves work from any goroutine onto one consumer goroutine. Tasks
// run one at a time in submission order.
type Bridge struct {
	tasks       chan Task
	broadcaster *Broadcaster
	logger      *slog.Logger
	metrics     *metrics.Metrics

	closed    bool
	closeOnce sync.Once
	done      chan struct{}
	mu        sync.RWMutex

	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

// BridgeStats represents bridge statistics
type BridgeStats struct {
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
	Rejected  uint64 `json:"rejected"`
	Pending   int    `json:"pending"`
	Capacity  int    `json:"capacity"`
}

// NewBridge creates a bridge with room for size pending tasks
func NewBridge(size int, broadcaster *Broadcaster, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	if size <= 0 {
		size = 1
	}
	return &Bridge{
		tasks:       make(chan Task, size),
		broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "bridge")),
		metrics:     m,
		done:        make(chan struct{}),
	}
}

// Submit schedules task without blocking the caller
func (b *Bridge) Submit(task Task) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.rejected.Add(1)
		return ErrBridgeClosed
	}

	select {
	case b.tasks <- task:
		b.submitted.Add(1)
		b.metrics.SetBridgeQueueSize(len(b.tasks))
		return nil
	default:
		b.rejected.Add(1)
		return ErrBridgeFull
	}
}

// Broadcast schedules a fan-out of text to the current subscribers
func (b *Bridge) Broadcast(text string) error {
	return b.Submit(func(ctx context.Context) error {
		b.broadcaster.Broadcast(ctx, text)
		return nil
	})
}

// Run executes tasks until Close or ctx cancellation. Tasks already queued
// at that point are still executed before Run returns.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)

	b.logger.Info("Broadcast loop started")

	for {
		select {
		case task, ok := <-b.tasks:
			if !ok {
				b.logger.Info("Broadcast loop drained")
				return nil
			}
			b.execute(ctx, task)

		case <-ctx.Done():
			b.Close()
			drainCtx := context.WithoutCancel(ctx)
			for task := range b.tasks {
				b.execute(drainCtx, task)
			}
			b.logger.Info("Broadcast loop drained after cancellation")
			return nil
		}
	}
}

// execute runs one task, containing its error or panic
func (b *Bridge) execute(ctx context.Context, task Task) {
	defer func() {
		b.executed.Add(1)
		b.metrics.SetBridgeQueueSize(len(b.tasks))

		if r := recover(); r != nil {
			b.failed.Add(1)
			b.metrics.RecordBridgeTaskFailure()
			b.logger.Error("Broadcast task panicked", slog.String("panic", fmt.Sprint(r)))
		}
	}()

	if err := task(ctx); err != nil {
		b.failed.Add(1)
		b.metrics.RecordBridgeTaskFailure()
		b.logger.Error("Broadcast task failed", slog.String("error", err.Error()))
	}
}

// Close stops accepting tasks. Run drains what was queued and returns.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		close(b.tasks)
		b.mu.Unlock()
	})
}

// Done is closed when Run has returned
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

// GetStats returns current bridge statistics
func (b *Bridge) GetStats() BridgeStats {
	return BridgeStats{
		Submitted: b.submitted.Load(),
		Executed:  b.executed.Load(),
		Failed:    b.failed.Load(),
		Rejected:  b.rejected.Load(),
		Pending:   len(b.tasks),
		Capacity:  cap(b.tasks),
	}
}

// Package worker runs the single recognition worker and its segment queue.
package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/audio"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
)

var (
	// ErrQueueFull is returned by Put when the queue has no room
	ErrQueueFull = errors.New("segment queue full")
	// ErrQueueClosed is returned by Put after Stop
	ErrQueueClosed = errors.New("segment queue closed")
)

// item is a queued segment or, when stop is set, the terminal sentinel
type item struct {
	segment *audio.Segment
	stop    bool
}

// Queue is a bounded FIFO of segments, safe for many producers and one consumer
type Queue struct {
	items   chan item
	metrics *metrics.Metrics

	closed   bool
	stopOnce sync.Once
	mu       sync.RWMutex
}

// NewQueue creates a queue holding up to size segments
func NewQueue(size int, m *metrics.Metrics) *Queue {
	if size <= 0 {
		size = 1
	}
	// one extra slot so the sentinel fits behind a full queue
	return &Queue{
		items:   make(chan item, size+1),
		metrics: m,
	}
}

// Put enqueues seg without blocking
func (q *Queue) Put(seg *audio.Segment) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) >= cap(q.items)-1 {
		return ErrQueueFull
	}

	select {
	case q.items <- item{segment: seg}:
		q.metrics.SetQueueSize(len(q.items))
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue to producers and enqueues the sentinel behind every
// segment already queued. It blocks only while the queue is full, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	var err error
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()

		select {
		case q.items <- item{stop: true}:
		case <-ctx.Done():
			err = ctx.Err()
		}
	})
	return err
}

// Len returns the number of queued items
func (q *Queue) Len() int {
	return len(q.items)
}

// Cap returns the number of segments the queue can hold
func (q *Queue) Cap() int {
	return cap(q.items) - 1
}

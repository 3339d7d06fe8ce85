// Package fanout delivers recognized text to subscribed viewers.
//
// Broadcaster performs one fan-out over a registry snapshot. Bridge is the
// single-consumer task loop that lets the recognition worker schedule
// broadcasts without blocking, preserving submission order.
package fanout

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/metrics"
	"github.com/Matheusvilanova/VozLivre-speech-recognition/internal/registry"
)

// Delivery summarizes one broadcast
type Delivery struct {
	Attempted int `json:"attempted"`
	Delivered int `json:"delivered"`
	Closed    int `json:"closed"`
	Failed    int `json:"failed"`
}

// Broadcaster sends text to every subscriber in a registry snapshot
type Broadcaster struct {
	registry *registry.Registry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewBroadcaster creates a broadcaster reading from reg
func NewBroadcaster(reg *registry.Registry, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		registry: reg,
		logger:   logger.With(slog.String("component", "broadcaster")),
		metrics:  m,
	}
}

// Broadcast attempts delivery of text to every current subscriber. A closed
// connection is skipped silently since its own disconnect path removes it.
// Other failures are logged and never abort delivery to the rest. Sends
// never block, so a cancelled ctx does not cut a fan-out short.
func (b *Broadcaster) Broadcast(ctx context.Context, text string) Delivery {
	subs := b.registry.Snapshot()

	var d Delivery
	if len(subs) == 0 {
		return d
	}

	for _, sub := range subs {
		d.Attempted++
		err := sub.Send(text)
		switch {
		case err == nil:
			d.Delivered++
		case errors.Is(err, registry.ErrClosed):
			d.Closed++
		default:
			d.Failed++
			b.logger.Warn("Delivery to subscriber failed",
				slog.String("subscriber_id", sub.ID()),
				slog.String("error", err.Error()))
		}
	}

	b.metrics.RecordBroadcast(d.Delivered, d.Failed)
	b.logger.DebugContext(ctx, "Broadcast complete",
		slog.Int("attempted", d.Attempted),
		slog.Int("delivered", d.Delivered),
		slog.Int("failed", d.Failed))

	return d
}

// Package snapshot periodically publishes each room's encoded document state
// to external storage. The collaboration core keeps no durable history
// itself; this publisher is the hook an external persistence layer consumes.
package snapshot

import (
	"context"
	"time"

	"go.uber.org/zap"

	"collabcanvas/room"
)

// Sink stores one encoded document snapshot outside the process.
type Sink interface {
	Store(ctx context.Context, roomID string, state []byte) error
}

// Publisher walks the registry on a fixed interval and stores every active
// room's current state. A failed store is logged and skipped; publishing
// never interrupts room traffic beyond the per-room lock for one encode.
type Publisher struct {
	registry *room.Registry
	sink     Sink
	interval time.Duration
	logger   *zap.Logger
}

// NewPublisher creates a publisher. It does nothing until Run is called.
func NewPublisher(registry *room.Registry, sink Sink, interval time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{
		registry: registry,
		sink:     sink,
		interval: interval,
		logger:   logger,
	}
}

// Run publishes snapshots until the context is cancelled. A non-positive
// interval disables publishing; Run logs and returns instead of ticking.
func (p *Publisher) Run(ctx context.Context) {
	if p.interval <= 0 {
		p.logger.Warn("snapshot publishing disabled",
			zap.Duration("interval", p.interval))
		return
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PublishAll(ctx)
		}
	}
}

// PublishAll stores the current state of every active room.
func (p *Publisher) PublishAll(ctx context.Context) {
	for _, r := range p.registry.Rooms() {
		state, err := r.Snapshot()
		if err != nil {
			p.logger.Warn("failed to encode room snapshot",
				zap.String("room_id", r.ID()),
				zap.Error(err))
			continue
		}

		if err := p.sink.Store(ctx, r.ID(), state); err != nil {
			p.logger.Warn("failed to store room snapshot",
				zap.String("room_id", r.ID()),
				zap.Int("state_size", len(state)),
				zap.Error(err))
			continue
		}

		p.logger.Debug("room snapshot stored",
			zap.String("room_id", r.ID()),
			zap.Int("state_size", len(state)))
	}
}

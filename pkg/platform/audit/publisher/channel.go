package publisher

import (
	"context"
	"log/slog"

	"attesto/pkg/platform/audit"
)

// ChannelPublisher enqueues events for an in-process worker. Used when no
// broker is configured. Publishing never blocks: on a full buffer the event
// is dropped with a warning, matching the broker publisher's degrade-only
// contract.
type ChannelPublisher struct {
	events chan audit.Event
	logger *slog.Logger
}

// NewChannel builds a publisher with the given buffer size.
func NewChannel(buffer int, logger *slog.Logger) *ChannelPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelPublisher{
		events: make(chan audit.Event, buffer),
		logger: logger,
	}
}

// Publish enqueues the event, dropping it if the worker has fallen behind.
func (p *ChannelPublisher) Publish(ctx context.Context, event audit.Event) error {
	select {
	case p.events <- event:
	default:
		p.logger.Warn("audit buffer full, dropping event", "action", event.Action)
	}
	return nil
}

// Events is consumed by the audit worker.
func (p *ChannelPublisher) Events() <-chan audit.Event {
	return p.events
}

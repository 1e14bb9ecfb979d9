package session

import (
	"context"
	"log/slog"

	"carebot/pkg/bus"
)

// ObserveEvents logs pipeline events from messageBus until ctx ends or the
// bus closes. Slow logging drops events rather than blocking runs.
func ObserveEvents(ctx context.Context, messageBus *bus.MessageBus) {
	log := slog.Default().With("component", "bus.events")
	events, unsubscribe := messageBus.SubscribeEvents(ctx, 64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"run_id", event.RunID,
		"sender_id", event.SenderID,
		"timestamp", event.At.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
	if event.Channel != "" {
		attrs = append(attrs, "channel", event.Channel)
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}

	switch event.Type {
	case bus.EventUpstreamFailed:
		log.Warn("Pipeline event", append(attrs, "error", event.Error)...)
	case bus.EventOutcomeReady, bus.EventStrategySelected:
		log.Info("Pipeline event", attrs...)
	default:
		log.Debug("Pipeline event", attrs...)
	}
}

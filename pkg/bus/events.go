package bus

import (
	"context"
	"sync"
	"time"
)

// EventType names a pipeline milestone.
type EventType string

const (
	EventMessageReceived   EventType = "message_received"
	EventStrategySelected  EventType = "strategy_selected"
	EventUpstreamCompleted EventType = "upstream_completed"
	EventUpstreamFailed    EventType = "upstream_failed"
	EventOutcomeReady      EventType = "outcome_ready"
)

// Event is one pipeline milestone. Payload values are short strings; user
// text never travels in events.
type Event struct {
	Type     EventType         `json:"type"`
	At       time.Time         `json:"at"`
	Channel  string            `json:"channel,omitempty"`
	SenderID string            `json:"sender_id,omitempty"`
	RunID    string            `json:"run_id,omitempty"`
	Payload  map[string]string `json:"payload,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// EventPublisher is the narrow interface the pipeline publishes through.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event Event) bool
}

// PublishEvent fans event out to every subscriber without blocking; events
// for a full subscriber are dropped.
func (mb *MessageBus) PublishEvent(ctx context.Context, event Event) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	mb.mu.RLock()
	defer mb.mu.RUnlock()
	for _, ch := range mb.eventSubscribers {
		select {
		case ch <- event:
		default:
		}
	}

	return true
}

// SubscribeEvents registers a subscriber with the given buffer. The channel
// closes when ctx ends, the bus closes or unsubscribe is called.
func (mb *MessageBus) SubscribeEvents(ctx context.Context, buffer int) (<-chan Event, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	if buffer <= 0 {
		buffer = defaultBufferSize
	}

	ch := make(chan Event, buffer)

	mb.mu.Lock()
	select {
	case <-mb.done:
		mb.mu.Unlock()
		close(ch)
		return ch, func() {}
	default:
	}

	id := mb.nextEventSubscriberID
	mb.nextEventSubscriberID++
	mb.eventSubscribers[id] = ch
	mb.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			mb.mu.Lock()
			if eventCh, ok := mb.eventSubscribers[id]; ok {
				delete(mb.eventSubscribers, id)
				close(eventCh)
			}
			mb.mu.Unlock()
		})
	}

	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-mb.done:
			unsubscribe()
		}
	}()

	return ch, unsubscribe
}

// Package bus carries messages between channel adapters and pipeline workers
// and fans pipeline events out to observers.
package bus

import (
	"context"
	"sync"
)

const defaultBufferSize = 100

// MessageBus holds buffered inbound and outbound queues plus event
// subscribers. All methods are safe for concurrent use.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once

	mu sync.RWMutex
}

// NewMessageBus creates an open bus.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:          make(chan InboundMessage, defaultBufferSize),
		outbound:         make(chan OutboundMessage, defaultBufferSize),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

// PublishInbound queues msg for a pipeline worker.
func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) bool {
	return send(ctx, mb.done, mb.inbound, msg)
}

// ConsumeInbound blocks until a message arrives, ctx ends or the bus closes.
func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	return receive(ctx, mb.done, mb.inbound)
}

// PublishOutbound queues a reply.
func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) bool {
	return send(ctx, mb.done, mb.outbound, msg)
}

// SubscribeOutbound blocks until a reply arrives, ctx ends or the bus closes.
func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	return receive(ctx, mb.done, mb.outbound)
}

// Close stops the bus and closes every event subscription. It is idempotent.
func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}

func send[T any](ctx context.Context, done <-chan struct{}, ch chan<- T, msg T) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	// Refuse early so a closed bus never accepts into buffer space.
	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	default:
	}

	select {
	case <-ctx.Done():
		return false
	case <-done:
		return false
	case ch <- msg:
		return true
	}
}

func receive[T any](ctx context.Context, done <-chan struct{}, ch <-chan T) (T, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	var zero T
	select {
	case <-ctx.Done():
		return zero, false
	case <-done:
		return zero, false
	case msg := <-ch:
		return msg, true
	}
}

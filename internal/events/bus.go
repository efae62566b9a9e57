package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Bus manages event distribution using Go channels: one buffered channel
// per subscriber, non-blocking publish with drop-on-full, kept in the same
// shape as the teacher's internal/core/events.EventBus.
type Bus struct {
	subscribers map[EventType][]chan Event
	mu          sync.RWMutex
	bufferSize  int
	logger      zerolog.Logger

	publishedCount map[EventType]int64
	droppedCount   map[EventType]int64
	metricsLock    sync.RWMutex
}

// NewBus creates a new event bus with the given per-subscriber buffer size.
func NewBus(bufferSize int, logger zerolog.Logger) *Bus {
	return &Bus{
		subscribers:    make(map[EventType][]chan Event),
		bufferSize:     bufferSize,
		logger:         logger,
		publishedCount: make(map[EventType]int64),
		droppedCount:   make(map[EventType]int64),
	}
}

// Subscribe returns a buffered, read-only channel that receives every
// future event of the given type.
func (b *Bus) Subscribe(eventType EventType) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.bufferSize)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	b.logger.Info().
		Str("event_type", string(eventType)).
		Int("total_subscribers", len(b.subscribers[eventType])).
		Msg("event bus: subscriber registered")

	return ch
}

// Publish sends event to every subscriber of its type, non-blocking: a full
// subscriber channel drops the event for that subscriber only.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	subscribers := b.subscribers[event.Type()]
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		return
	}

	b.updateMetrics(event.Type(), len(subscribers), 0)

	var dropped int
	for i, ch := range subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return
		default:
			dropped++
			b.logger.Warn().
				Str("event_type", string(event.Type())).
				Int("subscriber_index", i).
				Msg("event bus: subscriber channel full, event dropped")
		}
	}

	if dropped > 0 {
		b.updateMetrics(event.Type(), 0, dropped)
	}
}

// PublishBlocking sends event and blocks until every subscriber receives
// it. Reserved for events that must never be dropped; ordinary lifecycle
// events use Publish.
func (b *Bus) PublishBlocking(ctx context.Context, event Event) error {
	b.mu.RLock()
	subscribers := b.subscribers[event.Type()]
	b.mu.RUnlock()

	if len(subscribers) == 0 {
		return nil
	}

	for _, ch := range subscribers {
		select {
		case ch <- event:
		case <-ctx.Done():
			return fmt.Errorf("publish canceled: %w", ctx.Err())
		}
	}

	b.updateMetrics(event.Type(), len(subscribers), 0)
	return nil
}

// Unsubscribe closes and removes a subscriber's channel.
func (b *Bus) Unsubscribe(eventType EventType, ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[eventType]
	for i, sub := range subs {
		if sub == ch {
			b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
			close(sub)
			return
		}
	}
}

// Close closes every subscriber channel and clears the subscriber table.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
	}
	b.subscribers = make(map[EventType][]chan Event)
}

// Metrics is the published/dropped count for one event type.
type Metrics struct {
	EventType      EventType
	PublishedCount int64
	DroppedCount   int64
}

// GetMetrics returns published/dropped counters for every event type seen.
func (b *Bus) GetMetrics() map[EventType]Metrics {
	b.metricsLock.RLock()
	defer b.metricsLock.RUnlock()

	out := make(map[EventType]Metrics)
	for t := range b.publishedCount {
		out[t] = Metrics{EventType: t, PublishedCount: b.publishedCount[t], DroppedCount: b.droppedCount[t]}
	}
	return out
}

func (b *Bus) updateMetrics(eventType EventType, published, dropped int) {
	b.metricsLock.Lock()
	defer b.metricsLock.Unlock()
	b.publishedCount[eventType] += int64(published)
	b.droppedCount[eventType] += int64(dropped)
}

// SubscriberCount returns the number of live subscribers for eventType.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[eventType])
}

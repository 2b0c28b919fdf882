package bus

import (
	"log/slog"
	"sync"
)

// Handler processes one delivered Event. A Handler that returns an error
// is logged and counted; it never prevents delivery to other handlers.
type Handler func(Event) error

// Bus is the in-process publish/subscribe event bus. Delivery is
// ordered per topic (handlers registered for a type run in registration
// order, synchronously, before Publish returns) and a failing handler is
// isolated. Re-entrant Publish (a handler emitting further events) is
// permitted; recursion depth is bounded to avoid runaway cascades.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]Handler
	logger      *slog.Logger
	failures    map[EventType]int
	depth       int
	maxDepth    int
}

// New creates an empty Bus. maxDepth bounds re-entrant Publish recursion;
// 0 selects a default of 8.
func New(logger *slog.Logger, maxDepth int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if maxDepth <= 0 {
		maxDepth = 8
	}
	return &Bus{
		handlers: make(map[EventType][]Handler),
		logger:   logger,
		failures: make(map[EventType]int),
		maxDepth: maxDepth,
	}
}

// Subscribe registers a handler for one event type. Handlers run in the
// order they were subscribed.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// Publish delivers an event to every handler registered for its type,
// in order, isolating handler failures. Publish is re-entrant: a handler
// may call Publish again, up to maxDepth levels deep, after which further
// nested publishes are dropped and logged (cycle guard).
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	if b.depth >= b.maxDepth {
		b.mu.Unlock()
		b.logger.Warn("bus: recursion depth exceeded, dropping event", "type", e.Type, "depth", b.depth)
		return
	}
	b.depth++
	hs := append([]Handler(nil), b.handlers[e.Type]...)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.depth--
		b.mu.Unlock()
	}()

	for _, h := range hs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.recordFailure(e.Type)
					b.logger.Error("bus: handler panicked", "type", e.Type, "panic", r)
				}
			}()
			if err := h(e); err != nil {
				b.recordFailure(e.Type)
				b.logger.Error("bus: handler failed", "type", e.Type, "error", err)
			}
		}()
	}
}

func (b *Bus) recordFailure(t EventType) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[t]++
}

// FailureCount returns how many handler failures have been recorded for
// an event type, for introspection.
func (b *Bus) FailureCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.failures[t]
}

// SubscriberCount returns the total number of registered handlers across
// all event types.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, hs := range b.handlers {
		n += len(hs)
	}
	return n
}

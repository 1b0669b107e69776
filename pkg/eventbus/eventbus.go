// Package eventbus is the in-process implementation of domain.EventBus,
// dispatching domain events (workflow published, execution started, ...)
// synchronously to registered handlers.
//
// Adapted verbatim in shape from the teacher's
// pkg/infrastructure/eventbus/eventbus.go — same typed-handlers-then-global-
// handlers dispatch order, same Close-stops-delivery semantics — repointed
// at coflow's own domain package.
package eventbus

import (
	"sync"

	"github.com/coflow/coflow/pkg/domain"
)

// InProcess is a synchronous in-process event bus. It dispatches events to
// registered handlers immediately on Publish. A distributed implementation
// (NATS, Redis Streams) can be swapped in behind the same domain.EventBus
// interface without touching callers.
type InProcess struct {
	handlers    map[domain.EventType][]domain.EventHandler
	allHandlers []domain.EventHandler
	mu          sync.RWMutex
	closed      bool
}

// New creates a new in-process event bus.
func New() *InProcess {
	return &InProcess{
		handlers:    make(map[domain.EventType][]domain.EventHandler),
		allHandlers: make([]domain.EventHandler, 0),
	}
}

// Publish dispatches an event to all matching handlers: type-specific
// handlers first, then handlers subscribed to every event.
func (b *InProcess) Publish(event domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, handler := range b.handlers[event.EventType()] {
		handler(event)
	}
	for _, handler := range b.allHandlers {
		handler(event)
	}
}

// PublishAll dispatches multiple events in order, e.g. from
// AggregateRoot.PullEvents().
func (b *InProcess) PublishAll(events []domain.Event) {
	for _, event := range events {
		b.Publish(event)
	}
}

// Subscribe registers a handler for a specific event type.
func (b *InProcess) Subscribe(eventType domain.EventType, handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeAll registers a handler that receives every event regardless of
// type.
func (b *InProcess) SubscribeAll(handler domain.EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allHandlers = append(b.allHandlers, handler)
}

// Close marks the bus closed; no further events are dispatched.
func (b *InProcess) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// HandlerCount returns the total number of registered handlers, for
// diagnostics.
func (b *InProcess) HandlerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	count := len(b.allHandlers)
	for _, handlers := range b.handlers {
		count += len(handlers)
	}
	return count
}

var _ domain.EventBus = (*InProcess)(nil)

// Package events provides a simple event bus for publish/subscribe patterns.
// Models publish "<collection>.created", "<collection>.updated" and
// "<collection>.deleted" after successful writes.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Actions published by models.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// Event represents a published event.
type Event struct {
	// ID uniquely identifies this event. Assigned on publish when empty.
	ID string

	// Name is the event name (e.g., "posts.created").
	Name string

	// Collection is the source collection.
	Collection string

	// Action is the action that triggered the event.
	Action string

	// DocumentID is the hex id of the affected document.
	DocumentID string

	// Data contains the event payload (typically the serialized document).
	Data map[string]any

	// At is when the event was published.
	At time.Time
}

// NewEvent creates an event named "<collection>.<action>".
func NewEvent(collection, action, documentID string, data map[string]any) Event {
	return Event{
		Name:       collection + "." + action,
		Collection: collection,
		Action:     action,
		DocumentID: documentID,
		Data:       data,
	}
}

// Handler is a function that processes an event.
type Handler func(ctx context.Context, event Event) error

// Bus is a simple publish/subscribe event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]Handler),
		logger:   logger,
	}
}

// Subscribe registers a handler for an event.
// The handler will be called whenever the event is published.
// Supports wildcard subscriptions:
//   - "posts.created" - exact match
//   - "posts.*" - all events of a collection
//   - "*" - all events
func (b *Bus) Subscribe(event string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Publish emits an event to all matching handlers and returns the event as delivered.
// Handlers are called synchronously in registration order.
// If any handler returns an error, publishing continues but errors are logged.
// Publishing on a nil bus is a no-op.
func (b *Bus) Publish(ctx context.Context, event Event) Event {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	if b == nil {
		return event
	}

	b.mu.RLock()
	matched := b.matching(event.Name)
	b.mu.RUnlock()

	b.logger.Debug().
		Str("event", event.Name).
		Str("event_id", event.ID).
		Str("collection", event.Collection).
		Str("id", event.DocumentID).
		Msg("event emitted")

	for _, handler := range matched {
		if err := handler(ctx, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("event_id", event.ID).
				Msg("event handler error")
		}
	}
	return event
}

// PublishAsync emits an event asynchronously.
// The function returns immediately; handlers run in a goroutine.
func (b *Bus) PublishAsync(ctx context.Context, event Event) {
	go b.Publish(ctx, event)
}

// HasSubscribers checks if any handlers are registered for an event.
func (b *Bus) HasSubscribers(event string) bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.matching(event)) > 0
}

// matching must be called with b.mu held.
func (b *Bus) matching(name string) []Handler {
	var matched []Handler

	// Exact match
	matched = append(matched, b.handlers[name]...)

	// Collection wildcard (e.g., "posts.*")
	if prefix, _, ok := strings.Cut(name, "."); ok {
		matched = append(matched, b.handlers[prefix+".*"]...)
	}

	// Global wildcard
	matched = append(matched, b.handlers["*"]...)
	return matched
}

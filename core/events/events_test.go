package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// testLogger returns a disabled logger for tests
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

// TestNewBus verifies that NewBus creates a properly initialized Bus
func TestNewBus(t *testing.T) {
	bus := NewBus(testLogger())

	if bus == nil {
		t.Fatal("NewBus returned nil")
	}
	if bus.handlers == nil {
		t.Error("handlers map not initialized")
	}
	if len(bus.handlers) != 0 {
		t.Error("handlers map should be empty on creation")
	}
}

// TestSubscribeMultipleHandlers verifies handlers run in registration order
func TestSubscribeMultipleHandlers(t *testing.T) {
	bus := NewBus(testLogger())

	var callOrder []int
	for i := 1; i <= 3; i++ {
		bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
			callOrder = append(callOrder, i)
			return nil
		})
	}

	bus.Publish(context.Background(), Event{Name: "posts.created"})

	if len(callOrder) != 3 || callOrder[0] != 1 || callOrder[1] != 2 || callOrder[2] != 3 {
		t.Errorf("expected handlers called in order [1 2 3], got %v", callOrder)
	}
}

// TestNewEvent verifies the event name is derived from collection and action
func TestNewEvent(t *testing.T) {
	e := NewEvent("posts", ActionCreated, "abc", map[string]any{"title": "x"})

	if e.Name != "posts.created" {
		t.Errorf("expected name posts.created, got %q", e.Name)
	}
	if e.Collection != "posts" || e.Action != ActionCreated || e.DocumentID != "abc" {
		t.Errorf("unexpected event fields: %+v", e)
	}
	if e.ID != "" {
		t.Error("ID should be assigned on publish, not on creation")
	}
}

// TestPublishAssignsID verifies every published event carries a uuid
func TestPublishAssignsID(t *testing.T) {
	bus := NewBus(testLogger())

	var received Event
	bus.Subscribe("posts.deleted", func(ctx context.Context, event Event) error {
		received = event
		return nil
	})

	delivered := bus.Publish(context.Background(), NewEvent("posts", ActionDeleted, "abc", nil))

	if _, err := uuid.Parse(received.ID); err != nil {
		t.Errorf("expected uuid event id, got %q", received.ID)
	}
	if delivered.ID != received.ID {
		t.Error("returned event should match delivered event")
	}
	if received.At.IsZero() {
		t.Error("expected publish time to be set")
	}

	second := bus.Publish(context.Background(), NewEvent("posts", ActionDeleted, "abc", nil))
	if second.ID == delivered.ID {
		t.Error("event ids must be unique")
	}

	preset := bus.Publish(context.Background(), Event{ID: "fixed", Name: "posts.deleted"})
	if preset.ID != "fixed" {
		t.Error("preset id must be kept")
	}
}

// TestPublishNoMatch verifies handlers for other events are not called
func TestPublishNoMatch(t *testing.T) {
	bus := NewBus(testLogger())

	called := false
	bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Name: "users.created"})

	if called {
		t.Error("handler should not be called for a different event")
	}
}

// TestPublishWildcards verifies collection and global wildcard matching
func TestPublishWildcards(t *testing.T) {
	bus := NewBus(testLogger())

	var collection, global int32
	bus.Subscribe("posts.*", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&collection, 1)
		return nil
	})
	bus.Subscribe("*", func(ctx context.Context, event Event) error {
		atomic.AddInt32(&global, 1)
		return nil
	})

	ctx := context.Background()
	bus.Publish(ctx, Event{Name: "posts.created"})
	bus.Publish(ctx, Event{Name: "posts.updated"})
	bus.Publish(ctx, Event{Name: "users.created"})

	if collection != 2 {
		t.Errorf("expected collection wildcard called 2 times, got %d", collection)
	}
	if global != 3 {
		t.Errorf("expected global wildcard called 3 times, got %d", global)
	}
}

// TestPublishHandlerError verifies an error does not stop other handlers
func TestPublishHandlerError(t *testing.T) {
	bus := NewBus(testLogger())

	secondCalled := false
	bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
		return errors.New("handler failed")
	})
	bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	})

	bus.Publish(context.Background(), Event{Name: "posts.created"})

	if !secondCalled {
		t.Error("second handler should be called even if first fails")
	}
}

// TestPublishAsync verifies asynchronous delivery
func TestPublishAsync(t *testing.T) {
	bus := NewBus(testLogger())

	done := make(chan Event, 1)
	bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
		done <- event
		return nil
	})

	bus.PublishAsync(context.Background(), Event{Name: "posts.created"})

	select {
	case e := <-done:
		if e.ID == "" {
			t.Error("async event should carry an id")
		}
	case <-time.After(time.Second):
		t.Fatal("handler not called within timeout")
	}
}

// TestHasSubscribers verifies exact and wildcard lookups
func TestHasSubscribers(t *testing.T) {
	bus := NewBus(testLogger())

	if bus.HasSubscribers("posts.created") {
		t.Error("empty bus should have no subscribers")
	}

	bus.Subscribe("posts.*", func(ctx context.Context, event Event) error { return nil })

	if !bus.HasSubscribers("posts.deleted") {
		t.Error("collection wildcard should count as subscriber")
	}
	if bus.HasSubscribers("users.deleted") {
		t.Error("wildcard must not match a different collection")
	}
}

// TestNilBus verifies a nil bus is a no-op
func TestNilBus(t *testing.T) {
	var bus *Bus

	e := bus.Publish(context.Background(), Event{Name: "posts.created"})
	if e.ID == "" {
		t.Error("nil bus should still stamp the event")
	}
	if bus.HasSubscribers("posts.created") {
		t.Error("nil bus has no subscribers")
	}
}

// TestConcurrentSubscribeAndPublish verifies the bus is safe for concurrent use
func TestConcurrentSubscribeAndPublish(t *testing.T) {
	bus := NewBus(testLogger())

	var count int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe("posts.created", func(ctx context.Context, event Event) error {
				atomic.AddInt64(&count, 1)
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), Event{Name: "posts.created"})
		}()
	}
	wg.Wait()

	before := atomic.LoadInt64(&count)
	bus.Publish(context.Background(), Event{Name: "posts.created"})
	if got := atomic.LoadInt64(&count) - before; got != 20 {
		t.Errorf("expected 20 handlers after concurrent subscribe, got %d", got)
	}
}

package bootstrap

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/cmsodm/core/events"
	"github.com/rs/zerolog"
)

// RegisterHooks registers the hooks every process runs on model events.
func RegisterHooks(bus *events.Bus, logger zerolog.Logger) {
	bus.Subscribe("*", auditHook(logger))
	logger.Debug().Msg("model hooks registered")
}

// auditHook logs every write at info level.
func auditHook(logger zerolog.Logger) events.Handler {
	return func(ctx context.Context, event events.Event) error {
		logger.Info().
			Str("event", event.Name).
			Str("event_id", event.ID).
			Str("collection", event.Collection).
			Str("id", event.DocumentID).
			Msg("document " + event.Action)
		return nil
	}
}

// Tally counts the documents touched by one action, per collection. The
// delete command uses it to report cascaded deletions.
type Tally struct {
	action string

	mu     sync.Mutex
	counts map[string]int
}

// NewTally subscribes a tally for action to bus.
func NewTally(bus *events.Bus, action string) *Tally {
	t := &Tally{action: action, counts: make(map[string]int)}
	bus.Subscribe("*", func(ctx context.Context, event events.Event) error {
		if event.Action != t.action {
			return nil
		}
		t.mu.Lock()
		t.counts[event.Collection]++
		t.mu.Unlock()
		return nil
	})
	return t
}

// Count returns the number of events seen for collection.
func (t *Tally) Count(collection string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[collection]
}

// Total returns the number of events seen.
func (t *Tally) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.counts {
		n += c
	}
	return n
}

// Collections returns the collections seen, sorted.
func (t *Tally) Collections() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.counts))
	for name := range t.counts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

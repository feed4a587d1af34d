package idgen_test

import (
	"sync"
	"testing"
	"time"

	"github.com/artpar/cmsodm/adapters/idgen"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestObjectID_New_Unique(t *testing.T) {
	gen := idgen.ObjectID{}
	seen := make(map[primitive.ObjectID]bool)

	for i := 0; i < 1000; i++ {
		id := gen.New()
		if id.IsZero() {
			t.Fatal("generated a zero id")
		}
		if seen[id] {
			t.Fatalf("duplicate id: %s", id.Hex())
		}
		seen[id] = true
	}
}

func TestSequential_New(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	gen := idgen.NewSequential(base)

	first := gen.New()
	second := gen.New()

	if first.Hex() >= second.Hex() {
		t.Errorf("ids should increase: %s >= %s", first.Hex(), second.Hex())
	}
	if !first.Timestamp().Equal(base) {
		t.Errorf("Timestamp() = %v, want %v", first.Timestamp(), base)
	}
}

func TestSequential_Reset(t *testing.T) {
	gen := idgen.NewSequential(time.Unix(0, 0))

	first := gen.New()
	gen.New()
	gen.Reset()

	if got := gen.New(); got != first {
		t.Errorf("after Reset() got %s, want %s", got.Hex(), first.Hex())
	}
}

func TestSequential_ConcurrentAccess(t *testing.T) {
	gen := idgen.NewSequential(time.Now())

	var mu sync.Mutex
	seen := make(map[primitive.ObjectID]bool)
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen.New()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 100 {
		t.Errorf("expected 100 unique ids, got %d", len(seen))
	}
}

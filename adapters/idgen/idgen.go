// Package idgen provides document ID generation implementations.
package idgen

import (
	"encoding/binary"
	"sync/atomic"
	"time"

	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID generates MongoDB ObjectIDs.
type ObjectID struct{}

// New generates a new ObjectID.
func (ObjectID) New() primitive.ObjectID {
	return primitive.NewObjectID()
}

// Ensure interface compliance.
var _ ports.IDGenerator = ObjectID{}

// Sequential generates predictable, increasing ObjectIDs (for testing).
// The first four bytes hold the base timestamp, the last eight a counter.
type Sequential struct {
	base    uint32
	counter uint64
}

// NewSequential creates a sequential ID generator stamped with base.
func NewSequential(base time.Time) *Sequential {
	return &Sequential{base: uint32(base.Unix())}
}

// New generates the next sequential ID.
func (s *Sequential) New() primitive.ObjectID {
	n := atomic.AddUint64(&s.counter, 1)
	var id primitive.ObjectID
	binary.BigEndian.PutUint32(id[0:4], s.base)
	binary.BigEndian.PutUint64(id[4:12], n)
	return id
}

// Reset resets the counter (for testing).
func (s *Sequential) Reset() {
	atomic.StoreUint64(&s.counter, 0)
}

// Ensure interface compliance.
var _ ports.IDGenerator = (*Sequential)(nil)

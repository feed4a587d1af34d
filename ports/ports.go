// Package ports defines the interfaces between the core and its adapters.
// The core depends only on these interfaces, never on concrete implementations.
package ports

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Document is a raw stored document.
type Document = bson.M

// Filter is a Mongo-style selector ({"field": value, "$or": [...], ...}).
type Filter = bson.M

// ErrDuplicateKey is returned by a Collection when a write violates a unique index.
var ErrDuplicateKey = errors.New("duplicate key")

// Database creates collection handles.
type Database interface {
	// CreateCollection returns a handle for the named collection, creating it if needed.
	CreateCollection(ctx context.Context, name string) (Collection, error)

	// Close releases the underlying connection.
	Close(ctx context.Context) error
}

// Collection is the document collection abstraction the models are written against.
// Implementations must provide read-your-writes semantics.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// DropIndexes removes every secondary index.
	DropIndexes(ctx context.Context) error

	// CreateIndex creates a secondary index.
	CreateIndex(ctx context.Context, spec IndexSpec) error

	// Count returns the number of documents matching filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Find returns the documents matching filter.
	Find(ctx context.Context, filter Filter, opts FindOptions) ([]Document, error)

	// InsertMany inserts documents and returns their ids in order.
	// Documents without an _id are assigned a new ObjectID.
	InsertMany(ctx context.Context, docs []Document) ([]primitive.ObjectID, error)

	// UpdateByID applies update to a single document. A missing document is not an error.
	UpdateByID(ctx context.Context, id primitive.ObjectID, update Update) error

	// UpdateMany applies update to every matching document and returns the match count.
	UpdateMany(ctx context.Context, filter Filter, update Update) (int64, error)

	// DeleteMany removes every matching document and returns the number removed.
	DeleteMany(ctx context.Context, filter Filter) (int64, error)
}

// Update is a partial modification of a document.
type Update struct {
	// Set replaces field values.
	Set Document

	// AddToSet appends values to array fields unless an equal element is present.
	AddToSet Document

	// Pull removes array elements equal to the value, or matching it when the
	// value is a condition document.
	Pull Document
}

// IsEmpty reports whether the update changes nothing.
func (u Update) IsEmpty() bool {
	return len(u.Set) == 0 && len(u.AddToSet) == 0 && len(u.Pull) == 0
}

// FindOptions configures Find.
type FindOptions struct {
	// Sort orders the results; earlier fields take precedence.
	Sort []SortField

	// Skip is the number of documents to skip.
	Skip int64

	// Limit is the maximum number of documents to return (0 = no limit).
	Limit int64

	// Projection restricts returned fields. _id is always included.
	Projection []string
}

// SortField is a single sort key.
type SortField struct {
	Field string
	Desc  bool
}

// IndexSpec describes a secondary index.
type IndexSpec struct {
	// Name identifies the index within its collection.
	Name string `bson:"name"`

	// Fields are the indexed fields in key order.
	Fields []string `bson:"fields"`

	// Text marks a full-text index.
	Text bool `bson:"text,omitempty"`

	// Unique rejects documents sharing the same key.
	Unique bool `bson:"unique,omitempty"`
}

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates document ids.
type IDGenerator interface {
	New() primitive.ObjectID
}

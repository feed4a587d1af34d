package schema

import (
	"context"
	"time"

	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Item is a single named, typed field of a schema.
type Item interface {
	// Name returns the item name. It never changes after construction.
	Name() string

	// Flags returns the behavior flags.
	Flags() Flags

	// Modified reports whether Set has been called.
	Modified() bool

	// Set records a caller supplied value and marks the item modified.
	Set(v any)

	// Hydrate records a value loaded from storage without marking the item modified.
	Hydrate(v any)

	// Raw returns the current value as held, before any coercion.
	Raw() any

	// DBValue returns the value as it is persisted.
	DBValue() any

	// Validate coerces the value and checks constraints. Calling it twice on a
	// valid value yields the same result.
	Validate(ctx context.Context, env Env) error

	// Value returns the value as exposed to callers. depth is the current
	// foreign key expansion level.
	Value(ctx context.Context, env Env, opts Options, depth int) (any, error)

	// PostUpsert runs after the owning document has been written.
	PostUpsert(ctx context.Context, env Env, owner Owner) error

	// PostDelete runs when the owning document is being deleted.
	PostDelete(ctx context.Context, env Env, owner Owner) error

	// Clone returns an independent copy with the same flags, constraints and value.
	Clone() Item
}

// Flags are the behavior flags shared by every item.
type Flags struct {
	// Sensitive items are omitted from JSON output unless Options.Verbose is set.
	Sensitive bool `yaml:"sensitive,omitempty"`

	// Unique items must not collide with another document.
	Unique bool `yaml:"unique,omitempty"`

	// UniqueIndexer items scope the uniqueness check of the unique items.
	UniqueIndexer bool `yaml:"unique_indexer,omitempty"`

	// Indexable items are part of the collection's text index.
	Indexable bool `yaml:"indexable,omitempty"`

	// Required items must be set when a document is created.
	Required bool `yaml:"required,omitempty"`

	// ReadOnly items are only written on creation.
	ReadOnly bool `yaml:"read_only,omitempty"`
}

// Options control JSON output.
type Options struct {
	// Verbose includes sensitive items.
	Verbose bool

	// ExpandForeignKeys replaces references with the referenced documents.
	ExpandForeignKeys bool

	// ExpandMaxDepth bounds nested expansion. Values <= 0 mean 1.
	ExpandMaxDepth int

	// ExpandSchemaBlacklist names items that are never expanded.
	ExpandSchemaBlacklist []string
}

// MaxDepth returns the effective expansion depth.
func (o Options) MaxDepth() int {
	if o.ExpandMaxDepth <= 0 {
		return 1
	}
	return o.ExpandMaxDepth
}

func (o Options) blacklisted(name string) bool {
	for _, n := range o.ExpandSchemaBlacklist {
		if n == name {
			return true
		}
	}
	return false
}

func (o Options) expands(name string, depth int) bool {
	return o.ExpandForeignKeys && depth < o.MaxDepth() && !o.blacklisted(name)
}

// Env carries the collaborators an item may need while validating or running hooks.
type Env struct {
	// Resolver finds the collections that references point to.
	Resolver Resolver

	// Clock stamps dates. Defaults to the system clock.
	Clock ports.Clock
}

func (e Env) now() time.Time {
	if e.Clock == nil {
		return time.Now()
	}
	return e.Clock.Now()
}

func (e Env) target(name string) (Target, bool) {
	if e.Resolver == nil || name == "" {
		return nil, false
	}
	return e.Resolver.Target(name)
}

// Owner identifies the document that holds an item.
type Owner struct {
	Collection string
	ID         primitive.ObjectID
}

// Resolver resolves a collection name to a reference target.
type Resolver interface {
	Target(collection string) (Target, bool)
}

// Target is a collection that can be referenced by foreign keys and id arrays.
type Target interface {
	// Exists reports whether a document with id exists.
	Exists(ctx context.Context, id primitive.ObjectID) (bool, error)

	// Expand returns the JSON form of the document at the given depth, or nil
	// when it does not exist.
	Expand(ctx context.Context, id primitive.ObjectID, opts Options, depth int) (map[string]any, error)

	// AddDependency records dep inside the referenced document. Adding the
	// same dependency twice has no effect.
	AddDependency(ctx context.Context, id primitive.ObjectID, kind DependencyKind, dep Dependency) error

	// RemoveDependency removes dep from the referenced document.
	RemoveDependency(ctx context.Context, id primitive.ObjectID, kind DependencyKind, dep Dependency) error
}

// field holds the state common to every item.
type field struct {
	name     string
	flags    Flags
	value    any
	modified bool
}

func (f *field) Name() string   { return f.name }
func (f *field) Flags() Flags   { return f.flags }
func (f *field) Modified() bool { return f.modified }
func (f *field) Raw() any       { return f.value }
func (f *field) DBValue() any   { return f.value }

func (f *field) Set(v any) {
	f.value = v
	f.modified = true
}

func (f *field) Hydrate(v any) {
	f.value = v
}

func (f *field) Value(ctx context.Context, env Env, opts Options, depth int) (any, error) {
	return f.value, nil
}

func (f *field) PostUpsert(ctx context.Context, env Env, owner Owner) error { return nil }
func (f *field) PostDelete(ctx context.Context, env Env, owner Owner) error { return nil }

func (f field) copy() field {
	f.value = copyValue(f.value)
	return f
}

// copyValue copies slices and maps one level deep so clones do not share backing arrays.
func copyValue(v any) any {
	switch x := v.(type) {
	case []any:
		return append([]any(nil), x...)
	case primitive.A:
		return append(primitive.A(nil), x...)
	case []string:
		return append([]string(nil), x...)
	case []float64:
		return append([]float64(nil), x...)
	case []int64:
		return append([]int64(nil), x...)
	case []primitive.ObjectID:
		return append([]primitive.ObjectID(nil), x...)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	case primitive.M:
		out := make(primitive.M, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out
	default:
		return v
	}
}

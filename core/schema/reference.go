package schema

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ForeignKeyOptions configure a foreign key item.
type ForeignKeyOptions struct {
	Flags

	// Target is the referenced collection.
	Target string

	// KeyCanBeNull allows an empty reference. Nullable keys are cleared when
	// the referenced document is deleted; others cascade the delete.
	KeyCanBeNull bool
}

// ForeignKey references a single document in another collection.
type ForeignKey struct {
	field
	target   string
	nullable bool
	stored   *primitive.ObjectID
}

// NewForeignKey creates a foreign key item.
func NewForeignKey(name string, opts ForeignKeyOptions) *ForeignKey {
	return &ForeignKey{
		field:    field{name: name, flags: opts.Flags},
		target:   opts.Target,
		nullable: opts.KeyCanBeNull,
	}
}

// Target returns the referenced collection.
func (k *ForeignKey) Target() string { return k.target }

// Nullable reports whether the reference may be empty.
func (k *ForeignKey) Nullable() bool { return k.nullable }

func (k *ForeignKey) kind() DependencyKind {
	if k.nullable {
		return OptionalDependencies
	}
	return RequiredDependencies
}

func (k *ForeignKey) Hydrate(v any) {
	k.value = v
	k.stored, _ = parseID(k.name, v)
}

func (k *ForeignKey) Validate(ctx context.Context, env Env) error {
	id, err := parseID(k.name, k.value)
	if err != nil {
		return err
	}
	if id == nil {
		// An empty key is stored as null; required items are checked by the schema.
		k.value = nil
		return nil
	}

	target, ok := env.target(k.target)
	if !ok {
		return badReference(k.name, "%s references a foreign key '%s' which doesn't seem to exist", k.name, k.target)
	}
	exists, err := target.Exists(ctx, *id)
	if err != nil {
		return fmt.Errorf("check %s reference: %w", k.name, err)
	}
	if !exists {
		return badReference(k.name, "%s does not exist", k.name)
	}
	k.value = *id
	return nil
}

func (k *ForeignKey) DBValue() any {
	id, err := parseID(k.name, k.value)
	if err != nil || id == nil {
		return nil
	}
	return *id
}

func (k *ForeignKey) Value(ctx context.Context, env Env, opts Options, depth int) (any, error) {
	id, err := parseID(k.name, k.value)
	if err != nil || id == nil {
		return nil, err
	}
	if !opts.expands(k.name, depth) {
		return *id, nil
	}
	target, ok := env.target(k.target)
	if !ok {
		return *id, nil
	}
	doc, err := target.Expand(ctx, *id, opts, depth+1)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", k.name, err)
	}
	if doc == nil {
		return nil, nil
	}
	return doc, nil
}

// PostUpsert registers the owner with the referenced document and drops the
// registration from a previously referenced one.
func (k *ForeignKey) PostUpsert(ctx context.Context, env Env, owner Owner) error {
	current, _ := parseID(k.name, k.value)
	if current == nil && k.stored == nil {
		return nil
	}
	target, ok := env.target(k.target)
	if !ok {
		return badReference(k.name, "%s references a foreign key '%s' which doesn't seem to exist", k.name, k.target)
	}
	dep := Dependency{Collection: owner.Collection, PropertyName: k.name, ID: owner.ID}

	if k.stored != nil && !sameID(current, k.stored) {
		if err := target.RemoveDependency(ctx, *k.stored, k.kind(), dep); err != nil {
			return fmt.Errorf("remove %s dependency: %w", k.name, err)
		}
	}
	if current != nil {
		if err := target.AddDependency(ctx, *current, k.kind(), dep); err != nil {
			return fmt.Errorf("add %s dependency: %w", k.name, err)
		}
	}
	k.stored = current
	return nil
}

func (k *ForeignKey) PostDelete(ctx context.Context, env Env, owner Owner) error {
	current, _ := parseID(k.name, k.value)
	if current == nil {
		return nil
	}
	target, ok := env.target(k.target)
	if !ok {
		return nil
	}
	dep := Dependency{Collection: owner.Collection, PropertyName: k.name, ID: owner.ID}
	if err := target.RemoveDependency(ctx, *current, k.kind(), dep); err != nil {
		return fmt.Errorf("remove %s dependency: %w", k.name, err)
	}
	return nil
}

func (k *ForeignKey) Clone() Item {
	c := *k
	c.field = k.field.copy()
	if k.stored != nil {
		id := *k.stored
		c.stored = &id
	}
	return &c
}

func sameID(a, b *primitive.ObjectID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IDArrayOptions configure an id array item.
type IDArrayOptions struct {
	Flags

	// Target is the referenced collection. Empty means the ids are not
	// tracked or expanded.
	Target string

	MinItems int
	MaxItems int
}

// IDArray is a list of document identifiers.
type IDArray struct {
	field
	target string
	min    int
	max    int
	stored []primitive.ObjectID
}

// NewIDArray creates an id array item.
func NewIDArray(name string, opts IDArrayOptions) *IDArray {
	return &IDArray{
		field:  field{name: name, flags: opts.Flags, value: []primitive.ObjectID{}},
		target: opts.Target,
		min:    opts.MinItems,
		max:    maxItems(opts.MaxItems),
	}
}

// Target returns the referenced collection.
func (a *IDArray) Target() string { return a.target }

func (a *IDArray) Hydrate(v any) {
	a.value = v
	a.stored, _ = a.ids(v)
}

// ids converts v into identifiers, dropping empty entries.
func (a *IDArray) ids(v any) ([]primitive.ObjectID, error) {
	items, err := elements(a.name, v)
	if err != nil {
		return nil, err
	}
	out := make([]primitive.ObjectID, 0, len(items))
	for _, item := range items {
		id, err := parseID(a.name, item)
		if err != nil {
			return nil, err
		}
		if id != nil {
			out = append(out, *id)
		}
	}
	return out, nil
}

func (a *IDArray) Validate(ctx context.Context, env Env) error {
	ids, err := a.ids(a.value)
	if err != nil {
		return err
	}
	if err := checkCount(a.name, len(ids), a.min, a.max); err != nil {
		return err
	}
	a.value = ids
	return nil
}

func (a *IDArray) DBValue() any {
	ids, err := a.ids(a.value)
	if err != nil {
		return []primitive.ObjectID{}
	}
	return ids
}

func (a *IDArray) Value(ctx context.Context, env Env, opts Options, depth int) (any, error) {
	ids, err := a.ids(a.value)
	if err != nil {
		return nil, err
	}
	target, ok := env.target(a.target)
	if !ok || !opts.expands(a.name, depth) {
		return ids, nil
	}
	out := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		doc, err := target.Expand(ctx, id, opts, depth+1)
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", a.name, err)
		}
		if doc != nil {
			out = append(out, doc)
		}
	}
	return out, nil
}

// PostUpsert registers the owner with every referenced document and drops
// the registration from documents no longer referenced.
func (a *IDArray) PostUpsert(ctx context.Context, env Env, owner Owner) error {
	target, ok := env.target(a.target)
	if !ok {
		return nil
	}
	current, err := a.ids(a.value)
	if err != nil {
		return err
	}
	dep := Dependency{Collection: owner.Collection, PropertyName: a.name, ID: owner.ID}

	for _, old := range a.stored {
		if containsID(current, old) {
			continue
		}
		if err := target.RemoveDependency(ctx, old, ArrayDependencies, dep); err != nil {
			return fmt.Errorf("remove %s dependency: %w", a.name, err)
		}
	}
	for _, id := range current {
		if err := target.AddDependency(ctx, id, ArrayDependencies, dep); err != nil {
			return fmt.Errorf("add %s dependency: %w", a.name, err)
		}
	}
	a.stored = current
	return nil
}

func (a *IDArray) PostDelete(ctx context.Context, env Env, owner Owner) error {
	target, ok := env.target(a.target)
	if !ok {
		return nil
	}
	current, err := a.ids(a.value)
	if err != nil {
		return err
	}
	dep := Dependency{Collection: owner.Collection, PropertyName: a.name, ID: owner.ID}
	for _, id := range current {
		if err := target.RemoveDependency(ctx, id, ArrayDependencies, dep); err != nil {
			return fmt.Errorf("remove %s dependency: %w", a.name, err)
		}
	}
	return nil
}

func (a *IDArray) Clone() Item {
	c := *a
	c.field = a.field.copy()
	c.stored = append([]primitive.ObjectID(nil), a.stored...)
	return &c
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

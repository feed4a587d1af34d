package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// Schema is an ordered, name-unique list of items describing one entity kind.
type Schema struct {
	items []Item
	index map[string]int
	env   Env
}

// New creates a schema from items.
func New(items ...Item) (*Schema, error) {
	s := &Schema{index: make(map[string]int, len(items))}
	for _, item := range items {
		if _, err := s.Add(item); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends item. Duplicate and reserved names are rejected.
func (s *Schema) Add(item Item) (Item, error) {
	name := item.Name()
	if name == "" {
		return nil, fmt.Errorf("item name cannot be empty")
	}
	if Reserved(name) {
		return nil, fmt.Errorf("item name %q is reserved", name)
	}
	if _, exists := s.index[name]; exists {
		return nil, fmt.Errorf("an item with the name %q already exists", name)
	}
	s.index[name] = len(s.items)
	s.items = append(s.items, item)
	return item, nil
}

// Bind sets the environment used by validation, JSON output and hooks.
func (s *Schema) Bind(env Env) {
	s.env = env
}

// Get returns the named item.
func (s *Schema) Get(name string) (Item, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.items[i], true
}

// Items returns the items in declaration order.
func (s *Schema) Items() []Item {
	return append([]Item(nil), s.items...)
}

// Clone returns an independent copy of the schema and every item.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		items: make([]Item, len(s.items)),
		index: make(map[string]int, len(s.index)),
		env:   s.env,
	}
	for i, item := range s.items {
		c.items[i] = item.Clone()
		c.index[item.Name()] = i
	}
	return c
}

// Set copies matching values from data. Read-only items are skipped unless
// allowReadOnly is true; keys without a matching item are ignored.
func (s *Schema) Set(data map[string]any, allowReadOnly bool) {
	for _, item := range s.items {
		v, ok := data[item.Name()]
		if !ok {
			continue
		}
		if item.Flags().ReadOnly && !allowReadOnly {
			continue
		}
		item.Set(v)
	}
}

// Validate validates items in declaration order and returns the first
// failure. With checkRequired, a required item that was never set fails.
func (s *Schema) Validate(ctx context.Context, checkRequired bool) error {
	for _, item := range s.items {
		if checkRequired && item.Flags().Required && !item.Modified() {
			return invalid(item.Name(), "%s is required", item.Name())
		}
		if err := item.Validate(ctx, s.env); err != nil {
			return err
		}
	}
	return nil
}

// Serialize returns the persisted form of every item, sensitive ones included.
func (s *Schema) Serialize() ports.Document {
	doc := make(ports.Document, len(s.items))
	for _, item := range s.items {
		doc[item.Name()] = item.DBValue()
	}
	return doc
}

// Deserialize loads stored values without validating them.
func (s *Schema) Deserialize(doc map[string]any) {
	for _, item := range s.items {
		if v, ok := doc[item.Name()]; ok {
			item.Hydrate(v)
		}
	}
}

// JSON returns the externally visible form of the document with the given id.
func (s *Schema) JSON(ctx context.Context, id primitive.ObjectID, opts Options) (map[string]any, error) {
	return s.JSONDepth(ctx, id, opts, 0)
}

// JSONDepth is JSON at a given foreign key expansion depth.
func (s *Schema) JSONDepth(ctx context.Context, id primitive.ObjectID, opts Options, depth int) (map[string]any, error) {
	var visible []Item
	for _, item := range s.items {
		if item.Flags().Sensitive && !opts.Verbose {
			continue
		}
		visible = append(visible, item)
	}

	values := make([]any, len(visible))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range visible {
		g.Go(func() error {
			v, err := item.Value(gctx, s.env, opts, depth)
			values[i] = v
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]any, len(visible)+1)
	out["_id"] = id
	for i, item := range visible {
		out[item.Name()] = values[i]
	}
	return out, nil
}

// PostUpsert runs every item's post-upsert hook and waits for all of them.
func (s *Schema) PostUpsert(ctx context.Context, owner Owner) error {
	var g errgroup.Group
	for _, item := range s.items {
		g.Go(func() error { return item.PostUpsert(ctx, s.env, owner) })
	}
	return g.Wait()
}

// PostDelete runs every item's post-delete hook and waits for all of them.
func (s *Schema) PostDelete(ctx context.Context, owner Owner) error {
	var g errgroup.Group
	for _, item := range s.items {
		g.Go(func() error { return item.PostDelete(ctx, s.env, owner) })
	}
	return g.Wait()
}

// UniqueFieldNames returns the comma-joined names of the unique items.
func (s *Schema) UniqueFieldNames() string {
	var names []string
	for _, item := range s.items {
		if item.Flags().Unique {
			names = append(names, item.Name())
		}
	}
	return strings.Join(names, ", ")
}

// Package memory provides in-memory implementations for testing.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/artpar/cmsodm/core/query"
	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Database is an in-memory implementation of ports.Database.
type Database struct {
	mu          sync.Mutex
	collections map[string]*Collection
}

// NewDatabase creates a new in-memory database.
func NewDatabase() *Database {
	return &Database{
		collections: make(map[string]*Collection),
	}
}

// CreateCollection returns the named collection, creating it on first use.
func (d *Database) CreateCollection(ctx context.Context, name string) (ports.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	c, ok := d.collections[name]
	if !ok {
		c = &Collection{name: name}
		d.collections[name] = c
	}
	return c, nil
}

// Close is a no-op.
func (d *Database) Close(ctx context.Context) error {
	return nil
}

// Collection is an in-memory implementation of ports.Collection.
// Documents are kept encoded so callers never share mutable state with the store.
type Collection struct {
	mu      sync.RWMutex
	name    string
	docs    []bson.Raw // insertion order
	indexes []ports.IndexSpec
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Indexes returns a copy of the current index definitions.
func (c *Collection) Indexes() []ports.IndexSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ports.IndexSpec(nil), c.indexes...)
}

// DropIndexes removes every index.
func (c *Collection) DropIndexes(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexes = nil
	return nil
}

// CreateIndex adds an index. Unique indexes are enforced on later writes.
func (c *Collection) CreateIndex(ctx context.Context, spec ports.IndexSpec) error {
	if spec.Name == "" || len(spec.Fields) == 0 {
		return fmt.Errorf("index requires a name and at least one field")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.decodeAll()
	if err != nil {
		return err
	}
	if spec.Unique {
		for i, doc := range all {
			if _, dup := query.DuplicateKey(all[:i], doc, []ports.IndexSpec{spec}); dup {
				return fmt.Errorf("create index %s: %w", spec.Name, ports.ErrDuplicateKey)
			}
		}
	}

	for i, existing := range c.indexes {
		if existing.Name == spec.Name {
			c.indexes[i] = spec
			return nil
		}
	}
	c.indexes = append(c.indexes, spec)
	return nil
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter ports.Filter) (int64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	matched, err := c.match(filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Find returns the documents matching filter.
func (c *Collection) Find(ctx context.Context, filter ports.Filter, opts ports.FindOptions) ([]ports.Document, error) {
	c.mu.RLock()
	matched, err := c.match(filter)
	c.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, len(matched))
	for i, m := range matched {
		docs[i] = m.doc
	}
	return query.Find(docs, opts)
}

// InsertMany inserts documents atomically: either all are stored or none.
func (c *Collection) InsertMany(ctx context.Context, docs []ports.Document) ([]primitive.ObjectID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	all, err := c.decodeAll()
	if err != nil {
		return nil, err
	}

	ids := make([]primitive.ObjectID, len(docs))
	encoded := make([]bson.Raw, len(docs))
	for i, doc := range docs {
		copied := make(ports.Document, len(doc)+1)
		for k, v := range doc {
			copied[k] = v
		}
		id, ok := copied["_id"].(primitive.ObjectID)
		if !ok || id.IsZero() {
			id = primitive.NewObjectID()
			copied["_id"] = id
		}
		ids[i] = id

		raw, normalized, err := encode(copied)
		if err != nil {
			return nil, err
		}
		for _, existing := range all {
			if existing["_id"] == any(id) {
				return nil, fmt.Errorf("insert %s: %w", id.Hex(), ports.ErrDuplicateKey)
			}
		}
		if name, dup := query.DuplicateKey(all, normalized, c.indexes); dup {
			return nil, fmt.Errorf("insert violates index %s: %w", name, ports.ErrDuplicateKey)
		}
		all = append(all, normalized)
		encoded[i] = raw
	}

	c.docs = append(c.docs, encoded...)
	return ids, nil
}

// UpdateByID applies update to the document with the given id.
func (c *Collection) UpdateByID(ctx context.Context, id primitive.ObjectID, update ports.Update) error {
	_, err := c.UpdateMany(ctx, ports.Filter{"_id": id}, update)
	return err
}

// UpdateMany applies update to every matching document.
func (c *Collection) UpdateMany(ctx context.Context, filter ports.Filter, update ports.Update) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched, err := c.match(filter)
	if err != nil {
		return 0, err
	}
	if update.IsEmpty() || len(matched) == 0 {
		return int64(len(matched)), nil
	}

	all, err := c.decodeAll()
	if err != nil {
		return 0, err
	}
	pending := make(map[int]bson.Raw, len(matched))
	for _, m := range matched {
		if err := query.Apply(m.doc, update); err != nil {
			return 0, err
		}
		raw, normalized, err := encode(m.doc)
		if err != nil {
			return 0, err
		}
		all[m.pos] = normalized
		pending[m.pos] = raw
	}
	for pos := range pending {
		if name, dup := query.DuplicateKey(all, all[pos], c.indexes); dup {
			return 0, fmt.Errorf("update violates index %s: %w", name, ports.ErrDuplicateKey)
		}
	}
	for pos, raw := range pending {
		c.docs[pos] = raw
	}
	return int64(len(matched)), nil
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, filter ports.Filter) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	matched, err := c.match(filter)
	if err != nil {
		return 0, err
	}
	if len(matched) == 0 {
		return 0, nil
	}
	remove := make(map[int]bool, len(matched))
	for _, m := range matched {
		remove[m.pos] = true
	}
	kept := c.docs[:0:0]
	for i, raw := range c.docs {
		if !remove[i] {
			kept = append(kept, raw)
		}
	}
	c.docs = kept
	return int64(len(matched)), nil
}

type matchedDoc struct {
	pos int
	doc ports.Document
}

// match must be called with c.mu held.
func (c *Collection) match(filter ports.Filter) ([]matchedDoc, error) {
	var result []matchedDoc
	for i, raw := range c.docs {
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		ok, err := query.Match(doc, filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		if ok {
			result = append(result, matchedDoc{pos: i, doc: doc})
		}
	}
	return result, nil
}

// decodeAll must be called with c.mu held.
func (c *Collection) decodeAll() ([]map[string]any, error) {
	all := make([]map[string]any, len(c.docs))
	for i, raw := range c.docs {
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		all[i] = doc
	}
	return all, nil
}

func encode(doc map[string]any) (bson.Raw, ports.Document, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	normalized, err := decode(raw)
	if err != nil {
		return nil, nil, err
	}
	return raw, normalized, nil
}

func decode(raw bson.Raw) (ports.Document, error) {
	var doc ports.Document
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

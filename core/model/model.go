// Package model binds schemas to collections. A Model creates, reads,
// updates and deletes documents of one collection, enforces uniqueness and
// keeps cross-collection references consistent when documents are deleted.
package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/cmsodm/adapters/metrics"
	"github.com/artpar/cmsodm/core/events"
	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/ports"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// ErrNotInitialized is returned when a model is used before Initialize.
var ErrNotInitialized = errors.New("model not initialized")

// UniquenessError is returned when a write collides with another document on
// a unique item.
type UniquenessError struct {
	// Fields is the comma-joined list of unique items.
	Fields string

	// Err is the storage error when the collision was caught by a unique index.
	Err error
}

func (e *UniquenessError) Error() string {
	return fmt.Sprintf("'%s' must be unique", e.Fields)
}

func (e *UniquenessError) Unwrap() error {
	return e.Err
}

// Config holds a model's collaborators. Every field is optional.
type Config struct {
	Logger  zerolog.Logger
	Metrics *metrics.Collector
	Events  *events.Bus
	Clock   ports.Clock

	// IDs assigns document ids before insert. When nil the collection assigns them.
	IDs ports.IDGenerator
}

// Model manages the documents of one collection.
type Model struct {
	name     string
	template *schema.Schema
	cfg      Config
	logger   zerolog.Logger

	mu         sync.RWMutex
	collection ports.Collection
	registry   *Registry
}

// New creates a model for the named collection. template is cloned for every document.
func New(name string, template *schema.Schema, cfg Config) *Model {
	return &Model{
		name:     name,
		template: template,
		cfg:      cfg,
		logger:   cfg.Logger.With().Str("collection", name).Logger(),
	}
}

// Name returns the collection name.
func (m *Model) Name() string {
	return m.name
}

// Template returns a copy of the model's schema.
func (m *Model) Template() *schema.Schema {
	return m.newSchema()
}

func (m *Model) attach(r *Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry = r
}

func (m *Model) env() schema.Env {
	m.mu.RLock()
	defer m.mu.RUnlock()
	env := schema.Env{Clock: m.cfg.Clock}
	if m.registry != nil {
		env.Resolver = m.registry
	}
	return env
}

func (m *Model) newSchema() *schema.Schema {
	s := m.template.Clone()
	s.Bind(m.env())
	return s
}

// Initialized reports whether Initialize has completed.
func (m *Model) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection != nil
}

// Initialize creates the collection and rebuilds its indexes from the
// current schema. Calling it again is a no-op.
func (m *Model) Initialize(ctx context.Context, db ports.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection != nil {
		return nil
	}

	c, err := db.CreateCollection(ctx, m.name)
	if err != nil {
		return fmt.Errorf("error creating collection: %w", err)
	}

	if err := c.DropIndexes(ctx); err != nil {
		return fmt.Errorf("drop indexes of %s: %w", m.name, err)
	}
	for _, spec := range m.IndexSpecs() {
		if err := c.CreateIndex(ctx, spec); err != nil {
			return fmt.Errorf("create index %s on %s: %w", spec.Name, m.name, err)
		}
	}

	m.collection = c
	m.cfg.Metrics.ModelInitialized()
	m.logger.Debug().Msg("model initialized")
	return nil
}

// IndexSpecs returns the indexes declared by the schema: one text index over
// the indexable items and one unique index per unique item, scoped by the
// unique indexers.
func (m *Model) IndexSpecs() []ports.IndexSpec {
	var text, indexers []string
	var unique []string
	for _, item := range m.template.Items() {
		f := item.Flags()
		if f.Indexable {
			text = append(text, item.Name())
		}
		if f.UniqueIndexer {
			indexers = append(indexers, item.Name())
		}
		if f.Unique {
			unique = append(unique, item.Name())
		}
	}

	var specs []ports.IndexSpec
	if len(text) > 0 {
		specs = append(specs, ports.IndexSpec{Name: "text_index", Fields: text, Text: true})
	}
	for _, name := range unique {
		fields := append(append([]string(nil), indexers...), name)
		specs = append(specs, ports.IndexSpec{Name: "unique_" + name, Fields: fields, Unique: true})
	}
	return specs
}

func (m *Model) coll() (ports.Collection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return nil, fmt.Errorf("%s: %w", m.name, ErrNotInitialized)
	}
	return m.collection, nil
}

// CheckUniqueness reports whether no other document collides with s on its
// unique items. exclude is the document's own id when updating.
//
// The check and the following write are not atomic; the unique indexes built
// by Initialize reject a concurrent writer that slips in between.
func (m *Model) CheckUniqueness(ctx context.Context, s *schema.Schema, exclude primitive.ObjectID) (bool, error) {
	c, err := m.coll()
	if err != nil {
		return false, err
	}

	var or bson.A
	filter := bson.M{}
	for _, item := range s.Items() {
		f := item.Flags()
		if f.Unique {
			or = append(or, bson.M{item.Name(): item.DBValue()})
		}
		if f.UniqueIndexer {
			filter[item.Name()] = item.DBValue()
		}
	}
	if len(or) == 0 {
		return true, nil
	}

	filter["$or"] = or
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}

	n, err := c.Count(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("check uniqueness: %w", err)
	}
	return n == 0, nil
}

// NewInstance creates an unsaved instance holding data.
func (m *Model) NewInstance(data map[string]any, allowReadOnly bool) *Instance {
	s := m.newSchema()
	if data != nil {
		s.Set(data, allowReadOnly)
	}
	return &Instance{Schema: s, model: m}
}

// CreateInstance validates data and inserts it as a new document.
// Read-only items may be set.
func (m *Model) CreateInstance(ctx context.Context, data map[string]any) (*Instance, error) {
	inst := m.NewInstance(data, true)
	if err := m.Insert(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Insert validates every instance, writes them in a single batch and runs
// their post-upsert hooks. Nothing is written when any instance is invalid.
func (m *Model) Insert(ctx context.Context, instances ...*Instance) (err error) {
	start := time.Now()
	defer func() { m.cfg.Metrics.ObserveOperation(m.name, "insert", start, err) }()

	c, err := m.coll()
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		g.Go(func() error {
			return m.check(gctx, inst.Schema, true, primitive.NilObjectID)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	docs := make([]ports.Document, len(instances))
	for i, inst := range instances {
		doc := inst.Schema.Serialize()
		if m.cfg.IDs != nil {
			doc["_id"] = m.cfg.IDs.New()
		}
		docs[i] = doc
	}

	ids, err := c.InsertMany(ctx, docs)
	if err != nil {
		return m.storageError(instances[0].Schema, "insert", err)
	}
	for i, inst := range instances {
		docs[i]["_id"] = ids[i]
		inst.ID = ids[i]
		inst.Entry = docs[i]
	}

	hooks, hctx := errgroup.WithContext(ctx)
	for _, inst := range instances {
		hooks.Go(func() error {
			return inst.Schema.PostUpsert(hctx, schema.Owner{Collection: m.name, ID: inst.ID})
		})
	}
	if err := hooks.Wait(); err != nil {
		return fmt.Errorf("post upsert %s: %w", m.name, err)
	}

	for _, inst := range instances {
		m.publish(ctx, events.ActionCreated, inst)
	}
	m.logger.Debug().Int("count", len(instances)).Msg("documents inserted")
	return nil
}

// check validates s and verifies uniqueness.
func (m *Model) check(ctx context.Context, s *schema.Schema, checkRequired bool, self primitive.ObjectID) error {
	if err := s.Validate(ctx, checkRequired); err != nil {
		if field, ok := schema.FieldOf(err); ok {
			m.cfg.Metrics.ValidationFailed(m.name, field)
		}
		return err
	}
	ok, err := m.CheckUniqueness(ctx, s, self)
	if err != nil {
		return err
	}
	if !ok {
		m.cfg.Metrics.UniquenessConflict(m.name)
		return &UniquenessError{Fields: s.UniqueFieldNames()}
	}
	return nil
}

func (m *Model) storageError(s *schema.Schema, op string, err error) error {
	if errors.Is(err, ports.ErrDuplicateKey) {
		m.cfg.Metrics.UniquenessConflict(m.name)
		return &UniquenessError{Fields: s.UniqueFieldNames(), Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, m.name, err)
}

// FindInstances returns the documents matching filter.
func (m *Model) FindInstances(ctx context.Context, filter ports.Filter, opts ports.FindOptions) (result []*Instance, err error) {
	start := time.Now()
	defer func() { m.cfg.Metrics.ObserveOperation(m.name, "find", start, err) }()

	c, err := m.coll()
	if err != nil {
		return nil, err
	}
	if filter == nil {
		filter = ports.Filter{}
	}

	docs, err := c.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", m.name, err)
	}

	result = make([]*Instance, 0, len(docs))
	for _, doc := range docs {
		result = append(result, m.hydrate(doc))
	}
	return result, nil
}

// FindOne returns the first document matching filter, or nil when none does.
func (m *Model) FindOne(ctx context.Context, filter ports.Filter) (*Instance, error) {
	instances, err := m.FindInstances(ctx, filter, ports.FindOptions{Limit: 1})
	if err != nil || len(instances) == 0 {
		return nil, err
	}
	return instances[0], nil
}

// Count returns the number of documents matching filter.
func (m *Model) Count(ctx context.Context, filter ports.Filter) (int64, error) {
	c, err := m.coll()
	if err != nil {
		return 0, err
	}
	if filter == nil {
		filter = ports.Filter{}
	}
	n, err := c.Count(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", m.name, err)
	}
	return n, nil
}

func (m *Model) hydrate(doc ports.Document) *Instance {
	s := m.newSchema()
	s.Deserialize(doc)
	id, _ := doc["_id"].(primitive.ObjectID)
	return &Instance{ID: id, Schema: s, Entry: doc, model: m}
}

// UpdateToken is the outcome of updating one instance.
type UpdateToken struct {
	Instance *Instance
	Err      error
}

// UpdateResult holds one token per matched instance, in match order.
type UpdateResult struct {
	// Error is true when at least one instance failed.
	Error  bool
	Tokens []UpdateToken
}

// Updated returns the instances that were written.
func (r *UpdateResult) Updated() []*Instance {
	var out []*Instance
	for _, t := range r.Tokens {
		if t.Err == nil {
			out = append(out, t.Instance)
		}
	}
	return out
}

// Update applies data to every document matching filter. Instances are
// updated concurrently and independently: a failure is reported in its
// token and does not stop the others. Required items are not enforced and
// read-only items are skipped.
func (m *Model) Update(ctx context.Context, filter ports.Filter, data map[string]any) (result *UpdateResult, err error) {
	start := time.Now()
	defer func() { m.cfg.Metrics.ObserveOperation(m.name, "update", start, err) }()

	c, err := m.coll()
	if err != nil {
		return nil, err
	}

	instances, err := m.FindInstances(ctx, filter, ports.FindOptions{})
	if err != nil {
		return nil, err
	}

	result = &UpdateResult{Tokens: make([]UpdateToken, len(instances))}
	var wg sync.WaitGroup
	for i, inst := range instances {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result.Tokens[i] = UpdateToken{Instance: inst, Err: m.updateOne(ctx, c, inst, data)}
		}()
	}
	wg.Wait()

	for _, t := range result.Tokens {
		if t.Err != nil {
			result.Error = true
			m.logger.Debug().Err(t.Err).Str("id", t.Instance.ID.Hex()).Msg("update rejected")
		}
	}
	return result, nil
}

func (m *Model) updateOne(ctx context.Context, c ports.Collection, inst *Instance, data map[string]any) error {
	inst.Schema.Set(data, false)
	if err := m.check(ctx, inst.Schema, false, inst.ID); err != nil {
		return err
	}

	doc := inst.Schema.Serialize()
	if err := c.UpdateByID(ctx, inst.ID, ports.Update{Set: doc}); err != nil {
		return m.storageError(inst.Schema, "update", err)
	}
	for k, v := range doc {
		inst.Entry[k] = v
	}

	if err := inst.Schema.PostUpsert(ctx, schema.Owner{Collection: m.name, ID: inst.ID}); err != nil {
		return fmt.Errorf("post upsert %s: %w", m.name, err)
	}
	m.publish(ctx, events.ActionUpdated, inst)
	return nil
}

func (m *Model) publish(ctx context.Context, action string, inst *Instance) {
	if m.cfg.Events == nil {
		return
	}
	data := inst.Schema.Serialize()
	for _, item := range inst.Schema.Items() {
		if item.Flags().Sensitive {
			delete(data, item.Name())
		}
	}
	m.cfg.Events.Publish(ctx, events.NewEvent(m.name, action, inst.ID.Hex(), data))
}

// Exists reports whether a document with id exists.
func (m *Model) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	n, err := m.Count(ctx, ports.Filter{"_id": id})
	return n > 0, err
}

// Expand returns the JSON form of the document with id at the given
// expansion depth, or nil when it does not exist.
func (m *Model) Expand(ctx context.Context, id primitive.ObjectID, opts schema.Options, depth int) (map[string]any, error) {
	inst, err := m.FindOne(ctx, ports.Filter{"_id": id})
	if err != nil || inst == nil {
		return nil, err
	}
	return inst.Schema.JSONDepth(ctx, inst.ID, opts, depth)
}

// AddDependency records dep in the document with id.
func (m *Model) AddDependency(ctx context.Context, id primitive.ObjectID, kind schema.DependencyKind, dep schema.Dependency) error {
	c, err := m.coll()
	if err != nil {
		return err
	}
	return c.UpdateByID(ctx, id, ports.Update{AddToSet: ports.Document{string(kind): dep}})
}

// RemoveDependency removes dep from the document with id.
func (m *Model) RemoveDependency(ctx context.Context, id primitive.ObjectID, kind schema.DependencyKind, dep schema.Dependency) error {
	c, err := m.coll()
	if err != nil {
		return err
	}
	return c.UpdateByID(ctx, id, ports.Update{Pull: ports.Document{string(kind): dep.Condition()}})
}

// Ensure interface compliance.
var _ schema.Target = (*Model)(nil)

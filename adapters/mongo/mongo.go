// Package mongo provides a MongoDB implementation of the document store ports.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Server error codes that are expected during setup.
const (
	codeNamespaceNotFound = 26
	codeNamespaceExists   = 48
)

// Database is a MongoDB implementation of ports.Database.
type Database struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect connects to uri and verifies the server is reachable.
func Connect(ctx context.Context, uri, name string) (*Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Database{client: client, db: client.Database(name)}, nil
}

// CreateCollection returns the named collection, creating it if needed.
func (d *Database) CreateCollection(ctx context.Context, name string) (ports.Collection, error) {
	if name == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}
	if err := d.db.CreateCollection(ctx, name); err != nil && !hasCode(err, codeNamespaceExists) {
		return nil, err
	}
	return &Collection{c: d.db.Collection(name)}, nil
}

// Drop removes the whole database.
func (d *Database) Drop(ctx context.Context) error {
	return d.db.Drop(ctx)
}

// Close disconnects the client.
func (d *Database) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Collection is a MongoDB implementation of ports.Collection.
type Collection struct {
	c *mongo.Collection
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.c.Name()
}

// DropIndexes removes every secondary index.
func (c *Collection) DropIndexes(ctx context.Context) error {
	if _, err := c.c.Indexes().DropAll(ctx); err != nil && !hasCode(err, codeNamespaceNotFound) {
		return err
	}
	return nil
}

// CreateIndex creates a secondary index.
func (c *Collection) CreateIndex(ctx context.Context, spec ports.IndexSpec) error {
	_, err := c.c.Indexes().CreateOne(ctx, indexModel(spec))
	return mapError(err)
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter ports.Filter) (int64, error) {
	return c.c.CountDocuments(ctx, orEmpty(filter))
}

// Find returns the documents matching filter.
func (c *Collection) Find(ctx context.Context, filter ports.Filter, opts ports.FindOptions) ([]ports.Document, error) {
	cur, err := c.c.Find(ctx, orEmpty(filter), findOptions(opts))
	if err != nil {
		return nil, err
	}
	docs := []ports.Document{}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// InsertMany inserts documents in one ordered batch.
func (c *Collection) InsertMany(ctx context.Context, docs []ports.Document) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, len(docs))
	batch := make([]any, len(docs))
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
		batch[i] = copied
	}
	if _, err := c.c.InsertMany(ctx, batch); err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

// UpdateByID applies update to a single document.
func (c *Collection) UpdateByID(ctx context.Context, id primitive.ObjectID, update ports.Update) error {
	if update.IsEmpty() {
		return nil
	}
	_, err := c.c.UpdateByID(ctx, id, updateDocument(update))
	return mapError(err)
}

// UpdateMany applies update to every matching document and returns the match count.
func (c *Collection) UpdateMany(ctx context.Context, filter ports.Filter, update ports.Update) (int64, error) {
	if update.IsEmpty() {
		return c.Count(ctx, filter)
	}
	res, err := c.c.UpdateMany(ctx, orEmpty(filter), updateDocument(update))
	if err != nil {
		return 0, mapError(err)
	}
	return res.MatchedCount, nil
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, filter ports.Filter) (int64, error) {
	res, err := c.c.DeleteMany(ctx, orEmpty(filter))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func indexModel(spec ports.IndexSpec) mongo.IndexModel {
	keys := bson.D{}
	for _, f := range spec.Fields {
		if spec.Text {
			keys = append(keys, bson.E{Key: f, Value: "text"})
		} else {
			keys = append(keys, bson.E{Key: f, Value: 1})
		}
	}
	opts := options.Index().SetName(spec.Name)
	if spec.Unique {
		opts.SetUnique(true)
	}
	return mongo.IndexModel{Keys: keys, Options: opts}
}

func findOptions(opts ports.FindOptions) *options.FindOptions {
	fo := options.Find()
	if len(opts.Sort) > 0 {
		sort := bson.D{}
		for _, s := range opts.Sort {
			dir := 1
			if s.Desc {
				dir = -1
			}
			sort = append(sort, bson.E{Key: s.Field, Value: dir})
		}
		fo.SetSort(sort)
	}
	if opts.Skip > 0 {
		fo.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		fo.SetLimit(opts.Limit)
	}
	if len(opts.Projection) > 0 {
		proj := bson.D{}
		for _, f := range opts.Projection {
			proj = append(proj, bson.E{Key: f, Value: 1})
		}
		fo.SetProjection(proj)
	}
	return fo
}

func updateDocument(u ports.Update) bson.M {
	doc := bson.M{}
	if len(u.Set) > 0 {
		doc["$set"] = u.Set
	}
	if len(u.AddToSet) > 0 {
		doc["$addToSet"] = u.AddToSet
	}
	if len(u.Pull) > 0 {
		doc["$pull"] = u.Pull
	}
	return doc
}

func orEmpty(filter ports.Filter) ports.Filter {
	if filter == nil {
		return ports.Filter{}
	}
	return filter
}

func mapError(err error) error {
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ports.ErrDuplicateKey, err)
	}
	return err
}

func hasCode(err error, code int32) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.Code == code
}

// Ensure interface compliance.
var (
	_ ports.Database   = (*Database)(nil)
	_ ports.Collection = (*Collection)(nil)
)

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/artpar/cmsodm/core/query"
	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Database is a SQLite implementation of ports.Database.
type Database struct {
	db *DB

	mu          sync.Mutex
	collections map[string]*Collection
}

// NewDatabase creates a document store on a migrated connection.
func NewDatabase(db *DB) *Database {
	return &Database{db: db, collections: make(map[string]*Collection)}
}

// OpenDatabase opens and migrates the database at path.
func OpenDatabase(path string) (*Database, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewDatabase(db), nil
}

// CreateCollection returns the named collection, creating its table on first use.
// Names must be identifiers since they become part of a table name.
func (d *Database) CreateCollection(ctx context.Context, name string) (ports.Collection, error) {
	if !isIdentifier(name) {
		return nil, fmt.Errorf("invalid collection name %q", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.collections[name]; ok {
		return c, nil
	}

	c := &Collection{db: d.db, name: name, table: `"doc_` + name + `"`}
	_, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+c.table+` (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id  TEXT NOT NULL UNIQUE,
		doc BLOB NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create table for %s: %w", name, err)
	}
	if _, err := d.db.ExecContext(ctx, `INSERT OR IGNORE INTO _collections (name) VALUES (?)`, name); err != nil {
		return nil, fmt.Errorf("register collection %s: %w", name, err)
	}

	d.collections[name] = c
	return c, nil
}

// Close closes the underlying connection.
func (d *Database) Close(ctx context.Context) error {
	return d.db.Close()
}

// Collection is a SQLite implementation of ports.Collection.
type Collection struct {
	db    *DB
	name  string
	table string

	// mu serializes writers of this collection within the process.
	mu sync.Mutex
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type row struct {
	seq int64
	doc ports.Document
}

// load reads every document in insertion order.
func (c *Collection) load(ctx context.Context, q queryer) ([]row, error) {
	rows, err := q.QueryContext(ctx, `SELECT seq, doc FROM `+c.table+` ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.name, err)
	}
	defer rows.Close()

	var result []row
	for rows.Next() {
		var r row
		var raw []byte
		if err := rows.Scan(&r.seq, &raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.name, err)
		}
		if err := bson.Unmarshal(raw, &r.doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// Indexes returns the index definitions of the collection.
func (c *Collection) Indexes(ctx context.Context) ([]ports.IndexSpec, error) {
	return c.indexes(ctx, c.db)
}

func (c *Collection) indexes(ctx context.Context, q queryer) ([]ports.IndexSpec, error) {
	rows, err := q.QueryContext(ctx, `SELECT spec FROM _indexes WHERE collection = ? ORDER BY rowid`, c.name)
	if err != nil {
		return nil, fmt.Errorf("load indexes of %s: %w", c.name, err)
	}
	defer rows.Close()

	var specs []ports.IndexSpec
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var spec ports.IndexSpec
		if err := bson.Unmarshal(raw, &spec); err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}
		specs = append(specs, spec)
	}
	return specs, rows.Err()
}

// DropIndexes removes every index.
func (c *Collection) DropIndexes(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM _indexes WHERE collection = ?`, c.name); err != nil {
		return fmt.Errorf("drop indexes of %s: %w", c.name, err)
	}
	return nil
}

// CreateIndex stores an index definition after checking existing documents against it.
func (c *Collection) CreateIndex(ctx context.Context, spec ports.IndexSpec) error {
	if spec.Name == "" || len(spec.Fields) == 0 {
		return fmt.Errorf("index requires a name and at least one field")
	}
	raw, err := bson.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	return c.write(ctx, func(tx *sql.Tx) error {
		if spec.Unique {
			rows, err := c.load(ctx, tx)
			if err != nil {
				return err
			}
			all := documents(rows)
			for i, doc := range all {
				if _, dup := query.DuplicateKey(all[:i], doc, []ports.IndexSpec{spec}); dup {
					return fmt.Errorf("create index %s: %w", spec.Name, ports.ErrDuplicateKey)
				}
			}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO _indexes (collection, name, spec) VALUES (?, ?, ?)
			 ON CONFLICT(collection, name) DO UPDATE SET spec = excluded.spec`,
			c.name, spec.Name, raw)
		return err
	})
}

// Count returns the number of documents matching filter.
func (c *Collection) Count(ctx context.Context, filter ports.Filter) (int64, error) {
	rows, err := c.load(ctx, c.db)
	if err != nil {
		return 0, err
	}
	matched, err := match(rows, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(matched)), nil
}

// Find returns the documents matching filter.
func (c *Collection) Find(ctx context.Context, filter ports.Filter, opts ports.FindOptions) ([]ports.Document, error) {
	rows, err := c.load(ctx, c.db)
	if err != nil {
		return nil, err
	}
	matched, err := match(rows, filter)
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, len(matched))
	for i, m := range matched {
		docs[i] = m.doc
	}
	return query.Find(docs, opts)
}

// InsertMany inserts documents in one transaction.
func (c *Collection) InsertMany(ctx context.Context, docs []ports.Document) ([]primitive.ObjectID, error) {
	ids := make([]primitive.ObjectID, len(docs))

	err := c.write(ctx, func(tx *sql.Tx) error {
		rows, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		specs, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		all := documents(rows)

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
				return err
			}
			for _, existing := range all {
				if existing["_id"] == any(id) {
					return fmt.Errorf("insert %s: %w", id.Hex(), ports.ErrDuplicateKey)
				}
			}
			if name, dup := query.DuplicateKey(all, normalized, specs); dup {
				return fmt.Errorf("insert violates index %s: %w", name, ports.ErrDuplicateKey)
			}
			all = append(all, normalized)

			if _, err := tx.ExecContext(ctx, `INSERT INTO `+c.table+` (id, doc) VALUES (?, ?)`, id.Hex(), []byte(raw)); err != nil {
				return fmt.Errorf("insert into %s: %w", c.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// UpdateByID applies update to the document with the given id.
func (c *Collection) UpdateByID(ctx context.Context, id primitive.ObjectID, update ports.Update) error {
	_, err := c.UpdateMany(ctx, ports.Filter{"_id": id}, update)
	return err
}

// UpdateMany applies update to every matching document in one transaction.
func (c *Collection) UpdateMany(ctx context.Context, filter ports.Filter, update ports.Update) (int64, error) {
	var n int64
	err := c.write(ctx, func(tx *sql.Tx) error {
		rows, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		matched, err := match(rows, filter)
		if err != nil {
			return err
		}
		n = int64(len(matched))
		if update.IsEmpty() || len(matched) == 0 {
			return nil
		}

		specs, err := c.indexes(ctx, tx)
		if err != nil {
			return err
		}
		all := documents(rows)
		pos := make(map[int64]int, len(rows))
		for i, r := range rows {
			pos[r.seq] = i
		}

		encoded := make(map[int64][]byte, len(matched))
		for _, m := range matched {
			if err := query.Apply(m.doc, update); err != nil {
				return err
			}
			raw, normalized, err := encode(m.doc)
			if err != nil {
				return err
			}
			all[pos[m.seq]] = normalized
			encoded[m.seq] = raw
		}
		for seq := range encoded {
			if name, dup := query.DuplicateKey(all, all[pos[seq]], specs); dup {
				return fmt.Errorf("update violates index %s: %w", name, ports.ErrDuplicateKey)
			}
		}
		for seq, raw := range encoded {
			if _, err := tx.ExecContext(ctx, `UPDATE `+c.table+` SET doc = ? WHERE seq = ?`, raw, seq); err != nil {
				return fmt.Errorf("update %s: %w", c.name, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// DeleteMany removes every matching document.
func (c *Collection) DeleteMany(ctx context.Context, filter ports.Filter) (int64, error) {
	var n int64
	err := c.write(ctx, func(tx *sql.Tx) error {
		rows, err := c.load(ctx, tx)
		if err != nil {
			return err
		}
		matched, err := match(rows, filter)
		if err != nil {
			return err
		}
		for _, m := range matched {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+c.table+` WHERE seq = ?`, m.seq); err != nil {
				return fmt.Errorf("delete from %s: %w", c.name, err)
			}
		}
		n = int64(len(matched))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// write runs fn in a transaction, committing when it succeeds.
func (c *Collection) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", c.name, err)
	}
	return nil
}

func match(rows []row, filter ports.Filter) ([]row, error) {
	var result []row
	for _, r := range rows {
		ok, err := query.Match(r.doc, filter)
		if err != nil {
			return nil, fmt.Errorf("invalid filter: %w", err)
		}
		if ok {
			result = append(result, r)
		}
	}
	return result, nil
}

func documents(rows []row) []map[string]any {
	all := make([]map[string]any, len(rows))
	for i, r := range rows {
		all[i] = r.doc
	}
	return all
}

func encode(doc map[string]any) (bson.Raw, ports.Document, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	var normalized ports.Document
	if err := bson.Unmarshal(raw, &normalized); err != nil {
		return nil, nil, fmt.Errorf("decode document: %w", err)
	}
	return raw, normalized, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// Ensure interface compliance.
var (
	_ ports.Database   = (*Database)(nil)
	_ ports.Collection = (*Collection)(nil)
)

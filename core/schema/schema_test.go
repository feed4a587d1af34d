package schema

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// fakeTarget is an in-memory reference target.
type fakeTarget struct {
	mu   sync.Mutex
	docs map[primitive.ObjectID]map[string]any
	deps map[primitive.ObjectID]map[DependencyKind][]Dependency
}

func newFakeTarget(ids ...primitive.ObjectID) *fakeTarget {
	f := &fakeTarget{
		docs: map[primitive.ObjectID]map[string]any{},
		deps: map[primitive.ObjectID]map[DependencyKind][]Dependency{},
	}
	for _, id := range ids {
		f.docs[id] = map[string]any{"_id": id, "name": "doc-" + id.Hex()[:4]}
	}
	return f
}

func (f *fakeTarget) Exists(ctx context.Context, id primitive.ObjectID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.docs[id]
	return ok, nil
}

func (f *fakeTarget) Expand(ctx context.Context, id primitive.ObjectID, opts Options, depth int) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	out := map[string]any{"depth": depth}
	for k, v := range doc {
		out[k] = v
	}
	return out, nil
}

func (f *fakeTarget) AddDependency(ctx context.Context, id primitive.ObjectID, kind DependencyKind, dep Dependency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deps[id] == nil {
		f.deps[id] = map[DependencyKind][]Dependency{}
	}
	for _, d := range f.deps[id][kind] {
		if d == dep {
			return nil
		}
	}
	f.deps[id][kind] = append(f.deps[id][kind], dep)
	return nil
}

func (f *fakeTarget) RemoveDependency(ctx context.Context, id primitive.ObjectID, kind DependencyKind, dep Dependency) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []Dependency
	for _, d := range f.deps[id][kind] {
		if d != dep {
			kept = append(kept, d)
		}
	}
	if f.deps[id] != nil {
		f.deps[id][kind] = kept
	}
	return nil
}

func (f *fakeTarget) count(id primitive.ObjectID, kind DependencyKind) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deps[id][kind])
}

type fakeResolver map[string]Target

func (r fakeResolver) Target(name string) (Target, bool) {
	t, ok := r[name]
	return t, ok
}

func mustSchema(t *testing.T, items ...Item) *Schema {
	t.Helper()
	s, err := New(items...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestSchema_Add(t *testing.T) {
	s := mustSchema(t, NewText("title", TextOptions{}))

	if _, err := s.Add(NewText("title", TextOptions{})); err == nil {
		t.Error("expected error for duplicate name")
	}
	for _, name := range []string{"_requiredDependencies", "_optionalDependencies", "_arrayDependencies", "_id"} {
		if _, err := s.Add(NewJSON(name, Flags{})); err == nil {
			t.Errorf("expected error for reserved name %s", name)
		}
	}
	if _, err := s.Add(NewBool("published", Flags{})); err != nil {
		t.Errorf("Add() error = %v", err)
	}
	if len(s.Items()) != 2 {
		t.Errorf("expected 2 items, got %d", len(s.Items()))
	}
}

func TestSchema_SetSkipsReadOnly(t *testing.T) {
	s := mustSchema(t,
		NewText("title", TextOptions{}),
		NewText("slug", TextOptions{Flags: Flags{ReadOnly: true}}),
	)

	s.Set(map[string]any{"title": "a", "slug": "b", "unknown": 1}, false)
	title, _ := s.Get("title")
	slug, _ := s.Get("slug")
	if !title.Modified() || title.Raw() != "a" {
		t.Errorf("title not set: %v", title.Raw())
	}
	if slug.Modified() {
		t.Error("read-only item must be skipped")
	}

	s.Set(map[string]any{"slug": "b"}, true)
	if slug.Raw() != "b" {
		t.Error("read-only item must be set when allowed")
	}
}

func TestSchema_ValidateRequired(t *testing.T) {
	template := mustSchema(t,
		NewText("title", TextOptions{Flags: Flags{Required: true}}),
		NewText("body", TextOptions{Flags: Flags{Required: true}}),
	)
	ctx := context.Background()

	s := template.Clone()
	s.Set(map[string]any{"title": "hello"}, false)
	err := s.Validate(ctx, true)
	if err == nil || err.Error() != "body is required" {
		t.Fatalf("Validate() error = %v, want body is required", err)
	}

	// Partial updates do not enforce required items.
	if err := s.Validate(ctx, false); err != nil {
		t.Errorf("Validate(false) error = %v", err)
	}
}

func TestSchema_ValidateFailsFast(t *testing.T) {
	s := mustSchema(t,
		NewText("first", TextOptions{MinCharacters: 1}),
		NewText("second", TextOptions{MinCharacters: 1}),
	)
	err := s.Validate(context.Background(), false)
	if field, ok := FieldOf(err); !ok || field != "first" {
		t.Errorf("expected first item to fail, got %v", err)
	}
}

func TestSchema_CloneIsIndependent(t *testing.T) {
	template := mustSchema(t, NewText("title", TextOptions{}))
	a := template.Clone()
	b := template.Clone()

	a.Set(map[string]any{"title": "a"}, false)
	if v, _ := b.Get("title"); v.Modified() {
		t.Error("clones share item state")
	}
	if v, _ := template.Get("title"); v.Modified() {
		t.Error("clone modified the template")
	}
}

func TestSchema_RoundTrip(t *testing.T) {
	ref := primitive.NewObjectID()
	num, _ := NewNumber("price", NumberOptions{Type: Float})
	build := func() *Schema {
		return mustSchema(t,
			NewText("title", TextOptions{}),
			num.Clone(),
			NewBool("published", Flags{}),
			NewDate("createdOn", DateOptions{}),
			NewJSON("meta", Flags{}),
			NewID("owner", Flags{}),
			NewTextArray("tags", TextArrayOptions{}),
			NewIDArray("files", IDArrayOptions{}),
		)
	}
	ctx := context.Background()

	src := build()
	src.Set(map[string]any{
		"title":     "Hello",
		"price":     9.99,
		"published": true,
		"createdOn": int64(1700000000000),
		"meta":      map[string]any{"a": 1},
		"owner":     ref.Hex(),
		"tags":      []string{"x", "y"},
		"files":     []any{ref},
	}, false)
	if err := src.Validate(ctx, false); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	doc := src.Serialize()

	dst := build()
	dst.Deserialize(doc)
	again := dst.Serialize()

	for k, v := range doc {
		w := again[k]
		switch k {
		case "meta":
			if w.(map[string]any)["a"] != 1 {
				t.Errorf("%s: %v != %v", k, w, v)
			}
		case "tags":
			if got := w.([]string); len(got) != 2 || got[1] != "y" {
				t.Errorf("%s: %v", k, w)
			}
		case "files":
			if got := w.([]primitive.ObjectID); len(got) != 1 || got[0] != ref {
				t.Errorf("%s: %v", k, w)
			}
		default:
			if w != v {
				t.Errorf("%s: %v != %v", k, w, v)
			}
		}
	}
	if v, _ := dst.Get("title"); v.Modified() {
		t.Error("Deserialize must not mark items modified")
	}
}

func TestSchema_EmptyIDRoundTripNormalizes(t *testing.T) {
	s := mustSchema(t, NewID("owner", Flags{}))
	s.Set(map[string]any{"owner": ""}, false)
	doc := s.Serialize()
	if doc["owner"] != nil {
		t.Errorf("empty id should persist as nil, got %v", doc["owner"])
	}
}

func TestSchema_JSON(t *testing.T) {
	ctx := context.Background()
	authorID := primitive.NewObjectID()
	users := newFakeTarget(authorID)

	s := mustSchema(t,
		NewText("title", TextOptions{}),
		NewSecret("password", SecretOptions{Cost: 4}),
		NewForeignKey("author", ForeignKeyOptions{Target: "users"}),
	)
	s.Bind(Env{Resolver: fakeResolver{"users": users}})
	s.Set(map[string]any{"title": "t", "password": "secret123", "author": authorID}, false)
	if err := s.Validate(ctx, false); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}

	id := primitive.NewObjectID()
	out, err := s.JSON(ctx, id, Options{})
	if err != nil {
		t.Fatalf("JSON() error = %v", err)
	}
	if out["_id"] != id {
		t.Error("JSON must include the document id")
	}
	if _, ok := out["password"]; ok {
		t.Error("sensitive item exposed without verbose")
	}
	if out["author"] != authorID {
		t.Errorf("author = %v, want bare id", out["author"])
	}

	out, _ = s.JSON(ctx, id, Options{Verbose: true})
	if _, ok := out["password"]; !ok {
		t.Error("verbose JSON must include sensitive items")
	}

	out, _ = s.JSON(ctx, id, Options{ExpandForeignKeys: true})
	expanded, ok := out["author"].(map[string]any)
	if !ok || expanded["_id"] != authorID || expanded["depth"] != 1 {
		t.Errorf("author not expanded: %v", out["author"])
	}

	out, _ = s.JSON(ctx, id, Options{ExpandForeignKeys: true, ExpandSchemaBlacklist: []string{"author"}})
	if out["author"] != authorID {
		t.Errorf("blacklisted author expanded: %v", out["author"])
	}

	out, _ = s.JSONDepth(ctx, id, Options{ExpandForeignKeys: true, ExpandMaxDepth: 2}, 2)
	if out["author"] != authorID {
		t.Errorf("expansion past max depth: %v", out["author"])
	}
}

func TestForeignKey_Validate(t *testing.T) {
	ctx := context.Background()
	existing := primitive.NewObjectID()
	env := Env{Resolver: fakeResolver{"users": newFakeTarget(existing)}}

	tests := []struct {
		name     string
		nullable bool
		target   string
		value    any
		wantErr  string
		want     any
	}{
		{"blank nullable", true, "users", "", "", nil},
		{"blank not nullable", false, "users", "", "", nil},
		{"nil not nullable", false, "users", nil, "", nil},
		{"malformed", true, "users", "not-an-id", "Please use a valid ID for 'author'", nil},
		{"existing", false, "users", existing.Hex(), "", existing},
		{"missing document", false, "users", primitive.NewObjectID(), "author does not exist", nil},
		{"unknown target", false, "ghosts", existing, "author references a foreign key 'ghosts' which doesn't seem to exist", nil},
		{"expanded document", false, "users", map[string]any{"_id": existing}, "", existing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewForeignKey("author", ForeignKeyOptions{Target: tt.target, KeyCanBeNull: tt.nullable})
			k.Set(tt.value)
			err := k.Validate(ctx, env)
			if tt.wantErr != "" {
				if err == nil || err.Error() != tt.wantErr {
					t.Fatalf("Validate() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if k.DBValue() != tt.want {
				t.Errorf("DBValue() = %v, want %v", k.DBValue(), tt.want)
			}
		})
	}
}

func TestForeignKey_Dependencies(t *testing.T) {
	ctx := context.Background()
	first, second := primitive.NewObjectID(), primitive.NewObjectID()
	users := newFakeTarget(first, second)
	env := Env{Resolver: fakeResolver{"users": users}}
	owner := Owner{Collection: "posts", ID: primitive.NewObjectID()}

	k := NewForeignKey("author", ForeignKeyOptions{Target: "users"})
	k.Set(first)
	if err := k.PostUpsert(ctx, env, owner); err != nil {
		t.Fatalf("PostUpsert() error = %v", err)
	}
	if err := k.PostUpsert(ctx, env, owner); err != nil {
		t.Fatalf("PostUpsert() error = %v", err)
	}
	if n := users.count(first, RequiredDependencies); n != 1 {
		t.Fatalf("expected 1 required dependency, got %d", n)
	}

	// Changing the reference moves the dependency.
	k.Set(second)
	if err := k.PostUpsert(ctx, env, owner); err != nil {
		t.Fatalf("PostUpsert() error = %v", err)
	}
	if users.count(first, RequiredDependencies) != 0 || users.count(second, RequiredDependencies) != 1 {
		t.Error("dependency was not moved to the new target")
	}

	if err := k.PostDelete(ctx, env, owner); err != nil {
		t.Fatalf("PostDelete() error = %v", err)
	}
	if users.count(second, RequiredDependencies) != 0 {
		t.Error("PostDelete did not remove the dependency")
	}

	nullable := NewForeignKey("editor", ForeignKeyOptions{Target: "users", KeyCanBeNull: true})
	nullable.Set(first)
	nullable.PostUpsert(ctx, env, owner)
	if users.count(first, OptionalDependencies) != 1 {
		t.Error("nullable key should register an optional dependency")
	}
}

func TestIDArray_Dependencies(t *testing.T) {
	ctx := context.Background()
	a, b := primitive.NewObjectID(), primitive.NewObjectID()
	files := newFakeTarget(a, b)
	env := Env{Resolver: fakeResolver{"files": files}}
	owner := Owner{Collection: "posts", ID: primitive.NewObjectID()}

	arr := NewIDArray("attachments", IDArrayOptions{Target: "files"})
	arr.Hydrate([]any{a})
	arr.Set([]any{b})
	if err := arr.PostUpsert(ctx, env, owner); err != nil {
		t.Fatalf("PostUpsert() error = %v", err)
	}
	if files.count(b, ArrayDependencies) != 1 {
		t.Error("new id should be registered")
	}

	v, err := arr.Value(ctx, env, Options{ExpandForeignKeys: true}, 0)
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if docs := v.([]map[string]any); len(docs) != 1 || docs[0]["_id"] != b {
		t.Errorf("Value() = %v", v)
	}
}

func TestSchema_PostUpsertPropagatesErrors(t *testing.T) {
	s := mustSchema(t, NewForeignKey("author", ForeignKeyOptions{Target: "users"}))
	s.Set(map[string]any{"author": primitive.NewObjectID()}, false)
	err := s.PostUpsert(context.Background(), Owner{Collection: "posts", ID: primitive.NewObjectID()})
	var re *ReferenceError
	if !errors.As(err, &re) {
		t.Errorf("expected ReferenceError without a resolver, got %v", err)
	}
}

func TestSchema_UniqueFieldNames(t *testing.T) {
	s := mustSchema(t,
		NewText("email", TextOptions{Flags: Flags{Unique: true}}),
		NewText("name", TextOptions{}),
		NewText("username", TextOptions{Flags: Flags{Unique: true}}),
	)
	if got := s.UniqueFieldNames(); got != "email, username" {
		t.Errorf("UniqueFieldNames() = %q", got)
	}
}

func TestParseDependencies(t *testing.T) {
	id := primitive.NewObjectID()
	raw := primitive.A{
		primitive.M{"collection": "posts", "propertyName": "author", "_id": id},
		primitive.D{{Key: "collection", Value: "comments"}, {Key: "propertyName", Value: "post"}, {Key: "_id", Value: id.Hex()}},
		primitive.M{"collection": "", "_id": id},
		"garbage",
	}
	deps := ParseDependencies(raw)
	if len(deps) != 2 {
		t.Fatalf("expected 2 dependencies, got %d", len(deps))
	}
	if deps[0] != (Dependency{Collection: "posts", PropertyName: "author", ID: id}) {
		t.Errorf("deps[0] = %+v", deps[0])
	}
	if deps[1].Collection != "comments" || deps[1].ID != id {
		t.Errorf("deps[1] = %+v", deps[1])
	}
	if ParseDependencies(nil) != nil {
		t.Error("nil should parse to no dependencies")
	}
}

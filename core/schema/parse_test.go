package schema

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

const postsYAML = `
collection: posts
description: Blog posts
items:
  - { name: title, type: text, required: true, min_characters: 1, max_characters: 200, indexable: true }
  - { name: slug, type: text, unique: true, read_only: true }
  - { name: user, type: foreign-key, target: users, unique_indexer: true }
  - { name: content, type: html, error_bad_html: false }
  - { name: price, type: number, number_type: float, decimal_places: 2, min: 0 }
  - { name: tags, type: text-array, max_items: 5, max_characters: 20 }
  - { name: files, type: id-array, target: files }
  - { name: public, type: bool, default: true }
  - { name: createdOn, type: date, use_now: true }
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(postsYAML))
	if err != nil {
		t.Fatalf("ParseDefinition() error = %v", err)
	}
	if def.Collection != "posts" || len(def.Items) != 9 {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if !def.Items[0].Required || !def.Items[0].Indexable {
		t.Error("inline flags not parsed")
	}
	if def.Items[2].Target != "users" || !def.Items[2].UniqueIndexer {
		t.Error("foreign key options not parsed")
	}

	targets := def.Targets()
	if len(targets) != 2 || targets[0] != "files" || targets[1] != "users" {
		t.Errorf("Targets() = %v", targets)
	}

	s, err := def.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(s.Items()) != 9 {
		t.Errorf("expected 9 items, got %d", len(s.Items()))
	}
	if _, ok := mustGet(t, s, "price").(*Number); !ok {
		t.Error("price should be a number item")
	}
	if _, ok := mustGet(t, s, "user").(*ForeignKey); !ok {
		t.Error("user should be a foreign key item")
	}
	public := mustGet(t, s, "public")
	if public.Raw() != true || public.Modified() {
		t.Error("default should be loaded without marking the item modified")
	}
	if s.UniqueFieldNames() != "slug" {
		t.Errorf("UniqueFieldNames() = %q", s.UniqueFieldNames())
	}
}

func mustGet(t *testing.T, s *Schema, name string) Item {
	t.Helper()
	item, ok := s.Get(name)
	if !ok {
		t.Fatalf("item %s not found", name)
	}
	return item
}

func TestParseDefinition_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad collection", "collection: 1posts\nitems: [{name: a, type: text}]", "not a valid identifier"},
		{"no items", "collection: posts\nitems: []", "at least one item"},
		{"unknown type", "collection: posts\nitems: [{name: a, type: blob}]", `unknown type "blob"`},
		{"reserved", "collection: posts\nitems: [{name: _arrayDependencies, type: json}]", "is reserved"},
		{"duplicate", "collection: posts\nitems: [{name: a, type: text}, {name: a, type: bool}]", "more than once"},
		{"fk without target", "collection: posts\nitems: [{name: a, type: foreign-key}]", "requires a target"},
		{"too many decimals", "collection: posts\nitems: [{name: a, type: number, decimal_places: 21}]", "decimal_places"},
		{"bad number type", "collection: posts\nitems: [{name: a, type: number, number_type: big}]", "number_type"},
		{"min over max", "collection: posts\nitems: [{name: a, type: number, min: 5, max: 1}]", "min is greater than max"},
		{"bad yaml", "collection: [", "parse yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.want)
			}
		})
	}
}

func TestValidateDefinitions(t *testing.T) {
	posts, _ := ParseDefinition([]byte(postsYAML))
	users := Definition{Collection: "users", Items: []ItemDef{{Name: "email", Type: ItemTypeText}}}

	err := ValidateDefinitions([]Definition{posts, users})
	if err == nil || !strings.Contains(err.Error(), `target collection "files" is not defined`) {
		t.Errorf("ValidateDefinitions() error = %v", err)
	}

	files := Definition{Collection: "files", Items: []ItemDef{{Name: "name", Type: ItemTypeText}}}
	if err := ValidateDefinitions([]Definition{posts, users, files}); err != nil {
		t.Errorf("ValidateDefinitions() error = %v", err)
	}

	if err := ValidateDefinitions([]Definition{users, users}); err == nil {
		t.Error("expected error for duplicate collection")
	}
}

func TestParseDefinitionFS(t *testing.T) {
	fsys := fstest.MapFS{
		"models/posts.yaml":      {Data: []byte(postsYAML)},
		"models/extra/users.yml": {Data: []byte("collection: users\nitems: [{name: email, type: text}]")},
		"models/README.md":       {Data: []byte("ignored")},
	}
	defs, err := ParseDefinitionFS(fsys, "models")
	if err != nil {
		t.Fatalf("ParseDefinitionFS() error = %v", err)
	}
	if len(defs) != 2 {
		t.Errorf("expected 2 definitions, got %d", len(defs))
	}
}

func TestParseDefinitionDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "posts.yaml"), []byte(postsYAML), 0644); err != nil {
		t.Fatal(err)
	}

	defs, err := ParseDefinitionDir(dir)
	if err != nil {
		t.Fatalf("ParseDefinitionDir() error = %v", err)
	}
	if len(defs) != 1 || defs[0].Collection != "posts" {
		t.Errorf("unexpected definitions: %+v", defs)
	}

	def, err := ParseDefinitionFile(filepath.Join(dir, "posts.yaml"))
	if err != nil || def.Collection != "posts" {
		t.Errorf("ParseDefinitionFile() = %v, %v", def.Collection, err)
	}

	if _, err := ParseDefinitionFile(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

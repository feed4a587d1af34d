// Package models embeds the built-in CMS model definitions.
package models

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/artpar/cmsodm/core/schema"
)

//go:embed definitions/*.yaml
var definitionsFS embed.FS

// FS returns the embedded definition files.
func FS() fs.FS {
	sub, err := fs.Sub(definitionsFS, "definitions")
	if err != nil {
		panic(err) // the directory is embedded
	}
	return sub
}

// Builtin parses the embedded definitions.
func Builtin() ([]schema.Definition, error) {
	defs, err := schema.ParseDefinitionFS(definitionsFS, "definitions")
	if err != nil {
		return nil, fmt.Errorf("builtin models: %w", err)
	}
	return defs, nil
}

// Merge returns base with the definitions of extra applied on top. A
// definition in extra replaces the base definition of the same collection in
// place; new collections are appended in the order given.
func Merge(base, extra []schema.Definition) []schema.Definition {
	out := append([]schema.Definition(nil), base...)
	index := make(map[string]int, len(out))
	for i, def := range out {
		index[def.Collection] = i
	}
	for _, def := range extra {
		if i, ok := index[def.Collection]; ok {
			out[i] = def
			continue
		}
		index[def.Collection] = len(out)
		out = append(out, def)
	}
	return out
}

// Load returns the built-in definitions merged with those found in dir.
// skipBuiltin drops the built-in set; an empty dir adds nothing.
// The merged set is validated as a whole.
func Load(dir string, skipBuiltin bool) ([]schema.Definition, error) {
	var defs []schema.Definition
	if !skipBuiltin {
		builtin, err := Builtin()
		if err != nil {
			return nil, err
		}
		defs = builtin
	}

	if dir != "" {
		extra, err := schema.ParseDefinitionDir(dir)
		if err != nil {
			return nil, fmt.Errorf("models dir: %w", err)
		}
		defs = Merge(defs, extra)
	}

	if err := schema.ValidateDefinitions(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

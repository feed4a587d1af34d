package schema

import (
	"github.com/artpar/cmsodm/core/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// DependencyKind names one of the reserved back-reference arrays.
type DependencyKind string

const (
	// RequiredDependencies lists documents that must be deleted with this one.
	RequiredDependencies DependencyKind = "_requiredDependencies"
	// OptionalDependencies lists documents whose reference is cleared on delete.
	OptionalDependencies DependencyKind = "_optionalDependencies"
	// ArrayDependencies lists documents whose id array loses this id on delete.
	ArrayDependencies DependencyKind = "_arrayDependencies"
)

// DependencyKinds lists every kind in cascade order.
var DependencyKinds = []DependencyKind{OptionalDependencies, ArrayDependencies, RequiredDependencies}

// Reserved reports whether name cannot be used for an item.
func Reserved(name string) bool {
	switch DependencyKind(name) {
	case RequiredDependencies, OptionalDependencies, ArrayDependencies:
		return true
	}
	return name == "_id"
}

// Dependency is a back-reference stored inside a referenced document.
type Dependency struct {
	// Collection holds the referencing document.
	Collection string `bson:"collection"`

	// PropertyName is the referencing item.
	PropertyName string `bson:"propertyName"`

	// ID is the referencing document.
	ID primitive.ObjectID `bson:"_id"`
}

// Condition returns the selector matching this entry inside a dependency array.
func (d Dependency) Condition() map[string]any {
	return map[string]any{
		"_id":          d.ID,
		"collection":   d.Collection,
		"propertyName": d.PropertyName,
	}
}

// ParseDependencies reads a dependency array as stored. Malformed entries are skipped.
func ParseDependencies(v any) []Dependency {
	if deps, ok := v.([]Dependency); ok {
		return append([]Dependency(nil), deps...)
	}
	items, ok := query.AsSlice(v)
	if !ok {
		return nil
	}
	var out []Dependency
	for _, item := range items {
		if d, ok := item.(Dependency); ok {
			out = append(out, d)
			continue
		}
		m, ok := query.AsMap(item)
		if !ok {
			continue
		}
		var d Dependency
		d.Collection, _ = m["collection"].(string)
		d.PropertyName, _ = m["propertyName"].(string)
		switch id := m["_id"].(type) {
		case primitive.ObjectID:
			d.ID = id
		case string:
			d.ID, _ = primitive.ObjectIDFromHex(id)
		}
		if d.Collection == "" || d.ID.IsZero() {
			continue
		}
		out = append(out, d)
	}
	return out
}

package query

import (
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/256dpi/lungo/bsonkit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AsMap returns v as a plain map when it is any of the document shapes
// produced by the bson codec or by callers.
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case primitive.M:
		return map[string]any(m), true
	case map[string]any:
		return m, true
	case primitive.D:
		out := make(map[string]any, len(m))
		for _, e := range m {
			out[e.Key] = e.Value
		}
		return out, true
	default:
		return nil, false
	}
}

// AsSlice returns v as a []any when it is an array value. Byte slices are
// treated as scalars.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case primitive.A:
		return []any(s), true
	case []any:
		return s, true
	case []byte, nil, primitive.D:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// toDoc converts anything the bson codec can encode as a document, structs
// included, into the ordered form the engine works on. Keys are sorted at
// every level since the engine compares embedded documents key by key and
// map-backed documents have no stable order.
func toDoc(v any) (bsonkit.Doc, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var d bson.D
	if err := bson.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	d = canonical(d).(bson.D)
	return &d, nil
}

func canonical(v any) any {
	switch x := v.(type) {
	case bson.D:
		for i := range x {
			x[i].Value = canonical(x[i].Value)
		}
		slices.SortStableFunc(x, func(a, b bson.E) int { return cmp.Compare(a.Key, b.Key) })
		return x
	case bson.A:
		for i := range x {
			x[i] = canonical(x[i])
		}
		return x
	default:
		return v
	}
}

func fromDoc(d bsonkit.Doc) (map[string]any, error) {
	data, err := bson.Marshal(*d)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var m bson.M
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return m, nil
}

package schema

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/cmsodm/core/query"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Bool is a boolean item. It always validates.
type Bool struct {
	field
}

// NewBool creates a boolean item.
func NewBool(name string, flags Flags) *Bool {
	return &Bool{field: field{name: name, flags: flags, value: false}}
}

func (b *Bool) Validate(ctx context.Context, env Env) error {
	switch x := b.value.(type) {
	case bool:
	case nil:
		b.value = false
	case string:
		v, err := strconv.ParseBool(strings.TrimSpace(x))
		b.value = err == nil && v
	default:
		f, ok := toFloat(x)
		b.value = ok && f != 0
	}
	return nil
}

func (b *Bool) Clone() Item {
	c := *b
	c.field = b.field.copy()
	return &c
}

// DateOptions configure a date item.
type DateOptions struct {
	Flags

	// UseNow stamps the item with the current time on every validation.
	UseNow bool

	// UseNowOnCreate stamps the item only while it has no value, so a
	// stored document keeps its first stamp.
	UseNowOnCreate bool
}

// Date holds a point in time as unix milliseconds.
type Date struct {
	field
	useNow         bool
	useNowOnCreate bool
}

// NewDate creates a date item.
func NewDate(name string, opts DateOptions) *Date {
	return &Date{
		field:          field{name: name, flags: opts.Flags},
		useNow:         opts.UseNow,
		useNowOnCreate: opts.UseNowOnCreate,
	}
}

func (d *Date) Validate(ctx context.Context, env Env) error {
	if d.useNow || (d.useNowOnCreate && d.value == nil) {
		d.value = env.now().UnixMilli()
		return nil
	}
	switch x := d.value.(type) {
	case nil, int64:
	case time.Time:
		d.value = x.UnixMilli()
	case primitive.DateTime:
		d.value = int64(x)
	case string:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(x))
		if err != nil {
			return invalid(d.name, "%s must be a valid date", d.name)
		}
		d.value = t.UnixMilli()
	default:
		f, ok := toFloat(x)
		if !ok {
			return invalid(d.name, "%s must be a valid date", d.name)
		}
		d.value = int64(f)
	}
	return nil
}

func (d *Date) Clone() Item {
	c := *d
	c.field = d.field.copy()
	return &c
}

// JSON holds an arbitrary value. It always validates.
type JSON struct {
	field
}

// NewJSON creates a JSON item.
func NewJSON(name string, flags Flags) *JSON {
	return &JSON{field: field{name: name, flags: flags}}
}

func (j *JSON) Validate(ctx context.Context, env Env) error {
	return nil
}

func (j *JSON) Clone() Item {
	c := *j
	c.field = j.field.copy()
	return &c
}

// ID holds a document identifier that is not tied to a collection.
type ID struct {
	field
}

// NewID creates an id item.
func NewID(name string, flags Flags) *ID {
	return &ID{field: field{name: name, flags: flags}}
}

func (i *ID) Validate(ctx context.Context, env Env) error {
	id, err := parseID(i.name, i.value)
	if err != nil {
		return err
	}
	if id == nil {
		i.value = nil
	} else {
		i.value = *id
	}
	return nil
}

func (i *ID) DBValue() any {
	id, err := parseID(i.name, i.value)
	if err != nil || id == nil {
		return nil
	}
	return *id
}

func (i *ID) Clone() Item {
	c := *i
	c.field = i.field.copy()
	return &c
}

// parseID converts v into an ObjectID. Nil and "" yield nil without error.
func parseID(name string, v any) (*primitive.ObjectID, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case primitive.ObjectID:
		if x.IsZero() {
			return nil, nil
		}
		return &x, nil
	case *primitive.ObjectID:
		if x == nil || x.IsZero() {
			return nil, nil
		}
		return x, nil
	case string:
		if x == "" {
			return nil, nil
		}
		id, err := primitive.ObjectIDFromHex(x)
		if err != nil {
			return nil, badReference(name, "Please use a valid ID for '%s'", name)
		}
		return &id, nil
	default:
		// An expanded document stands for its own id.
		if doc, ok := query.AsMap(v); ok {
			return parseID(name, doc["_id"])
		}
		return nil, badReference(name, "Please use a valid ID for '%s'", name)
	}
}

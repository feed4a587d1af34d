package schema

import (
	"context"

	"github.com/artpar/cmsodm/core/query"
)

// DefaultMaxItems is the item count limit used when none is configured.
const DefaultMaxItems = 10000

func checkCount(name string, n, min, max int) error {
	if n > max {
		return invalid(name, "You selected too many items for %s, please only use up to %d", name, max)
	}
	if n < min {
		return invalid(name, "You must select at least %d item(s) for %s", min, name)
	}
	return nil
}

func elements(name string, v any) ([]any, error) {
	if v == nil {
		return nil, nil
	}
	items, ok := query.AsSlice(v)
	if !ok {
		return nil, invalid(name, "%s must be a list", name)
	}
	return items, nil
}

func maxItems(n int) int {
	if n <= 0 {
		return DefaultMaxItems
	}
	return n
}

// TextArrayOptions configure a text array item.
type TextArrayOptions struct {
	Flags

	MinItems int
	MaxItems int

	// Item holds the rules applied to every element. Its flags are ignored.
	Item TextOptions
}

// TextArray is a list of text values.
type TextArray struct {
	field
	min  int
	max  int
	elem *Text
}

// NewTextArray creates a text array item.
func NewTextArray(name string, opts TextArrayOptions) *TextArray {
	elemOpts := opts.Item
	elemOpts.Flags = Flags{}
	return &TextArray{
		field: field{name: name, flags: opts.Flags, value: []string{}},
		min:   opts.MinItems,
		max:   maxItems(opts.MaxItems),
		elem:  NewText(name, elemOpts),
	}
}

func (a *TextArray) Validate(ctx context.Context, env Env) error {
	items, err := elements(a.name, a.value)
	if err != nil {
		return err
	}
	if err := checkCount(a.name, len(items), a.min, a.max); err != nil {
		return err
	}
	out := make([]string, len(items))
	for i, item := range items {
		s, err := textOf(a.name, item)
		if err != nil {
			return err
		}
		if out[i], err = a.elem.clean(s); err != nil {
			return err
		}
	}
	a.value = out
	return nil
}

func (a *TextArray) Clone() Item {
	c := *a
	c.field = a.field.copy()
	return &c
}

// NumArrayOptions configure a number array item.
type NumArrayOptions struct {
	Flags

	MinItems int
	MaxItems int

	// Item holds the rules applied to every element. Its flags are ignored.
	Item NumberOptions
}

// NumArray is a list of numbers.
type NumArray struct {
	field
	min  int
	max  int
	elem *Number
}

// NewNumArray creates a number array item. It fails under the same
// conditions as NewNumber.
func NewNumArray(name string, opts NumArrayOptions) (*NumArray, error) {
	elemOpts := opts.Item
	elemOpts.Flags = Flags{}
	elem, err := NewNumber(name, elemOpts)
	if err != nil {
		return nil, err
	}
	return &NumArray{
		field: field{name: name, flags: opts.Flags, value: []any{}},
		min:   opts.MinItems,
		max:   maxItems(opts.MaxItems),
		elem:  elem,
	}, nil
}

func (a *NumArray) Validate(ctx context.Context, env Env) error {
	items, err := elements(a.name, a.value)
	if err != nil {
		return err
	}
	if err := checkCount(a.name, len(items), a.min, a.max); err != nil {
		return err
	}
	out := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			return invalid(a.name, "%s must be a valid number", a.name)
		}
		if out[i], err = a.elem.coerce(item); err != nil {
			return err
		}
	}
	a.value = out
	return nil
}

func (a *NumArray) Clone() Item {
	c := *a
	c.field = a.field.copy()
	return &c
}

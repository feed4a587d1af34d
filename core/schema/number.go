package schema

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// NumberType selects how a number is coerced.
type NumberType int

const (
	// Integer truncates toward zero.
	Integer NumberType = iota
	// Float rounds to a fixed number of decimal places.
	Float
)

func (t NumberType) String() string {
	if t == Float {
		return "float"
	}
	return "integer"
}

// MaxDecimalPlaces is the largest supported DecimalPlaces.
const MaxDecimalPlaces = 20

// NumberOptions configure a number item.
type NumberOptions struct {
	Flags

	// Min and Max bound the value. Nil means unbounded.
	Min *float64
	Max *float64

	Type NumberType

	// DecimalPlaces applies to Float numbers. Nil means 2.
	DecimalPlaces *int
}

// Number is a numeric item.
type Number struct {
	field
	min           float64
	max           float64
	kind          NumberType
	decimalPlaces int
}

// NewNumber creates a number item. It fails when more than MaxDecimalPlaces
// decimal places are requested.
func NewNumber(name string, opts NumberOptions) (*Number, error) {
	n := &Number{
		field:         field{name: name, flags: opts.Flags, value: 0},
		min:           math.Inf(-1),
		max:           math.Inf(1),
		kind:          opts.Type,
		decimalPlaces: 2,
	}
	if opts.Min != nil {
		n.min = *opts.Min
	}
	if opts.Max != nil {
		n.max = *opts.Max
	}
	if opts.DecimalPlaces != nil {
		n.decimalPlaces = *opts.DecimalPlaces
	}
	if n.decimalPlaces > MaxDecimalPlaces {
		return nil, fmt.Errorf("Decimal places for %s cannot be more than %d", name, MaxDecimalPlaces)
	}
	if n.decimalPlaces < 0 {
		n.decimalPlaces = 0
	}
	return n, nil
}

func (n *Number) Validate(ctx context.Context, env Env) error {
	v, err := n.coerce(n.value)
	if err != nil {
		return err
	}
	n.value = v
	return nil
}

// coerce converts v and checks the range. Integers are returned as int64,
// floats as float64.
func (n *Number) coerce(v any) (any, error) {
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, invalid(n.name, "%s must be a valid number", n.name)
	}

	var out any
	if n.kind == Float {
		f, _ = strconv.ParseFloat(strconv.FormatFloat(f, 'f', n.decimalPlaces, 64), 64)
		out = f
	} else {
		f = math.Trunc(f)
		// float64(math.MaxInt64) rounds up to 2^63, which does not fit.
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, invalid(n.name, "%s must be a valid number", n.name)
		}
		out = int64(f)
	}

	if f < n.min || f > n.max {
		return nil, invalid(n.name, "The value of %s is not within the range of %v and %v", n.name, n.min, n.max)
	}
	return out, nil
}

func (n *Number) Clone() Item {
	c := *n
	c.field = n.field.copy()
	return &c
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

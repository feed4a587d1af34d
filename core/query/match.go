// Package query evaluates Mongo-style selectors and updates over in-process
// documents with the lungo engine. It backs the storage adapters that do not
// have a native query engine.
package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/256dpi/lungo/bsonkit"
	"github.com/256dpi/lungo/mongokit"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func init() {
	mongokit.ExpressionQueryOperators["$regex"] = matchRegex
}

// Match reports whether doc satisfies filter. Besides the operators the
// engine understands, $regex with $options and regex values are supported.
func Match(doc map[string]any, filter map[string]any) (bool, error) {
	if len(filter) == 0 {
		return true, nil
	}
	q, err := toDoc(filter)
	if err != nil {
		return false, err
	}
	conds, err := regexConditions(*q)
	if err != nil {
		return false, err
	}
	d, err := toDoc(doc)
	if err != nil {
		return false, err
	}
	return mongokit.Match(d, &conds)
}

// regexConditions folds {"$regex": p, "$options": o} and bare regex values
// into a single $regex condition holding a primitive.Regex.
func regexConditions(q bson.D) (bson.D, error) {
	out := make(bson.D, 0, len(q))
	for _, e := range q {
		switch {
		case e.Key == "$and" || e.Key == "$or" || e.Key == "$nor":
			subs, ok := e.Value.(bson.A)
			if !ok {
				return nil, fmt.Errorf("%s: expected array", e.Key)
			}
			folded := make(bson.A, len(subs))
			for i, sub := range subs {
				d, ok := sub.(bson.D)
				if !ok {
					return nil, fmt.Errorf("%s: expected an array of documents", e.Key)
				}
				f, err := regexConditions(d)
				if err != nil {
					return nil, err
				}
				folded[i] = f
			}
			e.Value = folded
		case strings.HasPrefix(e.Key, "$"):
		default:
			switch v := e.Value.(type) {
			case primitive.Regex:
				e.Value = bson.D{{Key: "$regex", Value: v}}
			case bson.D:
				ops, err := foldRegex(v)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", e.Key, err)
				}
				e.Value = ops
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func foldRegex(ops bson.D) (bson.D, error) {
	var re *primitive.Regex
	var options string
	hasOptions := false
	for _, op := range ops {
		switch op.Key {
		case "$regex":
			switch p := op.Value.(type) {
			case string:
				re = &primitive.Regex{Pattern: p}
			case primitive.Regex:
				re = &p
			default:
				return nil, fmt.Errorf("$regex requires a string")
			}
		case "$options":
			s, ok := op.Value.(string)
			if !ok {
				return nil, fmt.Errorf("$options requires a string")
			}
			options, hasOptions = s, true
		}
	}
	if re == nil {
		if hasOptions {
			return nil, fmt.Errorf("$options requires $regex")
		}
		return ops, nil
	}
	if hasOptions {
		re.Options = options
	}

	out := make(bson.D, 0, len(ops))
	for _, op := range ops {
		switch op.Key {
		case "$options":
			continue
		case "$regex":
			op.Value = *re
		}
		out = append(out, op)
	}
	return out, nil
}

func matchRegex(_ mongokit.Context, doc bsonkit.Doc, op, path string, v any) error {
	var re primitive.Regex
	switch p := v.(type) {
	case primitive.Regex:
		re = p
	case string:
		re.Pattern = p
	default:
		return fmt.Errorf("%s: expected a pattern", op)
	}
	compiled, err := compileRegex(re)
	if err != nil {
		return err
	}

	value, _ := bsonkit.All(doc, path, true, true)
	values, ok := value.(bson.A)
	if !ok {
		values = bson.A{value}
	}
	for _, item := range values {
		if s, ok := item.(string); ok && compiled.MatchString(s) {
			return nil
		}
	}
	return mongokit.ErrNotMatched
}

func compileRegex(re primitive.Regex) (*regexp.Regexp, error) {
	flags := ""
	for _, o := range re.Options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		}
	}
	pattern := re.Pattern
	if flags != "" {
		pattern = "(?" + flags + ")" + pattern
	}
	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid $regex: %w", err)
	}
	return compiled, nil
}

package schema

import (
	"context"
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/crypto/bcrypt"
)

// DefaultMaxCharacters is the length limit used when none is configured.
const DefaultMaxCharacters = 10000

var stripTags = bluemonday.StrictPolicy()

// DefaultAllowedTags is the html allow-list used when none is configured.
var DefaultAllowedTags = []string{
	"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "p", "a", "ul", "ol", "li",
	"b", "i", "u", "strong", "em", "strike", "code", "hr", "br", "div", "span",
	"table", "thead", "caption", "tbody", "tr", "th", "td", "pre", "img",
}

// DefaultAllowedAttributes is the attribute allow-list used when none is configured.
var DefaultAllowedAttributes = map[string][]string{
	"a":   {"href", "name", "target"},
	"img": {"src", "alt"},
}

// TextOptions configure a text item.
type TextOptions struct {
	Flags

	// MinCharacters is the minimum length. A value of exactly 1 means the
	// text cannot be empty.
	MinCharacters int

	// MaxCharacters is the maximum length. Zero means DefaultMaxCharacters.
	MaxCharacters int

	// HTMLClean strips every tag before measuring. Nil means true.
	HTMLClean *bool
}

// Text is a plain text item.
type Text struct {
	field
	min       int
	max       int
	htmlClean bool
}

// NewText creates a text item.
func NewText(name string, opts TextOptions) *Text {
	t := &Text{
		field:     field{name: name, flags: opts.Flags, value: ""},
		min:       opts.MinCharacters,
		max:       opts.MaxCharacters,
		htmlClean: true,
	}
	if t.max <= 0 {
		t.max = DefaultMaxCharacters
	}
	if opts.HTMLClean != nil {
		t.htmlClean = *opts.HTMLClean
	}
	return t
}

func (t *Text) Validate(ctx context.Context, env Env) error {
	s, err := textOf(t.name, t.value)
	if err != nil {
		return err
	}
	s, err = t.clean(s)
	if err != nil {
		return err
	}
	t.value = s
	return nil
}

func (t *Text) clean(s string) (string, error) {
	s = strings.TrimSpace(s)
	if t.htmlClean {
		s = strings.TrimSpace(html.UnescapeString(stripTags.Sanitize(s)))
	}
	if err := checkLength(t.name, s, t.min, t.max); err != nil {
		return "", err
	}
	return s, nil
}

func (t *Text) Clone() Item {
	c := *t
	c.field = t.field.copy()
	return &c
}

// checkLength applies the length rules shared by text, html and secret items.
// "cannot be empty" only applies when the minimum is exactly one.
func checkLength(name, s string, min, max int) error {
	n := utf8.RuneCountInString(s)
	if min == 1 && n < 1 {
		return invalid(name, "%s cannot be empty", name)
	}
	if n > max {
		return invalid(name, "The character length of %s is too long, please keep it below %d", name, max)
	}
	if min != 1 && n < min {
		return invalid(name, "The character length of %s is too short, please keep it above %d", name, min)
	}
	return nil
}

func textOf(name string, v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	case bool, int, int32, int64, float32, float64:
		return fmt.Sprint(x), nil
	default:
		return "", invalid(name, "%s must be text", name)
	}
}

// HTMLOptions configure an html item.
type HTMLOptions struct {
	Flags

	MinCharacters int
	MaxCharacters int

	// AllowedTags is the tag allow-list. Nil means DefaultAllowedTags.
	AllowedTags []string

	// AllowedAttributes maps a tag to its allowed attributes. Nil means
	// DefaultAllowedAttributes.
	AllowedAttributes map[string][]string

	// ErrorBadHTML rejects values that change when sanitized instead of
	// silently replacing them. Nil means true.
	ErrorBadHTML *bool
}

// HTML is a rich text item sanitized against an allow-list.
type HTML struct {
	field
	min          int
	max          int
	errorBadHTML bool
	policy       *bluemonday.Policy
}

// NewHTML creates an html item.
func NewHTML(name string, opts HTMLOptions) *HTML {
	h := &HTML{
		field:        field{name: name, flags: opts.Flags, value: ""},
		min:          opts.MinCharacters,
		max:          opts.MaxCharacters,
		errorBadHTML: true,
	}
	if h.max <= 0 {
		h.max = DefaultMaxCharacters
	}
	if opts.ErrorBadHTML != nil {
		h.errorBadHTML = *opts.ErrorBadHTML
	}

	tags := opts.AllowedTags
	if tags == nil {
		tags = DefaultAllowedTags
	}
	attrs := opts.AllowedAttributes
	if attrs == nil {
		attrs = DefaultAllowedAttributes
	}

	p := bluemonday.NewPolicy()
	p.AllowElements(tags...)
	for _, tag := range tags {
		// Attributes on a tag also allow the tag, so only configure listed tags.
		if names, ok := attrs[tag]; ok && len(names) > 0 {
			p.AllowAttrs(names...).OnElements(tag)
		}
	}
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(true)
	p.RequireParseableURLs(true)
	h.policy = p
	return h
}

// Sanitize returns s with every disallowed tag and attribute removed.
func (h *HTML) Sanitize(s string) string {
	return h.policy.Sanitize(s)
}

func (h *HTML) Validate(ctx context.Context, env Env) error {
	s, err := textOf(h.name, h.value)
	if err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	clean := strings.TrimSpace(h.Sanitize(s))
	// The sanitizer re-escapes entities, which is not a removal.
	if html.UnescapeString(clean) != html.UnescapeString(s) {
		if h.errorBadHTML {
			return invalid(h.name, "%s has html code that is not allowed", h.name)
		}
		s = clean
	}
	if err := checkLength(h.name, s, h.min, h.max); err != nil {
		return err
	}
	h.value = s
	return nil
}

// Clone shares the policy, which is safe for concurrent use once built.
func (h *HTML) Clone() Item {
	c := *h
	c.field = h.field.copy()
	return &c
}

// SecretOptions configure a secret item.
type SecretOptions struct {
	Flags

	MinCharacters int
	MaxCharacters int

	// Cost is the bcrypt cost. Zero means bcrypt.DefaultCost.
	Cost int
}

// Secret holds a bcrypt hash. Plain values are hashed on validation and the
// item is always sensitive.
type Secret struct {
	field
	min  int
	max  int
	cost int
}

// NewSecret creates a secret item.
func NewSecret(name string, opts SecretOptions) *Secret {
	flags := opts.Flags
	flags.Sensitive = true
	s := &Secret{
		field: field{name: name, flags: flags},
		min:   opts.MinCharacters,
		max:   opts.MaxCharacters,
		cost:  opts.Cost,
	}
	if s.max <= 0 {
		s.max = DefaultMaxCharacters
	}
	if s.cost == 0 {
		s.cost = bcrypt.DefaultCost
	}
	return s
}

func (s *Secret) Validate(ctx context.Context, env Env) error {
	if s.value == nil {
		return checkLength(s.name, "", s.min, s.max)
	}
	plain, ok := s.value.(string)
	if !ok {
		return invalid(s.name, "%s must be text", s.name)
	}
	if isHash(plain) {
		return nil
	}
	if err := checkLength(s.name, plain, s.min, s.max); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), s.cost)
	if err != nil {
		return invalid(s.name, "%s could not be hashed: %v", s.name, err)
	}
	s.value = string(hash)
	return nil
}

// Matches reports whether plain is the secret's original value.
func (s *Secret) Matches(plain string) bool {
	hash, ok := s.value.(string)
	if !ok || !isHash(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

func (s *Secret) Clone() Item {
	c := *s
	c.field = s.field.copy()
	return &c
}

func isHash(s string) bool {
	_, err := bcrypt.Cost([]byte(s))
	return err == nil
}

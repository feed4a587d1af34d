package schema

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ItemType is the type of an item in a definition.
type ItemType string

const (
	ItemTypeText       ItemType = "text"
	ItemTypeHTML       ItemType = "html"
	ItemTypeNumber     ItemType = "number"
	ItemTypeBool       ItemType = "bool"
	ItemTypeDate       ItemType = "date"
	ItemTypeJSON       ItemType = "json"
	ItemTypeID         ItemType = "id"
	ItemTypeSecret     ItemType = "secret"
	ItemTypeTextArray  ItemType = "text-array"
	ItemTypeNumArray   ItemType = "num-array"
	ItemTypeIDArray    ItemType = "id-array"
	ItemTypeForeignKey ItemType = "foreign-key"
)

// Definition declares the schema of one collection.
type Definition struct {
	// Collection is the collection name and model name.
	Collection string `yaml:"collection"`

	// Description is free text shown by tooling.
	Description string `yaml:"description,omitempty"`

	// Items are the schema items in declaration order.
	Items []ItemDef `yaml:"items"`
}

// ItemDef declares a single item. Only the options relevant to Type are used.
type ItemDef struct {
	Name  string   `yaml:"name"`
	Type  ItemType `yaml:"type"`
	Flags `yaml:",inline"`

	// Default is loaded into the item without marking it modified.
	Default any `yaml:"default,omitempty"`

	// text, html, secret
	MinCharacters int                 `yaml:"min_characters,omitempty"`
	MaxCharacters int                 `yaml:"max_characters,omitempty"`
	HTMLClean     *bool               `yaml:"html_clean,omitempty"`
	AllowedTags   []string            `yaml:"allowed_tags,omitempty"`
	AllowedAttrs  map[string][]string `yaml:"allowed_attributes,omitempty"`
	ErrorBadHTML  *bool               `yaml:"error_bad_html,omitempty"`
	Cost          int                 `yaml:"cost,omitempty"`

	// number, num-array
	Min           *float64 `yaml:"min,omitempty"`
	Max           *float64 `yaml:"max,omitempty"`
	NumberType    string   `yaml:"number_type,omitempty"`
	DecimalPlaces *int     `yaml:"decimal_places,omitempty"`

	// arrays
	MinItems int `yaml:"min_items,omitempty"`
	MaxItems int `yaml:"max_items,omitempty"`

	// date
	UseNow         bool `yaml:"use_now,omitempty"`
	UseNowOnCreate bool `yaml:"use_now_on_create,omitempty"`

	// foreign-key, id-array
	Target       string `yaml:"target,omitempty"`
	KeyCanBeNull bool   `yaml:"key_can_be_null,omitempty"`
}

// ParseDefinitionFile parses a definition from a YAML file.
func ParseDefinitionFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read file %s: %w", path, err)
	}

	return ParseDefinition(data)
}

// ParseDefinition parses a definition from YAML bytes.
func ParseDefinition(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse yaml: %w", err)
	}

	if err := ValidateDefinition(def); err != nil {
		return Definition{}, fmt.Errorf("validate definition %q: %w", def.Collection, err)
	}

	return def, nil
}

// ParseDefinitionDir parses all definitions from a directory, including subdirectories.
func ParseDefinitionDir(dir string) ([]Definition, error) {
	return ParseDefinitionFS(os.DirFS(dir), ".")
}

// ParseDefinitionFS parses all definitions below root in fsys.
func ParseDefinitionFS(fsys fs.FS, root string) ([]Definition, error) {
	var defs []Definition

	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}

	for _, entry := range entries {
		p := path.Join(root, entry.Name())

		if entry.IsDir() {
			sub, err := ParseDefinitionFS(fsys, p)
			if err != nil {
				return nil, err
			}
			defs = append(defs, sub...)
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", p, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}

		defs = append(defs, def)
	}

	return defs, nil
}

// ValidateDefinition validates a single definition.
func ValidateDefinition(def Definition) error {
	var errs []string

	if !isValidIdentifier(def.Collection) {
		errs = append(errs, fmt.Sprintf("collection name %q is not a valid identifier", def.Collection))
	}

	if len(def.Items) == 0 {
		errs = append(errs, "definition must have at least one item")
	}

	seen := make(map[string]bool, len(def.Items))
	for _, item := range def.Items {
		if !isValidIdentifier(item.Name) {
			errs = append(errs, fmt.Sprintf("item name %q is not a valid identifier", item.Name))
		}
		if Reserved(item.Name) {
			errs = append(errs, fmt.Sprintf("item name %q is reserved", item.Name))
		}
		if seen[item.Name] {
			errs = append(errs, fmt.Sprintf("item %q is declared more than once", item.Name))
		}
		seen[item.Name] = true

		if err := validateItem(item); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ValidateDefinitions validates a set of definitions together: collection
// names must be unique and every reference must point to a known collection.
func ValidateDefinitions(defs []Definition) error {
	var errs []string

	known := make(map[string]bool, len(defs))
	for _, def := range defs {
		if known[def.Collection] {
			errs = append(errs, fmt.Sprintf("collection %q is defined more than once", def.Collection))
		}
		known[def.Collection] = true
	}

	for _, def := range defs {
		for _, item := range def.Items {
			if item.Target == "" {
				continue
			}
			if !known[item.Target] {
				errs = append(errs, fmt.Sprintf("%s.%s: target collection %q is not defined", def.Collection, item.Name, item.Target))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// validateItem validates a single item definition.
func validateItem(item ItemDef) error {
	if !isValidItemType(item.Type) {
		return fmt.Errorf("item %q: unknown type %q", item.Name, item.Type)
	}

	if item.Type == ItemTypeForeignKey && item.Target == "" {
		return fmt.Errorf("item %q: foreign-key type requires a target", item.Name)
	}

	if item.NumberType != "" && item.NumberType != "integer" && item.NumberType != "float" {
		return fmt.Errorf("item %q: number_type must be integer or float", item.Name)
	}

	if item.DecimalPlaces != nil && *item.DecimalPlaces > MaxDecimalPlaces {
		return fmt.Errorf("item %q: decimal_places cannot be more than %d", item.Name, MaxDecimalPlaces)
	}

	if item.Min != nil && item.Max != nil && *item.Min > *item.Max {
		return fmt.Errorf("item %q: min is greater than max", item.Name)
	}

	if item.MaxCharacters > 0 && item.MinCharacters > item.MaxCharacters {
		return fmt.Errorf("item %q: min_characters is greater than max_characters", item.Name)
	}

	if item.MaxItems > 0 && item.MinItems > item.MaxItems {
		return fmt.Errorf("item %q: min_items is greater than max_items", item.Name)
	}

	return nil
}

// Build constructs the schema declared by def.
func (def Definition) Build() (*Schema, error) {
	s, err := New()
	if err != nil {
		return nil, err
	}
	for _, d := range def.Items {
		item, err := d.Build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", def.Collection, err)
		}
		if _, err := s.Add(item); err != nil {
			return nil, fmt.Errorf("%s: %w", def.Collection, err)
		}
	}
	return s, nil
}

// Targets returns the sorted set of collections referenced by def.
func (def Definition) Targets() []string {
	set := map[string]bool{}
	for _, item := range def.Items {
		if item.Target != "" {
			set[item.Target] = true
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build constructs the item declared by d.
func (d ItemDef) Build() (Item, error) {
	var item Item
	switch d.Type {
	case ItemTypeText:
		item = NewText(d.Name, d.textOptions())
	case ItemTypeHTML:
		item = NewHTML(d.Name, HTMLOptions{
			Flags:             d.Flags,
			MinCharacters:     d.MinCharacters,
			MaxCharacters:     d.MaxCharacters,
			AllowedTags:       d.AllowedTags,
			AllowedAttributes: d.AllowedAttrs,
			ErrorBadHTML:      d.ErrorBadHTML,
		})
	case ItemTypeSecret:
		item = NewSecret(d.Name, SecretOptions{
			Flags:         d.Flags,
			MinCharacters: d.MinCharacters,
			MaxCharacters: d.MaxCharacters,
			Cost:          d.Cost,
		})
	case ItemTypeNumber:
		n, err := NewNumber(d.Name, d.numberOptions())
		if err != nil {
			return nil, err
		}
		item = n
	case ItemTypeBool:
		item = NewBool(d.Name, d.Flags)
	case ItemTypeDate:
		item = NewDate(d.Name, DateOptions{Flags: d.Flags, UseNow: d.UseNow, UseNowOnCreate: d.UseNowOnCreate})
	case ItemTypeJSON:
		item = NewJSON(d.Name, d.Flags)
	case ItemTypeID:
		item = NewID(d.Name, d.Flags)
	case ItemTypeTextArray:
		opts := d.textOptions()
		opts.Flags = Flags{}
		item = NewTextArray(d.Name, TextArrayOptions{
			Flags:    d.Flags,
			MinItems: d.MinItems,
			MaxItems: d.MaxItems,
			Item:     opts,
		})
	case ItemTypeNumArray:
		opts := d.numberOptions()
		opts.Flags = Flags{}
		a, err := NewNumArray(d.Name, NumArrayOptions{
			Flags:    d.Flags,
			MinItems: d.MinItems,
			MaxItems: d.MaxItems,
			Item:     opts,
		})
		if err != nil {
			return nil, err
		}
		item = a
	case ItemTypeIDArray:
		item = NewIDArray(d.Name, IDArrayOptions{
			Flags:    d.Flags,
			Target:   d.Target,
			MinItems: d.MinItems,
			MaxItems: d.MaxItems,
		})
	case ItemTypeForeignKey:
		item = NewForeignKey(d.Name, ForeignKeyOptions{
			Flags:        d.Flags,
			Target:       d.Target,
			KeyCanBeNull: d.KeyCanBeNull,
		})
	default:
		return nil, fmt.Errorf("item %q: unknown type %q", d.Name, d.Type)
	}

	if d.Default != nil {
		item.Hydrate(d.Default)
	}
	return item, nil
}

func (d ItemDef) textOptions() TextOptions {
	return TextOptions{
		Flags:         d.Flags,
		MinCharacters: d.MinCharacters,
		MaxCharacters: d.MaxCharacters,
		HTMLClean:     d.HTMLClean,
	}
}

func (d ItemDef) numberOptions() NumberOptions {
	opts := NumberOptions{
		Flags:         d.Flags,
		Min:           d.Min,
		Max:           d.Max,
		DecimalPlaces: d.DecimalPlaces,
	}
	if d.NumberType == "float" {
		opts.Type = Float
	}
	return opts
}

// isValidIdentifier checks if a string is a valid identifier.
func isValidIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, c := range s {
		if i == 0 {
			if !isLetter(c) && c != '_' {
				return false
			}
		} else {
			if !isLetter(c) && !isDigit(c) && c != '_' {
				return false
			}
		}
	}

	return true
}

func isLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isDigit(c rune) bool {
	return c >= '0' && c <= '9'
}

// isValidItemType checks if an item type is known.
func isValidItemType(t ItemType) bool {
	switch t {
	case ItemTypeText, ItemTypeHTML, ItemTypeNumber, ItemTypeBool, ItemTypeDate,
		ItemTypeJSON, ItemTypeID, ItemTypeSecret, ItemTypeTextArray,
		ItemTypeNumArray, ItemTypeIDArray, ItemTypeForeignKey:
		return true
	default:
		return false
	}
}

/*
Package schema defines typed field descriptors (items) and the ordered
schemas built from them.

A schema describes one entity kind. Each item validates and coerces its own
value, decides how it is persisted and how it is exposed to callers:

	s, err := schema.New(
		schema.NewText("title", schema.TextOptions{MinCharacters: 1, MaxCharacters: 200}),
		schema.NewForeignKey("author", schema.ForeignKeyOptions{Target: "users"}),
	)

	doc := s.Clone()
	doc.Set(map[string]any{"title": "Hello", "author": "5f1e..."}, false)
	if err := doc.Validate(ctx, true); err != nil {
		// err is the first failing item, e.g. "title cannot be empty"
	}

# Item Types

  - text:       trimmed, optionally stripped of HTML, length bounded
  - html:       sanitized against an allow-list of tags and attributes
  - number:     integer or fixed-decimal float within [min, max]
  - bool:       boolean
  - date:       unix milliseconds, optionally stamped with the current time
  - json:       arbitrary value
  - id:         document identifier
  - secret:     bcrypt hashed, never exposed unless verbose
  - text-array, num-array, id-array: element rules plus item count bounds
  - foreign-key: reference to a document in another collection

# Dependencies

Foreign keys and id arrays record back-references inside the referenced
document under one of three reserved arrays (_requiredDependencies,
_optionalDependencies, _arrayDependencies). Deleting the referenced document
uses them to cascade, nullify or pull.

# Definitions

Schemas can be declared in YAML and built with Definition.Build:

	collection: posts
	items:
	  - { name: title,  type: text, required: true, max_characters: 200 }
	  - { name: author, type: foreign-key, target: users }
	  - { name: tags,   type: text-array, max_items: 10 }
*/
package schema

package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson"
)

// parseDocument parses relaxed or canonical extended JSON such as
// {"_id": {"$oid": "..."}, "views": {"$gt": 10}}.
func parseDocument(s string) (ports.Document, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ports.Document{}, nil
	}
	var doc bson.M
	if err := bson.UnmarshalExtJSON([]byte(s), false, &doc); err != nil {
		return nil, fmt.Errorf("invalid extended JSON: %w", err)
	}
	return ports.Document(doc), nil
}

func marshalDocument(doc map[string]any) ([]byte, error) {
	return bson.MarshalExtJSONIndent(doc, false, false, "", "  ")
}

// projectFields keeps _id and the listed fields of doc. No fields keeps
// everything.
func projectFields(doc map[string]any, fields []string) map[string]any {
	if len(fields) == 0 {
		return doc
	}
	out := make(map[string]any, len(fields)+1)
	if id, ok := doc["_id"]; ok {
		out["_id"] = id
	}
	for _, f := range fields {
		if v, ok := doc[f]; ok {
			out[f] = v
		}
	}
	return out
}

// parseSort turns ["-createdOn", "title"] into sort fields.
func parseSort(fields []string) []ports.SortField {
	var out []ports.SortField
	for _, f := range fields {
		f = strings.TrimSpace(f)
		switch {
		case f == "" || f == "-":
		case strings.HasPrefix(f, "-"):
			out = append(out, ports.SortField{Field: f[1:], Desc: true})
		default:
			out = append(out, ports.SortField{Field: strings.TrimPrefix(f, "+")})
		}
	}
	return out
}

// redactURI hides the password of a connection URI.
func redactURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "(invalid uri)"
	}
	return u.Redacted()
}

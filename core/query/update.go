package query

import (
	"maps"

	"github.com/256dpi/lungo/bsonkit"
	"github.com/256dpi/lungo/mongokit"
	"github.com/artpar/cmsodm/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Apply modifies doc in place according to u. A null array field counts as
// empty for $addToSet and $pull.
func Apply(doc map[string]any, u ports.Update) error {
	update := bson.M{}
	if len(u.Set) > 0 {
		update["$set"] = u.Set
	}
	if len(u.AddToSet) > 0 {
		for field := range u.AddToSet {
			if v, ok := doc[field]; ok && v == nil {
				doc[field] = primitive.A{}
			}
		}
		update["$addToSet"] = u.AddToSet
	}
	pull := bson.M{}
	for field, cond := range u.Pull {
		if v, ok := doc[field]; ok && v == nil {
			continue
		}
		pull[field] = cond
	}
	if len(pull) > 0 {
		update["$pull"] = pull
	}
	if len(update) == 0 {
		return nil
	}

	d, err := toDoc(doc)
	if err != nil {
		return err
	}
	upd, err := toDoc(update)
	if err != nil {
		return err
	}
	if _, err := mongokit.Apply(d, nil, upd, false, nil); err != nil {
		return err
	}
	out, err := fromDoc(d)
	if err != nil {
		return err
	}
	clear(doc)
	maps.Copy(doc, out)
	return nil
}

// Find sorts, pages and projects docs the way a Mongo cursor would.
func Find(docs []map[string]any, opts ports.FindOptions) ([]ports.Document, error) {
	list := make(bsonkit.List, len(docs))
	for i, doc := range docs {
		d, err := toDoc(doc)
		if err != nil {
			return nil, err
		}
		list[i] = d
	}

	if len(opts.Sort) > 0 {
		columns := make([]bsonkit.Column, len(opts.Sort))
		for i, f := range opts.Sort {
			columns[i] = bsonkit.Column{Path: f.Field, Reverse: f.Desc}
		}
		bsonkit.Sort(list, columns)
	}
	list = Page(list, opts.Skip, opts.Limit)

	if len(opts.Projection) > 0 {
		projection := bson.D{}
		seen := map[string]bool{}
		for _, f := range opts.Projection {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			projection = append(projection, bson.E{Key: f, Value: int32(1)})
		}
		var err error
		if list, err = mongokit.ProjectList(list, &projection); err != nil {
			return nil, err
		}
	}

	out := make([]ports.Document, len(list))
	for i, d := range list {
		m, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out[i] = ports.Document(m)
	}
	return out, nil
}

// Page applies skip and limit.
func Page[T any](docs []T, skip, limit int64) []T {
	if skip > 0 {
		if skip >= int64(len(docs)) {
			return docs[:0]
		}
		docs = docs[skip:]
	}
	if limit > 0 && limit < int64(len(docs)) {
		docs = docs[:limit]
	}
	return docs
}

// DuplicateKey checks doc against others for every unique index and returns
// the name of the first violated index. Documents sharing doc's _id are ignored.
func DuplicateKey(others []map[string]any, doc map[string]any, specs []ports.IndexSpec) (string, bool) {
	d, err := toDoc(doc)
	if err != nil {
		return "", false
	}
	var list bsonkit.List
	for _, spec := range specs {
		if !spec.Unique || len(spec.Fields) == 0 {
			continue
		}
		if list == nil {
			list = make(bsonkit.List, 0, len(others))
			for _, other := range others {
				if o, err := toDoc(other); err == nil {
					list = append(list, o)
				}
			}
		}
		for _, other := range list {
			if bsonkit.Compare(bsonkit.Get(other, "_id"), bsonkit.Get(d, "_id")) == 0 {
				continue
			}
			same := true
			for _, f := range spec.Fields {
				if bsonkit.Compare(bsonkit.Get(d, f), bsonkit.Get(other, f)) != 0 {
					same = false
					break
				}
			}
			if same {
				return spec.Name, true
			}
		}
	}
	return "", false
}

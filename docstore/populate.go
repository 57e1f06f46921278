package docstore

import (
	"context"
	"regexp"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
)

var foreignKeySuffix = regexp.MustCompile(`(_id|Id)$`)

// populate replaces the reference fields of doc with the documents they point
// to. Array references keep their field name and become a list, empty when
// nothing resolves. Singular references are stored under the field name
// without its _id or Id suffix and are left alone when nothing resolves.
func (s *Store) populate(ctx context.Context, doc datastore.Record) (datastore.Record, error) {
	result := lo.Assign(doc)
	schema := s.collection.Schema()
	for _, field := range schema.References() {
		property := schema.Properties[field]
		related, err := s.db.Collection(property.Ref)
		if err != nil {
			return nil, errors.Wrapf(err, "reference collection %q", property.Ref)
		}

		if property.IsArray() {
			records := []datastore.Record{}
			for _, key := range list(doc[field]) {
				record, err := findLive(ctx, related, key)
				if err != nil {
					return nil, err
				}
				if record != nil {
					records = append(records, record)
				}
			}
			result[field] = records
			continue
		}

		key := doc[field]
		if lo.IsNil(key) {
			continue
		}
		record, err := findLive(ctx, related, key)
		if err != nil {
			return nil, err
		}
		if record != nil {
			result[foreignKeySuffix.ReplaceAllString(field, "")] = record
		}
	}
	return result, nil
}

// normalize turns populated array references back into keys and restricts
// data to the properties of the schema. Absent references stay absent, so a
// partial update never clears them.
func (s *Store) normalize(data datastore.Record) (datastore.Record, error) {
	result := lo.Assign(data)
	schema := s.collection.Schema()
	for _, field := range schema.References() {
		property := schema.Properties[field]
		if _, ok := data[field]; !ok || !property.IsArray() {
			continue
		}
		related, err := s.db.Collection(property.Ref)
		if err != nil {
			return nil, errors.Wrapf(err, "reference collection %q", property.Ref)
		}
		primaryKey := related.Schema().PrimaryKey

		keys := []any{}
		for _, item := range list(data[field]) {
			if record, ok := item.(map[string]any); ok {
				item = record[primaryKey]
			}
			keys = append(keys, item)
		}
		result[field] = keys
	}
	return lo.PickByKeys(result, lo.Keys(schema.Properties)), nil
}

func findLive(ctx context.Context, c Collection, key any) (datastore.Record, error) {
	doc, err := c.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc == nil || IsDeleted(doc) {
		return nil, nil
	}
	return doc, nil
}

func list(v any) []any {
	if lo.IsNil(v) {
		return nil
	}
	return filter.ToList(v)
}

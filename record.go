package datastore

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

var jsoniterForRecord = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// ToRecord converts a typed value into a Record through its JSON form.
func ToRecord(v any) (Record, error) {
	if lo.IsNil(v) {
		return nil, nil
	}
	if r, ok := v.(Record); ok {
		return r, nil
	}
	data, err := jsoniterForRecord.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal record")
	}
	var record Record
	if err := jsoniterForRecord.Unmarshal(data, &record); err != nil {
		return nil, errors.Wrap(err, "unmarshal record")
	}
	return record, nil
}

// Decode converts raw records into typed values through their JSON form.
func Decode[T any](records []Record) ([]T, error) {
	data, err := jsoniterForRecord.Marshal(records)
	if err != nil {
		return nil, errors.Wrap(err, "marshal records")
	}
	result := make([]T, 0, len(records))
	if err := jsoniterForRecord.Unmarshal(data, &result); err != nil {
		return nil, errors.Wrap(err, "unmarshal records")
	}
	return result, nil
}

// AsRecord returns v as a Record when it is one.
func AsRecord(v any) Record {
	r, _ := v.(map[string]any)
	return r
}

// AsRecords returns the records held by a raw list response. Elements that are
// not objects are skipped.
func AsRecords(v any) []Record {
	switch list := v.(type) {
	case []Record:
		return list
	case []any:
		result := make([]Record, 0, len(list))
		for _, item := range list {
			if r, ok := item.(map[string]any); ok {
				result = append(result, r)
			}
		}
		return result
	}
	return []Record{}
}

// OmitNil returns a copy of m without nil values.
func OmitNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return lo.OmitBy(m, func(_ string, v any) bool {
		return lo.IsNil(v)
	})
}

package datastore

import (
	"time"

	"github.com/samber/lo"
)

const (
	FormatSQLDate     = "2006-01-02"
	FormatSQLDateTime = "2006-01-02 15:04:05"
)

// SerializeDates returns a copy of data with nil values dropped and time
// values rendered in SQL form. A time at midnight is rendered as a date only.
// Objects inside list values are serialized too.
func SerializeDates(data Record) Record {
	result := make(Record, len(data))
	for attribute, value := range data {
		if lo.IsNil(value) {
			continue
		}
		switch v := value.(type) {
		case time.Time:
			result[attribute] = formatSQLTime(v)
		case *time.Time:
			result[attribute] = formatSQLTime(*v)
		case []any:
			result[attribute] = lo.Map(v, func(element any, _ int) any {
				if r, ok := element.(map[string]any); ok {
					return SerializeDates(r)
				}
				return element
			})
		case []Record:
			result[attribute] = lo.Map(v, func(element Record, _ int) Record {
				return SerializeDates(element)
			})
		default:
			result[attribute] = value
		}
	}
	return result
}

func formatSQLTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format(FormatSQLDate)
	}
	return t.Format(FormatSQLDateTime)
}

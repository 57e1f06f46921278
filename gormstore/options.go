package gormstore

import (
	"go.uber.org/zap"

	"github.com/theplant/datastore"
)

type options struct {
	Key        string                  `validate:"required"`
	Search     *datastore.SearchConfig `validate:"omitempty"`
	SoftDelete string
	Model      any
	Logger     *zap.Logger `validate:"required"`
}

type Option func(*options)

// WithKey sets the primary key column, id by default.
func WithKey(key string) Option {
	return func(o *options) {
		o.Key = key
	}
}

func WithSearch(search *datastore.SearchConfig) Option {
	return func(o *options) {
		o.Search = search
	}
}

// WithSoftDelete makes Remove set column to the current time instead of
// deleting the row. Reads skip such rows unless the filter asks for them
// with filter.WithTrashed or filter.OnlyTrashed.
func WithSoftDelete(column string) Option {
	return func(o *options) {
		o.SoftDelete = column
	}
}

// WithModel resolves filter fields and sort selectors through the schema of
// model. Without it they are used as column names.
func WithModel(model any) Option {
	return func(o *options) {
		o.Model = model
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

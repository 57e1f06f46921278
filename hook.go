package datastore

import (
	"context"
)

// EnsureLimits ensures that the limit of FindAll is within the range 0 -> maxLimit and uses
// defaultLimit if limit is not set or is negative.
func EnsureLimits(defaultLimit, maxLimit int) Middleware {
	if defaultLimit < 0 {
		panic("defaultLimit cannot be negative")
	}
	if maxLimit < defaultLimit {
		panic("maxLimit must be greater than or equal to defaultLimit")
	}
	return func(next Store) Store {
		return &findAllStore{Store: next, findAll: func(ctx context.Context, opts *FindOptions) (*FindResult, error) {
			opts = opts.Clone()
			switch {
			case opts.Limit == nil || *opts.Limit < 0:
				opts.Limit = &defaultLimit
			case *opts.Limit > maxLimit:
				opts.Limit = &maxLimit
			}
			return next.FindAll(ctx, opts)
		}}
	}
}

// EnsurePrimarySort appends primary to the sort of every FindAll, so that
// paging over equal sort values stays stable.
func EnsurePrimarySort(primary ...Sort) Middleware {
	return func(next Store) Store {
		return &findAllStore{Store: next, findAll: func(ctx context.Context, opts *FindOptions) (*FindResult, error) {
			opts = opts.Clone()
			opts.Sort = AppendPrimarySort(opts.Sort, primary...)
			return next.FindAll(ctx, opts)
		}}
	}
}

type findAllStore struct {
	Store
	findAll func(ctx context.Context, opts *FindOptions) (*FindResult, error)
}

func (s *findAllStore) Unwrap() Store { return s.Store }

func (s *findAllStore) FindAll(ctx context.Context, opts *FindOptions) (*FindResult, error) {
	return s.findAll(ctx, opts)
}

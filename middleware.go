package datastore

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Middleware is a wrapper for Store (middleware pattern)
type Middleware func(next Store) Store

// Chain wraps store with middlewares. The first middleware is the outermost.
func Chain(store Store, middlewares ...Middleware) Store {
	for i := len(middlewares) - 1; i >= 0; i-- {
		store = middlewares[i](store)
	}
	return store
}

type Operation string

const (
	OpFindOne Operation = "find_one"
	OpFindAll Operation = "find_all"
	OpExists  Operation = "exists"
	OpCount   Operation = "count"
	OpInsert  Operation = "insert"
	OpUpdate  Operation = "update"
	OpRemove  Operation = "remove"
)

// Interceptor runs around a single store operation. It must call next exactly
// once unless it wants to short-circuit the operation with an error.
type Interceptor func(ctx context.Context, store string, op Operation, next func(ctx context.Context) error) error

// Intercept turns an Interceptor into a Middleware.
func Intercept(interceptor Interceptor) Middleware {
	return func(next Store) Store {
		return &interceptedStore{Store: next, interceptor: interceptor}
	}
}

type interceptedStore struct {
	Store
	interceptor Interceptor
}

func (s *interceptedStore) Unwrap() Store { return s.Store }

func (s *interceptedStore) run(ctx context.Context, op Operation, fn func(ctx context.Context) error) error {
	return s.interceptor(ctx, s.Store.Key(), op, fn)
}

func (s *interceptedStore) FindOne(ctx context.Context, key any) (record Record, err error) {
	err = s.run(ctx, OpFindOne, func(ctx context.Context) error {
		record, err = s.Store.FindOne(ctx, key)
		return err
	})
	return record, err
}

func (s *interceptedStore) FindAll(ctx context.Context, opts *FindOptions) (result *FindResult, err error) {
	err = s.run(ctx, OpFindAll, func(ctx context.Context) error {
		result, err = s.Store.FindAll(ctx, opts)
		return err
	})
	return result, err
}

func (s *interceptedStore) Exists(ctx context.Context, filter []any) (exists bool, err error) {
	err = s.run(ctx, OpExists, func(ctx context.Context) error {
		exists, err = s.Store.Exists(ctx, filter)
		return err
	})
	return exists, err
}

func (s *interceptedStore) Count(ctx context.Context, filter []any) (count int, err error) {
	err = s.run(ctx, OpCount, func(ctx context.Context) error {
		count, err = s.Store.Count(ctx, filter)
		return err
	})
	return count, err
}

func (s *interceptedStore) Insert(ctx context.Context, data Record) (record Record, err error) {
	err = s.run(ctx, OpInsert, func(ctx context.Context) error {
		record, err = s.Store.Insert(ctx, data)
		return err
	})
	return record, err
}

func (s *interceptedStore) Update(ctx context.Context, data Record) (record Record, err error) {
	err = s.run(ctx, OpUpdate, func(ctx context.Context) error {
		record, err = s.Store.Update(ctx, data)
		return err
	})
	return record, err
}

func (s *interceptedStore) Remove(ctx context.Context, key any) error {
	return s.run(ctx, OpRemove, func(ctx context.Context) error {
		return s.Store.Remove(ctx, key)
	})
}

// Unwrap returns the innermost store, so optional capabilities such as
// MediaStore stay reachable through middlewares.
func Unwrap(store Store) Store {
	for {
		u, ok := store.(interface{ Unwrap() Store })
		if !ok {
			return store
		}
		store = u.Unwrap()
	}
}

// WithLogging logs every operation with its duration. Failures are logged at
// error level, except ErrRecordNotFound.
func WithLogging(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Intercept(func(ctx context.Context, store string, op Operation, next func(ctx context.Context) error) error {
		start := time.Now()
		err := next(ctx)
		fields := []zap.Field{
			zap.String("store", store),
			zap.String("operation", string(op)),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case err == nil:
			logger.Debug("store operation", fields...)
		case errors.Is(err, ErrRecordNotFound):
			logger.Debug("store operation", append(fields, zap.Error(err))...)
		default:
			logger.Error("store operation failed", append(fields, zap.Error(err))...)
		}
		return err
	})
}

// StoreMetrics holds the collectors shared by every store wrapped with
// WithMetrics on the same registerer.
type StoreMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewStoreMetrics registers the store collectors. If registerer is nil, the
// default Prometheus registerer is used.
func NewStoreMetrics(registerer prometheus.Registerer) *StoreMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &StoreMetrics{
		operations: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "datastore",
				Subsystem: "store",
				Name:      "operations_total",
				Help:      "Total number of store operations",
			},
			[]string{"store", "operation", "outcome"},
		),
		duration: promauto.With(registerer).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "datastore",
				Subsystem: "store",
				Name:      "operation_duration_seconds",
				Help:      "Duration of store operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"store", "operation"},
		),
	}
}

// Middleware records the operations of the wrapped store under name, or
// under the store key when name is empty.
func (m *StoreMetrics) Middleware(name string) Middleware {
	return Intercept(func(ctx context.Context, store string, op Operation, next func(ctx context.Context) error) error {
		if name != "" {
			store = name
		}
		start := time.Now()
		err := next(ctx)
		m.duration.WithLabelValues(store, string(op)).Observe(time.Since(start).Seconds())
		m.operations.WithLabelValues(store, string(op), outcome(err)).Inc()
		return err
	})
}

// WithMetrics registers fresh collectors on registerer and records the
// operations of the wrapped store. Use NewStoreMetrics to share collectors
// between several stores.
func WithMetrics(registerer prometheus.Registerer, name string) Middleware {
	return NewStoreMetrics(registerer).Middleware(name)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidLink):
		return "invalid_link"
	case errors.Is(err, ErrNotSupported):
		return "not_supported"
	}
	return "error"
}

package replication

import (
	"time"

	"go.uber.org/zap"

	"github.com/theplant/datastore/filter/restfilter"
)

const (
	DefaultBatchSize         = 100
	DefaultRetryTime         = 5 * time.Second
	DefaultUpdatedAtField    = "updated_at"
	DefaultDeletedField      = "_deleted"
	DefaultMinUpdatedAtParam = "min_updated_at"
	DefaultWrap              = "data"
)

type options struct {
	Wrap              string
	BatchSize         int                     `validate:"gte=1"`
	RetryTime         time.Duration           `validate:"gt=0"`
	UpdatedAtField    string                  `validate:"required"`
	DeletedField      string                  `validate:"required"`
	MinUpdatedAtParam string                  `validate:"required"`
	Checkpoints       CheckpointStore         `validate:"required"`
	Transformer       *restfilter.Transformer `validate:"required"`
	Logger            *zap.Logger             `validate:"required"`
}

type Option func(*options)

// WithWrap sets the response key holding the documents. An empty wrap reads
// the response itself.
func WithWrap(wrap string) Option {
	return func(o *options) {
		o.Wrap = wrap
	}
}

func WithBatchSize(size int) Option {
	return func(o *options) {
		o.BatchSize = size
	}
}

// WithRetryTime sets how long the engine waits between cycles.
func WithRetryTime(d time.Duration) Option {
	return func(o *options) {
		o.RetryTime = d
	}
}

func WithUpdatedAtField(field string) Option {
	return func(o *options) {
		o.UpdatedAtField = field
	}
}

func WithDeletedField(field string) Option {
	return func(o *options) {
		o.DeletedField = field
	}
}

// WithMinUpdatedAtParam names the server scope restricting a pull to the
// documents updated since the checkpoint.
func WithMinUpdatedAtParam(name string) Option {
	return func(o *options) {
		o.MinUpdatedAtParam = name
	}
}

func WithCheckpoints(store CheckpointStore) Option {
	return func(o *options) {
		o.Checkpoints = store
	}
}

func WithTransformer(transformer *restfilter.Transformer) Option {
	return func(o *options) {
		o.Transformer = transformer
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

func defaultOptions() *options {
	return &options{
		Wrap:              DefaultWrap,
		BatchSize:         DefaultBatchSize,
		RetryTime:         DefaultRetryTime,
		UpdatedAtField:    DefaultUpdatedAtField,
		DeletedField:      DefaultDeletedField,
		MinUpdatedAtParam: DefaultMinUpdatedAtParam,
		Checkpoints:       NewMemoryCheckpoints(),
		Transformer:       restfilter.New(),
		Logger:            zap.NewNop(),
	}
}

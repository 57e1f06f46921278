package reststore

import (
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter/restfilter"
	"github.com/theplant/datastore/transport"
)

// Transformer compiles find options into the request of a search.
type Transformer interface {
	Execute(opts *datastore.FindOptions) (*transport.Request, error)
}

// Routes are request templates merged over the request of each operation.
// A nil route keeps the defaults.
type Routes struct {
	Index    *transport.Request
	Show     *transport.Request
	Create   *transport.Request
	Update   *transport.Request
	Remove   *transport.Request
	Restore  *transport.Request
	Validate *transport.Request
	Upload   *transport.Request
	Download *transport.Request
}

// Modifier rewrites object data before it is sent, such as
// datastore.SerializeDates.
type Modifier func(data datastore.Record) datastore.Record

type options struct {
	Key         string `validate:"required"`
	BaseURL     string
	Headers     map[string]string
	Routes      Routes
	Wrap        string
	Modifier    Modifier    `validate:"-"`
	Transformer Transformer `validate:"required"`
	Logger      *zap.Logger `validate:"required"`
}

type Option func(*options)

func defaultOptions() *options {
	return &options{
		Key:         "id",
		Wrap:        "data",
		Transformer: restfilter.New(),
		Logger:      zap.NewNop(),
	}
}

func WithKey(key string) Option {
	return func(o *options) {
		o.Key = key
	}
}

// WithBaseURL sets the base path of every request. It may hold {name} macros
// resolved from the link binding.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.BaseURL = baseURL
	}
}

func WithHeaders(headers map[string]string) Option {
	return func(o *options) {
		o.Headers = headers
	}
}

func WithRoutes(routes Routes) Option {
	return func(o *options) {
		o.Routes = routes
	}
}

// WithWrap sets the response key holding the payload. An empty wrap uses the
// response as is.
func WithWrap(wrap string) Option {
	return func(o *options) {
		o.Wrap = wrap
	}
}

func WithModifier(modifier Modifier) Option {
	return func(o *options) {
		o.Modifier = modifier
	}
}

func WithTransformer(transformer Transformer) Option {
	return func(o *options) {
		o.Transformer = transformer
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

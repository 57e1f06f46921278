package docstore

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
	"github.com/theplant/datastore/filter/selectorfilter"
)

type options struct {
	Key    string
	Search *datastore.SearchConfig `validate:"omitempty"`
	NewKey func() string           `validate:"required"`
	Logger *zap.Logger             `validate:"required"`
}

type Option func(*options)

// WithKey overrides the key field, which defaults to the primary key of the
// collection schema.
func WithKey(key string) Option {
	return func(o *options) {
		o.Key = key
	}
}

// WithSearch configures free-text search and the default sort.
func WithSearch(search *datastore.SearchConfig) Option {
	return func(o *options) {
		o.Search = search
	}
}

// WithKeyGenerator sets how keys of inserted documents without one are made.
func WithKeyGenerator(newKey func() string) Option {
	return func(o *options) {
		o.NewKey = newKey
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

// NewKey returns a time-ordered UUID, falling back to a random one.
func NewKey() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// Store is a datastore.Store over one collection of db. Link must not be
// called while other goroutines use the same store.
type Store struct {
	db          Database
	collection  Collection
	opts        *options
	transformer *selectorfilter.Transformer
	link        datastore.LinkParams
}

var (
	_ datastore.Store           = (*Store)(nil)
	_ datastore.AttachmentStore = (*Store)(nil)
)

func New(db Database, name string, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	o := &options{
		NewKey: NewKey,
		Logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := validator.New().Struct(o); err != nil {
		return nil, errors.Wrap(err, "invalid document store options")
	}

	collection, err := db.Collection(name)
	if err != nil {
		return nil, errors.Wrapf(err, "collection %q", name)
	}
	if o.Key == "" {
		o.Key = collection.Schema().PrimaryKey
	}
	if o.Key == "" {
		return nil, errors.Errorf("collection %q has no primary key", name)
	}

	return &Store{
		db:          db,
		collection:  collection,
		opts:        o,
		transformer: selectorfilter.New(o.Search),
	}, nil
}

func (s *Store) Collection() Collection {
	return s.collection
}

func (s *Store) Key() string {
	return s.opts.Key
}

func (s *Store) Link(params datastore.LinkParams) {
	s.link = params
}

// FindOne returns nil without error for missing and soft-deleted documents.
func (s *Store) FindOne(ctx context.Context, key any) (datastore.Record, error) {
	doc, err := findLive(ctx, s.collection, key)
	if err != nil || doc == nil {
		return nil, err
	}
	records, err := s.populateAll(ctx, []datastore.Record{doc})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

// FindAll restricts opts to the linked parent before querying.
func (s *Store) FindAll(ctx context.Context, opts *datastore.FindOptions) (*datastore.FindResult, error) {
	if !s.link.Valid() {
		return datastore.EmptyResult(), nil
	}
	opts = opts.Clone()
	opts.Filter = filter.Join(opts.Filter, filter.Equals(s.link))

	q, err := s.transformer.Execute(opts)
	if err != nil {
		return nil, err
	}
	docs, err := s.collection.Find(ctx, q)
	if err != nil {
		return nil, err
	}
	records, err := s.populateAll(ctx, docs)
	if err != nil {
		return nil, err
	}

	result := &datastore.FindResult{Data: records}
	if !datastore.GetSkip(ctx).TotalCount {
		total, err := s.collection.Count(ctx, q.Selector)
		if err != nil {
			return nil, err
		}
		result.TotalCount = &total
	}
	return result, nil
}

func (s *Store) Exists(ctx context.Context, compact []any) (bool, error) {
	count, err := s.Count(ctx, compact)
	return count > 0, err
}

func (s *Store) Count(ctx context.Context, compact []any) (int, error) {
	if !s.link.Valid() {
		return 0, nil
	}
	selector, err := s.transformer.Selector(filter.Join(compact, filter.Equals(s.link)))
	if err != nil {
		return 0, err
	}
	return s.collection.Count(ctx, selector)
}

// Insert stores data under the linked parent. Link values never override
// data, and a key is generated when data has none.
func (s *Store) Insert(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	doc := lo.Assign(datastore.Record(s.link), data)
	if key := doc[s.opts.Key]; lo.IsNil(key) || key == "" {
		doc[s.opts.Key] = s.opts.NewKey()
	}
	doc, err := s.normalize(doc)
	if err != nil {
		return nil, err
	}
	return s.collection.Insert(ctx, doc)
}

func (s *Store) Update(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	key := data[s.opts.Key]
	if _, err := s.findOneOrFail(ctx, key); err != nil {
		return nil, err
	}
	patch, err := s.normalize(data)
	if err != nil {
		return nil, err
	}
	return s.collection.Patch(ctx, key, patch)
}

func (s *Store) Remove(ctx context.Context, key any) error {
	if !s.link.Valid() {
		return datastore.ErrInvalidLink
	}
	if _, err := s.findOneOrFail(ctx, key); err != nil {
		return err
	}
	return s.collection.Remove(ctx, key)
}

func (s *Store) PutMedia(ctx context.Context, key any, data []byte, params *datastore.MediaParams) (*datastore.Attachment, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	if params == nil {
		return nil, errors.New("media params are required")
	}
	if _, err := s.findOneOrFail(ctx, key); err != nil {
		return nil, err
	}
	return s.collection.PutAttachment(ctx, key, &datastore.Attachment{
		ID:   params.Name,
		Type: params.Type,
		Data: data,
	})
}

// RemoveMedia removes the attachment name of the document. A missing
// attachment is not an error.
func (s *Store) RemoveMedia(ctx context.Context, key any, name string) error {
	if !s.link.Valid() {
		return datastore.ErrInvalidLink
	}
	if _, err := s.findOneOrFail(ctx, key); err != nil {
		return err
	}
	attachment, err := s.collection.GetAttachment(ctx, key, name)
	if err != nil {
		return err
	}
	if attachment == nil {
		return nil
	}
	return s.collection.RemoveAttachment(ctx, key, name)
}

func (s *Store) AllMedia(ctx context.Context, key any) ([]*datastore.Attachment, error) {
	if !s.link.Valid() {
		return nil, datastore.ErrInvalidLink
	}
	if _, err := s.findOneOrFail(ctx, key); err != nil {
		return nil, err
	}
	return s.collection.ListAttachments(ctx, key)
}

func (s *Store) findOneOrFail(ctx context.Context, key any) (datastore.Record, error) {
	doc, err := findLive(ctx, s.collection, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		s.opts.Logger.Debug("document not found",
			zap.String("collection", s.collection.Name()),
			zap.Any("key", key),
		)
		return nil, errors.Wrapf(datastore.ErrRecordNotFound, "%s %v", s.collection.Name(), key)
	}
	return doc, nil
}

func (s *Store) populateAll(ctx context.Context, docs []datastore.Record) ([]datastore.Record, error) {
	records := make([]datastore.Record, 0, len(docs))
	for _, doc := range docs {
		record, err := s.populate(ctx, doc)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := datastore.ProcessRecords(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

// Package offline implements a store that reads and writes a local document
// collection and queues every write for replication to the remote API.
package offline

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/docstore"
	"github.com/theplant/datastore/replication"
)

type options struct {
	DeletedField string
	Logger       *zap.Logger
}

type Option func(*options)

// WithDeletedField sets the flag marking removed documents in pushed rows.
// It must match the deleted field of the replicator.
func WithDeletedField(field string) Option {
	return func(o *options) {
		o.DeletedField = field
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.Logger = logger
	}
}

// Store serves reads from the local store. Writes go to the local store first
// and are then queued on the replicator.
type Store struct {
	*docstore.Store
	replicator replication.Replicator
	opts       *options
}

var (
	_ datastore.Store           = (*Store)(nil)
	_ datastore.AttachmentStore = (*Store)(nil)
)

func New(local *docstore.Store, replicator replication.Replicator, opts ...Option) (*Store, error) {
	if local == nil {
		return nil, errors.New("local store is required")
	}
	if replicator == nil {
		return nil, errors.New("replicator is required")
	}
	if local.Collection().Name() != replicator.Collection().Name() {
		return nil, errors.Errorf("replicator of %q cannot serve collection %q",
			replicator.Collection().Name(), local.Collection().Name())
	}
	o := &options{
		DeletedField: replication.DefaultDeletedField,
		Logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Store{Store: local, replicator: replicator, opts: o}, nil
}

func (s *Store) Replicator() replication.Replicator {
	return s.replicator
}

func (s *Store) Start(ctx context.Context, awaitInitial bool) error {
	return s.replicator.Start(ctx, awaitInitial)
}

func (s *Store) Stop(ctx context.Context) error {
	return s.replicator.Stop(ctx)
}

// Insert queues the new document without an assumed master state.
func (s *Store) Insert(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	record, err := s.Store.Insert(ctx, data)
	if err != nil {
		return nil, err
	}
	s.enqueue(replication.PushRow{NewDocumentState: record})
	return record, nil
}

// Update queues the updated document with its prior state as the assumed
// master state.
func (s *Store) Update(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	prior, err := s.raw(ctx, data[s.Key()])
	if err != nil {
		return nil, err
	}
	record, err := s.Store.Update(ctx, data)
	if err != nil {
		return nil, err
	}
	s.enqueue(replication.PushRow{NewDocumentState: record, AssumedMasterState: prior})
	return record, nil
}

// Remove queues the prior document flagged as deleted.
func (s *Store) Remove(ctx context.Context, key any) error {
	prior, err := s.raw(ctx, key)
	if err != nil {
		return err
	}
	if err := s.Store.Remove(ctx, key); err != nil {
		return err
	}
	s.enqueue(replication.PushRow{
		NewDocumentState:   lo.Assign(prior, datastore.Record{s.opts.DeletedField: true}),
		AssumedMasterState: prior,
	})
	return nil
}

// raw returns the stored document without resolved references. Missing
// documents are left for the local store to report.
func (s *Store) raw(ctx context.Context, key any) (datastore.Record, error) {
	if lo.IsNil(key) {
		return nil, nil
	}
	return s.Collection().FindByKey(ctx, key)
}

func (s *Store) enqueue(row replication.PushRow) {
	s.opts.Logger.Debug("write queued for replication",
		zap.String("collection", s.Collection().Name()),
		zap.Any("key", row.NewDocumentState[s.Key()]),
	)
	s.replicator.Enqueue(row)
}

package replication

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/docstore"
	"github.com/theplant/datastore/transport"
)

var ErrNotRunning = errors.New("replication is not running")

// RESTReplicator replicates a collection against a REST search API rooted at
// a base route.
type RESTReplicator struct {
	transporter transport.Transporter
	collection  docstore.Collection
	base        *transport.Request
	opts        *options

	mu         sync.Mutex
	queue      []PushRow
	checkpoint *Checkpoint
	run        *run
}

// run is one Start..Stop lifetime of the engine goroutine.
type run struct {
	cancel  context.CancelFunc
	done    chan struct{}
	initial chan struct{}
	err     error
	resync  chan struct{}
	cycled  chan struct{}
}

var _ Replicator = (*RESTReplicator)(nil)

// NewRESTReplicator replicates collection against base, whose URL parts and
// params are sent with every request.
func NewRESTReplicator(transporter transport.Transporter, collection docstore.Collection, base *transport.Request, opts ...Option) (*RESTReplicator, error) {
	if transporter == nil {
		return nil, errors.New("transporter is required")
	}
	if collection == nil {
		return nil, errors.New("collection is required")
	}
	if base == nil || transport.URL(base) == "" {
		return nil, errors.New("base url is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := validator.New().Struct(o); err != nil {
		return nil, errors.Wrap(err, "invalid replicator options")
	}
	return &RESTReplicator{
		transporter: transporter,
		collection:  collection,
		base:        base,
		opts:        o,
	}, nil
}

func (r *RESTReplicator) Collection() docstore.Collection {
	return r.collection
}

// Identifier names the replication in the checkpoint store.
func (r *RESTReplicator) Identifier() string {
	return r.collection.Name() + "-" + transport.URL(r.base)
}

func (r *RESTReplicator) Pull(ctx context.Context, checkpoint *Checkpoint, batchSize int) (*PullResult, error) {
	if batchSize < 1 {
		batchSize = r.opts.BatchSize
	}
	key := r.collection.Schema().PrimaryKey

	var documents []datastore.Record
	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		opts := &datastore.FindOptions{
			Sort: []datastore.Sort{
				{Selector: r.opts.UpdatedAtField},
				{Selector: key},
			},
			Skip:  lo.ToPtr(batchSize * page),
			Limit: lo.ToPtr(batchSize),
		}
		if checkpoint != nil && !lo.IsNil(checkpoint.UpdatedAt) {
			opts.Scopes = []datastore.Scope{{Name: r.opts.MinUpdatedAtParam, Parameters: checkpoint.UpdatedAt}}
		}
		route, err := r.opts.Transformer.Execute(opts)
		if err != nil {
			return nil, err
		}

		response, err := transport.Execute(ctx, r.transporter, r.base.Merge(&transport.Request{Wrap: r.opts.Wrap}, route))
		if err != nil {
			return nil, err
		}
		batch := datastore.AsRecords(response)
		documents = append(documents, batch...)
		if len(batch) < batchSize {
			break
		}
	}

	result := &PullResult{Documents: documents, Checkpoint: checkpoint}
	if len(documents) > 0 {
		last := documents[len(documents)-1]
		result.Checkpoint = &Checkpoint{Key: last[key], UpdatedAt: last[r.opts.UpdatedAtField]}
	}
	return result, nil
}

// Push sends each row in order and stops at the first failure. The remote
// API reports no conflicts, so the returned list is always empty.
func (r *RESTReplicator) Push(ctx context.Context, rows []PushRow) ([]datastore.Record, error) {
	_, err := r.push(ctx, rows)
	return []datastore.Record{}, err
}

// push returns how many rows were sent.
func (r *RESTReplicator) push(ctx context.Context, rows []PushRow) (int, error) {
	key := r.collection.Schema().PrimaryKey
	for i, row := range rows {
		doc := row.NewDocumentState
		req := r.base.Merge(&transport.Request{Wrap: r.opts.Wrap})
		switch {
		case isTrue(doc[r.opts.DeletedField]):
			req.Method = http.MethodDelete
			req.Key = doc[key]
		case row.AssumedMasterState == nil:
			req.Method = http.MethodPost
			req.Data = doc
		default:
			req.Method = http.MethodPut
			req.Key = doc[key]
			req.Data = doc
		}
		if _, err := transport.Execute(ctx, r.transporter, req); err != nil {
			return i, err
		}
	}
	return len(rows), nil
}

func isTrue(v any) bool {
	b, _ := v.(bool)
	return b
}

func (r *RESTReplicator) Enqueue(rows ...PushRow) {
	if len(rows) == 0 {
		return
	}
	r.mu.Lock()
	r.queue = append(r.queue, rows...)
	r.mu.Unlock()
	r.ReSync()
}

// Pending returns the number of queued rows.
func (r *RESTReplicator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Start launches the engine unless it is running already. The engine stops
// when ctx is done or Stop is called.
func (r *RESTReplicator) Start(ctx context.Context, awaitInitial bool) error {
	r.mu.Lock()
	current := r.run
	if current != nil {
		select {
		case <-current.done:
			current = nil
		default:
		}
	}
	if current == nil {
		runCtx, cancel := context.WithCancel(ctx)
		current = &run{
			cancel:  cancel,
			done:    make(chan struct{}),
			initial: make(chan struct{}),
			resync:  make(chan struct{}, 1),
			cycled:  make(chan struct{}),
		}
		r.run = current
		go r.loop(runCtx, current)
	}
	r.mu.Unlock()

	if !awaitInitial {
		return nil
	}
	select {
	case <-current.initial:
		return current.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the engine and waits for it to exit.
func (r *RESTReplicator) Stop(ctx context.Context) error {
	r.mu.Lock()
	current := r.run
	r.run = nil
	r.mu.Unlock()

	if current == nil {
		return nil
	}
	current.cancel()
	select {
	case <-current.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReSync wakes the engine for an immediate cycle.
func (r *RESTReplicator) ReSync() {
	r.mu.Lock()
	current := r.run
	r.mu.Unlock()
	if current == nil {
		return
	}
	select {
	case current.resync <- struct{}{}:
	default:
	}
}

// AwaitInSync triggers a cycle and waits until one ends with nothing left to
// push.
func (r *RESTReplicator) AwaitInSync(ctx context.Context) error {
	for first := true; ; first = false {
		r.mu.Lock()
		current := r.run
		var cycled chan struct{}
		if current != nil {
			cycled = current.cycled
		}
		r.mu.Unlock()
		if current == nil {
			return ErrNotRunning
		}
		if first {
			r.ReSync()
		}

		select {
		case <-cycled:
		case <-current.done:
			return ErrNotRunning
		case <-ctx.Done():
			return ctx.Err()
		}
		if r.Pending() == 0 {
			return nil
		}
	}
}

func (r *RESTReplicator) loop(ctx context.Context, current *run) {
	defer close(current.done)

	logger := r.opts.Logger.With(zap.String("replication", r.Identifier()))
	first := true
	for {
		err := r.cycle(ctx, logger)
		if err != nil && ctx.Err() == nil {
			logger.Warn("replication cycle failed", zap.Error(err))
		}

		r.mu.Lock()
		if first {
			current.err = err
			close(current.initial)
			first = false
		}
		close(current.cycled)
		current.cycled = make(chan struct{})
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			logger.Debug("replication stopped")
			return
		case <-current.resync:
		case <-time.After(r.opts.RetryTime):
		}
	}
}

// withoutPending drops the documents whose key has a queued row, so local
// writes are not replaced by remote state before they are pushed.
func (r *RESTReplicator) withoutPending(documents []datastore.Record) []datastore.Record {
	key := r.collection.Schema().PrimaryKey
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return documents
	}
	return lo.Reject(documents, func(doc datastore.Record, _ int) bool {
		return lo.ContainsBy(r.queue, func(row PushRow) bool {
			return row.NewDocumentState[key] == doc[key]
		})
	})
}

// cycle pulls, applies and checkpoints remote changes, then pushes the queue.
// Documents with queued local writes are not applied.
func (r *RESTReplicator) cycle(ctx context.Context, logger *zap.Logger) error {
	id := r.Identifier()

	r.mu.Lock()
	checkpoint := r.checkpoint
	r.mu.Unlock()
	if checkpoint == nil {
		loaded, err := r.opts.Checkpoints.Load(ctx, id)
		if err != nil {
			return err
		}
		checkpoint = loaded
	}

	result, err := r.Pull(ctx, checkpoint, r.opts.BatchSize)
	if err != nil {
		return errors.Wrap(err, "pull")
	}
	documents := r.withoutPending(result.Documents)
	if skipped := len(result.Documents) - len(documents); skipped > 0 {
		logger.Debug("pulled documents with pending writes kept local", zap.Int("documents", skipped))
	}
	if err := r.collection.BulkUpsert(ctx, documents); err != nil {
		return errors.Wrap(err, "apply pulled documents")
	}
	if result.Checkpoint != nil && result.Checkpoint != checkpoint {
		if err := r.opts.Checkpoints.Save(ctx, id, result.Checkpoint); err != nil {
			return err
		}
		logger.Debug("checkpoint saved",
			zap.Int("documents", len(result.Documents)),
			zap.Any("checkpoint", result.Checkpoint),
		)
	}
	r.mu.Lock()
	r.checkpoint = result.Checkpoint
	rows := append([]PushRow(nil), r.queue...)
	r.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}
	sent, err := r.push(ctx, rows)

	r.mu.Lock()
	r.queue = r.queue[sent:]
	r.mu.Unlock()

	if err != nil {
		return errors.Wrapf(err, "push %d of %d rows", sent+1, len(rows))
	}
	logger.Debug("rows pushed", zap.Int("rows", sent))
	return nil
}

package replication

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/docstore"
	"github.com/theplant/datastore/transport"
)

// fakeCollection records bulk upserts. Other collection methods are not used
// by replication.
type fakeCollection struct {
	docstore.Collection

	mu       sync.Mutex
	upserted []datastore.Record
}

func (c *fakeCollection) Name() string { return "contacts" }

func (c *fakeCollection) Schema() *docstore.Schema {
	return &docstore.Schema{PrimaryKey: "id"}
}

func (c *fakeCollection) BulkUpsert(_ context.Context, docs []datastore.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.upserted = append(c.upserted, docs...)
	return nil
}

func (c *fakeCollection) Upserted() []datastore.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]datastore.Record(nil), c.upserted...)
}

type recorder struct {
	mu       sync.Mutex
	requests []*transport.Request
	respond  func(req *transport.Request) (any, error)
}

func (r *recorder) Execute(_ context.Context, req *transport.Request) (any, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.respond == nil {
		return page(), nil
	}
	return r.respond(req)
}

func (r *recorder) Requests() []*transport.Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*transport.Request(nil), r.requests...)
}

func page(docs ...map[string]any) map[string]any {
	list := make([]any, 0, len(docs))
	for _, doc := range docs {
		list = append(list, doc)
	}
	return map[string]any{"data": list}
}

var contactsRoute = &transport.Request{BaseURL: "http://api.fake.test", Path: "/contacts"}

func newReplicator(t *testing.T, transporter transport.Transporter, opts ...Option) (*RESTReplicator, *fakeCollection) {
	t.Helper()
	collection := &fakeCollection{}
	r, err := NewRESTReplicator(transporter, collection, contactsRoute, opts...)
	require.NoError(t, err)
	return r, collection
}

func TestNewRESTReplicator(t *testing.T) {
	collection := &fakeCollection{}
	transporter := &recorder{}

	_, err := NewRESTReplicator(nil, collection, contactsRoute)
	require.ErrorContains(t, err, "transporter is required")

	_, err = NewRESTReplicator(transporter, nil, contactsRoute)
	require.ErrorContains(t, err, "collection is required")

	_, err = NewRESTReplicator(transporter, collection, &transport.Request{})
	require.ErrorContains(t, err, "base url is required")

	_, err = NewRESTReplicator(transporter, collection, contactsRoute, WithBatchSize(0))
	require.ErrorContains(t, err, "invalid replicator options")

	_, err = NewRESTReplicator(transporter, collection, contactsRoute, WithCheckpoints(nil))
	require.ErrorContains(t, err, "invalid replicator options")

	r, err := NewRESTReplicator(transporter, collection, contactsRoute)
	require.NoError(t, err)
	require.Equal(t, "contacts-http://api.fake.test/contacts", r.Identifier())
	require.Same(t, collection, r.Collection())
}

func TestStartIncludesBaseParams(t *testing.T) {
	transporter := &recorder{}
	collection := &fakeCollection{}
	r, err := NewRESTReplicator(transporter, collection, &transport.Request{
		Path:   "/contacts",
		Params: map[string]any{"include": "address"},
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx, true))
	require.NoError(t, r.Stop(ctx))

	requests := transporter.Requests()
	require.NotEmpty(t, requests)
	first := requests[0]
	assert.Equal(t, map[string]any{
		"include": "address",
		"limit":   100,
		"page":    1,
	}, first.Params)
	assert.Equal(t, http.MethodPost, first.Method)
	assert.Equal(t, "/contacts", first.Path)
	assert.Equal(t, "search", first.Action)
	assert.Equal(t, "data", first.Wrap)
}

func TestPull(t *testing.T) {
	ctx := context.Background()

	t.Run("pages until a short batch", func(t *testing.T) {
		transporter := &recorder{}
		transporter.respond = func(req *transport.Request) (any, error) {
			switch req.Params["page"] {
			case 1:
				return page(
					map[string]any{"id": "a", "updated_at": "2024-01-01"},
					map[string]any{"id": "b", "updated_at": "2024-01-02"},
				), nil
			case 2:
				return page(map[string]any{"id": "c", "updated_at": "2024-01-03"}), nil
			}
			return page(), nil
		}
		r, _ := newReplicator(t, transporter)

		result, err := r.Pull(ctx, &Checkpoint{Key: "z", UpdatedAt: "2023-12-31"}, 2)
		require.NoError(t, err)
		require.Len(t, result.Documents, 3)
		assert.Equal(t, &Checkpoint{Key: "c", UpdatedAt: "2024-01-03"}, result.Checkpoint)

		requests := transporter.Requests()
		require.Len(t, requests, 2)
		assert.Equal(t, map[string]any{"limit": 2, "page": 2}, requests[1].Params)

		data, ok := requests[0].Data.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, []map[string]any{
			{"name": "min_updated_at", "parameters": []any{"2023-12-31"}},
		}, data["scopes"])
		assert.Equal(t, []map[string]any{
			{"field": "updated_at", "direction": "asc"},
			{"field": "id", "direction": "asc"},
		}, data["sort"])
	})

	t.Run("empty batch keeps the checkpoint", func(t *testing.T) {
		transporter := &recorder{}
		r, _ := newReplicator(t, transporter)

		checkpoint := &Checkpoint{Key: "a", UpdatedAt: "2024-01-01"}
		result, err := r.Pull(ctx, checkpoint, 0)
		require.NoError(t, err)
		assert.Empty(t, result.Documents)
		assert.Same(t, checkpoint, result.Checkpoint)
		assert.Equal(t, 100, transporter.Requests()[0].Params["limit"])
	})

	t.Run("no scope without checkpoint", func(t *testing.T) {
		transporter := &recorder{}
		r, _ := newReplicator(t, transporter)

		result, err := r.Pull(ctx, nil, 10)
		require.NoError(t, err)
		assert.Nil(t, result.Checkpoint)
		data, _ := transporter.Requests()[0].Data.(map[string]any)
		assert.NotContains(t, data, "scopes")
	})

	t.Run("cancellation", func(t *testing.T) {
		transporter := &recorder{}
		r, _ := newReplicator(t, transporter)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		result, err := r.Pull(cancelled, &Checkpoint{Key: "a"}, 10)
		require.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, result)
		assert.Empty(t, transporter.Requests())
	})

	t.Run("transport error", func(t *testing.T) {
		boom := errors.New("boom")
		transporter := &recorder{respond: func(*transport.Request) (any, error) { return nil, boom }}
		r, _ := newReplicator(t, transporter)

		_, err := r.Pull(ctx, nil, 10)
		require.Same(t, boom, err)
	})
}

func TestPush(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	transporter := &recorder{}
	transporter.respond = func(req *transport.Request) (any, error) {
		if req.Key == "fail" {
			return nil, boom
		}
		return map[string]any{}, nil
	}
	r, _ := newReplicator(t, transporter)

	conflicts, err := r.Push(ctx, []PushRow{
		{NewDocumentState: datastore.Record{"id": "1", "_deleted": true}, AssumedMasterState: datastore.Record{"id": "1"}},
		{NewDocumentState: datastore.Record{"id": "2", "name": "new"}},
		{NewDocumentState: datastore.Record{"id": "3", "name": "changed"}, AssumedMasterState: datastore.Record{"id": "3"}},
	})
	require.NoError(t, err)
	assert.Empty(t, conflicts)

	requests := transporter.Requests()
	require.Len(t, requests, 3)

	assert.Equal(t, http.MethodDelete, requests[0].Method)
	assert.Equal(t, "1", requests[0].Key)
	assert.Nil(t, requests[0].Data)

	assert.Equal(t, http.MethodPost, requests[1].Method)
	assert.Nil(t, requests[1].Key)
	assert.Equal(t, map[string]any{"id": "2", "name": "new"}, requests[1].Data)

	assert.Equal(t, http.MethodPut, requests[2].Method)
	assert.Equal(t, "3", requests[2].Key)
	assert.Equal(t, map[string]any{"id": "3", "name": "changed"}, requests[2].Data)
	assert.Equal(t, "http://api.fake.test", requests[2].BaseURL)
	assert.Equal(t, "/contacts", requests[2].Path)

	_, err = r.Push(ctx, []PushRow{
		{NewDocumentState: datastore.Record{"id": "fail"}, AssumedMasterState: datastore.Record{"id": "fail"}},
		{NewDocumentState: datastore.Record{"id": "4"}},
	})
	require.Same(t, boom, err)
	assert.Len(t, transporter.Requests(), 4)
}

func TestEngine(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	failPut := true
	transporter := &recorder{}
	transporter.respond = func(req *transport.Request) (any, error) {
		switch req.Method {
		case http.MethodPut:
			mu.Lock()
			defer mu.Unlock()
			if failPut {
				return nil, errors.New("unavailable")
			}
			return map[string]any{}, nil
		case http.MethodPost:
			if req.Action == "search" {
				if req.Data.(map[string]any)["scopes"] != nil {
					return page(), nil
				}
				return page(map[string]any{"id": "a", "updated_at": "2024-01-01"}), nil
			}
		}
		return map[string]any{}, nil
	}

	checkpoints := NewMemoryCheckpoints()
	r, collection := newReplicator(t, transporter,
		WithCheckpoints(checkpoints),
		WithRetryTime(time.Hour),
	)

	r.Enqueue(
		PushRow{NewDocumentState: datastore.Record{"id": "n"}},
		PushRow{NewDocumentState: datastore.Record{"id": "u"}, AssumedMasterState: datastore.Record{"id": "u"}},
	)
	require.Equal(t, 2, r.Pending())

	err := r.Start(ctx, true)
	require.ErrorContains(t, err, "push 2 of 2 rows: unavailable")
	t.Cleanup(func() { _ = r.Stop(context.Background()) })

	assert.Equal(t, []datastore.Record{{"id": "a", "updated_at": "2024-01-01"}}, collection.Upserted())
	saved, err := checkpoints.Load(ctx, r.Identifier())
	require.NoError(t, err)
	assert.Equal(t, &Checkpoint{Key: "a", UpdatedAt: "2024-01-01"}, saved)
	assert.Equal(t, 1, r.Pending())

	mu.Lock()
	failPut = false
	mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, r.AwaitInSync(waitCtx))
	assert.Zero(t, r.Pending())

	// the second cycle resumes from the checkpoint and pulls nothing new
	assert.Len(t, collection.Upserted(), 1)

	require.NoError(t, r.Stop(ctx))
	require.NoError(t, r.Stop(ctx))
	require.ErrorIs(t, r.AwaitInSync(ctx), ErrNotRunning)
}

func TestCycleKeepsPendingWrites(t *testing.T) {
	ctx := context.Background()
	transporter := &recorder{}
	transporter.respond = func(req *transport.Request) (any, error) {
		if req.Action == "search" {
			return page(
				map[string]any{"id": "1", "name": "remote", "updated_at": "2024-01-01"},
				map[string]any{"id": "2", "name": "remote", "updated_at": "2024-01-02"},
			), nil
		}
		return map[string]any{}, nil
	}
	r, collection := newReplicator(t, transporter)

	r.mu.Lock()
	r.queue = []PushRow{{
		NewDocumentState:   datastore.Record{"id": "1", "name": "local edit"},
		AssumedMasterState: datastore.Record{"id": "1", "name": "remote"},
	}}
	r.mu.Unlock()

	require.NoError(t, r.cycle(ctx, zap.NewNop()))

	assert.Equal(t, []datastore.Record{
		{"id": "2", "name": "remote", "updated_at": "2024-01-02"},
	}, collection.Upserted())
	assert.Zero(t, r.Pending())

	requests := transporter.Requests()
	require.Len(t, requests, 2)
	assert.Equal(t, http.MethodPut, requests[1].Method)
	assert.Equal(t, datastore.Record{"id": "1", "name": "local edit"}, requests[1].Data)

	// the checkpoint still covers the skipped document
	saved, err := r.opts.Checkpoints.Load(ctx, r.Identifier())
	require.NoError(t, err)
	assert.Equal(t, &Checkpoint{Key: "2", UpdatedAt: "2024-01-02"}, saved)
}

func TestStartIsIdempotent(t *testing.T) {
	ctx := context.Background()
	transporter := &recorder{}
	r, _ := newReplicator(t, transporter, WithRetryTime(time.Hour))

	require.NoError(t, r.Start(ctx, true))
	require.NoError(t, r.Start(ctx, true))
	require.Len(t, transporter.Requests(), 1)
	require.NoError(t, r.Stop(ctx))

	require.NoError(t, r.Start(ctx, true))
	require.Len(t, transporter.Requests(), 2)
	require.NoError(t, r.Stop(ctx))
}

func TestStopOnContextCancel(t *testing.T) {
	transporter := &recorder{}
	r, _ := newReplicator(t, transporter, WithRetryTime(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx, true))
	cancel()

	require.Eventually(t, func() bool {
		return r.AwaitInSync(context.Background()) == ErrNotRunning
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, r.Stop(context.Background()))
}

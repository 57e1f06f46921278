// Package replication keeps a local document collection in sync with a remote
// REST API. Remote changes are pulled in batches after a checkpoint and local
// writes are queued and pushed back.
package replication

import (
	"context"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/docstore"
)

// Checkpoint marks the last document of a pull batch. The next pull asks for
// documents updated at or after UpdatedAt.
type Checkpoint struct {
	Key       any `json:"key"`
	UpdatedAt any `json:"updated_at"`
}

type PullResult struct {
	Documents  []datastore.Record
	Checkpoint *Checkpoint
}

// PushRow is a local write to send upstream. A nil AssumedMasterState means
// the document is new to the remote side.
type PushRow struct {
	NewDocumentState   datastore.Record `json:"newDocumentState"`
	AssumedMasterState datastore.Record `json:"assumedMasterState,omitempty"`
}

type Replicator interface {
	// Pull fetches the documents changed after checkpoint. An empty batch
	// returns checkpoint unchanged.
	Pull(ctx context.Context, checkpoint *Checkpoint, batchSize int) (*PullResult, error)
	// Push sends rows upstream in order and returns the conflicting remote
	// documents.
	Push(ctx context.Context, rows []PushRow) ([]datastore.Record, error)
	// Start runs replication in the background. With awaitInitial it blocks
	// until the first cycle ends and returns its error.
	Start(ctx context.Context, awaitInitial bool) error
	Stop(ctx context.Context) error
	Collection() docstore.Collection
	// Enqueue queues rows for the next push.
	Enqueue(rows ...PushRow)
}

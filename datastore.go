// Package datastore puts remote REST search APIs, embedded document databases
// and SQL tables behind one store contract. Each backend compiles the same
// FindOptions into its own query language through a transformer.
package datastore

import (
	"context"

	"github.com/pkg/errors"
)

var (
	ErrRecordNotFound = errors.New("record not found")
	ErrNotSupported   = errors.New("feature not supported")
	ErrInvalidLink    = errors.New("the link data must be set")
)

// Record is a raw record as exchanged with a backend.
type Record = map[string]any

type FindResult struct {
	Data       []Record `json:"data"`
	TotalCount *int     `json:"totalCount,omitempty"`
}

// EmptyResult is what read operations return when the link binding is invalid.
func EmptyResult() *FindResult {
	return &FindResult{Data: []Record{}}
}

// Store is the uniform data-access contract.
//
// The link binding set with Link is read by every later operation of the same
// instance. Rebinding while other goroutines query the same instance is not
// safe; construct one store per independent binding instead.
type Store interface {
	Key() string
	FindOne(ctx context.Context, key any) (Record, error)
	FindAll(ctx context.Context, opts *FindOptions) (*FindResult, error)
	Exists(ctx context.Context, filter []any) (bool, error)
	Count(ctx context.Context, filter []any) (int, error)
	Insert(ctx context.Context, data Record) (Record, error)
	Update(ctx context.Context, data Record) (Record, error)
	Remove(ctx context.Context, key any) error
	Link(params LinkParams)
}

// MediaParams describes an uploaded file. Fields are sent alongside the file.
type MediaParams struct {
	Name   string
	Type   string
	Data   []byte
	Fields map[string]any
}

// MediaStore is implemented by stores that upload and download files through
// their backend.
type MediaStore interface {
	Upload(ctx context.Context, params *MediaParams) (any, error)
	Download(ctx context.Context, key any) ([]byte, error)
}

type Attachment struct {
	ID   string `json:"id" bson:"id"`
	Type string `json:"type" bson:"type"`
	Data []byte `json:"data,omitempty" bson:"data"`
}

// AttachmentStore is implemented by stores keeping attachments next to the
// record they belong to.
type AttachmentStore interface {
	PutMedia(ctx context.Context, key any, data []byte, params *MediaParams) (*Attachment, error)
	RemoveMedia(ctx context.Context, key any, name string) error
	AllMedia(ctx context.Context, key any) ([]*Attachment, error)
}

// Package docstore implements datastore.Store over a document database
// collection, resolving references between collections on read.
package docstore

import (
	"context"
	"sort"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter/selectorfilter"
)

// DeletedField flags soft-deleted documents.
const DeletedField = "_deleted"

const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeObject  = "object"
	TypeArray   = "array"
)

// Property declares one document field. Ref names the collection a
// reference field points to; an array property holds many keys.
type Property struct {
	Type string `json:"type" bson:"type"`
	Ref  string `json:"ref,omitempty" bson:"ref,omitempty"`
}

func (p Property) IsArray() bool {
	return p.Type == TypeArray
}

type Schema struct {
	PrimaryKey string              `json:"primaryKey" bson:"primaryKey"`
	Properties map[string]Property `json:"properties" bson:"properties"`
}

// References returns the names of the reference properties, sorted.
func (s *Schema) References() []string {
	var names []string
	for name, p := range s.Properties {
		if p.Ref != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Collection is a named document collection.
//
// FindByKey returns nil without error when no document has key; soft-deleted
// documents are returned with DeletedField set. Find and Count never see
// soft-deleted documents. GetAttachment returns nil without error when the
// attachment does not exist.
type Collection interface {
	Name() string
	Schema() *Schema
	FindByKey(ctx context.Context, key any) (datastore.Record, error)
	Find(ctx context.Context, q *selectorfilter.Query) ([]datastore.Record, error)
	Count(ctx context.Context, selector bson.D) (int, error)
	Insert(ctx context.Context, doc datastore.Record) (datastore.Record, error)
	Patch(ctx context.Context, key any, patch datastore.Record) (datastore.Record, error)
	Remove(ctx context.Context, key any) error
	BulkUpsert(ctx context.Context, docs []datastore.Record) error
	PutAttachment(ctx context.Context, key any, attachment *datastore.Attachment) (*datastore.Attachment, error)
	GetAttachment(ctx context.Context, key any, id string) (*datastore.Attachment, error)
	RemoveAttachment(ctx context.Context, key any, id string) error
	ListAttachments(ctx context.Context, key any) ([]*datastore.Attachment, error)
}

type Database interface {
	Collection(name string) (Collection, error)
}

// IsDeleted reports whether doc is flagged as soft deleted.
func IsDeleted(doc datastore.Record) bool {
	deleted, _ := doc[DeletedField].(bool)
	return deleted
}

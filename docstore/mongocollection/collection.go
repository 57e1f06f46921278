// Package mongocollection implements the docstore collection contracts on a
// MongoDB database. Documents keep their primary key under _id and are soft
// deleted through docstore.DeletedField.
package mongocollection

import (
	"context"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/docstore"
	"github.com/theplant/datastore/filter/selectorfilter"
)

const idField = "_id"

// AttachmentsSuffix names the collection holding the attachments of a
// collection.
const AttachmentsSuffix = "_attachments"

type Database struct {
	db      *mongo.Database
	schemas map[string]*docstore.Schema
}

var _ docstore.Database = (*Database)(nil)

// NewDatabase exposes the collections of db that have a schema.
func NewDatabase(db *mongo.Database, schemas map[string]*docstore.Schema) *Database {
	return &Database{db: db, schemas: schemas}
}

func (d *Database) Collection(name string) (docstore.Collection, error) {
	schema, ok := d.schemas[name]
	if !ok {
		return nil, errors.Errorf("unknown collection %q", name)
	}
	return &Collection{
		name:        name,
		schema:      schema,
		docs:        d.db.Collection(name),
		attachments: d.db.Collection(name + AttachmentsSuffix),
	}, nil
}

// EnsureIndexes creates the indexes every collection relies on.
func (d *Database) EnsureIndexes(ctx context.Context) error {
	for _, name := range lo.Keys(d.schemas) {
		_, err := d.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys: bson.D{{Key: docstore.DeletedField, Value: 1}},
		})
		if err != nil {
			return errors.Wrapf(err, "index %s", name)
		}
		_, err = d.db.Collection(name+AttachmentsSuffix).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "doc", Value: 1}, {Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		})
		if err != nil {
			return errors.Wrapf(err, "index %s%s", name, AttachmentsSuffix)
		}
	}
	return nil
}

type Collection struct {
	name        string
	schema      *docstore.Schema
	docs        *mongo.Collection
	attachments *mongo.Collection
}

var _ docstore.Collection = (*Collection)(nil)

func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) Schema() *docstore.Schema {
	return c.schema
}

func (c *Collection) FindByKey(ctx context.Context, key any) (datastore.Record, error) {
	var doc bson.M
	err := c.docs.FindOne(ctx, bson.M{idField: key}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "find %s %v", c.name, key)
	}
	return toRecord(doc), nil
}

func (c *Collection) Find(ctx context.Context, q *selectorfilter.Query) ([]datastore.Record, error) {
	if q == nil {
		q = &selectorfilter.Query{}
	}
	opts := options.Find()
	if len(q.Sort) > 0 {
		opts.SetSort(sortDocument(q.Sort))
	}
	if q.Limit != nil {
		opts.SetLimit(int64(*q.Limit))
	}
	if q.Skip != nil {
		opts.SetSkip(int64(*q.Skip))
	}

	cursor, err := c.docs.Find(ctx, live(q.Selector), opts)
	if err != nil {
		return nil, errors.Wrapf(err, "find %s", c.name)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode %s", c.name)
	}
	return lo.Map(docs, func(doc bson.M, _ int) datastore.Record {
		return toRecord(doc)
	}), nil
}

func (c *Collection) Count(ctx context.Context, selector bson.D) (int, error) {
	count, err := c.docs.CountDocuments(ctx, live(selector))
	if err != nil {
		return 0, errors.Wrapf(err, "count %s", c.name)
	}
	return int(count), nil
}

func (c *Collection) Insert(ctx context.Context, doc datastore.Record) (datastore.Record, error) {
	key, err := c.key(doc)
	if err != nil {
		return nil, err
	}
	stored := lo.Assign(doc, datastore.Record{idField: key})
	if _, err := c.docs.InsertOne(ctx, stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errors.Errorf("%s %v already exists", c.name, key)
		}
		return nil, errors.Wrapf(err, "insert %s %v", c.name, key)
	}
	return lo.OmitByKeys(stored, []string{idField}), nil
}

// Patch sets the fields of patch and returns the patched document. The key of
// a document never changes.
func (c *Collection) Patch(ctx context.Context, key any, patch datastore.Record) (datastore.Record, error) {
	set := lo.OmitByKeys(patch, []string{idField, c.schema.PrimaryKey})
	if len(set) > 0 {
		result, err := c.docs.UpdateOne(ctx, bson.M{idField: key}, bson.M{"$set": set})
		if err != nil {
			return nil, errors.Wrapf(err, "patch %s %v", c.name, key)
		}
		if result.MatchedCount == 0 {
			return nil, errors.Wrapf(datastore.ErrRecordNotFound, "%s %v", c.name, key)
		}
	}
	doc, err := c.FindByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.Wrapf(datastore.ErrRecordNotFound, "%s %v", c.name, key)
	}
	return doc, nil
}

func (c *Collection) Remove(ctx context.Context, key any) error {
	result, err := c.docs.UpdateOne(ctx,
		bson.M{idField: key},
		bson.M{"$set": bson.M{docstore.DeletedField: true}},
	)
	if err != nil {
		return errors.Wrapf(err, "remove %s %v", c.name, key)
	}
	if result.MatchedCount == 0 {
		return errors.Wrapf(datastore.ErrRecordNotFound, "%s %v", c.name, key)
	}
	return nil
}

// BulkUpsert replaces each document by key, inserting the missing ones.
// Replicated deletions arrive as documents with docstore.DeletedField set.
func (c *Collection) BulkUpsert(ctx context.Context, docs []datastore.Record) error {
	if len(docs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(docs))
	for _, doc := range docs {
		key, err := c.key(doc)
		if err != nil {
			return err
		}
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{idField: key}).
			SetReplacement(lo.Assign(doc, datastore.Record{idField: key})).
			SetUpsert(true))
	}
	if _, err := c.docs.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(true)); err != nil {
		return errors.Wrapf(err, "bulk upsert %s", c.name)
	}
	return nil
}

type attachmentDocument struct {
	Doc  any    `bson:"doc"`
	ID   string `bson:"id"`
	Type string `bson:"type"`
	Data []byte `bson:"data"`
}

func (a *attachmentDocument) attachment() *datastore.Attachment {
	return &datastore.Attachment{ID: a.ID, Type: a.Type, Data: a.Data}
}

func (c *Collection) PutAttachment(ctx context.Context, key any, attachment *datastore.Attachment) (*datastore.Attachment, error) {
	doc := &attachmentDocument{
		Doc:  key,
		ID:   attachment.ID,
		Type: attachment.Type,
		Data: attachment.Data,
	}
	_, err := c.attachments.ReplaceOne(ctx,
		bson.M{"doc": key, "id": attachment.ID},
		doc,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "put attachment %s of %s %v", attachment.ID, c.name, key)
	}
	return doc.attachment(), nil
}

func (c *Collection) GetAttachment(ctx context.Context, key any, id string) (*datastore.Attachment, error) {
	var doc attachmentDocument
	err := c.attachments.FindOne(ctx, bson.M{"doc": key, "id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "get attachment %s of %s %v", id, c.name, key)
	}
	return doc.attachment(), nil
}

func (c *Collection) RemoveAttachment(ctx context.Context, key any, id string) error {
	if _, err := c.attachments.DeleteOne(ctx, bson.M{"doc": key, "id": id}); err != nil {
		return errors.Wrapf(err, "remove attachment %s of %s %v", id, c.name, key)
	}
	return nil
}

func (c *Collection) ListAttachments(ctx context.Context, key any) ([]*datastore.Attachment, error) {
	cursor, err := c.attachments.Find(ctx,
		bson.M{"doc": key},
		options.Find().SetSort(bson.D{{Key: "id", Value: 1}}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "list attachments of %s %v", c.name, key)
	}
	defer cursor.Close(ctx)

	var docs []*attachmentDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Wrapf(err, "decode attachments of %s %v", c.name, key)
	}
	return lo.Map(docs, func(doc *attachmentDocument, _ int) *datastore.Attachment {
		return doc.attachment()
	}), nil
}

func (c *Collection) key(doc datastore.Record) (any, error) {
	key := doc[c.schema.PrimaryKey]
	if lo.IsNil(key) || key == "" {
		return nil, errors.Errorf("%s document without %s", c.name, c.schema.PrimaryKey)
	}
	return key, nil
}

// live restricts selector to documents that are not soft deleted.
func live(selector bson.D) bson.D {
	notDeleted := bson.D{{Key: docstore.DeletedField, Value: bson.D{{Key: "$ne", Value: true}}}}
	if len(selector) == 0 {
		return notDeleted
	}
	return bson.D{{Key: "$and", Value: bson.A{selector, notDeleted}}}
}

func sortDocument(sort bson.D) bson.D {
	return lo.Map(sort, func(e bson.E, _ int) bson.E {
		if e.Value == selectorfilter.Desc {
			return bson.E{Key: e.Key, Value: -1}
		}
		return bson.E{Key: e.Key, Value: 1}
	})
}

func toRecord(doc bson.M) datastore.Record {
	record, _ := plain(doc).(map[string]any)
	delete(record, idField)
	return record
}

// plain converts decoded BSON values into the types the rest of the module
// works with.
func plain(v any) any {
	switch v := v.(type) {
	case bson.M:
		return plainMap(v)
	case map[string]any:
		return plainMap(v)
	case bson.D:
		m := make(map[string]any, len(v))
		for _, e := range v {
			m[e.Key] = plain(e.Value)
		}
		return m
	case bson.A:
		return lo.Map(v, func(item any, _ int) any { return plain(item) })
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Binary:
		return v.Data
	}
	return v
}

func plainMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		result[k] = plain(v)
	}
	return result
}

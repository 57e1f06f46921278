package reststore

import (
	"context"
	"net/http"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/transport"
)

// Attachable is a store over a many-to-many relation endpoint. Inserting
// attaches an existing record and removing detaches it; neither creates nor
// deletes the record itself.
type Attachable struct {
	*Store
}

func NewAttachable(store *Store) *Attachable {
	return &Attachable{Store: store}
}

func (a *Attachable) Insert(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	return a.Attach(ctx, data[a.Key()])
}

func (a *Attachable) Remove(ctx context.Context, key any) error {
	_, err := a.Detach(ctx, key)
	return err
}

func (a *Attachable) ForceRemove(ctx context.Context, key any) error {
	return a.Remove(ctx, key)
}

func (a *Attachable) Attach(ctx context.Context, key any) (datastore.Record, error) {
	return a.relation(ctx, http.MethodPost, "attach", key)
}

func (a *Attachable) Detach(ctx context.Context, key any) (datastore.Record, error) {
	return a.relation(ctx, http.MethodDelete, "detach", key)
}

func (a *Attachable) relation(ctx context.Context, method, path string, key any) (datastore.Record, error) {
	result, _, err := a.execute(ctx, &transport.Request{
		Method: method,
		Path:   path,
		Data:   map[string]any{"resources": []any{key}},
	})
	if err != nil {
		return nil, err
	}
	return datastore.AsRecord(result), nil
}

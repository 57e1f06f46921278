// Package reststore implements datastore.Store over a REST resource API with
// a search endpoint.
package reststore

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/transport"
)

// Store dispatches every operation as one request through the transporter.
// Link must not be called while other goroutines use the same store.
type Store struct {
	transporter transport.Transporter
	opts        *options
	link        datastore.LinkParams
}

var (
	_ datastore.Store      = (*Store)(nil)
	_ datastore.MediaStore = (*Store)(nil)
)

func New(transporter transport.Transporter, opts ...Option) (*Store, error) {
	if transporter == nil {
		return nil, errors.New("transporter is required")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if err := validator.New().Struct(o); err != nil {
		return nil, errors.Wrap(err, "invalid rest store options")
	}
	return &Store{transporter: transporter, opts: o}, nil
}

func (s *Store) Key() string {
	return s.opts.Key
}

func (s *Store) Link(params datastore.LinkParams) {
	s.link = params
}

func (s *Store) FindOne(ctx context.Context, key any) (datastore.Record, error) {
	req := (&transport.Request{
		Method: http.MethodGet,
		Key:    key,
		Wrap:   s.opts.Wrap,
	}).Merge(s.opts.Routes.Show)

	result, _, err := s.execute(ctx, req)
	if errors.Is(err, datastore.ErrInvalidLink) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var record datastore.Record
	if list, ok := result.([]any); ok {
		if len(list) == 0 {
			return nil, nil
		}
		record = datastore.AsRecord(list[0])
	} else {
		record = datastore.AsRecord(result)
	}
	if record == nil {
		return nil, nil
	}

	records := []datastore.Record{record}
	if err := datastore.ProcessRecords(ctx, records); err != nil {
		return nil, err
	}
	return records[0], nil
}

func (s *Store) FindAll(ctx context.Context, opts *datastore.FindOptions) (*datastore.FindResult, error) {
	route, err := s.opts.Transformer.Execute(opts)
	if err != nil {
		return nil, err
	}
	req := (&transport.Request{
		Method: http.MethodGet,
		Wrap:   s.opts.Wrap,
	}).Merge(route, s.opts.Routes.Index)

	result, response, err := s.execute(ctx, req)
	if errors.Is(err, datastore.ErrInvalidLink) {
		return datastore.EmptyResult(), nil
	}
	if err != nil {
		return nil, err
	}

	records := datastore.AsRecords(result)
	if err := datastore.ProcessRecords(ctx, records); err != nil {
		return nil, err
	}
	found := &datastore.FindResult{Data: records}
	if !datastore.GetSkip(ctx).TotalCount {
		found.TotalCount = totalCount(response)
	}
	return found, nil
}

func (s *Store) Exists(ctx context.Context, filter []any) (bool, error) {
	result, err := s.FindAll(ctx, &datastore.FindOptions{Filter: filter})
	if err != nil {
		return false, err
	}
	return len(result.Data) > 0, nil
}

// Count is not supported, the search endpoint has no count mode.
func (s *Store) Count(ctx context.Context, filter []any) (int, error) {
	return 0, errors.Wrap(datastore.ErrNotSupported, "count")
}

func (s *Store) Insert(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	req := (&transport.Request{
		Method: http.MethodPost,
		Data:   data,
		Wrap:   s.opts.Wrap,
	}).Merge(s.opts.Routes.Create)

	result, _, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return datastore.AsRecord(result), nil
}

func (s *Store) Update(ctx context.Context, data datastore.Record) (datastore.Record, error) {
	req := (&transport.Request{
		Method: http.MethodPut,
		Key:    data[s.opts.Key],
		Data:   data,
		Wrap:   s.opts.Wrap,
	}).Merge(s.opts.Routes.Update)

	result, _, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return datastore.AsRecord(result), nil
}

func (s *Store) Remove(ctx context.Context, key any) error {
	return s.remove(ctx, key, false)
}

// ForceRemove deletes the record permanently instead of trashing it.
func (s *Store) ForceRemove(ctx context.Context, key any) error {
	return s.remove(ctx, key, true)
}

func (s *Store) remove(ctx context.Context, key any, force bool) error {
	req := &transport.Request{
		Method: http.MethodDelete,
		Key:    key,
	}
	if force {
		req.Params = map[string]any{"force": true}
	}
	_, _, err := s.execute(ctx, req.Merge(s.opts.Routes.Remove))
	return err
}

// Restore brings a trashed record back.
func (s *Store) Restore(ctx context.Context, key any) error {
	req := (&transport.Request{
		Method: http.MethodPost,
		Path:   "restore",
		Key:    key,
	}).Merge(s.opts.Routes.Restore)

	_, _, err := s.execute(ctx, req)
	return err
}

// Validate asks the backend to validate data without saving it and returns
// its answer.
func (s *Store) Validate(ctx context.Context, data datastore.Record) (any, error) {
	req := (&transport.Request{
		Method: http.MethodPost,
		Path:   "validate",
		Data:   data,
	}).Merge(s.opts.Routes.Validate)

	result, _, err := s.execute(ctx, req)
	return result, err
}

// Upload sends the file of params as a multipart request with its fields.
func (s *Store) Upload(ctx context.Context, params *datastore.MediaParams) (any, error) {
	if params == nil {
		return nil, errors.New("media params are required")
	}
	data := map[string]any{}
	for k, v := range params.Fields {
		data[k] = v
	}
	data["name"] = params.Name
	data["type"] = params.Type
	data["file"] = transport.File{Name: params.Name, ContentType: params.Type, Data: params.Data}

	req := (&transport.Request{
		Method: http.MethodPost,
		Data:   data,
		Blob:   true,
	}).Merge(s.opts.Routes.Upload)

	result, _, err := s.execute(ctx, req)
	return result, err
}

// Download fetches the raw content stored under key.
func (s *Store) Download(ctx context.Context, key any) ([]byte, error) {
	req := (&transport.Request{
		Method: http.MethodGet,
		Path:   fmt.Sprint(key),
		Blob:   true,
	}).Merge(s.opts.Routes.Download)

	result, _, err := s.execute(ctx, req)
	if err != nil {
		return nil, err
	}
	switch v := result.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.Errorf("unexpected download response %T", result)
}

// execute completes route with the store defaults, resolves its macros and
// dispatches it. It returns the unwrapped result along with the raw response.
// A route whose templates cannot be resolved is refused with
// datastore.ErrInvalidLink before anything is sent.
func (s *Store) execute(ctx context.Context, route *transport.Request) (any, any, error) {
	req := (&transport.Request{BaseURL: s.opts.BaseURL, Headers: s.opts.Headers}).Merge(route)
	if datastore.InvalidLink(s.link, req.BaseURL, req.Path, req.Action) {
		s.opts.Logger.Debug("refusing request with unresolved link",
			zap.String("method", req.Method),
			zap.String("baseURL", req.BaseURL),
			zap.String("path", req.Path),
		)
		return nil, nil, datastore.ErrInvalidLink
	}
	req.BaseURL = datastore.FormatMacro(req.BaseURL, s.link)
	req.Path = datastore.FormatMacro(req.Path, s.link)
	req.Action = datastore.FormatMacro(req.Action, s.link)

	if data, ok := req.Data.(map[string]any); ok && s.opts.Modifier != nil {
		req.Data = s.opts.Modifier(data)
	}

	response, err := s.transporter.Execute(ctx, transport.Prepare(req))
	if err != nil {
		s.opts.Logger.Debug("rest request failed",
			zap.String("method", req.Method),
			zap.String("url", transport.URL(req)),
			zap.Error(err),
		)
		return nil, nil, err
	}
	return transport.Unwrap(response, req.Wrap), response, nil
}

// totalCount reads meta.total of a search response.
func totalCount(response any) *int {
	meta, ok := datastore.AsRecord(response)["meta"].(map[string]any)
	if !ok {
		return nil
	}
	var total int
	switch v := meta["total"].(type) {
	case int:
		total = v
	case int64:
		total = int(v)
	case float64:
		total = int(v)
	default:
		return nil
	}
	return &total
}

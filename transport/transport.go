package transport

import (
	"context"
	"fmt"

	"github.com/samber/lo"
)

// Transporter dispatches a request and returns the decoded response: JSON
// objects and arrays as map[string]any and []any, blobs as []byte.
type Transporter interface {
	Execute(ctx context.Context, req *Request) (any, error)
}

// TransporterFunc is a function that implements Transporter.
type TransporterFunc func(ctx context.Context, req *Request) (any, error)

func (f TransporterFunc) Execute(ctx context.Context, req *Request) (any, error) {
	return f(ctx, req)
}

// Prepare returns a copy of req without nil data values and without empty
// params or headers.
func Prepare(req *Request) *Request {
	prepared := *req
	if data, ok := req.Data.(map[string]any); ok {
		prepared.Data = omitNil(data)
	}
	prepared.Params = omitNil(req.Params)
	if len(prepared.Params) == 0 {
		prepared.Params = nil
	}
	if len(req.Headers) == 0 {
		prepared.Headers = nil
	}
	return &prepared
}

// Unwrap returns the wrap key of an object response. Without a wrap key the
// response is returned as is.
func Unwrap(response any, wrap string) any {
	if wrap == "" {
		return response
	}
	m, ok := response.(map[string]any)
	if !ok {
		return nil
	}
	return m[wrap]
}

// Execute prepares req, dispatches it and unwraps the response. Transport
// errors are returned unchanged.
func Execute(ctx context.Context, t Transporter, req *Request) (any, error) {
	response, err := t.Execute(ctx, Prepare(req))
	if err != nil {
		return nil, err
	}
	return Unwrap(response, req.Wrap), nil
}

// File is a data value sent as a multipart file part.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// StatusError is returned for responses with a status of 400 or above.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, truncate(string(e.Body), 256))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func omitNil(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return lo.OmitBy(m, func(_ string, v any) bool {
		return lo.IsNil(v)
	})
}

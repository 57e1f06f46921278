// Package transport describes backend requests and dispatches them. Stores
// build a Request from route templates and hand it to a Transporter.
package transport

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// Request is a normalized backend request. A route template is a partial
// Request merged into the one a store builds.
type Request struct {
	BaseURL string            `json:"baseUrl,omitempty"`
	Path    string            `json:"path,omitempty"`
	Method  string            `json:"method,omitempty"`
	Key     any               `json:"key,omitempty"`
	Action  string            `json:"action,omitempty"`
	Params  map[string]any    `json:"params,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    any               `json:"data,omitempty"`
	Wrap    string            `json:"wrap,omitempty"`
	Blob    bool              `json:"blob,omitempty"`
}

// Merge returns a new request with others applied on top of r in order.
// Non-zero fields win. Params, Headers and map Data are merged deeply.
func (r *Request) Merge(others ...*Request) *Request {
	result := &Request{}
	for _, o := range append([]*Request{r}, others...) {
		if o == nil {
			continue
		}
		if o.BaseURL != "" {
			result.BaseURL = o.BaseURL
		}
		if o.Path != "" {
			result.Path = o.Path
		}
		if o.Method != "" {
			result.Method = o.Method
		}
		if !lo.IsNil(o.Key) {
			result.Key = o.Key
		}
		if o.Action != "" {
			result.Action = o.Action
		}
		if o.Params != nil {
			result.Params = mergeMaps(result.Params, o.Params)
		}
		if o.Headers != nil {
			result.Headers = lo.Assign(result.Headers, o.Headers)
		}
		if !lo.IsNil(o.Data) {
			result.Data = mergeData(result.Data, o.Data)
		}
		if o.Wrap != "" {
			result.Wrap = o.Wrap
		}
		if o.Blob {
			result.Blob = true
		}
	}
	return result
}

func mergeData(dst, src any) any {
	d, dok := dst.(map[string]any)
	s, sok := src.(map[string]any)
	if dok && sok {
		return mergeMaps(d, s)
	}
	return src
}

// mergeMaps returns a fresh map holding dst deeply merged with src.
func mergeMaps(dst, src map[string]any) map[string]any {
	result := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		result[k] = v
	}
	for k, v := range src {
		if existing, ok := result[k]; ok {
			result[k] = mergeData(existing, v)
			continue
		}
		if m, ok := v.(map[string]any); ok {
			v = mergeMaps(nil, m)
		}
		result[k] = v
	}
	return result
}

// URL joins the base URL, path, key and action of req with single slashes.
func URL(req *Request) string {
	var parts []string
	for _, part := range []any{req.BaseURL, req.Path, req.Key, req.Action} {
		if lo.IsNil(part) {
			continue
		}
		s := strings.Trim(fmt.Sprint(part), "/")
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "/")
}

package restfilter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
	"github.com/theplant/datastore/transport"
)

func ptr[T any](v T) *T { return &v }

func TestExecuteEmpty(t *testing.T) {
	transformer := New()
	expected := &transport.Request{Method: "POST", Action: "search"}

	req, err := transformer.Execute(nil)
	require.NoError(t, err)
	assert.Equal(t, expected, req)

	req, err = transformer.Execute(&datastore.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, expected, req)
}

func TestExecute(t *testing.T) {
	transformer := New()

	req, err := transformer.Execute(&datastore.FindOptions{
		Limit:  ptr(5),
		Skip:   ptr(10),
		Search: "  loren   ipsum ",
		Sort: []datastore.Sort{
			{Selector: "age", Desc: true},
			{Selector: "name"},
		},
		Group: []datastore.Group{{Selector: "scope"}},
		Filter: []any{
			[]any{"active", "=", true},
			"and", []any{"tag_id", "in", []int{1, 2}},
			"and", []any{filter.WithTrashed, "=", true},
		},
		Scopes: []datastore.Scope{
			{Name: "whereCategory", Parameters: 1},
			{Name: "between", Parameters: []any{1, 5}},
		},
		Aggregates: []datastore.Aggregate{
			{Type: "count", Relation: "posts", Filters: []any{"published", "=", true}},
			{Type: "avg", Relation: "posts", Field: "stars"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, &transport.Request{
		Method: "POST",
		Action: "search",
		Params: map[string]any{"limit": 5, "page": 3, "with_trashed": true},
		Data: map[string]any{
			"filters": []any{
				map[string]any{"field": "active", "operator": "=", "value": true},
				map[string]any{"type": "and", "field": "tag_id", "operator": "in", "value": []int{1, 2}},
			},
			"scopes": []map[string]any{
				{"name": "whereCategory", "parameters": []any{1}},
				{"name": "between", "parameters": []any{1, 5}},
			},
			"aggregates": []any{
				map[string]any{
					"type":     "count",
					"relation": "posts",
					"filters":  []any{map[string]any{"field": "published", "operator": "=", "value": true}},
				},
				map[string]any{"type": "avg", "relation": "posts", "field": "stars"},
			},
			"search": map[string]any{"value": "loren%ipsum"},
			"group":  []string{"scope"},
			"sort": []map[string]any{
				{"field": "age", "direction": "desc"},
				{"field": "name", "direction": "asc"},
			},
		},
	}, req)
}

func TestPagination(t *testing.T) {
	transformer := New()
	tests := []struct {
		name     string
		skip     *int
		limit    *int
		expected map[string]any
	}{
		{name: "first page", skip: ptr(0), limit: ptr(10), expected: map[string]any{"limit": 10, "page": 1}},
		{name: "inside a page", skip: ptr(15), limit: ptr(10), expected: map[string]any{"limit": 10, "page": 2}},
		{name: "page boundary", skip: ptr(20), limit: ptr(10), expected: map[string]any{"limit": 10, "page": 3}},
		{name: "skip without limit", skip: ptr(20), limit: nil, expected: nil},
		{name: "limit without skip", skip: nil, limit: ptr(10), expected: nil},
		{name: "zero limit", skip: ptr(20), limit: ptr(0), expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := transformer.Execute(&datastore.FindOptions{Skip: tt.skip, Limit: tt.limit})
			require.NoError(t, err)
			if tt.expected == nil {
				assert.Nil(t, req.Params)
				return
			}
			assert.Equal(t, tt.expected, req.Params)
		})
	}

	for skip := 0; skip < 50; skip++ {
		for limit := 1; limit < 12; limit++ {
			req, err := transformer.Execute(&datastore.FindOptions{Skip: ptr(skip), Limit: ptr(limit)})
			require.NoError(t, err)
			assert.Equal(t, skip/limit+1, req.Params["page"])
			assert.Equal(t, limit, req.Params["limit"])
		}
	}
}

func TestSentinels(t *testing.T) {
	transformer := New()
	tests := []struct {
		name    string
		filter  []any
		params  map[string]any
		filters any
	}{
		{
			name:    "with trashed only",
			filter:  []any{[]any{filter.WithTrashed, "=", true}},
			params:  map[string]any{"with_trashed": true},
			filters: nil,
		},
		{
			name:   "only trashed is not true",
			filter: []any{[]any{filter.OnlyTrashed, "=", "true"}, "or", []any{"name", "=", "Bill"}},
			params: nil,
			filters: []any{
				map[string]any{"field": "name", "operator": "=", "value": "Bill"},
			},
		},
		{
			name:   "both sentinels",
			filter: []any{[]any{"name", "=", "Bill"}, "and", []any{filter.OnlyTrashed, "=", true}, []any{filter.WithTrashed, "=", true}},
			params: map[string]any{"with_trashed": true, "only_trashed": true},
			filters: []any{
				map[string]any{"field": "name", "operator": "=", "value": "Bill"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snapshot := append([]any(nil), tt.filter...)
			opts := &datastore.FindOptions{Filter: tt.filter}

			req, err := transformer.Execute(opts)
			require.NoError(t, err)
			if tt.params == nil {
				assert.Nil(t, req.Params)
			} else {
				assert.Equal(t, tt.params, req.Params)
			}
			if tt.filters == nil {
				assert.Nil(t, req.Data)
			} else {
				assert.Equal(t, tt.filters, req.Data.(map[string]any)["filters"])
			}

			// the caller's filter is untouched, so a second run is identical
			assert.Equal(t, snapshot, opts.Filter)
			again, err := transformer.Execute(opts)
			require.NoError(t, err)
			assert.Equal(t, req, again)
		})
	}
}

func TestBuildFilter(t *testing.T) {
	transformer := New()
	tests := []struct {
		name     string
		compact  []any
		expected []any
	}{
		{
			name:     "single leaf has no wrapper",
			compact:  []any{[]any{"active", "=", true}},
			expected: []any{map[string]any{"field": "active", "operator": "=", "value": true}},
		},
		{
			name:     "bare leaf",
			compact:  []any{"active", "=", true},
			expected: []any{map[string]any{"field": "active", "operator": "=", "value": true}},
		},
		{
			name:    "flat tags",
			compact: []any{[]any{"id", "=", 1}, "and", []any{"name", "=", "Bill"}},
			expected: []any{
				map[string]any{"field": "id", "operator": "=", "value": 1},
				map[string]any{"type": "and", "field": "name", "operator": "=", "value": "Bill"},
			},
		},
		{
			name: "nested",
			compact: []any{
				[]any{"id", ">", 1},
				"or", []any{[]any{"name", "contains", "Steven Paul Jobs"}, "and", []any{"name", "<>", "Bill"}},
			},
			expected: []any{
				map[string]any{"field": "id", "operator": ">", "value": 1},
				map[string]any{"type": "or", "nested": []any{
					map[string]any{"field": "name", "operator": "like", "value": "Steven%Paul%Jobs"},
					map[string]any{"type": "and", "field": "name", "operator": "!=", "value": "Bill"},
				}},
			},
		},
		{
			name: "operator table",
			compact: []any{
				[]any{"a", "notcontains", " x  y"},
				[]any{"b", "startswith", "x"},
				[]any{"c", "endswith", "y "},
				[]any{"d", "not in", []any{1}},
				[]any{"e", "custom", "raw"},
				[]any{"f", "<=", 3},
				[]any{"g", "=", filter.Null},
			},
			expected: []any{
				map[string]any{"field": "a", "operator": "not like", "value": "x%y"},
				map[string]any{"field": "b", "operator": "like", "value": "x"},
				map[string]any{"field": "c", "operator": "like", "value": "y"},
				map[string]any{"field": "d", "operator": "not in", "value": []any{1}},
				map[string]any{"field": "e", "operator": "custom", "value": "raw"},
				map[string]any{"field": "f", "operator": "<=", "value": 3},
				map[string]any{"field": "g", "operator": "=", "value": nil},
			},
		},
		{
			name:     "undefined values are dropped",
			compact:  []any{[]any{"a", "=", nil}, "and", []any{"b", "="}},
			expected: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := transformer.BuildFilter(tt.compact)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestInvalidOperator(t *testing.T) {
	req, err := New().Execute(&datastore.FindOptions{
		Filter: []any{[]any{"name", "=", "Bill"}, "and", []any{"id", "!=", 1}},
	})
	require.Error(t, err)
	assert.Nil(t, req)
	assert.ErrorIs(t, err, filter.ErrInvalidOperator)
	assert.Contains(t, err.Error(), `"!="`)

	_, err = New().Execute(&datastore.FindOptions{
		Aggregates: []datastore.Aggregate{{Relation: "posts", Filters: []any{"a", "~", 1}}},
	})
	assert.ErrorIs(t, err, filter.ErrInvalidOperator)
}

func TestParamsPassthrough(t *testing.T) {
	req, err := New().Execute(&datastore.FindOptions{
		Limit:  ptr(10),
		Skip:   ptr(0),
		Params: map[string]any{"include": "company", "page": 7, "limit": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"include": "company", "page": 7}, req.Params)
	assert.Nil(t, req.Data)
}

func TestParamNames(t *testing.T) {
	transformer := New(WithParamNames(ParamNames{Page: "p", Filters: "where", Sort: "order"}))
	req, err := transformer.Execute(&datastore.FindOptions{
		Limit:  ptr(10),
		Skip:   ptr(10),
		Filter: []any{"a", "=", 1},
		Sort:   []datastore.Sort{{Selector: "a"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"limit": 10, "p": 2}, req.Params)
	data := req.Data.(map[string]any)
	assert.Contains(t, data, "where")
	assert.Contains(t, data, "order")
}

func TestComplexityLimits(t *testing.T) {
	transformer := New(WithComplexityLimits(&filter.ComplexityLimits{MaxOrBranches: 2}))
	_, err := transformer.Execute(&datastore.FindOptions{
		Filter: []any{[]any{"a", "=", 1}, "or", []any{"a", "=", 2}, "or", []any{"a", "=", 3}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "or branches")
}

func TestSearchNormalization(t *testing.T) {
	transformer := New()

	req, err := transformer.Execute(&datastore.FindOptions{Search: "   "})
	require.NoError(t, err)
	assert.Nil(t, req.Data)

	req, err = transformer.Execute(&datastore.FindOptions{Search: 42})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"search": map[string]any{"value": 42}}, req.Data)

	assert.Equal(t, "Steven%Paul%Jobs", Normalize("Steven Paul\tJobs"))
	assert.Equal(t, 3, Normalize(3))
}

func TestScopesWithoutParameters(t *testing.T) {
	req, err := New().Execute(&datastore.FindOptions{Scopes: []datastore.Scope{{Name: "active"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"scopes": []map[string]any{{"name": "active", "parameters": []any{nil}}},
	}, req.Data)
}

func TestAggregatesOmitEmptyFields(t *testing.T) {
	req, err := New().Execute(&datastore.FindOptions{Aggregates: []datastore.Aggregate{{Type: "count"}}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"aggregates": []any{map[string]any{"type": "count"}},
	}, req.Data)
}

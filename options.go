package datastore

import "github.com/samber/lo"

// Sort is one ordering key. Later entries of a sort list are secondary keys.
type Sort struct {
	Selector string `json:"selector"`
	Desc     bool   `json:"desc"`
}

type Group struct {
	Selector string `json:"selector"`
}

// Scope invokes a named server-side query modifier. Parameters that are not a
// list are sent as a one-element list.
type Scope struct {
	Name       string `json:"name"`
	Parameters any    `json:"parameters"`
}

// Aggregate is a sub-query scoped to a relation, with its own filter forest.
type Aggregate struct {
	Type     string `json:"type"`
	Relation string `json:"relation"`
	Field    string `json:"field,omitempty"`
	Filters  []any  `json:"filters,omitempty"`
}

// FindOptions is the backend-agnostic query descriptor accepted by every
// transformer. Filter uses the compact notation understood by filter.Parse.
//
// Skip is a zero-based element offset, not a page number.
type FindOptions struct {
	Filter     []any          `json:"filter,omitempty"`
	Search     any            `json:"search,omitempty"`
	Sort       []Sort         `json:"sort,omitempty"`
	Skip       *int           `json:"skip,omitempty"`
	Limit      *int           `json:"limit,omitempty"`
	Scopes     []Scope        `json:"scopes,omitempty"`
	Group      []Group        `json:"group,omitempty"`
	Aggregates []Aggregate    `json:"aggregates,omitempty"`
	Params     map[string]any `json:"params,omitempty"`
}

// IsZero reports whether the options carry nothing to compile.
func (o *FindOptions) IsZero() bool {
	if o == nil {
		return true
	}
	return len(o.Filter) == 0 &&
		lo.IsNil(o.Search) &&
		len(o.Sort) == 0 &&
		o.Skip == nil &&
		o.Limit == nil &&
		len(o.Scopes) == 0 &&
		len(o.Group) == 0 &&
		len(o.Aggregates) == 0 &&
		len(o.Params) == 0
}

// Clone returns a shallow copy whose slices and maps can be extended without
// touching the caller's values.
func (o *FindOptions) Clone() *FindOptions {
	if o == nil {
		return &FindOptions{}
	}
	c := *o
	c.Filter = append([]any(nil), o.Filter...)
	c.Sort = append([]Sort(nil), o.Sort...)
	c.Scopes = append([]Scope(nil), o.Scopes...)
	c.Group = append([]Group(nil), o.Group...)
	c.Aggregates = append([]Aggregate(nil), o.Aggregates...)
	if o.Params != nil {
		c.Params = lo.Assign(o.Params)
	}
	return &c
}

type SearchFieldType string

const (
	SearchString   SearchFieldType = "string"
	SearchNumber   SearchFieldType = "number"
	SearchDatetime SearchFieldType = "datetime"
)

// SearchField declares a field taking part in free-text search. An empty Type
// means SearchString.
type SearchField struct {
	Name string          `json:"name"`
	Type SearchFieldType `json:"type,omitempty"`
}

func (f SearchField) IsText() bool {
	return f.Type == "" || f.Type == SearchString
}

// SearchConfig lists the free-text search fields and the sort applied when a
// query has none of its own.
type SearchConfig struct {
	Fields []SearchField `json:"fields"`
	Sort   []Sort        `json:"sort,omitempty"`
}

// TextFields is a shorthand for a list of string-typed search fields.
func TextFields(names ...string) []SearchField {
	return lo.Map(names, func(name string, _ int) SearchField {
		return SearchField{Name: name}
	})
}

// AppendPrimarySort appends the primary keys that are not already part of sorts.
func AppendPrimarySort(sorts []Sort, primary ...Sort) []Sort {
	if len(primary) == 0 {
		return sorts
	}
	selectors := lo.SliceToMap(sorts, func(sort Sort) (string, bool) {
		return sort.Selector, true
	})
	result := append([]Sort(nil), sorts...)
	for _, p := range primary {
		if _, ok := selectors[p.Selector]; !ok {
			result = append(result, p)
		}
	}
	return result
}

// OrderedSort returns the effective sort of a local query: group selectors as
// ascending prefix, then the explicit sort, then the default search sort when
// neither is present.
func OrderedSort(opts *FindOptions, search *SearchConfig) []Sort {
	if opts == nil {
		opts = &FindOptions{}
	}
	var result []Sort
	for _, g := range opts.Group {
		result = append(result, Sort{Selector: g.Selector})
	}
	result = append(result, opts.Sort...)
	if len(result) == 0 && search != nil {
		result = append(result, search.Sort...)
	}
	return result
}

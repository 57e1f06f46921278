// Package restfilter compiles FindOptions into the body of a REST search
// request: nested filter conditions, scopes, aggregates, search, group and
// sort, with pagination and trash flags as query parameters.
package restfilter

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/samber/lo"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
	"github.com/theplant/datastore/transport"
)

const ActionSearch = "search"

// ParamNames names the request parameters and body keys. Empty fields keep
// their default.
type ParamNames struct {
	Page       string
	Limit      string
	Search     string
	Filters    string
	Group      string
	Sort       string
	Scopes     string
	Aggregates string
}

var DefaultParamNames = ParamNames{
	Page:       "page",
	Limit:      "limit",
	Search:     "search",
	Filters:    "filters",
	Group:      "group",
	Sort:       "sort",
	Scopes:     "scopes",
	Aggregates: "aggregates",
}

var operators = map[filter.Operator]string{
	filter.OpEq:          "=",
	filter.OpGt:          ">",
	filter.OpGte:         ">=",
	filter.OpLt:          "<",
	filter.OpLte:         "<=",
	filter.OpNeq:         "!=",
	filter.OpContains:    "like",
	filter.OpNotContains: "not like",
	filter.OpStartsWith:  "like",
	filter.OpEndsWith:    "like",
	filter.OpIn:          "in",
	filter.OpNotIn:       "not in",
	filter.OpCustom:      "custom",
}

var resolvers = map[filter.Operator]func(value any) any{
	filter.OpEq:          identity,
	filter.OpGt:          identity,
	filter.OpGte:         identity,
	filter.OpLt:          identity,
	filter.OpLte:         identity,
	filter.OpNeq:         identity,
	filter.OpContains:    pattern,
	filter.OpNotContains: pattern,
	filter.OpStartsWith:  pattern,
	filter.OpEndsWith:    pattern,
	filter.OpIn:          identity,
	filter.OpNotIn:       identity,
	filter.OpCustom:      identity,
}

var whitespace = regexp.MustCompile(`\s+`)

func identity(value any) any { return value }

// pattern turns free text into a LIKE pattern by joining its words with %.
func pattern(value any) any {
	return Normalize(value)
}

// Normalize trims text values and replaces internal whitespace runs with %.
// Other values are returned unchanged.
func Normalize(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	return whitespace.ReplaceAllString(strings.TrimSpace(s), "%")
}

type Option func(*Transformer)

func WithParamNames(names ParamNames) Option {
	return func(t *Transformer) {
		t.names = ParamNames{
			Page:       lo.CoalesceOrEmpty(names.Page, DefaultParamNames.Page),
			Limit:      lo.CoalesceOrEmpty(names.Limit, DefaultParamNames.Limit),
			Search:     lo.CoalesceOrEmpty(names.Search, DefaultParamNames.Search),
			Filters:    lo.CoalesceOrEmpty(names.Filters, DefaultParamNames.Filters),
			Group:      lo.CoalesceOrEmpty(names.Group, DefaultParamNames.Group),
			Sort:       lo.CoalesceOrEmpty(names.Sort, DefaultParamNames.Sort),
			Scopes:     lo.CoalesceOrEmpty(names.Scopes, DefaultParamNames.Scopes),
			Aggregates: lo.CoalesceOrEmpty(names.Aggregates, DefaultParamNames.Aggregates),
		}
	}
}

// WithComplexityLimits rejects filters exceeding limits.
func WithComplexityLimits(limits *filter.ComplexityLimits) Option {
	return func(t *Transformer) {
		t.limits = limits
	}
}

// Transformer is immutable after New and safe for concurrent use.
type Transformer struct {
	names  ParamNames
	limits *filter.ComplexityLimits
}

func New(opts ...Option) *Transformer {
	t := &Transformer{names: DefaultParamNames}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Execute compiles opts into a search request. Nil or empty options produce
// a bare search request listing everything.
func (t *Transformer) Execute(opts *datastore.FindOptions) (*transport.Request, error) {
	req := &transport.Request{Method: http.MethodPost, Action: ActionSearch}
	if opts.IsZero() {
		return req, nil
	}

	g, err := filter.Parse(opts.Filter)
	if err != nil {
		return nil, err
	}
	g, sentinels := g.Partition(filter.WithTrashed, filter.OnlyTrashed)
	if err := filter.CheckComplexity(g, t.limits); err != nil {
		return nil, err
	}

	params := map[string]any{}
	if opts.Limit != nil && *opts.Limit > 0 && opts.Skip != nil {
		params[t.names.Limit] = *opts.Limit
		params[t.names.Page] = *opts.Skip / *opts.Limit + 1
	}
	if sentinels[filter.WithTrashed].IsTrue() {
		params[filter.WithTrashed] = true
	}
	if sentinels[filter.OnlyTrashed].IsTrue() {
		params[filter.OnlyTrashed] = true
	}
	for k, v := range opts.Params {
		if lo.IsNil(v) {
			delete(params, k)
			continue
		}
		params[k] = v
	}

	data := map[string]any{}
	if filters := t.buildGroup(g); len(filters) > 0 {
		data[t.names.Filters] = filters
	}
	if len(opts.Sort) > 0 {
		data[t.names.Sort] = lo.Map(opts.Sort, func(s datastore.Sort, _ int) map[string]any {
			return map[string]any{"field": s.Selector, "direction": lo.Ternary(s.Desc, "desc", "asc")}
		})
	}
	if len(opts.Scopes) > 0 {
		data[t.names.Scopes] = lo.Map(opts.Scopes, func(s datastore.Scope, _ int) map[string]any {
			return map[string]any{"name": s.Name, "parameters": filter.ToList(s.Parameters)}
		})
	}
	if len(opts.Aggregates) > 0 {
		aggregates, err := t.buildAggregates(opts.Aggregates)
		if err != nil {
			return nil, err
		}
		data[t.names.Aggregates] = aggregates
	}
	if search, ok := searchValue(opts.Search); ok {
		data[t.names.Search] = map[string]any{"value": search}
	}
	if len(opts.Group) > 0 {
		data[t.names.Group] = lo.Map(opts.Group, func(g datastore.Group, _ int) string {
			return g.Selector
		})
	}

	if len(params) > 0 {
		req.Params = params
	}
	if len(data) > 0 {
		req.Data = data
	}
	return req, nil
}

// BuildFilter compiles a compact filter into the list of conditions sent as
// the filters of a search body.
func (t *Transformer) BuildFilter(compact []any) ([]any, error) {
	g, err := filter.Parse(compact)
	if err != nil {
		return nil, err
	}
	return t.buildGroup(g), nil
}

func (t *Transformer) buildGroup(g *filter.Group) []any {
	if g.Len() == 0 {
		return nil
	}
	result := make([]any, 0, len(g.Terms))
	for _, term := range g.Terms {
		var condition map[string]any
		switch e := term.Expr.(type) {
		case *filter.Leaf:
			condition = buildCondition(e)
		case *filter.Group:
			condition = map[string]any{"nested": t.buildGroup(e)}
		}
		if term.Logic != "" {
			condition["type"] = string(term.Logic)
		}
		result = append(result, condition)
	}
	return result
}

// buildCondition relies on Parse having rejected unknown operators.
func buildCondition(leaf *filter.Leaf) map[string]any {
	value := leaf.Value
	if filter.IsNull(value) {
		value = nil
	} else {
		value = resolvers[leaf.Operator](value)
	}
	return map[string]any{
		"field":    leaf.Field,
		"operator": operators[leaf.Operator],
		"value":    value,
	}
}

func (t *Transformer) buildAggregates(aggregates []datastore.Aggregate) ([]any, error) {
	result := make([]any, 0, len(aggregates))
	for _, a := range aggregates {
		aggregate := map[string]any{}
		if a.Relation != "" {
			aggregate["relation"] = a.Relation
		}
		if a.Type != "" {
			aggregate["type"] = a.Type
		}
		if a.Field != "" {
			aggregate["field"] = a.Field
		}
		filters, err := t.BuildFilter(a.Filters)
		if err != nil {
			return nil, err
		}
		if len(filters) > 0 {
			aggregate["filters"] = filters
		}
		result = append(result, aggregate)
	}
	return result, nil
}

func searchValue(search any) (any, bool) {
	if lo.IsNil(search) {
		return nil, false
	}
	if s, ok := search.(string); ok {
		normalized := Normalize(s).(string)
		return normalized, normalized != ""
	}
	return search, fmt.Sprint(search) != ""
}

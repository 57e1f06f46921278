// Package selectorfilter compiles FindOptions into a document-database
// selector with case-insensitive regex search conditions.
package selectorfilter

import (
	"fmt"
	"regexp"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/theplant/datastore"
	"github.com/theplant/datastore/filter"
)

const (
	Asc  = "asc"
	Desc = "desc"
)

// Query is a compiled selector query. Sort values are Asc or Desc.
type Query struct {
	Selector bson.D `json:"selector,omitempty" bson:"selector,omitempty"`
	Sort     bson.D `json:"sort,omitempty" bson:"sort,omitempty"`
	Limit    *int   `json:"limit,omitempty" bson:"limit,omitempty"`
	Skip     *int   `json:"skip,omitempty" bson:"skip,omitempty"`
}

var logics = map[filter.Logic]string{
	filter.And: "$and",
	filter.Or:  "$or",
}

var operators = map[filter.Operator]string{
	filter.OpGt:    "$gt",
	filter.OpGte:   "$gte",
	filter.OpLt:    "$lt",
	filter.OpLte:   "$lte",
	filter.OpNeq:   "$ne",
	filter.OpIn:    "$in",
	filter.OpNotIn: "$nin",
}

var patterns = map[filter.Operator]string{
	filter.OpContains:    ".*%s.*",
	filter.OpNotContains: ".*%s.*",
	filter.OpStartsWith:  "^%s.*",
	filter.OpEndsWith:    ".*%s$",
}

// Transformer is immutable after New and safe for concurrent use.
type Transformer struct {
	search *datastore.SearchConfig
}

// New returns a transformer searching the fields of search. A nil search
// disables free-text search and default sorting.
func New(search *datastore.SearchConfig) *Transformer {
	return &Transformer{search: search}
}

// Execute compiles opts. Nil options yield a nil query and empty options an
// empty one.
func (t *Transformer) Execute(opts *datastore.FindOptions) (*Query, error) {
	if opts == nil {
		return nil, nil
	}

	g, err := filter.Parse(opts.Filter)
	if err != nil {
		return nil, err
	}
	g = joinAnd(g, t.searchGroup(opts.Search))

	selector, err := Compile(g)
	if err != nil {
		return nil, err
	}

	q := &Query{
		Selector: selector,
		Limit:    opts.Limit,
		Skip:     opts.Skip,
	}
	for _, s := range datastore.OrderedSort(opts, t.search) {
		q.Sort = append(q.Sort, bson.E{Key: s.Selector, Value: lo.Ternary(s.Desc, Desc, Asc)})
	}
	return q, nil
}

// Selector compiles a compact filter alone.
func (t *Transformer) Selector(compact []any) (bson.D, error) {
	g, err := filter.Parse(compact)
	if err != nil {
		return nil, err
	}
	return Compile(g)
}

// Compile turns g into a selector document. A nil group yields a nil
// selector.
func Compile(g *filter.Group) (bson.D, error) {
	return filter.Fold(g, compileExpr, combine)
}

func compileExpr(expr filter.Expr) (bson.D, error) {
	switch e := expr.(type) {
	case *filter.Leaf:
		return compileLeaf(e)
	case *filter.Group:
		return Compile(e)
	}
	return nil, errors.Errorf("unexpected expression %T", expr)
}

func combine(logic filter.Logic, operands []bson.D) bson.D {
	list := make(bson.A, 0, len(operands))
	for _, operand := range operands {
		list = append(list, operand)
	}
	return bson.D{{Key: logics[logic], Value: list}}
}

func compileLeaf(leaf *filter.Leaf) (bson.D, error) {
	value := leaf.Value
	if filter.IsNull(value) {
		value = nil
	}

	switch {
	case leaf.Operator == filter.OpEq || leaf.Operator == filter.OpCustom:
		return bson.D{{Key: leaf.Field, Value: value}}, nil
	case leaf.Operator.IsPattern():
		if !filter.IsScalar(value) {
			return nil, &filter.SyntaxError{
				Path:   leaf.Field,
				Reason: fmt.Sprintf("operator %q needs a scalar value, got %T", leaf.Operator, value),
			}
		}
		regex := primitive.Regex{
			Pattern: fmt.Sprintf(patterns[leaf.Operator], regexp.QuoteMeta(fmt.Sprint(value))),
			Options: "i",
		}
		if leaf.Operator == filter.OpNotContains {
			return bson.D{{Key: leaf.Field, Value: bson.D{{Key: "$not", Value: regex}}}}, nil
		}
		return bson.D{{Key: leaf.Field, Value: bson.D{{Key: "$regex", Value: regex}}}}, nil
	}

	op, ok := operators[leaf.Operator]
	if !ok {
		return nil, &filter.OperatorError{Operator: string(leaf.Operator)}
	}
	if leaf.Operator == filter.OpIn || leaf.Operator == filter.OpNotIn {
		value = bson.A(filter.ToList(value))
	}
	return bson.D{{Key: leaf.Field, Value: bson.D{{Key: op, Value: value}}}}, nil
}

// searchGroup ORs one condition per search field. Text fields match the
// value anywhere, other fields must equal it.
func (t *Transformer) searchGroup(search any) *filter.Group {
	if t.search == nil || len(t.search.Fields) == 0 || lo.IsNil(search) || search == "" {
		return nil
	}
	g := &filter.Group{}
	for i, field := range t.search.Fields {
		leaf := &filter.Leaf{Field: field.Name, Operator: filter.OpEq, Value: search}
		if field.IsText() {
			leaf.Operator = filter.OpContains
		}
		term := filter.Term{Expr: leaf}
		if i > 0 {
			term.Logic = filter.Or
		}
		g.Terms = append(g.Terms, term)
	}
	return g
}

func joinAnd(groups ...*filter.Group) *filter.Group {
	groups = lo.Filter(groups, func(g *filter.Group, _ int) bool {
		return g.Len() > 0
	})
	switch len(groups) {
	case 0:
		return nil
	case 1:
		return groups[0]
	}
	result := &filter.Group{}
	for i, g := range groups {
		term := filter.Term{Expr: g}
		if i > 0 {
			term.Logic = filter.And
		}
		result.Terms = append(result.Terms, term)
	}
	return result
}

package filter

import (
	"sort"

	"github.com/samber/lo"
)

// Pseudo fields recognized at the top level of a filter. They select
// soft-deleted records instead of comparing a column.
const (
	WithTrashed = "with_trashed"
	OnlyTrashed = "only_trashed"
)

// Partition returns a copy of g without the top-level leaves on fields,
// together with the removed leaves keyed by field. Only the first leaf of
// each field is reported. g is left untouched.
func (g *Group) Partition(fields ...string) (*Group, map[string]*Leaf) {
	found := map[string]*Leaf{}
	if g == nil {
		return nil, found
	}
	rest := &Group{}
	for _, term := range g.Terms {
		if leaf, ok := term.Expr.(*Leaf); ok && lo.Contains(fields, leaf.Field) {
			if _, seen := found[leaf.Field]; !seen {
				found[leaf.Field] = leaf
			}
			continue
		}
		if len(rest.Terms) == 0 {
			term.Logic = ""
		}
		rest.Terms = append(rest.Terms, term)
	}
	if len(rest.Terms) == 0 {
		return nil, found
	}
	return rest, found
}

// IsTrue reports whether the leaf compares with the boolean literal true.
func (l *Leaf) IsTrue() bool {
	if l == nil {
		return false
	}
	b, ok := l.Value.(bool)
	return ok && b
}

// Join ANDs several compact filters into one compact forest. Empty filters
// are skipped.
func Join(compacts ...[]any) []any {
	parts := lo.Filter(compacts, func(c []any, _ int) bool {
		return len(c) > 0
	})
	switch len(parts) {
	case 0:
		return nil
	case 1:
		return parts[0]
	}
	result := make([]any, 0, len(parts)*2-1)
	for i, part := range parts {
		if i > 0 {
			result = append(result, string(And))
		}
		result = append(result, part)
	}
	return result
}

// Equals builds a compact forest of equality conditions ANDed together, in
// key order. Nil values are skipped.
func Equals(values map[string]any) []any {
	keys := lo.Keys(values)
	sort.Strings(keys)
	var result []any
	for _, key := range keys {
		if lo.IsNil(values[key]) {
			continue
		}
		if len(result) > 0 {
			result = append(result, string(And))
		}
		result = append(result, []any{key, string(OpEq), values[key]})
	}
	return result
}

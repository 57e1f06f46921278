package filter

import (
	"fmt"
	"reflect"

	"github.com/samber/lo"
)

// Parse converts the compact notation into a Group.
//
//	["active", "=", true]                                   a single leaf
//	[["id", "=", 1], "and", ["name", "=", "Bill"]]          a forest
//	[["id", "=", 1], "or", [["a", ">", 1], ["b", "<", 2]]]  a nested group
//
// A logic token applies to the next element only. Leaves without a value, or
// with a nil value, are dropped, and groups left empty disappear. Parse
// returns nil when nothing remains.
func Parse(compact []any) (*Group, error) {
	if len(compact) == 0 {
		return nil, nil
	}
	if isLeafTuple(compact) {
		compact = []any{compact}
	}
	return parseGroup(compact, "$")
}

// MustParse is like Parse but panics on error.
func MustParse(compact []any) *Group {
	g, err := Parse(compact)
	if err != nil {
		panic(err)
	}
	return g
}

func isLeafTuple(list []any) bool {
	s, ok := list[0].(string)
	if !ok {
		return false
	}
	_, isLogic := parseLogic(s)
	return !isLogic
}

func parseGroup(list []any, path string) (*Group, error) {
	g := &Group{}
	var pending Logic
	for i, element := range list {
		elementPath := fmt.Sprintf("%s[%d]", path, i)

		if s, ok := element.(string); ok {
			logic, ok := parseLogic(s)
			if !ok {
				return nil, &SyntaxError{Path: elementPath, Reason: fmt.Sprintf("unexpected token %q", s)}
			}
			pending = logic
			continue
		}

		items, ok := asList(element)
		if !ok {
			return nil, &SyntaxError{Path: elementPath, Reason: fmt.Sprintf("expected a condition or a group, got %T", element)}
		}

		var expr Expr
		if len(items) > 0 && !isLeafTuple(items) {
			sub, err := parseGroup(items, elementPath)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				expr = sub
			}
		} else if len(items) > 0 {
			leaf, err := parseLeaf(items, elementPath)
			if err != nil {
				return nil, err
			}
			if leaf != nil {
				expr = leaf
			}
		}

		if expr != nil {
			logic := pending
			if len(g.Terms) == 0 {
				logic = ""
			}
			g.Terms = append(g.Terms, Term{Logic: logic, Expr: expr})
		}
		pending = ""
	}
	if len(g.Terms) == 0 {
		return nil, nil
	}
	return g, nil
}

func parseLeaf(items []any, path string) (*Leaf, error) {
	if len(items) < 2 || len(items) > 3 {
		return nil, &SyntaxError{Path: path, Reason: fmt.Sprintf("a condition has 3 elements, got %d", len(items))}
	}
	field := items[0].(string)
	op, ok := items[1].(string)
	if !ok {
		return nil, &SyntaxError{Path: path, Reason: fmt.Sprintf("operator must be a string, got %T", items[1])}
	}
	if !Operator(op).Valid() {
		return nil, &OperatorError{Operator: op}
	}
	if len(items) == 2 || lo.IsNil(items[2]) {
		return nil, nil
	}
	return &Leaf{Field: field, Operator: Operator(op), Value: items[2]}, nil
}

// asList returns v as []any when it is a slice or an array. Byte slices are
// values, not lists.
func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []byte, nil:
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list, true
}

// ToList returns v as a list. Values that are not slices become a
// one-element list.
func ToList(v any) []any {
	if list, ok := asList(v); ok {
		return list
	}
	return []any{v}
}

// IsScalar reports whether v is not a list or a map. Byte slices are scalar.
func IsScalar(v any) bool {
	if v == nil {
		return true
	}
	switch reflect.Indirect(reflect.ValueOf(v)).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		_, isBytes := v.([]byte)
		return isBytes
	}
	return true
}

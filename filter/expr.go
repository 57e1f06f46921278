package filter

// Expr is either a *Leaf or a *Group.
type Expr interface {
	isExpr()
}

type Leaf struct {
	Field    string
	Operator Operator
	Value    any
}

// Group is an ordered list of terms. The logic of a term joins it to the
// terms before it; the first term never carries one. An empty Logic on a
// later term means And.
type Group struct {
	Terms []Term
}

type Term struct {
	Logic Logic
	Expr  Expr
}

func (*Leaf) isExpr()  {}
func (*Group) isExpr() {}

func (g *Group) Len() int {
	if g == nil {
		return 0
	}
	return len(g.Terms)
}

// Walk calls fn for every leaf of g, depth first.
func (g *Group) Walk(fn func(leaf *Leaf)) {
	if g == nil {
		return
	}
	for _, term := range g.Terms {
		switch e := term.Expr.(type) {
		case *Leaf:
			fn(e)
		case *Group:
			e.Walk(fn)
		}
	}
}

// Fold compiles the terms of g and combines them left to right. Consecutive
// terms with the same logic are combined into a single operand list. When
// the logic changes, everything built so far becomes the first operand of the
// next combination. A group with one term yields that term unwrapped.
func Fold[T any](g *Group, compile func(expr Expr) (T, error), combine func(logic Logic, operands []T) T) (T, error) {
	var zero T
	if g.Len() == 0 {
		return zero, nil
	}

	var (
		operands []T
		current  Logic
	)
	for i, term := range g.Terms {
		compiled, err := compile(term.Expr)
		if err != nil {
			return zero, err
		}
		if i == 0 {
			operands = []T{compiled}
			continue
		}
		logic := term.Logic
		if logic == "" {
			logic = And
		}
		if current == "" {
			current = logic
		}
		if logic != current {
			operands = []T{combine(current, operands)}
			current = logic
		}
		operands = append(operands, compiled)
	}

	if len(operands) == 1 {
		return operands[0], nil
	}
	return combine(current, operands), nil
}

package gormfilter

import (
	"gorm.io/gorm/clause"
)

// Not negates expr. Expressions that know their own negation, such as IN and
// LIKE, build it themselves (NOT IN, NOT LIKE). Anything else is wrapped as
// NOT (expr).
//
// Unlike clause.Not, a compound AND is never split into separately negated
// parts. See: https://github.com/go-gorm/gorm/pull/7371
func Not(expr clause.Expression) clause.Expression {
	if expr == nil {
		return nil
	}
	return notExpr{expr: expr}
}

type notExpr struct {
	expr clause.Expression
}

func (not notExpr) Build(builder clause.Builder) {
	if negation, ok := not.expr.(clause.NegationExpressionBuilder); ok {
		negation.NegationBuild(builder)
		return
	}
	_, _ = builder.WriteString("NOT (")
	not.expr.Build(builder)
	_ = builder.WriteByte(')')
}

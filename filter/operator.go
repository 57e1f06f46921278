package filter

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// Operator is a comparison operator of a leaf condition.
type Operator string

const (
	OpEq          Operator = "="
	OpGt          Operator = ">"
	OpGte         Operator = ">="
	OpLt          Operator = "<"
	OpLte         Operator = "<="
	OpNeq         Operator = "<>"
	OpContains    Operator = "contains"
	OpNotContains Operator = "notcontains"
	OpStartsWith  Operator = "startswith"
	OpEndsWith    Operator = "endswith"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not in"
	OpCustom      Operator = "custom"
)

// Operators lists every supported operator.
var Operators = []Operator{
	OpEq, OpGt, OpGte, OpLt, OpLte, OpNeq,
	OpContains, OpNotContains, OpStartsWith, OpEndsWith,
	OpIn, OpNotIn, OpCustom,
}

func (o Operator) Valid() bool {
	return lo.Contains(Operators, o)
}

// IsPattern reports whether o matches text against a pattern.
func (o Operator) IsPattern() bool {
	switch o {
	case OpContains, OpNotContains, OpStartsWith, OpEndsWith:
		return true
	}
	return false
}

// Logic combines a term with the terms before it.
type Logic string

const (
	And Logic = "and"
	Or  Logic = "or"
)

func parseLogic(s string) (Logic, bool) {
	switch Logic(strings.ToLower(s)) {
	case And:
		return And, true
	case Or:
		return Or, true
	}
	return "", false
}

// NullValue compares a field with null. A Go nil value means the condition
// is absent, so an explicit null comparison uses Null.
type NullValue struct{}

var Null = NullValue{}

func IsNull(v any) bool {
	_, ok := v.(NullValue)
	return ok
}

var ErrInvalidOperator = errors.New("invalid operator")

type OperatorError struct {
	Operator string
}

func (e *OperatorError) Error() string {
	return fmt.Sprintf("the operator %q is invalid", e.Operator)
}

func (e *OperatorError) Is(target error) bool {
	return target == ErrInvalidOperator
}

// SyntaxError reports a malformed element of the compact notation.
type SyntaxError struct {
	Path   string
	Reason string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("invalid filter at %s: %s", e.Path, e.Reason)
}

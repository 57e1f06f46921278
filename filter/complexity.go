package filter

import (
	"github.com/pkg/errors"
)

// ComplexityLimits defines limits for filter complexity.
// A value of 0 means no limit for that metric.
type ComplexityLimits struct {
	MaxDepth            int // Maximum nesting depth of groups
	MaxTotalFields      int // Maximum total number of leaf conditions
	MaxLogicalOperators int // Maximum number of and/or joins between terms
	MaxOrBranches       int // Maximum operands of a single or run
}

// ComplexityResult contains the calculated complexity metrics of a filter.
type ComplexityResult struct {
	Depth            int // Deepest group nesting reached
	TotalFields      int // Total number of leaf conditions
	LogicalOperators int // Total number of and/or joins between terms
	OrBranches       int // Maximum operands found in any or run
}

// Predefined complexity limits
var (
	// DefaultLimits provides reasonable defaults for most use cases.
	DefaultLimits = &ComplexityLimits{
		MaxDepth:            3,
		MaxTotalFields:      10,
		MaxLogicalOperators: 9,
		MaxOrBranches:       4,
	}

	// StrictLimits provides tighter limits for security-sensitive contexts.
	StrictLimits = &ComplexityLimits{
		MaxDepth:            2,
		MaxTotalFields:      5,
		MaxLogicalOperators: 4,
		MaxOrBranches:       2,
	}

	// RelaxedLimits provides looser limits for trusted/internal use.
	RelaxedLimits = &ComplexityLimits{
		MaxDepth:            5,
		MaxTotalFields:      20,
		MaxLogicalOperators: 19,
		MaxOrBranches:       8,
	}
)

// CheckComplexity validates that a filter doesn't exceed the specified limits.
// Returns an error describing which limit was exceeded, or nil if within limits.
// If limits is nil, no validation is performed.
func CheckComplexity(g *Group, limits *ComplexityLimits) error {
	if limits == nil {
		return nil
	}

	result := CalculateComplexity(g)

	if limits.MaxDepth > 0 && result.Depth > limits.MaxDepth {
		return errors.Errorf("filter depth %d exceeds limit %d", result.Depth, limits.MaxDepth)
	}
	if limits.MaxTotalFields > 0 && result.TotalFields > limits.MaxTotalFields {
		return errors.Errorf("filter field count %d exceeds limit %d", result.TotalFields, limits.MaxTotalFields)
	}
	if limits.MaxLogicalOperators > 0 && result.LogicalOperators > limits.MaxLogicalOperators {
		return errors.Errorf("filter logical operator count %d exceeds limit %d", result.LogicalOperators, limits.MaxLogicalOperators)
	}
	if limits.MaxOrBranches > 0 && result.OrBranches > limits.MaxOrBranches {
		return errors.Errorf("filter or branches %d exceeds limit %d", result.OrBranches, limits.MaxOrBranches)
	}

	return nil
}

// CalculateComplexity analyzes a filter and returns its complexity metrics.
// A nil filter has depth 0.
func CalculateComplexity(g *Group) *ComplexityResult {
	result := &ComplexityResult{}
	calculateComplexityRecursive(g, 1, result)
	return result
}

func calculateComplexityRecursive(g *Group, depth int, result *ComplexityResult) {
	if g.Len() == 0 {
		return
	}
	if depth > result.Depth {
		result.Depth = depth
	}

	orRun := 0
	for i, term := range g.Terms {
		if i > 0 {
			result.LogicalOperators++
			if term.Logic == Or {
				orRun++
				if orRun+1 > result.OrBranches {
					result.OrBranches = orRun + 1
				}
			} else {
				orRun = 0
			}
		}

		switch e := term.Expr.(type) {
		case *Leaf:
			result.TotalFields++
		case *Group:
			calculateComplexityRecursive(e, depth+1, result)
		}
	}
}

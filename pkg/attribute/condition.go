package attribute

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-entropy/pkg/apperrors"
)

// Operator is a condition comparison.
type Operator string

const (
	OpEqual     Operator = "equal"
	OpLess      Operator = "less"
	OpLessEqual Operator = "less_equal"
	OpMore      Operator = "more"
	OpMoreEqual Operator = "more_equal"
	OpBetween   Operator = "between"
)

var operators = map[Operator]bool{
	OpEqual: true, OpLess: true, OpLessEqual: true, OpMore: true, OpMoreEqual: true, OpBetween: true,
}

// ParseOperator accepts an operator tag. An empty tag means equal.
func ParseOperator(s string) (Operator, error) {
	if s == "" {
		return OpEqual, nil
	}
	op := Operator(strings.ToLower(strings.TrimSpace(s)))
	if !operators[op] {
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedOperator, s)
	}
	return op, nil
}

// Arity is the number of operands the operator takes.
func (o Operator) Arity() int {
	if o == OpBetween {
		return 2
	}
	return 1
}

// Condition restricts a run to rows whose binned field matches its operands.
type Condition struct {
	Attribute *Attribute
	Operator  Operator
	Values    []string
}

// NewCondition returns an equality condition with no operand yet.
func NewCondition(a *Attribute) *Condition {
	return &Condition{Attribute: a, Operator: OpEqual}
}

// IsComplete reports whether the condition has exactly the operands its operator needs.
func (c *Condition) IsComplete() bool {
	if len(c.Values) != c.Operator.Arity() {
		return false
	}
	for _, v := range c.Values {
		if strings.TrimSpace(v) == "" {
			return false
		}
	}
	return true
}

// Compile renders the predicate. Only equal and between have a compiled form.
func (c *Condition) Compile() (string, error) {
	if !c.Attribute.IsResolved() {
		return "", fmt.Errorf("condition on %s: %w", c.Attribute.Name, apperrors.ErrNotFound)
	}
	if !c.IsComplete() {
		return "", fmt.Errorf("condition on %s needs %d value(s): %w",
			c.Attribute.Name, c.Operator.Arity(), apperrors.ErrConfigurationIncomplete)
	}

	operands := make([]string, len(c.Values))
	for i, v := range c.Values {
		expr, err := c.Attribute.BinExpressionForLiteral(v)
		if err != nil {
			return "", err
		}
		operands[i] = expr
	}

	lhs := c.Attribute.WhereExpression()
	switch c.Operator {
	case OpEqual:
		return fmt.Sprintf("%s = %s", lhs, operands[0]), nil
	case OpBetween:
		return fmt.Sprintf("%s BETWEEN %s AND %s", lhs, operands[0], operands[1]), nil
	default:
		return "", fmt.Errorf("%w: %s", apperrors.ErrUnsupportedOperator, c.Operator)
	}
}

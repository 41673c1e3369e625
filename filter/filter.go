// Package filter defines the recursive filter tree used to scope reads,
// writes and access-control filters.
//
// A filter is a tagged variant rather than an untyped nested mapping:
// scalar conditions, the AND/OR/NOT combinators and the relation
// quantifiers are distinct node types, so traversals can type-switch
// exhaustively and new operator kinds are a compile-time-checked
// addition.
package filter

import (
	"fmt"
	"sort"
	"strings"
)

// Expr is a node in a filter tree.
type Expr interface {
	fmt.Stringer
	expr()
}

// Operator is a scalar comparison operator applied to a single field.
type Operator string

// Scalar operators.
const (
	OpEQ         Operator = "equals"
	OpNEQ        Operator = "not"
	OpLT         Operator = "lt"
	OpLTE        Operator = "lte"
	OpGT         Operator = "gt"
	OpGTE        Operator = "gte"
	OpIn         Operator = "in"
	OpNotIn      Operator = "notIn"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpIsNull     Operator = "isNull"
)

// Quantifier selects how a relation filter applies to related records.
type Quantifier string

// Relation quantifiers. QuantIs applies a nested filter to a to-one
// relation; the others quantify over to-many relations.
const (
	QuantIs    Quantifier = "is"
	QuantSome  Quantifier = "some"
	QuantNone  Quantifier = "none"
	QuantEvery Quantifier = "every"
)

type (
	// Cond is a scalar condition on a single field.
	Cond struct {
		Field string
		Op    Operator
		Value any
	}

	// AndExpr matches records satisfying every child.
	AndExpr struct {
		Children []Expr
	}

	// OrExpr matches records satisfying at least one child.
	OrExpr struct {
		Children []Expr
	}

	// NotExpr matches records satisfying none of the children.
	NotExpr struct {
		Children []Expr
	}

	// RelExpr applies a nested filter, evaluated against the related
	// entity's schema, to a relation field.
	RelExpr struct {
		Field string
		Quant Quantifier
		Child Expr
	}
)

func (*Cond) expr()    {}
func (*AndExpr) expr() {}
func (*OrExpr) expr()  {}
func (*NotExpr) expr() {}
func (*RelExpr) expr() {}

// Where returns a scalar condition node.
func Where(field string, op Operator, value any) *Cond {
	return &Cond{Field: field, Op: op, Value: value}
}

// EQ returns a field == value condition.
func EQ(field string, value any) *Cond { return Where(field, OpEQ, value) }

// NEQ returns a field != value condition.
func NEQ(field string, value any) *Cond { return Where(field, OpNEQ, value) }

// LT returns a field < value condition.
func LT(field string, value any) *Cond { return Where(field, OpLT, value) }

// LTE returns a field <= value condition.
func LTE(field string, value any) *Cond { return Where(field, OpLTE, value) }

// GT returns a field > value condition.
func GT(field string, value any) *Cond { return Where(field, OpGT, value) }

// GTE returns a field >= value condition.
func GTE(field string, value any) *Cond { return Where(field, OpGTE, value) }

// In returns a field-in-set condition.
func In(field string, values ...any) *Cond { return Where(field, OpIn, values) }

// NotIn returns a field-not-in-set condition.
func NotIn(field string, values ...any) *Cond { return Where(field, OpNotIn, values) }

// Contains returns a substring-match condition.
func Contains(field, substr string) *Cond { return Where(field, OpContains, substr) }

// StartsWith returns a prefix-match condition.
func StartsWith(field, prefix string) *Cond { return Where(field, OpStartsWith, prefix) }

// EndsWith returns a suffix-match condition.
func EndsWith(field, suffix string) *Cond { return Where(field, OpEndsWith, suffix) }

// IsNull returns a nullability condition. value selects null (true) or
// not-null (false).
func IsNull(field string, value bool) *Cond { return Where(field, OpIsNull, value) }

// And combines filters so that all must match. And() with no children
// matches everything.
func And(children ...Expr) *AndExpr { return &AndExpr{Children: children} }

// Or combines filters so that at least one must match.
func Or(children ...Expr) *OrExpr { return &OrExpr{Children: children} }

// Not negates the given filters.
func Not(children ...Expr) *NotExpr { return &NotExpr{Children: children} }

// Is applies a nested filter to a to-one relation field.
func Is(field string, child Expr) *RelExpr {
	return &RelExpr{Field: field, Quant: QuantIs, Child: child}
}

// Some matches records with at least one related record matching child.
func Some(field string, child Expr) *RelExpr {
	return &RelExpr{Field: field, Quant: QuantSome, Child: child}
}

// None matches records with no related record matching child.
func None(field string, child Expr) *RelExpr {
	return &RelExpr{Field: field, Quant: QuantNone, Child: child}
}

// Every matches records whose related records all match child.
func Every(field string, child Expr) *RelExpr {
	return &RelExpr{Field: field, Quant: QuantEvery, Child: child}
}

// String returns a stable textual form of the condition.
func (c *Cond) String() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, formatValue(c.Value))
}

// String returns a stable textual form of the conjunction.
func (e *AndExpr) String() string { return joinChildren("&&", e.Children) }

// String returns a stable textual form of the disjunction.
func (e *OrExpr) String() string { return joinChildren("||", e.Children) }

// String returns a stable textual form of the negation.
func (e *NotExpr) String() string {
	return "!" + joinChildren("&&", e.Children)
}

// String returns a stable textual form of the relation filter.
func (e *RelExpr) String() string {
	child := "<nil>"
	if e.Child != nil {
		child = e.Child.String()
	}
	return fmt.Sprintf("%s %s (%s)", e.Field, e.Quant, child)
}

func joinChildren(op string, children []Expr) string {
	parts := make([]string, len(children))
	for i, c := range children {
		parts[i] = c.String()
	}
	return "(" + strings.Join(parts, " "+op+" ") + ")"
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return fmt.Sprintf("%q", v)
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + formatValue(v[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

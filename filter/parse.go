package filter

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Combinator keys in where input.
const (
	keyAnd = "AND"
	keyOr  = "OR"
	keyNot = "NOT"
)

// quantifierKeys maps where-input keys to relation quantifiers.
var quantifierKeys = map[string]Quantifier{
	"is":    QuantIs,
	"some":  QuantSome,
	"none":  QuantNone,
	"every": QuantEvery,
}

// operatorKeys are the condition keys accepted inside a field clause.
var operatorKeys = map[string]Operator{
	"equals":     OpEQ,
	"not":        OpNEQ,
	"lt":         OpLT,
	"lte":        OpLTE,
	"gt":         OpGT,
	"gte":        OpGTE,
	"in":         OpIn,
	"notIn":      OpNotIn,
	"contains":   OpContains,
	"startsWith": OpStartsWith,
	"endsWith":   OpEndsWith,
	"isNull":     OpIsNull,
}

// ParseJSON decodes a JSON where input into a filter tree. An empty
// document yields nil.
func ParseJSON(data []byte) (Expr, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("filter: invalid where input: %w", err)
	}
	return Parse(m)
}

// Parse converts a decoded where input into a filter tree. The input
// shape mirrors the API surface: combinators take lists of nested
// inputs, fields take either operator clauses or relation quantifiers.
//
//	{"AND": [{"name": {"equals": "x"}}, {"author": {"is": {"age": {"gte": 21}}}}]}
//
// A nil or empty input yields nil. Clauses within one input are
// conjoined.
func Parse(m map[string]any) (Expr, error) {
	if len(m) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Expr
	for _, key := range keys {
		value := m[key]
		switch key {
		case keyAnd, keyOr, keyNot:
			children, err := parseList(key, value)
			if err != nil {
				return nil, err
			}
			switch key {
			case keyAnd:
				parts = append(parts, And(children...))
			case keyOr:
				parts = append(parts, Or(children...))
			default:
				parts = append(parts, Not(children...))
			}
		default:
			clause, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filter: field %q expects an object clause, got %T", key, value)
			}
			expr, err := parseField(key, clause)
			if err != nil {
				return nil, err
			}
			parts = append(parts, expr)
		}
	}
	if len(parts) == 1 {
		return parts[0], nil
	}
	return And(parts...), nil
}

func parseList(key string, value any) ([]Expr, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("filter: %s expects a list, got %T", key, value)
	}
	children := make([]Expr, 0, len(list))
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("filter: %s[%d] expects an object, got %T", key, i, item)
		}
		child, err := Parse(m)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	return children, nil
}

// parseField converts one field clause. Operator keys and quantifier
// keys must not be mixed in one clause.
func parseField(field string, clause map[string]any) (Expr, error) {
	if len(clause) == 0 {
		return nil, fmt.Errorf("filter: field %q has an empty clause", field)
	}
	keys := make([]string, 0, len(clause))
	for k := range clause {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []Expr
	var rels []Expr
	for _, key := range keys {
		value := clause[key]
		if quant, ok := quantifierKeys[key]; ok {
			nested, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("filter: %s.%s expects an object, got %T", field, key, value)
			}
			child, err := Parse(nested)
			if err != nil {
				return nil, err
			}
			rels = append(rels, &RelExpr{Field: field, Quant: quant, Child: child})
			continue
		}
		op, ok := operatorKeys[key]
		if !ok {
			return nil, fmt.Errorf("filter: unknown operator %q on field %q", key, field)
		}
		conds = append(conds, &Cond{Field: field, Op: op, Value: value})
	}
	if len(rels) > 0 && len(conds) > 0 {
		return nil, fmt.Errorf("filter: field %q mixes relation quantifiers with value operators", field)
	}
	all := append(conds, rels...)
	if len(all) == 1 {
		return all[0], nil
	}
	return And(all...), nil
}

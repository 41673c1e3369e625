package memstore

import (
	"fmt"
	"strings"
	"time"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
)

// eval reports whether an item matches a resolved filter. A nil filter
// matches everything.
func (s *Store) eval(ent *schema.Entity, item lattice.Item, where filter.Expr) (bool, error) {
	if where == nil {
		return true, nil
	}
	switch w := where.(type) {
	case *filter.AndExpr:
		for _, child := range w.Children {
			match, err := s.eval(ent, item, child)
			if err != nil || !match {
				return false, err
			}
		}
		return true, nil
	case *filter.OrExpr:
		for _, child := range w.Children {
			match, err := s.eval(ent, item, child)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil
	case *filter.NotExpr:
		for _, child := range w.Children {
			match, err := s.eval(ent, item, child)
			if err != nil {
				return false, err
			}
			if match {
				return false, nil
			}
		}
		return true, nil
	case *filter.Cond:
		return evalCond(item[w.Field], w.Op, w.Value)
	case *filter.RelExpr:
		return s.evalRel(ent, item, w)
	default:
		return false, fmt.Errorf("memstore: unknown filter node %T", where)
	}
}

func (s *Store) evalRel(ent *schema.Entity, item lattice.Item, r *filter.RelExpr) (bool, error) {
	f, ok := ent.Field(r.Field)
	if !ok || f.DB.Kind != schema.KindRelation {
		return false, fmt.Errorf("memstore: %q is not a relation on %q", r.Field, ent.Key)
	}
	target, ok := s.reg.Entity(f.DB.Entity)
	if !ok {
		return false, fmt.Errorf("memstore: unknown relation target %q", f.DB.Entity)
	}
	if r.Quant == filter.QuantIs {
		targetID := idKey(item[f.Key])
		if targetID == "" {
			return false, nil
		}
		related, ok := s.data[target.Key][targetID]
		if !ok {
			return false, nil
		}
		return s.eval(target, related, r.Child)
	}
	// To-many quantifiers scan the target's back-reference column.
	self := idKey(item["id"])
	var anyMatch, allMatch = false, true
	for _, related := range s.data[target.Key] {
		if idKey(related[f.DB.Ref]) != self {
			continue
		}
		match, err := s.eval(target, related, r.Child)
		if err != nil {
			return false, err
		}
		if match {
			anyMatch = true
		} else {
			allMatch = false
		}
	}
	switch r.Quant {
	case filter.QuantSome:
		return anyMatch, nil
	case filter.QuantNone:
		return !anyMatch, nil
	case filter.QuantEvery:
		return allMatch, nil
	default:
		return false, fmt.Errorf("memstore: unknown quantifier %q", r.Quant)
	}
}

func evalCond(have any, op filter.Operator, want any) (bool, error) {
	switch op {
	case filter.OpIsNull:
		wantNull, _ := want.(bool)
		return (have == nil) == wantNull, nil
	case filter.OpIn, filter.OpNotIn:
		values, ok := want.([]any)
		if !ok {
			return false, fmt.Errorf("memstore: %s expects a list of values", op)
		}
		found := false
		for _, v := range values {
			if equalValues(have, v) {
				found = true
				break
			}
		}
		if op == filter.OpIn {
			return found, nil
		}
		return !found, nil
	case filter.OpContains, filter.OpStartsWith, filter.OpEndsWith:
		hs, ok1 := have.(string)
		ws, ok2 := want.(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		switch op {
		case filter.OpContains:
			return strings.Contains(hs, ws), nil
		case filter.OpStartsWith:
			return strings.HasPrefix(hs, ws), nil
		default:
			return strings.HasSuffix(hs, ws), nil
		}
	case filter.OpEQ:
		return equalValues(have, want), nil
	case filter.OpNEQ:
		return !equalValues(have, want), nil
	case filter.OpLT, filter.OpLTE, filter.OpGT, filter.OpGTE:
		if have == nil || want == nil {
			return false, nil
		}
		c := compareValues(have, want)
		switch op {
		case filter.OpLT:
			return c < 0, nil
		case filter.OpLTE:
			return c <= 0, nil
		case filter.OpGT:
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	default:
		return false, fmt.Errorf("memstore: unknown operator %q", op)
	}
}

func equalValues(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Equal(tb)
		}
		return false
	}
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			return na == nb
		}
		return false
	}
	return a == b
}

// compareValues orders two values of the same general type. Nil sorts
// before everything else.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	if na, ok := asFloat(a); ok {
		if nb, ok := asFloat(b); ok {
			switch {
			case na < nb:
				return -1
			case na > nb:
				return 1
			default:
				return 0
			}
		}
	}
	if sa, ok := a.(string); ok {
		if sb, ok := b.(string); ok {
			return strings.Compare(sa, sb)
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			default:
				return 1
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

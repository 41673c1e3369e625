// Package access evaluates the three access-control tiers declared on a
// schema entity: operation rules (coarse allow/deny), filter rules
// (narrowing filters merged into the query), and item rules (per-record
// decisions). It also evaluates the per-field gates authorizing use of a
// field in filters and order-by clauses.
//
// Rule absence always defaults to allowed, and a sudo request context
// bypasses every tier unconditionally.
package access

import (
	"context"
	"fmt"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/schema"
)

// Gate names the per-field authorization being checked.
type Gate string

// Field gates.
const (
	GateFilter  Gate = "filter"
	GateOrderBy Gate = "orderBy"
)

// Evaluator evaluates access rules for entities of a single registry.
// It is stateless and safe for concurrent use.
type Evaluator struct {
	reg *schema.Registry
}

// NewEvaluator returns an evaluator over the given registry.
func NewEvaluator(reg *schema.Registry) *Evaluator {
	return &Evaluator{reg: reg}
}

// OperationAccess evaluates the operation-level rule for the given
// entity and operation kind. A missing rule allows the operation.
func (e *Evaluator) OperationAccess(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, op lattice.Op) (bool, error) {
	if rc.IsSudo() {
		return true, nil
	}
	rule, ok := ent.Access.Operation[op]
	if !ok || rule == nil {
		return true, nil
	}
	allowed, err := rule(ctx, schema.AccessArgs{Entity: ent.Key, Op: op, Request: rc})
	if err != nil {
		return false, fmt.Errorf("access: operation rule for %s %s: %w", op, ent.Key, err)
	}
	return allowed, nil
}

// FilterAccess evaluates the filter-level rule for the given entity and
// operation kind. A missing rule imposes no restriction.
func (e *Evaluator) FilterAccess(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, op lattice.Op) (schema.AccessFilter, error) {
	if rc.IsSudo() {
		return schema.Allow(), nil
	}
	rule, ok := ent.Access.Filter[op]
	if !ok || rule == nil {
		return schema.Allow(), nil
	}
	af, err := rule(ctx, schema.AccessArgs{Entity: ent.Key, Op: op, Request: rc})
	if err != nil {
		return schema.Deny(), fmt.Errorf("access: filter rule for %s %s: %w", op, ent.Key, err)
	}
	return af, nil
}

// ItemAccess evaluates the item-level rule for one concrete record.
// item is the pre-write record (nil for create) and input the proposed
// change (nil for delete). A missing rule allows the operation.
func (e *Evaluator) ItemAccess(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, op lattice.Op, item, input lattice.Item) (bool, error) {
	if rc.IsSudo() {
		return true, nil
	}
	rule, ok := ent.Access.Item[op]
	if !ok || rule == nil {
		return true, nil
	}
	allowed, err := rule(ctx, schema.ItemAccessArgs{
		AccessArgs: schema.AccessArgs{Entity: ent.Key, Op: op, Request: rc},
		Item:       item,
		InputData:  input,
	})
	if err != nil {
		return false, fmt.Errorf("access: item rule for %s %s: %w", op, ent.Key, err)
	}
	return allowed, nil
}

// FieldGate evaluates whether the caller may use the given field in a
// filter or order-by clause. The static Filterable/Orderable flag must
// be set, and the optional dynamic rule, when present, must also allow.
func (e *Evaluator) FieldGate(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, f *schema.Field, gate Gate) (bool, error) {
	if rc.IsSudo() {
		return true, nil
	}
	var (
		static bool
		rule   schema.FieldGateRule
	)
	switch gate {
	case GateFilter:
		static, rule = f.Filterable, f.FilterableRule
	case GateOrderBy:
		static, rule = f.Orderable, f.OrderableRule
	default:
		return false, lattice.NewContractError("unknown field gate %q", gate)
	}
	if !static {
		return false, nil
	}
	if rule == nil {
		return true, nil
	}
	allowed, err := rule(ctx, rc)
	if err != nil {
		return false, fmt.Errorf("access: %s gate for %s.%s: %w", gate, ent.Key, f.Key, err)
	}
	return allowed, nil
}

// FieldAccess evaluates the per-field read/create/update rule for a
// field. A missing rule allows the access.
func (e *Evaluator) FieldAccess(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, f *schema.Field, op lattice.Op, item, input lattice.Item) (bool, error) {
	if rc.IsSudo() {
		return true, nil
	}
	var rule schema.FieldRule
	switch op {
	case lattice.OpQuery:
		rule = f.Access.Read
	case lattice.OpCreate:
		rule = f.Access.Create
	case lattice.OpUpdate:
		rule = f.Access.Update
	default:
		return true, nil
	}
	if rule == nil {
		return true, nil
	}
	allowed, err := rule(ctx, schema.FieldAccessArgs{
		AccessArgs: schema.AccessArgs{Entity: ent.Key, Op: op, Request: rc},
		FieldKey:   f.Key,
		Item:       item,
		InputData:  input,
	})
	if err != nil {
		return false, fmt.Errorf("access: field rule for %s %s.%s: %w", op, ent.Key, f.Key, err)
	}
	return allowed, nil
}

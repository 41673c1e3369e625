package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/access"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
)

// batchConcurrency bounds how many per-item mutations of one batch run
// at once. Writes still serialize at the storage adapter's write gate.
const batchConcurrency = 8

// mutationState is the accumulating context value the pipeline stages
// operate on. Stages run strictly in sequence; no stage observes a
// result from a later stage, and a failure at any authorizing or
// validating stage aborts the pipeline before anything is written.
type mutationState struct {
	ent *schema.Entity
	op  lattice.Op
	rc  *lattice.RequestContext

	// Evaluated once per operation (or once per batch) and carried in.
	opAllowed    bool
	accessFilter schema.AccessFilter

	uniqueWhere UniqueWhere
	input       lattice.Item

	resolved lattice.Item // data about to be written
	item     lattice.Item // pre-image for update/delete
	result   lattice.Item // value returned to the caller
}

type mutationStage func(ctx context.Context, st *mutationState) error

func (e *Engine) runMutation(ctx context.Context, st *mutationState, stages ...mutationStage) (lattice.Item, error) {
	for _, stage := range stages {
		if err := stage(ctx, st); err != nil {
			return nil, err
		}
	}
	e.invalidateCache(ctx, st.ent.Key)
	return st.result, nil
}

// stageAuthorizeOperation fails with an access-denied error when the
// operation-level rule denied the mutation. Unlike list reads, writes
// surface denial explicitly: the caller expects one item or a failure.
func (e *Engine) stageAuthorizeOperation(_ context.Context, st *mutationState) error {
	if !st.opAllowed {
		return lattice.NewAccessDeniedError(st.ent.Key, st.op)
	}
	return nil
}

// stageResolveTarget locates the record an update or delete operates
// on, under the merged access filter. A record that does not exist and
// a record filtered out by access control produce the same error, so
// callers cannot probe for existence.
func (e *Engine) stageResolveTarget(ctx context.Context, st *mutationState) error {
	f, value, err := e.resolveUniqueWhere(ctx, st.rc, st.ent, st.uniqueWhere)
	if err != nil {
		return err
	}
	if err := e.checkFilterOrderAccess(ctx, st.rc, singleRef(fieldRef{ent: st.ent, fieldKey: f.Key}), access.GateFilter); err != nil {
		return err
	}
	if st.accessFilter.Denied() {
		return lattice.NewAccessDeniedError(st.ent.Key, st.op)
	}
	merged, err := e.mergeAccessFilter(ctx, st.rc, st.ent, mapUniqueWhereToWhere(f, value), st.accessFilter)
	if err != nil {
		return err
	}
	item, err := store.Run(ctx, e.storage, st.ent.Key, func(m store.Model) (lattice.Item, error) {
		return m.FindFirst(ctx, store.Query{Where: merged})
	})
	if err != nil {
		return err
	}
	if item == nil {
		return lattice.NewAccessDeniedError(st.ent.Key, st.op)
	}
	st.item = item
	return nil
}

// stageResolveData validates the caller input against the schema,
// checks per-field write access, and produces the data to write.
func (e *Engine) stageResolveData(ctx context.Context, st *mutationState) error {
	resolved := make(lattice.Item, len(st.input)+1)
	for key, value := range st.input {
		f, ok := st.ent.Field(key)
		if !ok {
			return lattice.NewUserInputError("unknown field %q in %s input for entity %q", key, st.op, st.ent.Key)
		}
		if key == "id" && st.op == lattice.OpUpdate {
			return lattice.NewUserInputError("the id field of entity %q cannot be updated", st.ent.Key)
		}
		allowed, err := e.ac.FieldAccess(ctx, st.rc, st.ent, f, st.op, st.item, st.input)
		if err != nil {
			return err
		}
		if !allowed {
			return lattice.NewFieldAccessDeniedError(st.ent.Key, f.Key, st.op.String())
		}
		switch f.DB.Kind {
		case schema.KindScalar:
			resolved[f.Key] = value
		case schema.KindRelation:
			if f.DB.ToMany {
				return lattice.NewUserInputError(
					"to-many relation %s.%s cannot be written directly; write the back-reference on %q",
					st.ent.Key, f.Key, f.DB.Entity,
				)
			}
			resolved[f.Key] = value
		case schema.KindMulti:
			inner, ok := value.(map[string]any)
			if !ok {
				return lattice.NewUserInputError(
					"multi-column field %s.%s expects an object value", st.ent.Key, f.Key)
			}
			declared := make(map[string]bool, len(f.DB.Columns))
			for _, c := range f.DB.Columns {
				declared[c] = true
			}
			for innerKey, innerValue := range inner {
				if !declared[innerKey] {
					return lattice.NewUserInputError(
						"unknown column %q for multi-column field %s.%s", innerKey, st.ent.Key, f.Key)
				}
				resolved[multiColumn(f.Key, innerKey)] = innerValue
			}
		}
	}
	if st.op == lattice.OpCreate {
		if _, ok := resolved["id"]; !ok {
			resolved["id"] = uuid.NewString()
		}
	}
	st.resolved = resolved
	return nil
}

// stageAuthorizeItem evaluates item-level access against the pre-write
// state and, for create and update, the proposed change.
func (e *Engine) stageAuthorizeItem(ctx context.Context, st *mutationState) error {
	allowed, err := e.ac.ItemAccess(ctx, st.rc, st.ent, st.op, st.item, st.input)
	if err != nil {
		return err
	}
	if !allowed {
		return lattice.NewAccessDeniedError(st.ent.Key, st.op)
	}
	return nil
}

// stageValidate runs the entity's validation hook. Every reported error
// is collected and surfaced together before the pipeline aborts.
func (e *Engine) stageValidate(ctx context.Context, st *mutationState) error {
	if st.ent.Hooks.Validate == nil {
		return nil
	}
	errs := st.ent.Hooks.Validate(ctx, e.hookArgs(st, st.item, nil))
	return lattice.NewValidationError(st.ent.Key, st.op, errs...)
}

func (e *Engine) stageBeforeHook(ctx context.Context, st *mutationState) error {
	if st.ent.Hooks.BeforeOperation == nil {
		return nil
	}
	if err := st.ent.Hooks.BeforeOperation(ctx, e.hookArgs(st, st.item, nil)); err != nil {
		return fmt.Errorf("beforeOperation hook for %s %s: %w", st.op, st.ent.Key, err)
	}
	return nil
}

// stageWrite performs the storage write through the adapter's
// write-serialization gate. This is the only stage with side effects on
// the store.
func (e *Engine) stageWrite(ctx context.Context, st *mutationState) error {
	written, err := store.DoT(ctx, e.storage.Gate(), func() (lattice.Item, error) {
		return store.Run(ctx, e.storage, st.ent.Key, func(m store.Model) (lattice.Item, error) {
			switch st.op {
			case lattice.OpCreate:
				return m.Create(ctx, st.resolved)
			case lattice.OpUpdate:
				return m.Update(ctx, st.item["id"], st.resolved)
			case lattice.OpDelete:
				return m.Delete(ctx, st.item["id"])
			default:
				return nil, lattice.NewContractError("operation %s is not a mutation", st.op)
			}
		})
	})
	if err != nil {
		return err
	}
	if st.op == lattice.OpDelete {
		// The caller gets the pre-image back; the record itself is gone.
		st.result = st.item
	} else {
		st.result = written
	}
	return nil
}

// stageAfterHook runs the after-operation hook with both the pre-image
// and the post-image. A nil post-image signals deletion.
func (e *Engine) stageAfterHook(ctx context.Context, st *mutationState) error {
	if st.ent.Hooks.AfterOperation == nil {
		return nil
	}
	var post lattice.Item
	if st.op != lattice.OpDelete {
		post = st.result
	}
	var pre lattice.Item
	if st.op != lattice.OpCreate {
		pre = st.item
	}
	if err := st.ent.Hooks.AfterOperation(ctx, e.hookArgs(st, post, pre)); err != nil {
		return fmt.Errorf("afterOperation hook for %s %s: %w", st.op, st.ent.Key, err)
	}
	return nil
}

func (e *Engine) hookArgs(st *mutationState, item, original lattice.Item) schema.HookArgs {
	return schema.HookArgs{
		Op:           st.op,
		Entity:       st.ent.Key,
		Request:      st.rc,
		Item:         item,
		OriginalItem: original,
		ResolvedData: st.resolved,
		InputData:    st.input,
	}
}

// CreateOne creates a single record. Operation-level denial is an
// explicit access-denied error, never a silent no-op.
func (e *Engine) CreateOne(ctx context.Context, rc *lattice.RequestContext, entity string, data lattice.Item) (lattice.Item, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpCreate)
	if err != nil {
		return nil, err
	}
	return e.createSingle(ctx, rc, ent, data, allowed)
}

// CreateMany creates a batch of records. Operation access is evaluated
// once; each record is then created independently, and one record's
// failure never prevents or rolls back its siblings.
func (e *Engine) CreateMany(ctx context.Context, rc *lattice.RequestContext, entity string, data []lattice.Item) ([]lattice.BatchResult, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpCreate)
	if err != nil {
		return nil, err
	}
	return e.eachBatch(ctx, len(data), func(i int) (lattice.Item, error) {
		return e.createSingle(ctx, rc, ent, data[i], allowed)
	}), nil
}

func (e *Engine) createSingle(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, data lattice.Item, opAllowed bool) (lattice.Item, error) {
	st := &mutationState{ent: ent, op: lattice.OpCreate, rc: rc, opAllowed: opAllowed, input: data}
	return e.runMutation(ctx, st,
		e.stageAuthorizeOperation,
		e.stageResolveData,
		e.stageAuthorizeItem,
		e.stageValidate,
		e.stageBeforeHook,
		e.stageWrite,
		e.stageAfterHook,
	)
}

// UpdateOne updates the record identified by the unique where with the
// given data. Item access is re-checked against the pre-write state
// before the write proceeds with the proposed changes.
func (e *Engine) UpdateOne(ctx context.Context, rc *lattice.RequestContext, entity string, where UniqueWhere, data lattice.Item) (lattice.Item, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpUpdate)
	if err != nil {
		return nil, err
	}
	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpUpdate)
	if err != nil {
		return nil, err
	}
	return e.updateSingle(ctx, rc, ent, where, data, allowed, af)
}

// UpdateManyItem is one element of an UpdateMany batch.
type UpdateManyItem struct {
	Where UniqueWhere
	Data  lattice.Item
}

// UpdateMany updates a batch of records, evaluating operation and
// filter access once and running each per-item mutation independently.
func (e *Engine) UpdateMany(ctx context.Context, rc *lattice.RequestContext, entity string, items []UpdateManyItem) ([]lattice.BatchResult, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpUpdate)
	if err != nil {
		return nil, err
	}
	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpUpdate)
	if err != nil {
		return nil, err
	}
	return e.eachBatch(ctx, len(items), func(i int) (lattice.Item, error) {
		return e.updateSingle(ctx, rc, ent, items[i].Where, items[i].Data, allowed, af)
	}), nil
}

func (e *Engine) updateSingle(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, where UniqueWhere, data lattice.Item, opAllowed bool, af schema.AccessFilter) (lattice.Item, error) {
	st := &mutationState{
		ent: ent, op: lattice.OpUpdate, rc: rc,
		opAllowed: opAllowed, accessFilter: af,
		uniqueWhere: where, input: data,
	}
	return e.runMutation(ctx, st,
		e.stageAuthorizeOperation,
		e.stageResolveTarget,
		e.stageResolveData,
		e.stageAuthorizeItem,
		e.stageValidate,
		e.stageBeforeHook,
		e.stageWrite,
		e.stageAfterHook,
	)
}

// DeleteOne deletes the record identified by the unique where and
// returns its pre-image.
func (e *Engine) DeleteOne(ctx context.Context, rc *lattice.RequestContext, entity string, where UniqueWhere) (lattice.Item, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpDelete)
	if err != nil {
		return nil, err
	}
	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpDelete)
	if err != nil {
		return nil, err
	}
	return e.deleteSingle(ctx, rc, ent, where, allowed, af)
}

// DeleteMany deletes a batch of records identified by unique wheres.
// The batch result preserves input order; a denied or missing record
// yields a per-item error while its siblings still complete.
func (e *Engine) DeleteMany(ctx context.Context, rc *lattice.RequestContext, entity string, wheres []UniqueWhere) ([]lattice.BatchResult, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}
	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpDelete)
	if err != nil {
		return nil, err
	}
	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpDelete)
	if err != nil {
		return nil, err
	}
	return e.eachBatch(ctx, len(wheres), func(i int) (lattice.Item, error) {
		return e.deleteSingle(ctx, rc, ent, wheres[i], allowed, af)
	}), nil
}

func (e *Engine) deleteSingle(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, where UniqueWhere, opAllowed bool, af schema.AccessFilter) (lattice.Item, error) {
	st := &mutationState{
		ent: ent, op: lattice.OpDelete, rc: rc,
		opAllowed: opAllowed, accessFilter: af,
		uniqueWhere: where,
	}
	return e.runMutation(ctx, st,
		e.stageAuthorizeOperation,
		e.stageResolveTarget,
		e.stageAuthorizeItem,
		e.stageValidate,
		e.stageBeforeHook,
		e.stageWrite,
		e.stageAfterHook,
	)
}

// eachBatch runs fn for every index with bounded concurrency and
// collects per-item outcomes in input order. Item failures are captured
// in the batch result, never propagated as a group error.
func (e *Engine) eachBatch(ctx context.Context, n int, fn func(i int) (lattice.Item, error)) []lattice.BatchResult {
	results := make([]lattice.BatchResult, n)
	var g errgroup.Group
	g.SetLimit(batchConcurrency)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			item, err := fn(i)
			results[i] = lattice.BatchResult{Item: item, Err: err}
			return nil
		})
	}
	_ = g.Wait() // per-item errors live in results
	return results
}

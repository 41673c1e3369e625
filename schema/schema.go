// Package schema defines the declarative description of entities the
// data layer operates on: fields and their storage descriptors,
// three-tier access rules, write hooks, and result limits.
//
// Access rules are first-class optional function values stored on the
// entity. An absent rule is itself meaningful: it defaults to allowed.
package schema

import (
	"context"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
)

// AccessArgs is passed to operation-level and filter-level access rules.
type AccessArgs struct {
	Entity  string
	Op      lattice.Op
	Request *lattice.RequestContext
}

// ItemAccessArgs is passed to item-level access rules. Item is the
// record being operated on (nil for create). InputData is the proposed
// change (nil for delete).
type ItemAccessArgs struct {
	AccessArgs
	Item      lattice.Item
	InputData lattice.Item
}

// FieldAccessArgs is passed to field-level access rules.
type FieldAccessArgs struct {
	AccessArgs
	FieldKey  string
	Item      lattice.Item
	InputData lattice.Item
}

type (
	// OperationRule decides coarse allow/deny for an operation kind.
	OperationRule func(ctx context.Context, args AccessArgs) (bool, error)

	// FilterRule narrows an operation with an extra filter instead of
	// outright denying it.
	FilterRule func(ctx context.Context, args AccessArgs) (AccessFilter, error)

	// ItemRule decides allow/deny against one concrete record and, for
	// writes, the proposed change.
	ItemRule func(ctx context.Context, args ItemAccessArgs) (bool, error)

	// FieldRule decides allow/deny for reading or writing a single field.
	FieldRule func(ctx context.Context, args FieldAccessArgs) (bool, error)

	// FieldGateRule decides whether the caller may filter or order by a
	// field. It augments the static Filterable/Orderable flags with
	// session-dependent authorization.
	FieldGateRule func(ctx context.Context, rc *lattice.RequestContext) (bool, error)

	// ValueResolver transforms a caller-supplied input value during
	// unique-where, where or order-by resolution.
	ValueResolver func(ctx context.Context, rc *lattice.RequestContext, value any) (any, error)
)

// AccessFilter is the result of a filter-level access rule: allow-all,
// deny-all, or a filter to AND against the caller's filter.
type AccessFilter struct {
	denied bool
	where  filter.Expr
}

// Allow returns an AccessFilter imposing no restriction.
func Allow() AccessFilter { return AccessFilter{} }

// Deny returns an AccessFilter denying all records.
func Deny() AccessFilter { return AccessFilter{denied: true} }

// WhereFilter returns an AccessFilter narrowing the operation to records
// matching the given filter.
func WhereFilter(e filter.Expr) AccessFilter { return AccessFilter{where: e} }

// Denied reports whether the filter denies all records.
func (f AccessFilter) Denied() bool { return f.denied }

// Where returns the narrowing filter, if any.
func (f AccessFilter) Where() (filter.Expr, bool) {
	return f.where, !f.denied && f.where != nil
}

// Access groups the three access-control tiers for an entity, keyed by
// operation kind. Filter rules exist for query/update/delete only; item
// rules for create/update/delete only. A missing entry means allowed.
type Access struct {
	Operation map[lattice.Op]OperationRule
	Filter    map[lattice.Op]FilterRule
	Item      map[lattice.Op]ItemRule
}

// FieldAccess groups the optional per-field access rules.
type FieldAccess struct {
	Read   FieldRule
	Create FieldRule
	Update FieldRule
}

// HookArgs is passed to every hook invocation. Item is the record after
// the operation (nil after delete), OriginalItem the pre-image (nil for
// create). ResolvedData is the data about to be written and InputData
// the raw caller input; both are nil for delete.
type HookArgs struct {
	Op           lattice.Op
	Entity       string
	Request      *lattice.RequestContext
	Item         lattice.Item
	OriginalItem lattice.Item
	ResolvedData lattice.Item
	InputData    lattice.Item
}

// Hooks are the user-supplied side-effect and validation callbacks run
// around writes. Validate may report any number of errors; all of them
// are surfaced together before the write is aborted.
type Hooks struct {
	Validate        func(ctx context.Context, args HookArgs) []error
	BeforeOperation func(ctx context.Context, args HookArgs) error
	AfterOperation  func(ctx context.Context, args HookArgs) error
}

// FieldKind describes the storage shape behind a schema field.
type FieldKind uint8

// Storage-field kinds.
const (
	// KindScalar is a single storage column.
	KindScalar FieldKind = iota
	// KindRelation points at records of another entity.
	KindRelation
	// KindMulti is one logical field backed by multiple storage columns.
	KindMulti
)

// ScalarType is the value type of a scalar column.
type ScalarType string

// Scalar column types.
const (
	TypeString ScalarType = "string"
	TypeInt    ScalarType = "int"
	TypeFloat  ScalarType = "float"
	TypeBool   ScalarType = "bool"
	TypeTime   ScalarType = "time"
	TypeBytes  ScalarType = "bytes"
)

// DBField is the storage descriptor behind a schema field.
type DBField struct {
	Kind FieldKind

	// Type is the column type for scalar fields.
	Type ScalarType

	// Entity is the target entity key for relation fields.
	Entity string

	// ToMany reports the relation cardinality. To-one relations are
	// stored as a local column holding the target id; to-many relations
	// are backed by Ref, a field on the target entity pointing back.
	ToMany bool
	Ref    string

	// Columns are the storage column suffixes for multi-column fields.
	// The concrete column name is <field>_<suffix>.
	Columns []string
}

// Field is one entity field: its key, storage descriptor, authorization
// flags and optional input resolvers.
type Field struct {
	Key    string
	DB     DBField
	Unique bool

	// Filterable and Orderable statically gate use of the field in
	// filters and order-by clauses. FilterableRule and OrderableRule
	// optionally add session-dependent authorization on top.
	Filterable     bool
	Orderable      bool
	FilterableRule FieldGateRule
	OrderableRule  FieldGateRule

	Access FieldAccess

	// Input resolvers. All optional; absence passes values through.
	ResolveUniqueWhere ValueResolver
	ResolveWhere       ValueResolver
	ResolveOrderBy     ValueResolver
}

// Entity describes one schema-defined collection of records.
type Entity struct {
	Key    string
	Fields []*Field
	Access Access
	Hooks  Hooks

	// MaxResults bounds the number of records a single read may return.
	// Zero means DefaultMaxResults.
	MaxResults int

	// CacheHint, if set, is invoked with the results of every successful
	// list read or count.
	CacheHint func(lattice.CacheHintArgs) lattice.CacheHint

	fields map[string]*Field
}

// DefaultMaxResults is applied to entities that leave MaxResults unset.
const DefaultMaxResults = 1000

// Field returns the field with the given key.
func (e *Entity) Field(key string) (*Field, bool) {
	f, ok := e.fields[key]
	return f, ok
}

// FieldKeys returns the entity's field keys in declaration order.
func (e *Entity) FieldKeys() []string {
	keys := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		keys[i] = f.Key
	}
	return keys
}

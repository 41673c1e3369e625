// Package sqlstore implements the storage contract on database/sql.
// Tables are generated from the registry, one per entity, and filters
// resolved by the engine are pushed down as SQL predicates.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// Store is a SQL-backed storage adapter.
type Store struct {
	reg     *schema.Registry
	db      *sql.DB
	dialect string
	gate    *store.WriteGate
	rec     *store.Recorder
}

// Option configures a Store.
type Option func(*Store)

// WithWriteLimit bounds concurrent mutations. Zero or negative means
// unbounded.
func WithWriteLimit(n int64) Option {
	return func(s *Store) { s.gate = store.NewWriteGate(n) }
}

// WithRecorder attaches operation statistics and slow-query logging.
func WithRecorder(rec *store.Recorder) Option {
	return func(s *Store) { s.rec = rec }
}

// Open connects to the database named by dialect and dsn. The sqlite
// driver is registered by importing modernc.org/sqlite; mysql and
// postgres drivers are registered by the caller.
func Open(dialect, dsn string, reg *schema.Registry, opts ...Option) (*Store, error) {
	driver := dialect
	if dialect == DialectPostgres {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	return OpenDB(dialect, db, reg, opts...)
}

// OpenDB wraps an existing connection pool.
func OpenDB(dialect string, db *sql.DB, reg *schema.Registry, opts ...Option) (*Store, error) {
	switch dialect {
	case DialectSQLite, DialectMySQL, DialectPostgres:
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}
	s := &Store{
		reg:     reg,
		db:      db,
		dialect: dialect,
		gate:    store.NewWriteGate(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying pool.
func (s *Store) Close() error { return s.db.Close() }

// Gate returns the mutation gate.
func (s *Store) Gate() *store.WriteGate { return s.gate }

// Stats returns a snapshot of recorded operation statistics, or the
// zero snapshot when no recorder is attached.
func (s *Store) Stats() store.StatsSnapshot {
	if s.rec == nil {
		return store.StatsSnapshot{}
	}
	return s.rec.Stats().Stats()
}

// Run hands a per-entity model to fn.
func (s *Store) Run(ctx context.Context, entity string, fn func(store.Model) (any, error)) (any, error) {
	ent, ok := s.reg.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("sqlstore: unknown entity %q", entity)
	}
	return fn(&model{store: s, ent: ent, ctx: ctx})
}

// CreateTables creates one table per registered entity if it does not
// already exist.
func (s *Store) CreateTables(ctx context.Context) error {
	b := &builder{store: s}
	for _, key := range s.reg.Keys() {
		ent, _ := s.reg.Entity(key)
		if !isValidIdentifier(ent.Key) {
			return fmt.Errorf("sqlstore: entity key %q is not a valid table name", ent.Key)
		}
		cols := []string{b.quote("id") + " TEXT PRIMARY KEY"}
		for _, spec := range entityColumns(ent) {
			if spec.name == "id" {
				continue
			}
			if !isValidIdentifier(spec.name) {
				return fmt.Errorf("sqlstore: column %q on %q is not a valid name", spec.name, ent.Key)
			}
			col := b.quote(spec.name) + " " + spec.sqlType
			if spec.unique {
				col += " UNIQUE"
			}
			cols = append(cols, col)
		}
		stmt := "CREATE TABLE IF NOT EXISTS " + b.quote(ent.Key) + " (" + strings.Join(cols, ", ") + ")"
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlstore: create table %s: %w", ent.Key, err)
		}
	}
	return nil
}


type columnSpec struct {
	name    string
	field   *schema.Field
	sqlType string
	unique  bool
}

// entityColumns lists the physical columns of an entity in a stable
// order. To-many relations have no column on this side.
func entityColumns(ent *schema.Entity) []columnSpec {
	var cols []columnSpec
	for _, key := range ent.FieldKeys() {
		f, _ := ent.Field(key)
		switch f.DB.Kind {
		case schema.KindScalar:
			cols = append(cols, columnSpec{name: f.Key, field: f, sqlType: scalarColumnType(f.DB.Type), unique: f.Unique && f.Key != "id"})
		case schema.KindRelation:
			if f.DB.ToMany {
				continue
			}
			cols = append(cols, columnSpec{name: f.Key, field: f, sqlType: "TEXT"})
		case schema.KindMulti:
			for _, sub := range f.DB.Columns {
				cols = append(cols, columnSpec{name: f.Key + "_" + sub, field: f, sqlType: "TEXT"})
			}
		}
	}
	return cols
}

func scalarColumnType(t schema.ScalarType) string {
	switch t {
	case schema.TypeInt:
		return "BIGINT"
	case schema.TypeFloat:
		return "DOUBLE PRECISION"
	case schema.TypeBool:
		return "BOOLEAN"
	case schema.TypeTime:
		return "TEXT"
	default:
		return "TEXT"
	}
}

// encodeValue converts a Go value to its stored representation. Times
// are stored as RFC 3339 text so all three dialects round-trip the
// same way.
func encodeValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// decodeValue converts a scanned value back to the Go type declared
// for the column's field.
func decodeValue(f *schema.Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if bs, ok := v.([]byte); ok {
		v = string(bs)
	}
	if f == nil || f.DB.Kind != schema.KindScalar {
		return v, nil
	}
	switch f.DB.Type {
	case schema.TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case int64:
			return b != 0, nil
		case string:
			return b == "1" || b == "true", nil
		}
	case schema.TypeInt:
		switch n := v.(type) {
		case int64:
			return n, nil
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: decode %s: %w", f.Key, err)
			}
			return parsed, nil
		}
	case schema.TypeFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			parsed, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: decode %s: %w", f.Key, err)
			}
			return parsed, nil
		}
	case schema.TypeTime:
		switch t := v.(type) {
		case time.Time:
			return t, nil
		case string:
			parsed, err := time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return nil, fmt.Errorf("sqlstore: decode %s: %w", f.Key, err)
			}
			return parsed, nil
		}
	}
	return v, nil
}

// model executes storage operations for one entity.
type model struct {
	store *Store
	ent   *schema.Entity
	ctx   context.Context
}

var _ store.Model = (*model)(nil)

func (m *model) record(op string, start time.Time, err error, write bool) {
	m.store.rec.Record(m.ctx, m.ent.Key, op, start, err, write)
}

func (m *model) FindFirst(ctx context.Context, q store.Query) (lattice.Item, error) {
	q.Take = 1
	items, err := m.FindMany(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

func (m *model) FindMany(ctx context.Context, q store.Query) ([]lattice.Item, error) {
	start := time.Now()
	items, err := m.findMany(ctx, q)
	m.record("findMany", start, err, false)
	return items, err
}

func (m *model) findMany(ctx context.Context, q store.Query) ([]lattice.Item, error) {
	b := &builder{store: m.store}
	alias := b.alias()
	where, args, err := b.where(m.ent, alias, q.Where)
	if err != nil {
		return nil, err
	}
	order, err := b.orderBy(alias, q.Order)
	if err != nil {
		return nil, err
	}
	cols := entityColumns(m.ent)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.column(alias, c.name)
	}
	query := "SELECT " + strings.Join(names, ", ") +
		" FROM " + b.quote(m.ent.Key) + " " + alias +
		" WHERE " + where + " " + order + m.limitClause(q)
	rows, err := m.store.db.QueryContext(ctx, rebind(m.store.dialect, query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", m.ent.Key, err)
	}
	defer rows.Close()

	var items []lattice.Item
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("sqlstore: scan %s: %w", m.ent.Key, err)
		}
		item := lattice.Item{}
		for i, c := range cols {
			v, err := decodeValue(c.field, raw[i])
			if err != nil {
				return nil, err
			}
			item[c.name] = v
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: query %s: %w", m.ent.Key, err)
	}
	return items, nil
}

// limitClause renders LIMIT/OFFSET. MySQL and sqlite require a LIMIT
// when an OFFSET is present.
func (m *model) limitClause(q store.Query) string {
	if q.Take <= 0 && q.Skip <= 0 {
		return ""
	}
	var sb strings.Builder
	switch {
	case q.Take > 0:
		sb.WriteString(" LIMIT " + strconv.Itoa(q.Take))
	case m.store.dialect == DialectSQLite:
		sb.WriteString(" LIMIT -1")
	case m.store.dialect == DialectMySQL:
		sb.WriteString(" LIMIT 18446744073709551615")
	}
	if q.Skip > 0 {
		sb.WriteString(" OFFSET " + strconv.Itoa(q.Skip))
	}
	return sb.String()
}

func (m *model) Count(ctx context.Context, q store.Query) (int, error) {
	start := time.Now()
	n, err := m.count(ctx, q)
	m.record("count", start, err, false)
	return n, err
}

func (m *model) count(ctx context.Context, q store.Query) (int, error) {
	b := &builder{store: m.store}
	alias := b.alias()
	where, args, err := b.where(m.ent, alias, q.Where)
	if err != nil {
		return 0, err
	}
	query := "SELECT COUNT(*) FROM " + b.quote(m.ent.Key) + " " + alias + " WHERE " + where
	var n int
	if err := m.store.db.QueryRowContext(ctx, rebind(m.store.dialect, query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlstore: count %s: %w", m.ent.Key, err)
	}
	return n, nil
}

func (m *model) Create(ctx context.Context, data lattice.Item) (lattice.Item, error) {
	start := time.Now()
	item, err := m.create(ctx, data)
	m.record("create", start, err, true)
	return item, err
}

func (m *model) create(ctx context.Context, data lattice.Item) (lattice.Item, error) {
	id, ok := data["id"]
	if !ok || id == nil {
		return nil, fmt.Errorf("sqlstore: create %s: missing id", m.ent.Key)
	}
	b := &builder{store: m.store}
	var names []string
	var holes []string
	var args []any
	for _, c := range entityColumns(m.ent) {
		v, ok := data[c.name]
		if !ok {
			continue
		}
		names = append(names, b.quote(c.name))
		holes = append(holes, "?")
		args = append(args, encodeValue(v))
	}
	query := "INSERT INTO " + b.quote(m.ent.Key) +
		" (" + strings.Join(names, ", ") + ") VALUES (" + strings.Join(holes, ", ") + ")"
	if _, err := m.store.db.ExecContext(ctx, rebind(m.store.dialect, query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: create %s: %w", m.ent.Key, err)
	}
	return m.byID(ctx, id)
}

func (m *model) Update(ctx context.Context, id any, data lattice.Item) (lattice.Item, error) {
	start := time.Now()
	item, err := m.update(ctx, id, data)
	m.record("update", start, err, true)
	return item, err
}

func (m *model) update(ctx context.Context, id any, data lattice.Item) (lattice.Item, error) {
	b := &builder{store: m.store}
	var sets []string
	var args []any
	for _, c := range entityColumns(m.ent) {
		if c.name == "id" {
			continue
		}
		v, ok := data[c.name]
		if !ok {
			continue
		}
		sets = append(sets, b.quote(c.name)+" = ?")
		args = append(args, encodeValue(v))
	}
	if len(sets) > 0 {
		args = append(args, encodeValue(id))
		query := "UPDATE " + b.quote(m.ent.Key) + " SET " + strings.Join(sets, ", ") + " WHERE " + b.quote("id") + " = ?"
		res, err := m.store.db.ExecContext(ctx, rebind(m.store.dialect, query), args...)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: update %s: %w", m.ent.Key, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("sqlstore: update %s: row %v not found", m.ent.Key, id)
		}
	}
	return m.byID(ctx, id)
}

func (m *model) Delete(ctx context.Context, id any) (lattice.Item, error) {
	start := time.Now()
	item, err := m.delete(ctx, id)
	m.record("delete", start, err, true)
	return item, err
}

func (m *model) delete(ctx context.Context, id any) (lattice.Item, error) {
	item, err := m.byID(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("sqlstore: delete %s: row %v not found", m.ent.Key, id)
	}
	b := &builder{store: m.store}
	query := "DELETE FROM " + b.quote(m.ent.Key) + " WHERE " + b.quote("id") + " = ?"
	if _, err := m.store.db.ExecContext(ctx, rebind(m.store.dialect, query), encodeValue(id)); err != nil {
		return nil, fmt.Errorf("sqlstore: delete %s: %w", m.ent.Key, err)
	}
	return item, nil
}

func (m *model) byID(ctx context.Context, id any) (lattice.Item, error) {
	return m.findFirstByColumn(ctx, "id", id)
}

func (m *model) findFirstByColumn(ctx context.Context, col string, v any) (lattice.Item, error) {
	b := &builder{store: m.store}
	alias := b.alias()
	cols := entityColumns(m.ent)
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = b.column(alias, c.name)
	}
	query := "SELECT " + strings.Join(names, ", ") +
		" FROM " + b.quote(m.ent.Key) + " " + alias +
		" WHERE " + b.column(alias, col) + " = ? LIMIT 1"
	row := m.store.db.QueryRowContext(ctx, rebind(m.store.dialect, query), encodeValue(v))
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	if err := row.Scan(dest...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlstore: query %s: %w", m.ent.Key, err)
	}
	item := lattice.Item{}
	for i, c := range cols {
		decoded, err := decodeValue(c.field, raw[i])
		if err != nil {
			return nil, err
		}
		item[c.name] = decoded
	}
	return item, nil
}

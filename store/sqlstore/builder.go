package sqlstore

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
)

// validIdentifierRe validates entity and field keys before they are
// interpolated as SQL identifiers.
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// builder translates a resolved filter tree into a SQL predicate.
// Relation quantifiers become EXISTS sub-queries against the target
// table; every table in scope gets its own alias.
type builder struct {
	store *Store
	n     int // alias counter
}

func (b *builder) alias() string {
	a := "t" + strconv.Itoa(b.n)
	b.n++
	return a
}

func (b *builder) quote(ident string) string {
	if b.store.dialect == DialectMySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

func (b *builder) column(alias, col string) string {
	return alias + "." + b.quote(col)
}

// where renders the predicate for one filter node scoped to the given
// entity and table alias. It returns the SQL fragment and its
// positional arguments ('?' placeholders; rebound for postgres later).
func (b *builder) where(ent *schema.Entity, alias string, e filter.Expr) (string, []any, error) {
	if e == nil {
		return "1=1", nil, nil
	}
	switch w := e.(type) {
	case *filter.AndExpr:
		return b.combine(ent, alias, w.Children, " AND ", "1=1")
	case *filter.OrExpr:
		return b.combine(ent, alias, w.Children, " OR ", "1=0")
	case *filter.NotExpr:
		// None of the children may match.
		inner, args, err := b.combine(ent, alias, w.Children, " OR ", "1=0")
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	case *filter.Cond:
		return b.cond(alias, w)
	case *filter.RelExpr:
		return b.rel(ent, alias, w)
	default:
		return "", nil, fmt.Errorf("sqlstore: unknown filter node %T", e)
	}
}

func (b *builder) combine(ent *schema.Entity, alias string, children []filter.Expr, sep, empty string) (string, []any, error) {
	if len(children) == 0 {
		return empty, nil, nil
	}
	parts := make([]string, 0, len(children))
	var args []any
	for _, child := range children {
		sql, a, err := b.where(ent, alias, child)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, a...)
	}
	return strings.Join(parts, sep), args, nil
}

func (b *builder) cond(alias string, c *filter.Cond) (string, []any, error) {
	if !isValidIdentifier(c.Field) {
		return "", nil, fmt.Errorf("sqlstore: invalid column name %q", c.Field)
	}
	col := b.column(alias, c.Field)
	switch c.Op {
	case filter.OpEQ:
		if c.Value == nil {
			return col + " IS NULL", nil, nil
		}
		return col + " = ?", []any{encodeValue(c.Value)}, nil
	case filter.OpNEQ:
		if c.Value == nil {
			return col + " IS NOT NULL", nil, nil
		}
		return col + " <> ?", []any{encodeValue(c.Value)}, nil
	case filter.OpLT:
		return col + " < ?", []any{encodeValue(c.Value)}, nil
	case filter.OpLTE:
		return col + " <= ?", []any{encodeValue(c.Value)}, nil
	case filter.OpGT:
		return col + " > ?", []any{encodeValue(c.Value)}, nil
	case filter.OpGTE:
		return col + " >= ?", []any{encodeValue(c.Value)}, nil
	case filter.OpIn, filter.OpNotIn:
		values, ok := c.Value.([]any)
		if !ok {
			return "", nil, fmt.Errorf("sqlstore: %s expects a list of values", c.Op)
		}
		if len(values) == 0 {
			if c.Op == filter.OpIn {
				return "1=0", nil, nil
			}
			return "1=1", nil, nil
		}
		holes := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = encodeValue(v)
		}
		op := " IN "
		if c.Op == filter.OpNotIn {
			op = " NOT IN "
		}
		return col + op + "(" + holes + ")", args, nil
	case filter.OpContains:
		return col + " LIKE ? ESCAPE '\\'", []any{"%" + escapeLike(c.Value) + "%"}, nil
	case filter.OpStartsWith:
		return col + " LIKE ? ESCAPE '\\'", []any{escapeLike(c.Value) + "%"}, nil
	case filter.OpEndsWith:
		return col + " LIKE ? ESCAPE '\\'", []any{"%" + escapeLike(c.Value)}, nil
	case filter.OpIsNull:
		wantNull, _ := c.Value.(bool)
		if wantNull {
			return col + " IS NULL", nil, nil
		}
		return col + " IS NOT NULL", nil, nil
	default:
		return "", nil, fmt.Errorf("sqlstore: unknown operator %q", c.Op)
	}
}

func (b *builder) rel(ent *schema.Entity, alias string, r *filter.RelExpr) (string, []any, error) {
	f, ok := ent.Field(r.Field)
	if !ok || f.DB.Kind != schema.KindRelation {
		return "", nil, fmt.Errorf("sqlstore: %q is not a relation on %q", r.Field, ent.Key)
	}
	target, ok := b.store.reg.Entity(f.DB.Entity)
	if !ok {
		return "", nil, fmt.Errorf("sqlstore: unknown relation target %q", f.DB.Entity)
	}
	sub := b.alias()
	child, args, err := b.where(target, sub, r.Child)
	if err != nil {
		return "", nil, err
	}
	table := b.quote(target.Key) + " " + sub
	switch r.Quant {
	case filter.QuantIs:
		join := b.column(sub, "id") + " = " + b.column(alias, f.Key)
		return "EXISTS (SELECT 1 FROM " + table + " WHERE " + join + " AND (" + child + "))", args, nil
	case filter.QuantSome:
		join := b.column(sub, f.DB.Ref) + " = " + b.column(alias, "id")
		return "EXISTS (SELECT 1 FROM " + table + " WHERE " + join + " AND (" + child + "))", args, nil
	case filter.QuantNone:
		join := b.column(sub, f.DB.Ref) + " = " + b.column(alias, "id")
		return "NOT EXISTS (SELECT 1 FROM " + table + " WHERE " + join + " AND (" + child + "))", args, nil
	case filter.QuantEvery:
		join := b.column(sub, f.DB.Ref) + " = " + b.column(alias, "id")
		return "NOT EXISTS (SELECT 1 FROM " + table + " WHERE " + join + " AND NOT (" + child + "))", args, nil
	default:
		return "", nil, fmt.Errorf("sqlstore: unknown quantifier %q", r.Quant)
	}
}

// orderBy renders the ORDER BY clause with a deterministic id
// tiebreak.
func (b *builder) orderBy(alias string, order []lattice.OrderTerm) (string, error) {
	parts := make([]string, 0, len(order)+1)
	for _, t := range order {
		if !isValidIdentifier(t.Column) {
			return "", fmt.Errorf("sqlstore: invalid order column %q", t.Column)
		}
		dir := "ASC"
		if t.Direction == lattice.Desc {
			dir = "DESC"
		}
		parts = append(parts, b.column(alias, t.Column)+" "+dir)
	}
	parts = append(parts, b.column(alias, "id")+" ASC")
	return "ORDER BY " + strings.Join(parts, ", "), nil
}


func escapeLike(v any) string {
	s, _ := v.(string)
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// rebind replaces '?' placeholders with $n for postgres.
func rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(query[i])
	}
	return sb.String()
}

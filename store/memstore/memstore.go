// Package memstore provides an in-memory storage adapter. It evaluates
// resolved filters directly against stored records, including relation
// quantifiers, which makes it the reference store for tests and the
// demo CLI.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
)

// Store is an in-memory Storage implementation. It is safe for
// concurrent use; reads take a shared lock and writes an exclusive one.
type Store struct {
	reg  *schema.Registry
	gate *store.WriteGate
	rec  *store.Recorder

	mu   sync.RWMutex
	data map[string]map[string]lattice.Item // entity -> id -> record
}

// Option configures a Store.
type Option func(*Store)

// WithWriteLimit bounds concurrent writes. Zero or less means
// unbounded, which is the default: the store itself is lock-protected.
func WithWriteLimit(limit int64) Option {
	return func(s *Store) { s.gate = store.NewWriteGate(limit) }
}

// WithRecorder attaches an operation-statistics recorder.
func WithRecorder(rec *store.Recorder) Option {
	return func(s *Store) { s.rec = rec }
}

// New returns an empty store for the given registry.
func New(reg *schema.Registry, opts ...Option) *Store {
	s := &Store{
		reg:  reg,
		gate: store.NewWriteGate(0),
		data: make(map[string]map[string]lattice.Item),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run implements store.Storage.
func (s *Store) Run(ctx context.Context, entity string, fn func(store.Model) (any, error)) (any, error) {
	ent, ok := s.reg.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("memstore: unknown entity %q", entity)
	}
	return fn(&model{store: s, ent: ent})
}

// Gate implements store.Storage.
func (s *Store) Gate() *store.WriteGate { return s.gate }

// Len returns the number of records stored for an entity.
func (s *Store) Len(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[entity])
}

type model struct {
	store *Store
	ent   *schema.Entity
}

func (m *model) FindFirst(ctx context.Context, q store.Query) (lattice.Item, error) {
	start := time.Now()
	q.Take = 1
	items, err := m.findLocked(q)
	m.store.rec.Record(ctx, m.ent.Key, "findFirst", start, err, false)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return items[0], nil
}

func (m *model) FindMany(ctx context.Context, q store.Query) ([]lattice.Item, error) {
	start := time.Now()
	items, err := m.findLocked(q)
	m.store.rec.Record(ctx, m.ent.Key, "findMany", start, err, false)
	return items, err
}

func (m *model) Count(ctx context.Context, q store.Query) (int, error) {
	start := time.Now()
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	n := 0
	for _, item := range m.store.data[m.ent.Key] {
		match, err := m.store.eval(m.ent, item, q.Where)
		if err != nil {
			m.store.rec.Record(ctx, m.ent.Key, "count", start, err, false)
			return 0, err
		}
		if match {
			n++
		}
	}
	m.store.rec.Record(ctx, m.ent.Key, "count", start, nil, false)
	return n, nil
}

func (m *model) Create(ctx context.Context, data lattice.Item) (lattice.Item, error) {
	start := time.Now()
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	id := idKey(data["id"])
	if id == "" {
		err := fmt.Errorf("memstore: create on %q without id", m.ent.Key)
		m.store.rec.Record(ctx, m.ent.Key, "create", start, err, true)
		return nil, err
	}
	rows := m.store.data[m.ent.Key]
	if rows == nil {
		rows = make(map[string]lattice.Item)
		m.store.data[m.ent.Key] = rows
	}
	if _, exists := rows[id]; exists {
		err := fmt.Errorf("memstore: duplicate id %q on %q", id, m.ent.Key)
		m.store.rec.Record(ctx, m.ent.Key, "create", start, err, true)
		return nil, err
	}
	rows[id] = data.Clone()
	m.store.rec.Record(ctx, m.ent.Key, "create", start, nil, true)
	return data.Clone(), nil
}

func (m *model) Update(ctx context.Context, id any, data lattice.Item) (lattice.Item, error) {
	start := time.Now()
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	key := idKey(id)
	existing, ok := m.store.data[m.ent.Key][key]
	if !ok {
		err := fmt.Errorf("memstore: update on %q: id %q not found", m.ent.Key, key)
		m.store.rec.Record(ctx, m.ent.Key, "update", start, err, true)
		return nil, err
	}
	updated := existing.Clone()
	for k, v := range data {
		updated[k] = v
	}
	m.store.data[m.ent.Key][key] = updated
	m.store.rec.Record(ctx, m.ent.Key, "update", start, nil, true)
	return updated.Clone(), nil
}

func (m *model) Delete(ctx context.Context, id any) (lattice.Item, error) {
	start := time.Now()
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	key := idKey(id)
	existing, ok := m.store.data[m.ent.Key][key]
	if !ok {
		err := fmt.Errorf("memstore: delete on %q: id %q not found", m.ent.Key, key)
		m.store.rec.Record(ctx, m.ent.Key, "delete", start, err, true)
		return nil, err
	}
	delete(m.store.data[m.ent.Key], key)
	m.store.rec.Record(ctx, m.ent.Key, "delete", start, nil, true)
	return existing.Clone(), nil
}

func (m *model) findLocked(q store.Query) ([]lattice.Item, error) {
	m.store.mu.RLock()
	defer m.store.mu.RUnlock()
	matched := make([]lattice.Item, 0)
	for _, item := range m.store.data[m.ent.Key] {
		match, err := m.store.eval(m.ent, item, q.Where)
		if err != nil {
			return nil, err
		}
		if match {
			matched = append(matched, item.Clone())
		}
	}
	// Stable order even without explicit order terms, so pagination is
	// deterministic.
	sortItems(matched, q.Order)
	if q.Skip > 0 {
		if q.Skip >= len(matched) {
			return []lattice.Item{}, nil
		}
		matched = matched[q.Skip:]
	}
	if q.Take > 0 && q.Take < len(matched) {
		matched = matched[:q.Take]
	}
	return matched, nil
}

func sortItems(items []lattice.Item, order []lattice.OrderTerm) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, term := range order {
			c := compareValues(items[i][term.Column], items[j][term.Column])
			if c == 0 {
				continue
			}
			if term.Direction == lattice.Desc {
				return c > 0
			}
			return c < 0
		}
		return idKey(items[i]["id"]) < idKey(items[j]["id"])
	})
}

func idKey(id any) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

package engine_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/engine"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
	"github.com/syssam/lattice/store/memstore"
)

// countingStorage wraps a storage adapter and counts Run invocations,
// so tests can assert that denied operations never touch storage.
type countingStorage struct {
	inner store.Storage
	calls atomic.Int32
}

func (c *countingStorage) Run(ctx context.Context, entity string, fn func(store.Model) (any, error)) (any, error) {
	c.calls.Add(1)
	return c.inner.Run(ctx, entity, fn)
}

func (c *countingStorage) Gate() *store.WriteGate { return c.inner.Gate() }

// harness is a fully wired engine over an in-memory store with a
// users/posts fixture. edit mutates the entities before registration,
// so each test installs exactly the access rules it exercises.
type harness struct {
	eng     *engine.Engine
	storage *countingStorage
	mem     *memstore.Store
}

func adminOnly(_ context.Context, rc *lattice.RequestContext) (bool, error) {
	return rc.Session == "admin", nil
}

func fixtureEntities() (*schema.Entity, *schema.Entity) {
	users := &schema.Entity{
		Key: "users",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true, Filterable: true, Orderable: true},
			{Key: "name", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Filterable: true, Orderable: true},
			{Key: "email", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true, Filterable: true, FilterableRule: adminOnly},
			{Key: "posts", DB: schema.DBField{Kind: schema.KindRelation, Entity: "posts", ToMany: true, Ref: "author"}, Filterable: true},
		},
	}
	posts := &schema.Entity{
		Key: "posts",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true, Filterable: true, Orderable: true},
			{Key: "title", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Filterable: true, Orderable: true},
			{Key: "published", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeBool}, Filterable: true},
			{Key: "secret", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}},
			{Key: "author", DB: schema.DBField{Kind: schema.KindRelation, Entity: "users"}, Filterable: true},
			{
				Key:        "period",
				DB:         schema.DBField{Kind: schema.KindMulti, Columns: []string{"start", "end"}},
				Filterable: true,
				Orderable:  true,
				ResolveWhere: func(_ context.Context, _ *lattice.RequestContext, value any) (any, error) {
					if m, ok := value.(map[string]any); ok {
						return m, nil
					}
					return map[string]any{"start": value}, nil
				},
				ResolveOrderBy: func(_ context.Context, _ *lattice.RequestContext, value any) (any, error) {
					if m, ok := value.(map[string]any); ok {
						return m, nil
					}
					return map[string]any{"start": value}, nil
				},
			},
		},
	}
	return users, posts
}

func newHarness(t *testing.T, edit func(users, posts *schema.Entity), opts ...engine.Option) *harness {
	t.Helper()
	users, posts := fixtureEntities()
	if edit != nil {
		edit(users, posts)
	}
	reg, err := schema.NewRegistry(users, posts)
	require.NoError(t, err)

	mem := memstore.New(reg)
	cs := &countingStorage{inner: mem}
	return &harness{
		eng:     engine.New(reg, cs, opts...),
		storage: cs,
		mem:     mem,
	}
}

// seed loads the fixture rows directly through the store, bypassing
// the engine, and resets the storage call counter.
func (h *harness) seed(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	rows := map[string][]lattice.Item{
		"users": {
			{"id": "u1", "name": "alice", "email": "alice@example.com"},
			{"id": "u2", "name": "bob", "email": "bob@example.com"},
		},
		"posts": {
			{"id": "p1", "title": "alpha", "published": true, "secret": "s1", "author": "u1", "period_start": 1, "period_end": 2},
			{"id": "p2", "title": "beta", "published": false, "secret": "s2", "author": "u1", "period_start": 3, "period_end": 4},
			{"id": "p3", "title": "gamma", "published": true, "secret": "s3", "author": "u2", "period_start": 5, "period_end": 6},
		},
	}
	for entity, items := range rows {
		for _, item := range items {
			_, err := store.Run(ctx, h.mem, entity, func(m store.Model) (lattice.Item, error) {
				return m.Create(ctx, item)
			})
			require.NoError(t, err)
		}
	}
	h.storage.calls.Store(0)
}

func rc() *lattice.RequestContext { return lattice.NewRequestContext(nil, 0) }

func ids(items []lattice.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it["id"].(string)
	}
	return out
}

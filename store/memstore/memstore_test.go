package memstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
	"github.com/syssam/lattice/store/memstore"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	users := &schema.Entity{
		Key: "users",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true},
			{Key: "name", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}},
			{Key: "age", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeInt}},
			{Key: "posts", DB: schema.DBField{Kind: schema.KindRelation, Entity: "posts", ToMany: true, Ref: "author"}},
		},
	}
	posts := &schema.Entity{
		Key: "posts",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true},
			{Key: "title", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}},
			{Key: "published", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeBool}},
			{Key: "author", DB: schema.DBField{Kind: schema.KindRelation, Entity: "users"}},
		},
	}
	reg, err := schema.NewRegistry(users, posts)
	require.NoError(t, err)
	return reg
}

func seed(t *testing.T, s *memstore.Store) {
	t.Helper()
	ctx := context.Background()
	users := []lattice.Item{
		{"id": "u1", "name": "alice", "age": 30},
		{"id": "u2", "name": "bob", "age": 25},
	}
	for _, u := range users {
		_, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.Create(ctx, u)
		})
		require.NoError(t, err)
	}
	posts := []lattice.Item{
		{"id": "p1", "title": "alpha", "published": true, "author": "u1"},
		{"id": "p2", "title": "beta", "published": false, "author": "u1"},
		{"id": "p3", "title": "gamma", "published": true, "author": "u2"},
	}
	for _, p := range posts {
		_, err := store.Run(ctx, s, "posts", func(m store.Model) (lattice.Item, error) {
			return m.Create(ctx, p)
		})
		require.NoError(t, err)
	}
}

func find(t *testing.T, s *memstore.Store, entity string, q store.Query) []lattice.Item {
	t.Helper()
	ctx := context.Background()
	items, err := store.Run(ctx, s, entity, func(m store.Model) ([]lattice.Item, error) {
		return m.FindMany(ctx, q)
	})
	require.NoError(t, err)
	return items
}

func ids(items []lattice.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i], _ = it["id"].(string)
	}
	return out
}

func TestCreateAndFind(t *testing.T) {
	s := memstore.New(testRegistry(t))
	seed(t, s)
	ctx := context.Background()

	t.Run("FindFirst", func(t *testing.T) {
		item, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.FindFirst(ctx, store.Query{Where: filter.EQ("id", "u1")})
		})
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "alice", item["name"])
	})

	t.Run("FindFirstAbsent", func(t *testing.T) {
		item, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.FindFirst(ctx, store.Query{Where: filter.EQ("id", "nope")})
		})
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("DuplicateID", func(t *testing.T) {
		_, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.Create(ctx, lattice.Item{"id": "u1"})
		})
		assert.Error(t, err)
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		_, err := s.Run(ctx, "ghosts", func(m store.Model) (any, error) { return nil, nil })
		assert.Error(t, err)
	})

	t.Run("ResultsAreCopies", func(t *testing.T) {
		item, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.FindFirst(ctx, store.Query{Where: filter.EQ("id", "u1")})
		})
		require.NoError(t, err)
		item["name"] = "mutated"

		again, err := store.Run(ctx, s, "users", func(m store.Model) (lattice.Item, error) {
			return m.FindFirst(ctx, store.Query{Where: filter.EQ("id", "u1")})
		})
		require.NoError(t, err)
		assert.Equal(t, "alice", again["name"])
	})
}

func TestFindMany(t *testing.T) {
	s := memstore.New(testRegistry(t))
	seed(t, s)

	t.Run("FilterEquals", func(t *testing.T) {
		items := find(t, s, "posts", store.Query{Where: filter.EQ("published", true)})
		assert.ElementsMatch(t, []string{"p1", "p3"}, ids(items))
	})

	t.Run("Combinators", func(t *testing.T) {
		items := find(t, s, "posts", store.Query{
			Where: filter.Or(filter.EQ("title", "alpha"), filter.EQ("title", "beta")),
		})
		assert.ElementsMatch(t, []string{"p1", "p2"}, ids(items))

		items = find(t, s, "posts", store.Query{
			Where: filter.Not(filter.EQ("published", true)),
		})
		assert.Equal(t, []string{"p2"}, ids(items))
	})

	t.Run("ScalarOperators", func(t *testing.T) {
		items := find(t, s, "users", store.Query{Where: filter.GT("age", 26)})
		assert.Equal(t, []string{"u1"}, ids(items))

		items = find(t, s, "users", store.Query{Where: filter.Contains("name", "li")})
		assert.Equal(t, []string{"u1"}, ids(items))

		items = find(t, s, "users", store.Query{Where: filter.In("name", "bob", "carol")})
		assert.Equal(t, []string{"u2"}, ids(items))
	})

	t.Run("OrderSkipTake", func(t *testing.T) {
		q := store.Query{
			Order: []lattice.OrderTerm{{Column: "title", Direction: lattice.Desc}},
		}
		items := find(t, s, "posts", q)
		assert.Equal(t, []string{"p3", "p2", "p1"}, ids(items))

		q.Skip, q.Take = 1, 1
		items = find(t, s, "posts", q)
		assert.Equal(t, []string{"p2"}, ids(items))
	})

	t.Run("StableOrderWithoutTerms", func(t *testing.T) {
		items := find(t, s, "posts", store.Query{})
		assert.Equal(t, []string{"p1", "p2", "p3"}, ids(items))
	})

	t.Run("RelationIs", func(t *testing.T) {
		items := find(t, s, "posts", store.Query{
			Where: filter.Is("author", filter.EQ("name", "alice")),
		})
		assert.ElementsMatch(t, []string{"p1", "p2"}, ids(items))
	})

	t.Run("RelationSomeNoneEvery", func(t *testing.T) {
		published := filter.EQ("published", true)

		items := find(t, s, "users", store.Query{Where: filter.Some("posts", published)})
		assert.ElementsMatch(t, []string{"u1", "u2"}, ids(items))

		items = find(t, s, "users", store.Query{Where: filter.None("posts", published)})
		assert.Empty(t, ids(items))

		items = find(t, s, "users", store.Query{Where: filter.Every("posts", published)})
		assert.Equal(t, []string{"u2"}, ids(items))
	})
}

func TestCount(t *testing.T) {
	s := memstore.New(testRegistry(t))
	seed(t, s)
	ctx := context.Background()

	n, err := store.Run(ctx, s, "posts", func(m store.Model) (int, error) {
		return m.Count(ctx, store.Query{Where: filter.EQ("published", true)})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.Run(ctx, s, "posts", func(m store.Model) (int, error) {
		return m.Count(ctx, store.Query{})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestUpdateAndDelete(t *testing.T) {
	s := memstore.New(testRegistry(t))
	seed(t, s)
	ctx := context.Background()

	t.Run("UpdateMerges", func(t *testing.T) {
		item, err := store.Run(ctx, s, "posts", func(m store.Model) (lattice.Item, error) {
			return m.Update(ctx, "p2", lattice.Item{"published": true})
		})
		require.NoError(t, err)
		assert.Equal(t, true, item["published"])
		assert.Equal(t, "beta", item["title"])
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		_, err := store.Run(ctx, s, "posts", func(m store.Model) (lattice.Item, error) {
			return m.Update(ctx, "nope", lattice.Item{"title": "x"})
		})
		assert.Error(t, err)
	})

	t.Run("DeleteReturnsPreImage", func(t *testing.T) {
		item, err := store.Run(ctx, s, "posts", func(m store.Model) (lattice.Item, error) {
			return m.Delete(ctx, "p3")
		})
		require.NoError(t, err)
		assert.Equal(t, "gamma", item["title"])
		assert.Equal(t, 2, s.Len("posts"))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		_, err := store.Run(ctx, s, "posts", func(m store.Model) (lattice.Item, error) {
			return m.Delete(ctx, "p3")
		})
		assert.Error(t, err)
	})
}

package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/engine"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
)

func denyQuery(users, posts *schema.Entity) {
	posts.Access.Operation = map[lattice.Op]schema.OperationRule{
		lattice.OpQuery: func(_ context.Context, _ schema.AccessArgs) (bool, error) {
			return false, nil
		},
	}
}

func publishedOnly(users, posts *schema.Entity) {
	posts.Access.Filter = map[lattice.Op]schema.FilterRule{
		lattice.OpQuery: func(_ context.Context, _ schema.AccessArgs) (schema.AccessFilter, error) {
			return schema.WhereFilter(filter.EQ("published", true)), nil
		},
	}
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()

	t.Run("Found", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		item, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p1"})
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "alpha", item["title"])
	})

	t.Run("NotFound", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		item, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "nope"})
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("OperationDeniedMatchesNotFound", func(t *testing.T) {
		h := newHarness(t, denyQuery)
		h.seed(t)
		item, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p1"})
		require.NoError(t, err)
		assert.Nil(t, item)
		assert.Equal(t, int32(0), h.storage.calls.Load(), "denied read must not touch storage")
	})

	t.Run("AccessFilterExcludesRecord", func(t *testing.T) {
		h := newHarness(t, publishedOnly)
		h.seed(t)

		// p2 exists but is a draft; access-filtered out looks exactly
		// like not-found.
		item, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p2"})
		require.NoError(t, err)
		assert.Nil(t, item)

		item, err = h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p1"})
		require.NoError(t, err)
		require.NotNil(t, item)
	})

	t.Run("FilterDenyAll", func(t *testing.T) {
		h := newHarness(t, func(users, posts *schema.Entity) {
			posts.Access.Filter = map[lattice.Op]schema.FilterRule{
				lattice.OpQuery: func(_ context.Context, _ schema.AccessArgs) (schema.AccessFilter, error) {
					return schema.Deny(), nil
				},
			}
		})
		h.seed(t)
		item, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p1"})
		require.NoError(t, err)
		assert.Nil(t, item)
		assert.Equal(t, int32(0), h.storage.calls.Load())
	})

	t.Run("MalformedUniqueWhere", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		_, err := h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{})
		assert.True(t, lattice.IsUserInput(err))

		_, err = h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": "p1", "title": "alpha"})
		assert.True(t, lattice.IsUserInput(err))

		_, err = h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"title": "alpha"})
		assert.True(t, lattice.IsUserInput(err), "non-unique field")

		_, err = h.eng.FindOne(ctx, rc(), "posts", engine.UniqueWhere{"id": nil})
		assert.True(t, lattice.IsUserInput(err), "null unique value")
	})

	t.Run("UnknownEntity", func(t *testing.T) {
		h := newHarness(t, nil)
		_, err := h.eng.FindOne(ctx, rc(), "ghosts", engine.UniqueWhere{"id": "x"})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("UniqueWhereResolver", func(t *testing.T) {
		h := newHarness(t, func(users, posts *schema.Entity) {
			for _, f := range users.Fields {
				if f.Key == "email" {
					f.ResolveUniqueWhere = func(_ context.Context, _ *lattice.RequestContext, value any) (any, error) {
						if s, ok := value.(string); ok {
							return s + "@example.com", nil
						}
						return value, nil
					}
				}
			}
		})
		h.seed(t)
		item, err := h.eng.FindOne(ctx, rc().Sudo(), "users", engine.UniqueWhere{"email": "alice"})
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, "u1", item["id"])
	})
}

func TestFindMany(t *testing.T) {
	ctx := context.Background()

	t.Run("All", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{})
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("FilterOrderPage", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where:   filter.EQ("published", true),
			OrderBy: engine.OrderBy{{"title": "desc"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p3", "p1"}, ids(items))

		items, err = h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"title": "asc"}},
			Take:    1,
			Skip:    1,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p2"}, ids(items))
	})

	t.Run("OperationDeniedReturnsEmpty", func(t *testing.T) {
		h := newHarness(t, denyQuery)
		h.seed(t)
		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{})
		require.NoError(t, err)
		assert.Empty(t, items)
		assert.Equal(t, int32(0), h.storage.calls.Load())
	})

	t.Run("MalformedOrderByBeatsDenial", func(t *testing.T) {
		// A bad order-by is reported even when the operation would have
		// been silently denied.
		h := newHarness(t, denyQuery)
		h.seed(t)
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"title": "asc", "id": "asc"}},
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("AccessFilterNarrows", func(t *testing.T) {
		h := newHarness(t, publishedOnly)
		h.seed(t)
		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p1", "p3"}, ids(items))

		// The caller's own filter is ANDed with the access filter.
		items, err = h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.EQ("title", "beta"),
		})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("SudoBypassesAccess", func(t *testing.T) {
		h := newHarness(t, denyQuery)
		h.seed(t)
		items, err := h.eng.FindMany(ctx, rc().Sudo(), "posts", engine.FindManyArgs{})
		require.NoError(t, err)
		assert.Len(t, items, 3)
	})

	t.Run("UnknownFilterField", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.EQ("bogus", 1),
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("RelationNeedsQuantifier", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.EQ("author", "u1"),
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("RelationQuantifiers", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.Is("author", filter.EQ("name", "alice")),
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p1", "p2"}, ids(items))

		items, err = h.eng.FindMany(ctx, rc(), "users", engine.FindManyArgs{
			Where: filter.Every("posts", filter.EQ("published", true)),
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"u2"}, ids(items))

		// Quantifier/cardinality mismatches are user errors.
		_, err = h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.Some("author", filter.EQ("name", "alice")),
		})
		assert.True(t, lattice.IsUserInput(err))

		_, err = h.eng.FindMany(ctx, rc(), "users", engine.FindManyArgs{
			Where: filter.Is("posts", filter.EQ("published", true)),
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("DisallowedFieldFailsWholeOperation", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		// secret is not filterable; one bad reference inside a
		// combinator fails the whole query before storage is touched.
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.Or(filter.EQ("title", "alpha"), filter.EQ("secret", "s1")),
		})
		require.Error(t, err)
		assert.True(t, lattice.IsAccessDenied(err))

		var ade *lattice.AccessDeniedError
		require.ErrorAs(t, err, &ade)
		assert.Equal(t, "secret", ade.Field())
		assert.Equal(t, int32(0), h.storage.calls.Load())
	})

	t.Run("DisallowedNestedFieldDiscovered", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		// The disallowed reference sits inside a relation filter on the
		// target entity; traversal still finds it.
		_, err := h.eng.FindMany(ctx, rc(), "users", engine.FindManyArgs{
			Where: filter.Some("posts", filter.EQ("secret", "s1")),
		})
		require.Error(t, err)
		assert.True(t, lattice.IsAccessDenied(err))
		assert.Equal(t, int32(0), h.storage.calls.Load())
	})

	t.Run("DynamicFieldGate", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		where := filter.EQ("email", "alice@example.com")
		_, err := h.eng.FindMany(ctx, lattice.NewRequestContext("stranger", 0), "users", engine.FindManyArgs{Where: where})
		assert.True(t, lattice.IsAccessDenied(err))

		items, err := h.eng.FindMany(ctx, lattice.NewRequestContext("admin", 0), "users", engine.FindManyArgs{Where: where})
		require.NoError(t, err)
		assert.Equal(t, []string{"u1"}, ids(items))
	})

	t.Run("MultiColumnFilter", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.GTE("period", 3),
		})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"p2", "p3"}, ids(items))

		// A resolver returning more than one inner key breaks the
		// engine contract.
		_, err = h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			Where: filter.EQ("period", map[string]any{"start": 1, "end": 2}),
		})
		assert.True(t, lattice.IsContract(err))
	})

	t.Run("MultiColumnOrderBy", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)

		items, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"period": "desc"}},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"p3", "p2", "p1"}, ids(items))

		_, err = h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"period": map[string]any{"start": "asc", "end": "asc"}}},
		})
		assert.True(t, lattice.IsContract(err))
	})
}

func TestFindManyOrderByValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.seed(t)

	t.Run("MultipleKeys", func(t *testing.T) {
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"title": "asc", "id": "desc"}},
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("NullDirection", func(t *testing.T) {
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"title": nil}},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "null cannot be passed as an order direction")
	})

	t.Run("UnknownField", func(t *testing.T) {
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"bogus": "asc"}},
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("InvalidDirection", func(t *testing.T) {
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"title": "sideways"}},
		})
		assert.True(t, lattice.IsUserInput(err))
	})

	t.Run("UnorderableField", func(t *testing.T) {
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{
			OrderBy: engine.OrderBy{{"published": "asc"}},
		})
		require.Error(t, err)
		assert.True(t, lattice.IsAccessDenied(err))
	})
}

func TestFindManyLimits(t *testing.T) {
	ctx := context.Background()

	t.Run("TakeAboveMaxResultsFailsEarly", func(t *testing.T) {
		h := newHarness(t, func(users, posts *schema.Entity) {
			posts.MaxResults = 100
		})
		h.seed(t)
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{Take: 500})
		require.Error(t, err)
		assert.True(t, lattice.IsLimitsExceeded(err))

		var lerr *lattice.LimitsExceededError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, lattice.LimitMaxResults, lerr.Kind())
		assert.Equal(t, 100, lerr.Limit())
		assert.Equal(t, int32(0), h.storage.calls.Load(), "limit violation must precede the fetch")
	})

	t.Run("ResultCountAboveMaxResults", func(t *testing.T) {
		h := newHarness(t, func(users, posts *schema.Entity) {
			posts.MaxResults = 2
		})
		h.seed(t)
		_, err := h.eng.FindMany(ctx, rc(), "posts", engine.FindManyArgs{})
		require.Error(t, err)
		assert.True(t, lattice.IsLimitsExceeded(err))
	})

	t.Run("CumulativeTotalAcrossReads", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		request := lattice.NewRequestContext(nil, 4)

		_, err := h.eng.FindMany(ctx, request, "posts", engine.FindManyArgs{})
		require.NoError(t, err)
		assert.Equal(t, 3, request.TotalResults())

		_, err = h.eng.FindMany(ctx, request, "posts", engine.FindManyArgs{})
		require.Error(t, err)

		var lerr *lattice.LimitsExceededError
		require.ErrorAs(t, err, &lerr)
		assert.Equal(t, lattice.LimitMaxTotalResults, lerr.Kind())
	})

	t.Run("SudoSharesTotal", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		request := lattice.NewRequestContext(nil, 4)

		_, err := h.eng.FindMany(ctx, request.Sudo(), "posts", engine.FindManyArgs{})
		require.NoError(t, err)

		_, err = h.eng.FindMany(ctx, request, "posts", engine.FindManyArgs{})
		assert.True(t, lattice.IsLimitsExceeded(err))
	})
}

func TestCount(t *testing.T) {
	ctx := context.Background()

	t.Run("Counts", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		n, err := h.eng.Count(ctx, rc(), "posts", filter.EQ("published", true))
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("DenialReturnsZero", func(t *testing.T) {
		h := newHarness(t, denyQuery)
		h.seed(t)
		n, err := h.eng.Count(ctx, rc(), "posts", nil)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
		assert.Equal(t, int32(0), h.storage.calls.Load())
	})

	t.Run("AccessFilterApplies", func(t *testing.T) {
		h := newHarness(t, publishedOnly)
		h.seed(t)
		n, err := h.eng.Count(ctx, rc(), "posts", nil)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("DisallowedFieldSurfaces", func(t *testing.T) {
		h := newHarness(t, nil)
		h.seed(t)
		_, err := h.eng.Count(ctx, rc(), "posts", filter.EQ("secret", "s1"))
		assert.True(t, lattice.IsAccessDenied(err))
	})
}

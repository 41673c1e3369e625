package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/session"
)

// demoRegistry builds the schema the CLI operates on: users and their
// posts. Anyone may read users; email is visible only to the user
// themselves or an admin. Posts are readable when published or owned,
// and writable only by their author.
func demoRegistry() *schema.Registry {
	users := &schema.Entity{
		Key: "users",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true, Filterable: true, Orderable: true},
			{Key: "name", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Filterable: true, Orderable: true},
			{
				Key:    "email",
				DB:     schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString},
				Unique: true,
				Access: schema.FieldAccess{Read: selfOrAdmin},
			},
			{Key: "role", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Filterable: true},
			{Key: "posts", DB: schema.DBField{Kind: schema.KindRelation, Entity: "posts", ToMany: true, Ref: "author"}},
		},
		Access: schema.Access{
			Operation: map[lattice.Op]schema.OperationRule{
				lattice.OpCreate: session.HasRole("admin"),
				lattice.OpDelete: session.HasRole("admin"),
			},
			Filter: map[lattice.Op]schema.FilterRule{
				lattice.OpUpdate: session.OwnerFilter("id"),
			},
		},
	}

	posts := &schema.Entity{
		Key: "posts",
		Fields: []*schema.Field{
			{Key: "id", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Unique: true, Filterable: true, Orderable: true},
			{Key: "title", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}, Filterable: true, Orderable: true},
			{Key: "content", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeString}},
			{Key: "published", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeBool}, Filterable: true},
			{Key: "author", DB: schema.DBField{Kind: schema.KindRelation, Entity: "users"}, Filterable: true},
			{Key: "createdAt", DB: schema.DBField{Kind: schema.KindScalar, Type: schema.TypeTime}, Filterable: true, Orderable: true},
		},
		MaxResults: 100,
		Access: schema.Access{
			Operation: map[lattice.Op]schema.OperationRule{
				lattice.OpCreate: session.RequireSession(),
				lattice.OpUpdate: session.RequireSession(),
				lattice.OpDelete: session.RequireSession(),
			},
			Filter: map[lattice.Op]schema.FilterRule{
				lattice.OpQuery:  publishedOrOwn,
				lattice.OpUpdate: session.OwnerRelationFilter("author"),
				lattice.OpDelete: session.OwnerRelationFilter("author"),
			},
			Item: map[lattice.Op]schema.ItemRule{
				lattice.OpCreate: session.IsOwnerItem("author"),
			},
		},
		Hooks: schema.Hooks{
			Validate: validatePost,
		},
		CacheHint: func(args lattice.CacheHintArgs) lattice.CacheHint {
			return lattice.CacheHint{MaxAge: 30 * time.Second, Scope: lattice.CacheScopePrivate}
		},
	}

	return schema.MustRegistry(users, posts)
}

// selfOrAdmin hides a field from everyone but its owner and admins.
func selfOrAdmin(_ context.Context, args schema.FieldAccessArgs) (bool, error) {
	s := session.FromRequest(args.Request)
	if s == nil {
		return false, nil
	}
	for _, role := range s.GetRoles() {
		if role == "admin" {
			return true, nil
		}
	}
	return args.Item["id"] == s.GetID(), nil
}

// publishedOrOwn narrows post reads to published posts plus the
// caller's own drafts.
func publishedOrOwn(_ context.Context, args schema.AccessArgs) (schema.AccessFilter, error) {
	published := filter.EQ("published", true)
	s := session.FromRequest(args.Request)
	if s == nil {
		return schema.WhereFilter(published), nil
	}
	own := filter.Is("author", filter.EQ("id", s.GetID()))
	return schema.WhereFilter(filter.Or(published, own)), nil
}

// validatePost rejects writes leaving a post untitled.
func validatePost(_ context.Context, args schema.HookArgs) []error {
	if args.Op == lattice.OpDelete {
		return nil
	}
	var errs []error
	title, ok := args.ResolvedData["title"]
	if !ok && args.OriginalItem != nil {
		title, ok = args.OriginalItem["title"]
	}
	if s, _ := title.(string); !ok || s == "" {
		errs = append(errs, fmt.Errorf("title must not be empty"))
	}
	return errs
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Populate the demo schema with sample data",
	Long:  `Insert sample users and posts. Runs with access control bypassed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rc := lattice.NewRequestContext(nil, cfg.Limits.MaxTotalResults).Sudo()
		ctx := cmd.Context()

		users := []lattice.Item{
			{"id": "alice", "name": "Alice", "email": "alice@example.com", "role": "admin"},
			{"id": "bob", "name": "Bob", "email": "bob@example.com", "role": "member"},
		}
		for _, u := range users {
			if _, err := eng.CreateOne(ctx, rc, "users", u); err != nil {
				return fmt.Errorf("seed user %v: %w", u["id"], err)
			}
		}

		now := time.Now().UTC()
		posts := []lattice.Item{
			{"title": "Hello", "content": "first post", "published": true, "author": "alice", "createdAt": now},
			{"title": "Draft", "content": "unfinished", "published": false, "author": "alice", "createdAt": now},
			{"title": "Intro", "content": "hi all", "published": true, "author": "bob", "createdAt": now},
		}
		for _, p := range posts {
			if _, err := eng.CreateOne(ctx, rc, "posts", p); err != nil {
				return fmt.Errorf("seed post %v: %w", p["title"], err)
			}
		}

		fmt.Printf("seeded %d users, %d posts\n", len(users), len(posts))
		return nil
	},
}

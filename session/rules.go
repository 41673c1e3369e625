package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
)

// RequireSession returns an operation rule that denies anonymous
// requests. Use it where an entity must never be touched without
// authentication.
func RequireSession() schema.OperationRule {
	return func(_ context.Context, args schema.AccessArgs) (bool, error) {
		return FromRequest(args.Request) != nil, nil
	}
}

// HasRole returns an operation rule that allows the operation only for
// sessions carrying the given role.
func HasRole(role string) schema.OperationRule {
	return func(_ context.Context, args schema.AccessArgs) (bool, error) {
		s := FromRequest(args.Request)
		return s != nil && slices.Contains(s.GetRoles(), role), nil
	}
}

// HasAnyRole returns an operation rule that allows the operation for
// sessions carrying any of the given roles.
func HasAnyRole(roles ...string) schema.OperationRule {
	return func(_ context.Context, args schema.AccessArgs) (bool, error) {
		s := FromRequest(args.Request)
		if s == nil {
			return false, nil
		}
		userRoles := s.GetRoles()
		for _, role := range roles {
			if slices.Contains(userRoles, role) {
				return true, nil
			}
		}
		return false, nil
	}
}

// OwnerFilter returns a filter rule restricting the operation to
// records whose field holds the session's user id. Anonymous requests
// are denied. This is the usual row-level ownership rule.
func OwnerFilter(field string) schema.FilterRule {
	return func(_ context.Context, args schema.AccessArgs) (schema.AccessFilter, error) {
		s := FromRequest(args.Request)
		if s == nil {
			return schema.Deny(), nil
		}
		return schema.WhereFilter(filter.EQ(field, s.GetID())), nil
	}
}

// OwnerRelationFilter returns a filter rule restricting the operation
// to records whose to-one relation points at the session's user.
func OwnerRelationFilter(field string) schema.FilterRule {
	return func(_ context.Context, args schema.AccessArgs) (schema.AccessFilter, error) {
		s := FromRequest(args.Request)
		if s == nil {
			return schema.Deny(), nil
		}
		return schema.WhereFilter(filter.Is(field, filter.EQ("id", s.GetID()))), nil
	}
}

// TenantFilter returns a filter rule restricting the operation to
// records in the session's tenant. Sessions without a tenant are
// denied.
func TenantFilter(field string) schema.FilterRule {
	return func(_ context.Context, args schema.AccessArgs) (schema.AccessFilter, error) {
		s := FromRequest(args.Request)
		if s == nil || s.GetTenantID() == "" {
			return schema.Deny(), nil
		}
		return schema.WhereFilter(filter.EQ(field, s.GetTenantID())), nil
	}
}

// IsOwnerItem returns an item rule that allows the operation when the
// record's field matches the session's user id. For creates, where no
// record exists yet, the proposed input is checked instead.
func IsOwnerItem(field string) schema.ItemRule {
	return func(_ context.Context, args schema.ItemAccessArgs) (bool, error) {
		s := FromRequest(args.Request)
		if s == nil {
			return false, nil
		}
		value, ok := args.Item[field]
		if !ok {
			value, ok = args.InputData[field]
		}
		if !ok {
			return false, nil
		}
		return fieldID(value) == s.GetID(), nil
	}
}

func fieldID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case int64:
		return fmt.Sprintf("%d", v)
	case int:
		return fmt.Sprintf("%d", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

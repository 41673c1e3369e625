// Package session defines the authenticated caller a request acts as,
// along with context plumbing and ready-made access rules built on it.
package session

import (
	"context"

	"github.com/syssam/lattice"
)

// Session represents the authenticated user making a request.
// This interface should be implemented by application-specific user
// types.
type Session interface {
	// GetID returns the session's unique user identifier.
	GetID() string
	// GetRoles returns the user's roles.
	GetRoles() []string
	// GetTenantID returns the user's tenant identifier for
	// multi-tenancy. Returns empty string if not applicable.
	GetTenantID() string
}

// sessionCtxKey is the context key for storing the session.
type sessionCtxKey struct{}

// WithSession returns a new context with the session attached.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, s)
}

// FromContext retrieves the session from the context. Returns nil if
// no session is present.
func FromContext(ctx context.Context) Session {
	s, _ := ctx.Value(sessionCtxKey{}).(Session)
	return s
}

// FromRequest extracts the Session carried by a request context.
// Returns nil for anonymous requests and for session values of other
// types.
func FromRequest(rc *lattice.RequestContext) Session {
	if rc == nil {
		return nil
	}
	s, _ := rc.Session.(Session)
	return s
}

// UserSession is a basic implementation of the Session interface. Use
// this for testing or simple use cases.
type UserSession struct {
	UserID   string
	Roles    []string
	TenantID string
}

var (
	_ Session              = (*UserSession)(nil)
	_ lattice.SessionKeyer = (*UserSession)(nil)
)

// GetID returns the user ID.
func (s *UserSession) GetID() string { return s.UserID }

// GetRoles returns the user's roles.
func (s *UserSession) GetRoles() []string { return s.Roles }

// GetTenantID returns the tenant ID.
func (s *UserSession) GetTenantID() string { return s.TenantID }

// SessionKey partitions cached results per user.
func (s *UserSession) SessionKey() string { return s.UserID }

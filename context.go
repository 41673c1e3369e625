package lattice

// RequestContext carries the per-request state the data layer needs on
// every operation: the caller's session, the sudo flag, and the running
// result counters used to bound amplification through nested queries.
//
// A RequestContext is created once per inbound request, is owned
// exclusively by that request, and is discarded when the request ends.
// Its counters are mutated only by the engine's result limiter, so no
// cross-request synchronization is needed.
type RequestContext struct {
	// Session is the opaque session value handed into every
	// access-control evaluation. A nil session means unauthenticated.
	Session any

	sudo         bool
	maxTotal     int
	totalResults *int
}

// NewRequestContext returns a request context for the given session.
// maxTotalResults bounds the cumulative number of records returned
// across all reads within the request; zero or negative means unbounded.
func NewRequestContext(session any, maxTotalResults int) *RequestContext {
	return &RequestContext{
		Session:      session,
		maxTotal:     maxTotalResults,
		totalResults: new(int),
	}
}

// Sudo derives a privilege-escalated copy of the context that bypasses
// all access control. The original context is not modified. The derived
// context shares the result counter with its parent, so nested sudo
// reads still count against the request's total-results ceiling.
func (rc *RequestContext) Sudo() *RequestContext {
	cp := *rc
	cp.sudo = true
	return &cp
}

// IsSudo reports whether the context bypasses access control.
func (rc *RequestContext) IsSudo() bool { return rc.sudo }

// MaxTotalResults returns the per-request result ceiling, or 0 if the
// request is unbounded.
func (rc *RequestContext) MaxTotalResults() int { return rc.maxTotal }

// TotalResults returns the number of records returned so far in this
// request.
func (rc *RequestContext) TotalResults() int { return *rc.totalResults }

// AddResults adds n to the request's running result count and returns
// the new cumulative total. It is called only by the result limiter.
func (rc *RequestContext) AddResults(n int) int {
	*rc.totalResults += n
	return *rc.totalResults
}

package idempotency

import "strings"

// RoutePolicy decides whether a request is an application route subject to
// idempotency handling.
//
// route is the framework-resolved route pattern (Gin FullPath, Echo Path),
// or empty when the adapter cannot resolve one: the net/http adapter
// always passes "", as do framework adapters for unmatched requests. path
// is the raw request path.
type RoutePolicy interface {
	Engaged(route, path string) bool
}

// PathPolicy is the default RoutePolicy: prefix allow and deny lists over
// the request path.
//
// Deny wins over everything, including resolved routes. A resolved route
// that is not denied is always engaged; the router matching it is the
// strongest evidence it is an application route. Unresolved paths engage
// when they match an Allow prefix, or always when Allow is empty.
type PathPolicy struct {
	Allow []string
	Deny  []string
}

// Engaged implements RoutePolicy.
func (p PathPolicy) Engaged(route, path string) bool {
	for _, prefix := range p.Deny {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	if route != "" {
		return true
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, prefix := range p.Allow {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// DefaultRoutePolicy engages paths under /api/ when the framework cannot
// resolve a route, and every resolved route.
func DefaultRoutePolicy() RoutePolicy {
	return PathPolicy{Allow: []string{"/api/"}}
}

var _ RoutePolicy = PathPolicy{}

package engine

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/roach88/namegraph/internal/ident"
	"github.com/roach88/namegraph/internal/manifest"
)

type routeKey struct {
	chainID  uint64
	contract common.Address
}

// Router maps contracts to the role they play, as declared in a manifest.
type Router struct {
	m      *manifest.Manifest
	routes map[routeKey]manifest.Route
}

// NewRouter indexes the routes of m.
func NewRouter(m *manifest.Manifest) (*Router, error) {
	routes, err := m.Routes()
	if err != nil {
		return nil, err
	}
	r := &Router{m: m, routes: make(map[routeKey]manifest.Route, len(routes))}
	for _, route := range routes {
		r.routes[routeKey{route.ChainID, route.Address}] = route
	}
	return r, nil
}

// Lookup returns the route of contract on chainID.
func (r *Router) Lookup(chainID uint64, contract common.Address) (manifest.Route, bool) {
	route, ok := r.routes[routeKey{chainID, contract}]
	return route, ok
}

// Hierarchy returns the v2 hierarchy declared on chainID.
func (r *Router) Hierarchy(chainID uint64) (*manifest.Hierarchy, bool) {
	for i := range r.m.Hierarchies {
		if r.m.Hierarchies[i].ChainID == chainID {
			return &r.m.Hierarchies[i], true
		}
	}
	return nil, false
}

// ResolverScheme returns the identifier scheme for resolver events on
// chainID, which may come from any contract.
func (r *Router) ResolverScheme(chainID uint64) ident.Scheme {
	if ns, ok := r.m.NamespaceFor(chainID); ok {
		return ns.Scheme()
	}
	if h, ok := r.Hierarchy(chainID); ok {
		return h.Scheme()
	}
	return ident.Scheme{}
}
